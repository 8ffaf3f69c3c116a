package recorder

import (
	"errors"
	"fmt"
	"time"

	"github.com/cyclopcam/framerec/pkg/mediacodec"
)

// End sends end-of-stream to the encoder, waits for all encoded output to reach the muxer,
// and then releases the session. Release always runs, even if the earlier steps fail.
func (s *Session) End() error {
	if s.state != StateRunning {
		return s.Release()
	}
	s.state = StateDraining

	var errs []error
	if err := s.signalEndOfStream(); err != nil {
		s.log.Errorf("Failed to signal end of stream: %v", err)
		errs = append(errs, err)
		// Salvage whatever is already encoded
		errs = append(errs, s.Drain(false))
	} else if err := s.Drain(true); err != nil {
		s.log.Errorf("Drain failed: %v", err)
		errs = append(errs, err)
	}
	errs = append(errs, s.Release())
	return errors.Join(errs...)
}

// Queue an empty input buffer carrying the end-of-stream flag
func (s *Session) signalEndOfStream() error {
	codec := s.encoder.codec
	deadline := time.Now().Add(s.cfg.InputTimeout())
	for {
		index, err := codec.DequeueInputBuffer(PollTimeout)
		if err == nil {
			pts := s.clock.Next()
			if err := codec.QueueInputBuffer(index, 0, 0, pts, mediacodec.BufferFlagEndOfStream); err != nil {
				return fmt.Errorf("%w: %w", ErrSubmit, err)
			}
			return nil
		}
		if !errors.Is(err, mediacodec.ErrTryAgainLater) {
			return fmt.Errorf("%w: %w", ErrNoInputSlot, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %v", ErrNoInputSlot, s.cfg.InputTimeout())
		}
		// Make room in the encoder
		if err := s.Drain(false); err != nil {
			return err
		}
	}
}
