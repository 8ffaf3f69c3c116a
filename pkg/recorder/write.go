package recorder

import (
	"errors"
	"fmt"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/framerec/pkg/accel"
	"github.com/cyclopcam/framerec/pkg/mediacodec"
)

// WriteFrame converts an RGBA frame to NV12 and submits it to the encoder.
// Pending encoder output is drained first, so that the encoder never stalls on a full output queue.
// The frame is fully consumed before WriteFrame returns.
func (s *Session) WriteFrame(img *cimg.Image) error {
	if s.state != StateRunning {
		return fmt.Errorf("%w (state %v)", ErrNotRunning, s.state)
	}
	start := time.Now()
	if err := s.Drain(false); err != nil {
		return err
	}
	if err := s.submitFrame(img); err != nil {
		s.stats.FramesRejected++
		return err
	}
	s.stats.frameSubmitted(time.Now())
	s.stats.Submit.AddSince(start)
	return nil
}

func (s *Session) submitFrame(img *cimg.Image) error {
	if err := accel.ValidateRGBAFrame(img); err != nil {
		return err
	}
	if img.Width != s.cfg.Cols || img.Height != s.cfg.Rows {
		return fmt.Errorf("%w: frame is %v x %v, but encoder is %v x %v", ErrFrameSize, img.Width, img.Height, s.cfg.Cols, s.cfg.Rows)
	}

	codec := s.encoder.codec
	index, err := codec.DequeueInputBuffer(PollTimeout)
	if err != nil {
		if errors.Is(err, mediacodec.ErrTryAgainLater) {
			return ErrNoInputSlot
		}
		return fmt.Errorf("%w: %w", ErrNoInputSlot, err)
	}
	buf, err := codec.InputBuffer(index)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubmit, err)
	}

	convertStart := time.Now()
	if err := s.converter.RGBAToNV12(img, buf); err != nil {
		return fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	s.stats.Convert.AddSince(convertStart)

	size := accel.NV12Size(img.Width, img.Height)
	pts := s.clock.Next()
	if err := codec.QueueInputBuffer(index, 0, size, pts, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	return nil
}

// Write submits a frame of rows x cols RGBA pixels.
// Returns true if the frame was queued into the encoder. Failures are logged.
func (s *Session) Write(rows, cols int, data []byte) bool {
	img := cimg.WrapImage(cols, rows, cimg.PixelFormatRGBA, data)
	if err := s.WriteFrame(img); err != nil {
		s.log.Errorf("Write failed: %v", err)
		return false
	}
	return true
}

// WriteFrameWait is WriteFrame, but if the encoder has no free input slot, it keeps draining and
// retrying until the config's input timeout elapses.
func (s *Session) WriteFrameWait(img *cimg.Image) error {
	deadline := time.Now().Add(s.cfg.InputTimeout())
	for {
		err := s.WriteFrame(img)
		if !errors.Is(err, ErrNoInputSlot) || time.Now().After(deadline) {
			return err
		}
	}
}
