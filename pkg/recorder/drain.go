package recorder

import (
	"fmt"
	"time"

	"github.com/cyclopcam/framerec/pkg/mediacodec"
)

// Drain moves all available encoder output into the muxer.
//
// If endOfStream is false, Drain returns as soon as the encoder has nothing ready.
// If endOfStream is true, Drain keeps polling until the encoder emits its end-of-stream
// buffer, or until the drain timeout elapses (ErrDrainTimeout).
func (s *Session) Drain(endOfStream bool) error {
	if s.encoder == nil || s.encoder.codec == nil {
		return ErrNotRunning
	}
	start := time.Now()
	defer s.stats.Drain.AddSince(start)

	codec := s.encoder.codec
	deadline := start.Add(s.cfg.DrainTimeout())
	for {
		r := codec.DequeueOutputBuffer(PollTimeout)
		switch r.Status {
		case mediacodec.OutputTryAgain:
			if !endOfStream {
				return nil
			}
		case mediacodec.OutputBuffersChanged:
			// Not expected from an encoder
			s.log.Debugf("Encoder output buffers changed")
		case mediacodec.OutputFormatChanged:
			s.onFormatChanged()
		case mediacodec.OutputError:
			s.log.Warnf("Unexpected result from encoder dequeueOutputBuffer: %v", r.ErrorCode)
		case mediacodec.OutputReady:
			if s.consumeOutput(r, endOfStream) {
				return nil
			}
		default:
			s.log.Warnf("Unknown encoder output status %v", r.Status)
		}
		if endOfStream && time.Now().After(deadline) {
			return fmt.Errorf("%w (%v)", ErrDrainTimeout, s.cfg.DrainTimeout())
		}
	}
}

// The encoder has announced its final output format, so we can add our track and start the muxer
func (s *Session) onFormatChanged() {
	if s.muxerStarted {
		s.log.Warnf("Format changed twice")
		return
	}
	// Set even if AddTrack or Start fail, so that later samples are still attempted
	s.muxerStarted = true

	format, err := s.encoder.codec.OutputFormat()
	if err != nil {
		s.log.Errorf("Failed to get encoder output format: %v", err)
		return
	}
	s.log.Infof("Encoder output format changed: %v", format)
	if s.muxer == nil || s.muxer.muxer == nil {
		s.log.Errorf("No muxer to add track to")
		return
	}
	track, err := s.muxer.muxer.AddTrack(format)
	if err != nil {
		s.log.Errorf("Failed to add track to muxer: %v", err)
		return
	}
	s.trackIndex = track
	if err := s.muxer.muxer.Start(); err != nil {
		s.log.Errorf("Failed to start muxer: %v", err)
		return
	}
	s.muxer.started = true
}

// Write one encoder output buffer to the muxer, and release it back to the encoder.
// Returns true if the buffer carried the end-of-stream flag.
func (s *Session) consumeOutput(r mediacodec.OutputResult, endOfStream bool) bool {
	codec := s.encoder.codec
	info := r.Info
	eos := info.Flags.Has(mediacodec.BufferFlagEndOfStream)

	data, err := codec.OutputBuffer(r.Index)
	if err != nil {
		s.log.Errorf("Encoder output buffer %v was null: %v", r.Index, err)
		info.Size = 0
	} else if len(data) == 0 && !eos {
		s.log.Warnf("Encoded data of size 0")
	}

	config := info.Flags.Has(mediacodec.BufferFlagCodecConfig)
	if config {
		// SPS and PPS have already been passed to the muxer inside the track format
		s.log.Debugf("Ignoring codec config buffer of %v bytes", info.Size)
		info.Size = 0
	}

	if info.Size != 0 {
		if !s.muxerStarted {
			s.log.Warnf("Muxer hasn't started")
		}
		if s.muxer != nil && s.muxer.muxer != nil {
			if err := s.muxer.muxer.WriteSampleData(s.trackIndex, data, info); err != nil {
				s.log.Warnf("Failed to write sample at %v: %v", info.PresentationTimeUs, err)
			} else {
				s.stats.SamplesWritten++
				s.stats.BytesWritten += int64(info.Size)
				s.stats.SampleSize.AddSample(float64(info.Size))
				if info.Flags.Has(mediacodec.BufferFlagKeyFrame) {
					s.stats.KeyFrames++
				}
			}
		}
	} else if !eos && !config {
		s.log.Warnf("Empty buffer info at %v", info.PresentationTimeUs)
	}

	if err := codec.ReleaseOutputBuffer(r.Index); err != nil {
		s.log.Warnf("Failed to release encoder output buffer %v: %v", r.Index, err)
	}

	if eos {
		if !endOfStream {
			s.log.Warnf("Reached end of stream unexpectedly")
		} else {
			s.log.Debugf("End of stream reached")
		}
		return true
	}
	return false
}
