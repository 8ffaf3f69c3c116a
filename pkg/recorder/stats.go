package recorder

import (
	"fmt"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/framerec/pkg/kibi"
	"github.com/cyclopcam/framerec/pkg/perfstats"
)

// Number of recent frame submissions that we use to compute the rolling frame rate
const recentFramesWindow = 30

// Stats are collected by a Session while it runs.
// They are reset by Init.
type Stats struct {
	FramesSubmitted int64 // Frames that were successfully queued into the encoder
	FramesRejected  int64 // Frames that failed validation, or couldn't get an input slot
	SamplesWritten  int64 // Encoded samples handed to the muxer
	KeyFrames       int64
	BytesWritten    int64
	SampleSize      perfstats.Accumulator     // Bytes per encoded sample
	Convert         perfstats.TimeAccumulator // RGBA -> NV12
	Submit          perfstats.TimeAccumulator // Whole of WriteFrame
	Drain           perfstats.TimeAccumulator // Each call to Drain

	recent ringbuffer.RingP[time.Time]
}

func newStats() Stats {
	return Stats{
		recent: ringbuffer.NewRingP[time.Time](recentFramesWindow),
	}
}

func (s *Stats) frameSubmitted(now time.Time) {
	s.FramesSubmitted++
	s.recent.Add(now)
}

// Rolling frame rate over the most recent submissions.
// Returns 0 until at least two frames have been submitted.
func (s *Stats) RecentFPS() float64 {
	n := s.recent.Len()
	if n < 2 {
		return 0
	}
	elapsed := s.recent.Peek(n - 1).Sub(s.recent.Peek(0))
	if elapsed <= 0 {
		return 0
	}
	return float64(n-1) / elapsed.Seconds()
}

func (s *Stats) String() string {
	return fmt.Sprintf("frames: %v (rejected %v), samples: %v (key %v, avg %v), bytes: %v, fps: %.1f, convert: %v, submit: %v, drain: %v",
		s.FramesSubmitted, s.FramesRejected, s.SamplesWritten, s.KeyFrames, kibi.FormatBytes(int64(s.SampleSize.Average())), kibi.FormatBytes(s.BytesWritten), s.RecentFPS(), &s.Convert, &s.Submit, &s.Drain)
}
