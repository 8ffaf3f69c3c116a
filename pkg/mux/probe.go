package mux

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/abema/go-mp4"
	"github.com/cyclopcam/framerec/pkg/videox"
)

// ProbeTrack summarizes one track of an MP4 file
type ProbeTrack struct {
	ID        int
	Codec     videox.Codec // CodecUnknown for anything other than H264
	Width     int
	Height    int
	Samples   int
	Fragments int
	Duration  time.Duration
}

// ProbeInfo summarizes an MP4 file
type ProbeInfo struct {
	Fragmented bool
	Tracks     []ProbeTrack
}

// Returns the first H264 track, or nil
func (m *ProbeInfo) VideoTrack() *ProbeTrack {
	for i := range m.Tracks {
		if m.Tracks[i].Codec == videox.CodecH264 {
			return &m.Tracks[i]
		}
	}
	return nil
}

// ProbeMP4 reads the box structure of an MP4 file. It works on both regular and fragmented files.
func ProbeMP4(r io.ReadSeeker) (*ProbeInfo, error) {
	info, err := mp4.Probe(r)
	if err != nil {
		return nil, fmt.Errorf("Failed to probe MP4: %w", err)
	}
	result := &ProbeInfo{
		Fragmented: len(info.Segments) != 0,
	}
	for _, t := range info.Tracks {
		track := ProbeTrack{
			ID:      int(t.TrackID),
			Samples: len(t.Samples),
		}
		if t.Codec == mp4.CodecAVC1 {
			track.Codec = videox.CodecH264
		}
		if t.AVC != nil {
			track.Width = int(t.AVC.Width)
			track.Height = int(t.AVC.Height)
		}
		ticks := t.Duration
		for _, seg := range info.Segments {
			if seg.TrackID != t.TrackID {
				continue
			}
			track.Samples += int(seg.SampleCount)
			track.Fragments++
			if len(t.Samples) == 0 {
				ticks += uint64(seg.Duration)
			}
		}
		if t.Timescale != 0 {
			track.Duration = time.Duration(ticks * uint64(time.Second) / uint64(t.Timescale))
		}
		result.Tracks = append(result.Tracks, track)
	}
	return result, nil
}

// ProbeMP4File opens 'filename' and probes it
func ProbeMP4File(filename string) (*ProbeInfo, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ProbeMP4(f)
}
