// Package mux writes encoded H.264 samples into a container file.
package mux

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cyclopcam/framerec/pkg/mediacodec"
	"github.com/cyclopcam/framerec/pkg/videox"
	"github.com/cyclopcam/logs"
)

var (
	ErrUnsupportedCodec = errors.New("Unsupported codec")
	ErrTrackAdded       = errors.New("A track has already been added")
	ErrNoTrack          = errors.New("No track has been added")
	ErrInvalidTrack     = errors.New("Invalid track index")
	ErrNotStarted       = errors.New("Muxer has not been started")
	ErrAlreadyStarted   = errors.New("Muxer has already been started")
	ErrStopped          = errors.New("Muxer has been stopped")
	ErrClosed           = errors.New("Muxer is closed")
)

// Muxer accepts one video track, and persists its samples.
// The call order is AddTrack, Start, WriteSampleData*, Stop, Close.
type Muxer interface {
	AddTrack(format *mediacodec.Format) (int, error)
	Start() error
	WriteSampleData(track int, data []byte, info mediacodec.BufferInfo) error
	Stop() error
	Close() error
}

type OutputFormat int

const (
	OutputFormatMPEG4  OutputFormat = iota // Fragmented MP4
	OutputFormatMPEGTS                     // MPEG transport stream
)

func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "mp4", "mpeg4", "":
		return OutputFormatMPEG4, nil
	case "ts", "mpegts", "mpeg-ts":
		return OutputFormatMPEGTS, nil
	}
	return OutputFormatMPEG4, fmt.Errorf("Unknown output format '%v'", s)
}

// File extension, including the dot
func (f OutputFormat) Extension() string {
	switch f {
	case OutputFormatMPEGTS:
		return ".ts"
	default:
		return ".mp4"
	}
}

func (f OutputFormat) String() string {
	switch f {
	case OutputFormatMPEGTS:
		return "mpegts"
	default:
		return "mp4"
	}
}

// Create a muxer that writes to 'w'. The muxer does not close 'w'.
func New(logger logs.Log, w io.Writer, format OutputFormat) (Muxer, error) {
	switch format {
	case OutputFormatMPEG4:
		return NewMP4Writer(logger, w), nil
	case OutputFormatMPEGTS:
		return NewTSWriter(logger, w), nil
	}
	return nil, fmt.Errorf("Unknown output format %v", int(format))
}

// trackState holds the lifecycle that is common to all of our muxers
type trackState struct {
	format  *mediacodec.Format
	sps     []byte
	pps     []byte
	started bool
	stopped bool
	closed  bool
}

func (t *trackState) addTrack(format *mediacodec.Format) (int, error) {
	if t.closed {
		return -1, ErrClosed
	}
	if t.started {
		return -1, ErrAlreadyStarted
	}
	if t.format != nil {
		return -1, ErrTrackAdded
	}
	if codec, err := videox.ParseCodec(format.MIME); err != nil || codec != videox.CodecH264 {
		return -1, fmt.Errorf("%w '%v'", ErrUnsupportedCodec, format.MIME)
	}
	t.format = format.Clone()
	for _, csd := range format.CSD {
		t.updateParameterSets(csd)
	}
	return 0, nil
}

func (t *trackState) start() error {
	if t.closed {
		return ErrClosed
	}
	if t.started {
		return ErrAlreadyStarted
	}
	if t.format == nil {
		return ErrNoTrack
	}
	t.started = true
	return nil
}

func (t *trackState) checkWrite(track int) error {
	if t.closed {
		return ErrClosed
	}
	if !t.started {
		return ErrNotStarted
	}
	if t.stopped {
		return ErrStopped
	}
	if track != 0 {
		return fmt.Errorf("%w %v", ErrInvalidTrack, track)
	}
	return nil
}

func (t *trackState) stop() error {
	if t.closed {
		return ErrClosed
	}
	if !t.started {
		return ErrNotStarted
	}
	if t.stopped {
		return ErrStopped
	}
	t.stopped = true
	return nil
}

func (t *trackState) close() error {
	if t.closed {
		return ErrClosed
	}
	t.closed = true
	return nil
}

// Pick up SPS and PPS from an Annex-B buffer. Returns true if anything changed.
func (t *trackState) updateParameterSets(annexB []byte) bool {
	au, err := videox.SplitAnnexB(annexB)
	if err != nil {
		return false
	}
	return t.updateParameterSetsFromAU(au)
}

func (t *trackState) updateParameterSetsFromAU(au [][]byte) bool {
	sps, pps := videox.ExtractParameterSets(au)
	changed := false
	if sps != nil && string(sps) != string(t.sps) {
		t.sps = append([]byte(nil), sps...)
		changed = true
	}
	if pps != nil && string(pps) != string(t.pps) {
		t.pps = append([]byte(nil), pps...)
		changed = true
	}
	return changed
}

func (t *trackState) haveParameterSets() bool {
	return t.sps != nil && t.pps != nil
}

// Returns the NALUs of a sample, or nil if the sample carries no picture data
func sampleNALUs(data []byte, info mediacodec.BufferInfo) ([][]byte, error) {
	if info.Size == 0 {
		return nil, nil
	}
	if info.Offset < 0 || info.Offset+info.Size > len(data) {
		return nil, fmt.Errorf("Sample range %v:%v is outside of buffer of %v bytes", info.Offset, info.Offset+info.Size, len(data))
	}
	return videox.SplitAnnexB(data[info.Offset : info.Offset+info.Size])
}
