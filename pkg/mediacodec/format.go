package mediacodec

import (
	"errors"
	"fmt"
	"strings"
)

// Format keys, named the way the platform media APIs name them
const (
	KeyMIME             = "mime"
	KeyWidth            = "width"
	KeyHeight           = "height"
	KeyColorFormat      = "color-format"
	KeyBitRate          = "bitrate"
	KeyFrameRate        = "frame-rate"
	KeyIFrameInterval   = "i-frame-interval"
	KeyCodecSpecificPfx = "csd-"
)

// Color formats (subset of MediaCodecInfo.CodecCapabilities)
const (
	ColorFormatYUV420Planar     = 19
	ColorFormatYUV420SemiPlanar = 21 // NV12
)

var ErrInvalidFormat = errors.New("Invalid media format")

// Format describes either the configuration of an encoder, or the final format of its output.
// The output format is only known once the encoder has produced its codec specific data.
type Format struct {
	MIME             string
	Width            int
	Height           int
	ColorFormat      int
	BitRate          int     // bits per second
	FrameRate        float64 // frames per second
	KeyFrameInterval int     // frames between key frames
	CSD              [][]byte // Codec specific data. For H.264, csd-0 is the SPS, csd-1 the PPS (both Annex-B).
}

// Validate checks that an encoder can be configured with this format
func (f *Format) Validate() error {
	if f.MIME == "" {
		return fmt.Errorf("%w: missing %v", ErrInvalidFormat, KeyMIME)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %v x %v", ErrInvalidFormat, f.Width, f.Height)
	}
	if f.Width%2 != 0 || f.Height%2 != 0 {
		return fmt.Errorf("%w: dimensions %v x %v must be even", ErrInvalidFormat, f.Width, f.Height)
	}
	if f.FrameRate <= 0 {
		return fmt.Errorf("%w: invalid %v %v", ErrInvalidFormat, KeyFrameRate, f.FrameRate)
	}
	if f.BitRate <= 0 {
		return fmt.Errorf("%w: invalid %v %v", ErrInvalidFormat, KeyBitRate, f.BitRate)
	}
	return nil
}

func (f *Format) Clone() *Format {
	c := *f
	c.CSD = make([][]byte, len(f.CSD))
	for i, b := range f.CSD {
		c.CSD[i] = append([]byte(nil), b...)
	}
	return &c
}

// Returns csd-N, or nil
func (f *Format) CodecSpecificData(n int) []byte {
	if n < 0 || n >= len(f.CSD) {
		return nil
	}
	return f.CSD[n]
}

// Frame period in microseconds
func (f *Format) FrameDurationUs() int64 {
	if f.FrameRate <= 0 {
		return 0
	}
	return int64(1_000_000 / f.FrameRate)
}

// String produces the same kind of summary that the platform logs for a format,
// eg "mime: string(video/avc), width: int32(1280), height: int32(720), ..."
func (f *Format) String() string {
	parts := []string{
		fmt.Sprintf("%v: string(%v)", KeyMIME, f.MIME),
		fmt.Sprintf("%v: int32(%v)", KeyWidth, f.Width),
		fmt.Sprintf("%v: int32(%v)", KeyHeight, f.Height),
	}
	if f.ColorFormat != 0 {
		parts = append(parts, fmt.Sprintf("%v: int32(%v)", KeyColorFormat, f.ColorFormat))
	}
	if f.BitRate != 0 {
		parts = append(parts, fmt.Sprintf("%v: int32(%v)", KeyBitRate, f.BitRate))
	}
	if f.FrameRate != 0 {
		parts = append(parts, fmt.Sprintf("%v: float(%v)", KeyFrameRate, f.FrameRate))
	}
	if f.KeyFrameInterval != 0 {
		parts = append(parts, fmt.Sprintf("%v: int32(%v)", KeyIFrameInterval, f.KeyFrameInterval))
	}
	for i, csd := range f.CSD {
		parts = append(parts, fmt.Sprintf("%v%v: data(%v bytes)", KeyCodecSpecificPfx, i, len(csd)))
	}
	return strings.Join(parts, ", ")
}
