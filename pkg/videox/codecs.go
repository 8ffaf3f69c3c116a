package videox

import (
	"fmt"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

type Codec int

const (
	CodecUnknown Codec = iota
	CodecH264
	CodecH265
)

// MIME types, as understood by platform codecs and muxers
const (
	MIMEH264 = "video/avc"
	MIMEH265 = "video/hevc"
)

// ParseCodec accepts our internal names, ffmpeg names, and MIME types
func ParseCodec(codec string) (Codec, error) {
	switch codec {
	case "h264", "H264", "avc", MIMEH264:
		return CodecH264, nil
	case "h265", "H265", "hevc", MIMEH265:
		return CodecH265, nil
	default:
		return CodecUnknown, fmt.Errorf("Unknown codec: %v", codec)
	}
}

// Return the string that FFMpeg uses to identify this codec
func (c Codec) ToFFmpeg() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "hevc"
	default:
		return "unknown"
	}
}

// Return the ffmpeg encoder that we use to produce this codec
func (c Codec) FFmpegEncoder() string {
	switch c {
	case CodecH264:
		return "libx264"
	case CodecH265:
		return "libx265"
	default:
		return "unknown"
	}
}

func (c Codec) MIME() string {
	switch c {
	case CodecH264:
		return MIMEH264
	case CodecH265:
		return MIMEH265
	default:
		return ""
	}
}

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	default:
		return "unknown"
	}
}

func ReadNaluTypeH264(firstByte byte) h264.NALUType {
	return h264.NALUType(firstByte & 31)
}
