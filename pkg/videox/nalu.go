package videox

import (
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

// Note that h264 talks about the following two types of NALUs:
// * RBSP Raw Byte Sequence Payload (No start code, no emulation prevention bytes)
// * Annex-B encoding (start code and emulation prevention bytes)
// An encoder's output buffers are Annex-B. Container writers want the NALUs
// without start codes, but WITH emulation prevention bytes, so most of the time
// we only strip the start code and leave the payload alone.

// Codec NALU
type NALU struct {
	Payload []byte
}

// Wrap a raw buffer in a NALU object. Do not clone memory, or add prefix bytes.
func WrapRawNALU(raw []byte) NALU {
	return NALU{
		Payload: raw,
	}
}

// Returns only the payload, without any start code
func (n *NALU) PayloadOnly() []byte {
	return n.Payload[n.StartCodeLen():]
}

// Returns length of start code
// Possible return values:
// 0: No start code
// 3: 00 00 01
// 4: 00 00 00 01
func (n *NALU) StartCodeLen() int {
	return StartCodeLen(n.Payload)
}

func StartCodeLen(buf []byte) int {
	if len(buf) >= 3 && buf[0] == 0 && buf[1] == 0 && buf[2] == 1 {
		return 3
	}
	if len(buf) >= 4 && buf[0] == 0 && buf[1] == 0 && buf[2] == 0 && buf[3] == 1 {
		return 4
	}
	return 0
}

// Return the payload with no start code, and with emulation prevention bytes removed.
// This is the form that bit-level parsers (eg SPS) need.
func (n *NALU) AsRBSP() NALU {
	return NALU{
		Payload: h264.EmulationPreventionRemove(n.PayloadOnly()),
	}
}

// Return the NALU type
func (n *NALU) Type264() h264.NALUType {
	i := n.StartCodeLen()
	if i >= len(n.Payload) {
		return h264.NALUType(0)
	}
	return ReadNaluTypeH264(n.Payload[i])
}

// Returns true if this is a coded slice of a picture
func (n *NALU) IsVCL() bool {
	return IsVCLH264(n.Type264())
}

func IsVCLH264(t h264.NALUType) bool {
	return t >= h264.NALUTypeNonIDR && t <= h264.NALUTypeIDR
}

// Returns true if this is a slice that begins a new picture.
// first_mb_in_slice is the first ue(v) field of the slice header, and the
// exp-golomb code for zero is a single '1' bit.
func (n *NALU) IsFirstSliceOfPicture() bool {
	p := n.PayloadOnly()
	if len(p) < 2 || !IsVCLH264(ReadNaluTypeH264(p[0])) {
		return false
	}
	return p[1]&0x80 != 0
}
