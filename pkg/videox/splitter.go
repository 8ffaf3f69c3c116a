package videox

import (
	"bytes"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

var startCode3 = []byte{0, 0, 1}

// AccessUnitSplitter turns a raw Annex-B byte stream (eg the stdout of an encoder)
// into access units. Bytes may arrive in arbitrarily sized chunks.
// An access unit ends when we've seen a picture, and then see an AUD, a
// parameter set, an SEI, or the first slice of the next picture.
type AccessUnitSplitter struct {
	buf        []byte   // bytes after the most recent start code
	searchFrom int      // offset into buf where we resume looking for a start code
	synced     bool     // true once we've seen the first start code
	pending    [][]byte // NALUs of the access unit being assembled (owned copies)
	seenVCL    bool     // pending contains a picture
}

// Write consumes the next chunk of the stream, and returns any access units that were completed by it.
// The returned NALUs have no start codes, and are owned by the caller.
func (s *AccessUnitSplitter) Write(p []byte) [][][]byte {
	s.buf = append(s.buf, p...)

	if !s.synced {
		i := bytes.Index(s.buf, startCode3)
		if i < 0 {
			// Keep a tail, in case a start code straddles the boundary
			if len(s.buf) > 2 {
				s.buf = append(s.buf[:0], s.buf[len(s.buf)-2:]...)
			}
			return nil
		}
		s.buf = append(s.buf[:0], s.buf[i+3:]...)
		s.synced = true
		s.searchFrom = 0
	}

	var out [][][]byte
	pos := 0
	from := s.searchFrom
	for {
		i := bytes.Index(s.buf[from:], startCode3)
		if i < 0 {
			break
		}
		end := from + i
		if au := s.addNALU(s.buf[pos:end]); au != nil {
			out = append(out, au)
		}
		pos = end + 3
		from = pos
	}
	s.buf = append(s.buf[:0], s.buf[pos:]...)
	// Back off by 2, so that we'll find a start code that was cut short by this chunk
	s.searchFrom = max(0, len(s.buf)-2)
	return out
}

// Flush returns whatever remains in the stream as the final access unit.
// Returns nil if there is nothing left.
func (s *AccessUnitSplitter) Flush() [][]byte {
	if s.synced {
		s.addNALU(s.buf)
	}
	s.buf = s.buf[:0]
	s.searchFrom = 0
	au := s.pending
	s.pending = nil
	s.seenVCL = false
	if len(au) == 0 {
		return nil
	}
	return au
}

// Add a NALU, and return the previous access unit if this NALU starts a new one
func (s *AccessUnitSplitter) addNALU(raw []byte) [][]byte {
	// Trailing zeros are either the leading zero of a 4 byte start code, or trailing_zero_8bits.
	for len(raw) > 0 && raw[len(raw)-1] == 0 {
		raw = raw[:len(raw)-1]
	}
	if len(raw) == 0 {
		return nil
	}
	nalu := WrapRawNALU(raw)
	var done [][]byte
	if s.seenVCL && startsAccessUnit(&nalu) {
		done = s.pending
		s.pending = nil
		s.seenVCL = false
	}
	s.pending = append(s.pending, append([]byte(nil), raw...))
	if nalu.IsVCL() {
		s.seenVCL = true
	}
	return done
}

func startsAccessUnit(n *NALU) bool {
	switch n.Type264() {
	case h264.NALUTypeAccessUnitDelimiter, h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeSEI:
		return true
	}
	return n.IsFirstSliceOfPicture()
}
