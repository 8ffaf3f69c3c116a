package videox

import (
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

var ErrNoParameterSets = errors.New("SPS and PPS not found")

func NALUStartCode(length int) []byte {
	if length == 0 {
		return nil
	} else if length == 3 {
		return []byte{0, 0, 1}
	} else if length == 4 {
		return []byte{0, 0, 0, 1}
	} else {
		panic("Invalid NALU start code length")
	}
}

// Split an Annex-B access unit into NALUs.
// The returned NALUs have no start codes, and they alias 'buf'.
func SplitAnnexB(buf []byte) ([][]byte, error) {
	au, err := h264.AnnexBUnmarshal(buf)
	if err != nil {
		return nil, fmt.Errorf("Invalid Annex-B data: %w", err)
	}
	return au, nil
}

// Join NALUs into a single Annex-B buffer, with 4 byte start codes
func JoinAnnexB(au [][]byte) []byte {
	buf, _ := h264.AnnexBMarshal(au)
	return buf
}

// Convert NALUs into the length-prefixed form used inside MP4 samples
func ToAVCC(au [][]byte) ([]byte, error) {
	return h264.AVCCMarshal(au)
}

// Returns the first SPS and PPS found in 'au'
func ExtractParameterSets(au [][]byte) (sps, pps []byte) {
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch ReadNaluTypeH264(nalu[0]) {
		case h264.NALUTypeSPS:
			if sps == nil {
				sps = nalu
			}
		case h264.NALUTypePPS:
			if pps == nil {
				pps = nalu
			}
		}
	}
	return
}

// Extract SPS and PPS from an Annex-B encoded buffer, such as the codec config
// buffer emitted by an encoder. The returned slices are copies.
func ParameterSetsFromAnnexB(buf []byte) (sps, pps []byte, err error) {
	au, err := SplitAnnexB(buf)
	if err != nil {
		return nil, nil, err
	}
	sps, pps = ExtractParameterSets(au)
	if sps == nil || pps == nil {
		return nil, nil, ErrNoParameterSets
	}
	return append([]byte(nil), sps...), append([]byte(nil), pps...), nil
}

// Remove NALUs that a container carries out of band (SPS, PPS, AUD)
func FilterParameterSets(au [][]byte) [][]byte {
	out := make([][]byte, 0, len(au))
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch ReadNaluTypeH264(nalu[0]) {
		case h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeAccessUnitDelimiter:
			continue
		}
		out = append(out, nalu)
	}
	return out
}

// Returns true if there's an IDR inside the access unit
func ContainsIDR(au [][]byte) bool {
	for _, nalu := range au {
		if len(nalu) != 0 && ReadNaluTypeH264(nalu[0]) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// Parse a SPS NALU (no start code, but may include emulation prevention bytes)
func ParseH264SPS(nalu []byte) (width, height int, err error) {
	n := WrapRawNALU(nalu)
	var sps h264.SPS
	if err = sps.Unmarshal(n.PayloadOnly()); err != nil {
		return 0, 0, fmt.Errorf("Invalid SPS: %w", err)
	}
	return sps.Width(), sps.Height(), nil
}
