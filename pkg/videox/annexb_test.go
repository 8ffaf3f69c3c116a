package videox

import (
	"testing"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/stretchr/testify/require"
)

var (
	testSPS720p = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0x01, 0x6c, 0x80, 0x00, 0x00, 0x03,
		0x00, 0x80, 0x00, 0x00, 0x1e, 0x07, 0x8c, 0x18,
		0xcb,
	}
	testSPS1080p = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9, 0x20,
	}
	testPPS = []byte{0x68, 0xce, 0x38, 0x80}
	testAUD = []byte{0x09, 0xf0}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x10}
	testP   = []byte{0x41, 0x9a, 0x24, 0x8c, 0x09}
)

func TestSplitJoinAnnexB(t *testing.T) {
	au := [][]byte{testSPS720p, testPPS, testIDR}
	joined := JoinAnnexB(au)
	require.Equal(t, []byte{0, 0, 0, 1}, joined[:4])
	split, err := SplitAnnexB(joined)
	require.NoError(t, err)
	require.Equal(t, au, split)

	// 3 byte start codes
	mixed := append(append(NALUStartCode(3), testAUD...), append(NALUStartCode(4), testP...)...)
	split, err = SplitAnnexB(mixed)
	require.NoError(t, err)
	require.Equal(t, [][]byte{testAUD, testP}, split)

	_, err = SplitAnnexB([]byte{0x65, 0x88})
	require.Error(t, err)
}

func TestParameterSets(t *testing.T) {
	au := [][]byte{testAUD, testSPS720p, testPPS, testIDR}
	sps, pps := ExtractParameterSets(au)
	require.Equal(t, testSPS720p, sps)
	require.Equal(t, testPPS, pps)
	require.Equal(t, [][]byte{testIDR}, FilterParameterSets(au))
	require.True(t, ContainsIDR(au))
	require.False(t, ContainsIDR([][]byte{testAUD, testP}))

	sps, pps, err := ParameterSetsFromAnnexB(JoinAnnexB([][]byte{testSPS720p, testPPS}))
	require.NoError(t, err)
	require.Equal(t, testSPS720p, sps)
	require.Equal(t, testPPS, pps)

	_, _, err = ParameterSetsFromAnnexB(JoinAnnexB([][]byte{testIDR}))
	require.ErrorIs(t, err, ErrNoParameterSets)
}

func TestParseSPS(t *testing.T) {
	verify := func(sps []byte, expectWidth, expectHeight int) {
		width, height, err := ParseH264SPS(sps)
		require.NoError(t, err)
		require.Equal(t, expectWidth, width)
		require.Equal(t, expectHeight, height)
		// with a start code
		width, height, err = ParseH264SPS(append(NALUStartCode(4), sps...))
		require.NoError(t, err)
		require.Equal(t, expectWidth, width)
		require.Equal(t, expectHeight, height)
	}
	verify(testSPS720p, 1280, 720)
	verify(testSPS1080p, 1920, 1080)

	_, _, err := ParseH264SPS(testPPS)
	require.Error(t, err)
}

func TestNALUTypes(t *testing.T) {
	idr := WrapRawNALU(append(NALUStartCode(3), testIDR...))
	require.Equal(t, 3, idr.StartCodeLen())
	require.True(t, idr.IsVCL())
	require.True(t, idr.IsFirstSliceOfPicture())
	require.Equal(t, h264.NALUTypeIDR, ReadNaluTypeH264(testIDR[0]))
	require.Equal(t, h264.NALUTypeNonIDR, ReadNaluTypeH264(testP[0]))
	require.Equal(t, h264.NALUTypeSPS, ReadNaluTypeH264(testSPS720p[0]))
	require.Equal(t, h264.NALUTypeAccessUnitDelimiter, ReadNaluTypeH264(testAUD[0]))

	secondSlice := WrapRawNALU([]byte{0x65, 0x40, 0x12})
	require.True(t, secondSlice.IsVCL())
	require.False(t, secondSlice.IsFirstSliceOfPicture())

	sps := WrapRawNALU(testSPS720p)
	require.False(t, sps.IsVCL())
	// 00 00 03 00 must lose its emulation prevention byte
	require.Equal(t, len(testSPS720p)-1, len(sps.AsRBSP().Payload))
}

func TestParseCodec(t *testing.T) {
	for _, name := range []string{"h264", "H264", "avc", "video/avc"} {
		c, err := ParseCodec(name)
		require.NoError(t, err)
		require.Equal(t, CodecH264, c)
	}
	c, err := ParseCodec("video/hevc")
	require.NoError(t, err)
	require.Equal(t, CodecH265, c)
	require.Equal(t, "hevc", c.ToFFmpeg())
	_, err = ParseCodec("vp9")
	require.Error(t, err)
	require.Equal(t, MIMEH264, CodecH264.MIME())
	require.Equal(t, "libx264", CodecH264.FFmpegEncoder())
}
