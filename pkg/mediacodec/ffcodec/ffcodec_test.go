package ffcodec

import (
	"testing"
	"time"

	"github.com/cyclopcam/framerec/pkg/mediacodec"
	"github.com/cyclopcam/framerec/pkg/videox"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func requireFFmpeg(t *testing.T) {
	if !videox.HaveApp("ffmpeg") {
		t.Skip("ffmpeg not found in PATH")
	}
}

func testFormat(width, height int) *mediacodec.Format {
	return &mediacodec.Format{
		MIME:             videox.MIMEH264,
		Width:            width,
		Height:           height,
		ColorFormat:      mediacodec.ColorFormatYUV420SemiPlanar,
		BitRate:          500000,
		FrameRate:        30,
		KeyFrameInterval: 5,
	}
}

func TestUnsupportedMIME(t *testing.T) {
	_, err := New(logs.NewTestingLog(t), "video/hevc")
	require.Error(t, err)
	_, err = New(logs.NewTestingLog(t), "audio/mp4a-latm")
	require.Error(t, err)
}

func TestBadConfiguration(t *testing.T) {
	requireFFmpeg(t)
	c, err := New(logs.NewTestingLog(t), videox.MIMEH264)
	require.NoError(t, err)
	require.ErrorIs(t, c.Start(), mediacodec.ErrInvalidState)

	f := testFormat(320, 240)
	f.ColorFormat = 7
	require.ErrorIs(t, c.Configure(f), ErrUnsupportedColorFormat)
	require.ErrorIs(t, c.Configure(testFormat(321, 240)), mediacodec.ErrInvalidFormat)
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Close(), mediacodec.ErrClosed)
}

type collected struct {
	events        []mediacodec.OutputStatus
	configBuffers int
	frames        []mediacodec.BufferInfo
	eos           bool
}

func (c *collected) drain(t *testing.T, codec *Codec, timeout time.Duration) {
	r := codec.DequeueOutputBuffer(timeout)
	switch r.Status {
	case mediacodec.OutputTryAgain:
		return
	case mediacodec.OutputReady:
		data, err := codec.OutputBuffer(r.Index)
		require.NoError(t, err)
		require.Equal(t, r.Info.Size, len(data))
		if r.Info.Flags.Has(mediacodec.BufferFlagCodecConfig) {
			c.configBuffers++
		} else if r.Info.Flags.Has(mediacodec.BufferFlagEndOfStream) {
			c.eos = true
		} else {
			require.NotEmpty(t, data)
			c.frames = append(c.frames, r.Info)
		}
		require.NoError(t, codec.ReleaseOutputBuffer(r.Index))
	}
	c.events = append(c.events, r.Status)
}

func TestEncode(t *testing.T) {
	requireFFmpeg(t)
	width, height := 320, 240
	nFrames := 12
	c, err := New(logs.NewTestingLog(t), videox.MIMEH264)
	require.NoError(t, err)
	require.NoError(t, c.Configure(testFormat(width, height)))
	require.NoError(t, c.Start())

	out := collected{}
	frameSize := width * height * 3 / 2
	for i := 1; i <= nFrames+1; i++ {
		out.drain(t, c, 0)
		idx, err := c.DequeueInputBuffer(5 * time.Second)
		require.NoError(t, err)
		buf, err := c.InputBuffer(idx)
		require.NoError(t, err)
		require.Equal(t, frameSize, len(buf))
		pts := int64(i) * 1_000_000 / 30
		if i > nFrames {
			require.NoError(t, c.QueueInputBuffer(idx, 0, 0, pts, mediacodec.BufferFlagEndOfStream))
		} else {
			for j := range buf {
				buf[j] = byte(16 + i*8 + j%7)
			}
			require.NoError(t, c.QueueInputBuffer(idx, 0, frameSize, pts, 0))
		}
	}

	deadline := time.Now().Add(30 * time.Second)
	for !out.eos && time.Now().Before(deadline) {
		out.drain(t, c, 10*time.Millisecond)
	}
	require.True(t, out.eos)
	require.NoError(t, c.ExitError())

	// The format change must precede every buffer
	require.Equal(t, mediacodec.OutputFormatChanged, out.events[0])
	require.Equal(t, 1, out.configBuffers)
	require.Equal(t, nFrames, len(out.frames))
	for i, f := range out.frames {
		require.Equal(t, int64(i+1)*1_000_000/30, f.PresentationTimeUs)
	}
	require.True(t, out.frames[0].Flags.Has(mediacodec.BufferFlagKeyFrame))
	nKey := 0
	for _, f := range out.frames {
		if f.Flags.Has(mediacodec.BufferFlagKeyFrame) {
			nKey++
		}
	}
	require.GreaterOrEqual(t, nKey, 2)

	format, err := c.OutputFormat()
	require.NoError(t, err)
	require.Len(t, format.CSD, 2)
	w, h, err := videox.ParseH264SPS(format.CSD[0])
	require.NoError(t, err)
	require.Equal(t, width, w)
	require.Equal(t, height, h)

	// No more input after end of stream
	_, err = c.DequeueInputBuffer(0)
	require.ErrorIs(t, err, mediacodec.ErrTryAgainLater)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Close())
}

func TestStopWithoutDraining(t *testing.T) {
	requireFFmpeg(t)
	c, err := New(logs.NewTestingLog(t), videox.MIMEH264)
	require.NoError(t, err)
	require.NoError(t, c.Configure(testFormat(160, 120)))
	require.NoError(t, c.Start())
	for i := 1; i <= 4; i++ {
		idx, err := c.DequeueInputBuffer(5 * time.Second)
		require.NoError(t, err)
		require.NoError(t, c.QueueInputBuffer(idx, 0, 160*120*3/2, int64(i)*33333, 0))
	}
	// Nobody drains the output. Stop must still return.
	require.NoError(t, c.Stop())
	require.NoError(t, c.Close())
}
