package codectest

import (
	"testing"

	"github.com/cyclopcam/framerec/pkg/mediacodec"
	"github.com/cyclopcam/framerec/pkg/videox"
	"github.com/stretchr/testify/require"
)

func testFormat() *mediacodec.Format {
	return &mediacodec.Format{
		MIME:             videox.MIMEH264,
		Width:            64,
		Height:           48,
		ColorFormat:      mediacodec.ColorFormatYUV420SemiPlanar,
		BitRate:          500000,
		FrameRate:        30,
		KeyFrameInterval: 5,
	}
}

func queueFrame(t *testing.T, c *Codec, pts int64, flags mediacodec.BufferFlags) {
	idx, err := c.DequeueInputBuffer(0)
	require.NoError(t, err)
	size := 0
	if !flags.Has(mediacodec.BufferFlagEndOfStream) {
		buf, err := c.InputBuffer(idx)
		require.NoError(t, err)
		size = len(buf)
	}
	require.NoError(t, c.QueueInputBuffer(idx, 0, size, pts, flags))
}

func drainAll(t *testing.T, c *Codec) []mediacodec.OutputResult {
	var all []mediacodec.OutputResult
	for {
		r := c.DequeueOutputBuffer(0)
		if r.Status == mediacodec.OutputTryAgain {
			return all
		}
		if r.Status == mediacodec.OutputReady {
			_, err := c.OutputBuffer(r.Index)
			require.NoError(t, err)
			require.NoError(t, c.ReleaseOutputBuffer(r.Index))
		}
		all = append(all, r)
	}
}

func TestStream(t *testing.T) {
	c := New(Options{})
	require.NoError(t, c.Configure(testFormat()))
	require.NoError(t, c.Start())
	_, err := c.OutputFormat()
	require.ErrorIs(t, err, mediacodec.ErrInvalidState)

	var results []mediacodec.OutputResult
	for i := int64(1); i <= 6; i++ {
		queueFrame(t, c, i*33333, 0)
		results = append(results, drainAll(t, c)...)
	}
	queueFrame(t, c, 7*33333, mediacodec.BufferFlagEndOfStream)
	results = append(results, drainAll(t, c)...)

	require.Equal(t, mediacodec.OutputFormatChanged, results[0].Status)
	require.True(t, results[1].Info.Flags.Has(mediacodec.BufferFlagCodecConfig))
	frames := results[2 : len(results)-1]
	require.Len(t, frames, 6)
	for i, f := range frames {
		require.Equal(t, int64(i+1)*33333, f.Info.PresentationTimeUs)
		require.Equal(t, i%5 == 0, f.Info.Flags.Has(mediacodec.BufferFlagKeyFrame))
	}
	last := results[len(results)-1]
	require.True(t, last.Info.Flags.Has(mediacodec.BufferFlagEndOfStream))
	require.Equal(t, int64(7*33333), last.Info.PresentationTimeUs)
	require.Equal(t, 0, c.OutstandingOutputs())

	f, err := c.OutputFormat()
	require.NoError(t, err)
	w, h, err := videox.ParseH264SPS(f.CSD[0])
	require.NoError(t, err)
	require.Equal(t, 1280, w)
	require.Equal(t, 720, h)

	require.Len(t, c.QueuedInputs, 7)
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Close(), mediacodec.ErrClosed)
	require.Equal(t, 1, c.StopCalls)
}

func TestDelayAndBackpressure(t *testing.T) {
	c := New(Options{InputSlots: 2, Delay: 1})
	require.NoError(t, c.Configure(testFormat()))
	require.NoError(t, c.Start())
	queueFrame(t, c, 33333, 0)
	// The encoder holds the first frame
	require.Empty(t, drainAll(t, c))
	require.Equal(t, 1, c.FreeInputSlots())
	queueFrame(t, c, 66666, 0)
	require.Len(t, drainAll(t, c), 3)
	// End of stream flushes the held frame
	queueFrame(t, c, 99999, mediacodec.BufferFlagEndOfStream)
	results := drainAll(t, c)
	require.Len(t, results, 2)
	require.Equal(t, int64(66666), results[0].Info.PresentationTimeUs)
	require.True(t, results[1].Info.Flags.Has(mediacodec.BufferFlagEndOfStream))
	_, err := c.DequeueInputBuffer(0)
	require.ErrorIs(t, err, mediacodec.ErrTryAgainLater)
}

func TestFaults(t *testing.T) {
	c := New(Options{FailQueueAt: 2, DuplicateFormatChange: true, InjectErrorCode: -42, BuffersChanged: true, NeverEOS: true})
	require.NoError(t, c.Configure(testFormat()))
	require.NoError(t, c.Start())
	queueFrame(t, c, 1, 0)

	idx, err := c.DequeueInputBuffer(0)
	require.NoError(t, err)
	require.ErrorIs(t, c.QueueInputBuffer(idx, 0, 0, 2, 0), ErrInjected)
	queueFrame(t, c, 3, 0)
	queueFrame(t, c, 4, mediacodec.BufferFlagEndOfStream)

	var statuses []mediacodec.OutputStatus
	for _, r := range drainAll(t, c) {
		statuses = append(statuses, r.Status)
	}
	require.Equal(t, []mediacodec.OutputStatus{
		mediacodec.OutputFormatChanged,
		mediacodec.OutputReady, // config
		mediacodec.OutputBuffersChanged,
		mediacodec.OutputError,
		mediacodec.OutputReady, // frame 1
		mediacodec.OutputFormatChanged,
		mediacodec.OutputReady, // frame 3
	}, statuses)

	require.ErrorIs(t, New(Options{FailConfigure: true}).Configure(testFormat()), ErrInjected)
	failStart := New(Options{FailStart: true})
	require.NoError(t, failStart.Configure(testFormat()))
	require.ErrorIs(t, failStart.Start(), ErrInjected)
}
