package mux

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/framerec/pkg/mediacodec"
	"github.com/cyclopcam/framerec/pkg/mediacodec/codectest"
	"github.com/cyclopcam/framerec/pkg/videox"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func trackFormat(withCSD bool) *mediacodec.Format {
	f := &mediacodec.Format{
		MIME:             videox.MIMEH264,
		Width:            1280,
		Height:           720,
		ColorFormat:      mediacodec.ColorFormatYUV420SemiPlanar,
		BitRate:          500000,
		FrameRate:        30,
		KeyFrameInterval: 5,
	}
	if withCSD {
		f.CSD = [][]byte{
			videox.JoinAnnexB([][]byte{codectest.SPS}),
			videox.JoinAnnexB([][]byte{codectest.PPS}),
		}
	}
	return f
}

// Write 'n' frames at 30 FPS, with a key frame every 5 frames, followed by an empty EOS buffer
func writeStream(t *testing.T, m Muxer, n int) {
	for i := 0; i < n; i++ {
		pts := int64(i+1) * 1000000 / 30
		var au [][]byte
		flags := mediacodec.BufferFlags(0)
		if i%5 == 0 {
			au = [][]byte{codectest.SPS, codectest.PPS, codectest.IDRSlice}
			flags = mediacodec.BufferFlagKeyFrame
		} else {
			au = [][]byte{codectest.PSlice}
		}
		data := videox.JoinAnnexB(au)
		require.NoError(t, m.WriteSampleData(0, data, mediacodec.BufferInfo{
			Size:               len(data),
			PresentationTimeUs: pts,
			Flags:              flags,
		}))
	}
	require.NoError(t, m.WriteSampleData(0, nil, mediacodec.BufferInfo{
		Flags: mediacodec.BufferFlagEndOfStream,
	}))
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("mp4")
	require.NoError(t, err)
	require.Equal(t, OutputFormatMPEG4, f)
	require.Equal(t, ".mp4", f.Extension())

	f, err = ParseOutputFormat("TS")
	require.NoError(t, err)
	require.Equal(t, OutputFormatMPEGTS, f)
	require.Equal(t, ".ts", f.Extension())
	require.Equal(t, "mpegts", f.String())

	_, err = ParseOutputFormat("mkv")
	require.Error(t, err)
}

func TestCallOrder(t *testing.T) {
	for _, format := range []OutputFormat{OutputFormatMPEG4, OutputFormatMPEGTS} {
		t.Run(format.String(), func(t *testing.T) {
			var buf bytes.Buffer
			m, err := New(logs.NewTestingLog(t), &buf, format)
			require.NoError(t, err)

			require.ErrorIs(t, m.Start(), ErrNoTrack)
			require.ErrorIs(t, m.WriteSampleData(0, []byte{0, 0, 0, 1, 0x41}, mediacodec.BufferInfo{Size: 5}), ErrNotStarted)

			_, err = m.AddTrack(&mediacodec.Format{MIME: videox.MIMEH265})
			require.ErrorIs(t, err, ErrUnsupportedCodec)

			track, err := m.AddTrack(trackFormat(true))
			require.NoError(t, err)
			require.Equal(t, 0, track)
			_, err = m.AddTrack(trackFormat(true))
			require.ErrorIs(t, err, ErrTrackAdded)

			require.NoError(t, m.Start())
			require.ErrorIs(t, m.Start(), ErrAlreadyStarted)
			_, err = m.AddTrack(trackFormat(true))
			require.Error(t, err)

			require.ErrorIs(t, m.WriteSampleData(1, []byte{0, 0, 0, 1, 0x41}, mediacodec.BufferInfo{Size: 5}), ErrInvalidTrack)
			require.Error(t, m.WriteSampleData(0, []byte{0, 0, 0, 1}, mediacodec.BufferInfo{Offset: 2, Size: 5}))

			require.NoError(t, m.Stop())
			require.ErrorIs(t, m.Stop(), ErrStopped)
			require.NoError(t, m.Close())
			require.ErrorIs(t, m.Close(), ErrClosed)
		})
	}
}

func TestMP4Writer(t *testing.T) {
	for _, withCSD := range []bool{true, false} {
		name := "csd"
		if !withCSD {
			name = "inband"
		}
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			m := NewMP4Writer(logs.NewTestingLog(t), &buf)
			_, err := m.AddTrack(trackFormat(withCSD))
			require.NoError(t, err)
			require.NoError(t, m.Start())
			if withCSD {
				// init segment is written as soon as we start
				require.NotZero(t, buf.Len())
			} else {
				require.Zero(t, buf.Len())
			}
			writeStream(t, m, 10)
			require.NoError(t, m.Stop())
			require.NoError(t, m.Close())
			require.Equal(t, 10, m.SamplesWritten())
			require.Equal(t, 2, m.Fragments())

			info, err := ProbeMP4(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			require.True(t, info.Fragmented)
			require.Equal(t, 1, len(info.Tracks))
			track := info.VideoTrack()
			require.NotNil(t, track)
			require.Equal(t, 1280, track.Width)
			require.Equal(t, 720, track.Height)
			require.Equal(t, 10, track.Samples)
			require.Equal(t, 2, track.Fragments)
			// 10 frames at 30 FPS. The final frame borrows its predecessor's duration.
			require.InDelta(t, float64(333*time.Millisecond), float64(track.Duration), float64(2*time.Millisecond))
		})
	}
}

func TestMP4WriterRejectsFirstSampleWithoutParameterSets(t *testing.T) {
	var buf bytes.Buffer
	m := NewMP4Writer(logs.NewTestingLog(t), &buf)
	_, err := m.AddTrack(trackFormat(false))
	require.NoError(t, err)
	require.NoError(t, m.Start())
	data := videox.JoinAnnexB([][]byte{codectest.PSlice})
	err = m.WriteSampleData(0, data, mediacodec.BufferInfo{Size: len(data), PresentationTimeUs: 1})
	require.ErrorIs(t, err, ErrNoParameterSets)
}

func TestMP4WriterSingleSample(t *testing.T) {
	var buf bytes.Buffer
	m := NewMP4Writer(logs.NewTestingLog(t), &buf)
	_, err := m.AddTrack(trackFormat(true))
	require.NoError(t, err)
	require.NoError(t, m.Start())
	writeStream(t, m, 1)
	require.NoError(t, m.Stop())

	info, err := ProbeMP4(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	track := info.VideoTrack()
	require.NotNil(t, track)
	require.Equal(t, 1, track.Samples)
	// one frame period from the track's frame rate
	require.Equal(t, time.Second/30, track.Duration)
}

func TestTSWriter(t *testing.T) {
	var buf bytes.Buffer
	m := NewTSWriter(logs.NewTestingLog(t), &buf)
	_, err := m.AddTrack(trackFormat(true))
	require.NoError(t, err)
	require.NoError(t, m.Start())

	// A P frame before the first IDR is dropped
	p := videox.JoinAnnexB([][]byte{codectest.PSlice})
	require.NoError(t, m.WriteSampleData(0, p, mediacodec.BufferInfo{Size: len(p), PresentationTimeUs: 1}))
	require.Equal(t, 0, m.SamplesWritten())

	// Parameter sets on their own don't produce output
	cfg := videox.JoinAnnexB([][]byte{codectest.SPS, codectest.PPS})
	require.NoError(t, m.WriteSampleData(0, cfg, mediacodec.BufferInfo{Size: len(cfg), Flags: mediacodec.BufferFlagCodecConfig}))

	writeStream(t, m, 10)
	require.NoError(t, m.Stop())
	require.NoError(t, m.Close())
	require.Equal(t, 10, m.SamplesWritten())

	out := buf.Bytes()
	require.NotZero(t, len(out))
	require.Zero(t, len(out)%188)
	for i := 0; i < len(out); i += 188 {
		require.Equal(t, byte(0x47), out[i], "sync byte of packet %v", i/188)
	}
}

func TestProbeFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "probe.mp4")
	f, err := os.Create(filename)
	require.NoError(t, err)
	m, err := New(logs.NewTestingLog(t), f, OutputFormatMPEG4)
	require.NoError(t, err)
	_, err = m.AddTrack(trackFormat(true))
	require.NoError(t, err)
	require.NoError(t, m.Start())
	writeStream(t, m, 6)
	require.NoError(t, m.Stop())
	require.NoError(t, m.Close())
	require.NoError(t, f.Close())

	info, err := ProbeMP4File(filename)
	require.NoError(t, err)
	require.Equal(t, 6, info.VideoTrack().Samples)

	_, err = ProbeMP4File(filepath.Join(t.TempDir(), "missing.mp4"))
	require.Error(t, err)
}
