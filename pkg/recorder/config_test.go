package recorder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/framerec/pkg/mux"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "framerec.json")
	require.NoError(t, os.WriteFile(filename, []byte(`{"filename": "a.ts", "fps": 25, "format": "ts"}`), 0644))
	cfg, err := LoadConfig(filename)
	require.NoError(t, err)
	require.Equal(t, "a.ts", cfg.Filename)
	require.Equal(t, 25.0, cfg.FPS)
	require.Equal(t, mux.OutputFormatMPEGTS, cfg.OutputFormat())
	// untouched fields keep their defaults
	require.Equal(t, 1280, cfg.Cols)
	require.Equal(t, 720, cfg.Rows)
	require.Equal(t, 500000, cfg.BitRate)
	require.Equal(t, 5, cfg.KeyFrameInterval)
	require.Equal(t, 5*time.Second, cfg.DrainTimeout())
	require.NoError(t, cfg.Validate())

	require.NoError(t, os.WriteFile(filename, []byte(`{"fps": `), 0644))
	_, err = LoadConfig(filename)
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestConfigTimeouts(t *testing.T) {
	cfg := Config{}
	require.Equal(t, 5*time.Second, cfg.DrainTimeout())
	require.Equal(t, time.Second, cfg.InputTimeout())
	cfg.DrainTimeoutMS = 20
	cfg.InputTimeoutMS = 30
	require.Equal(t, 20*time.Millisecond, cfg.DrainTimeout())
	require.Equal(t, 30*time.Millisecond, cfg.InputTimeout())
}

func TestPresentationClock(t *testing.T) {
	c := NewPresentationClock(30)
	require.Equal(t, int64(33333), c.Next())
	require.Equal(t, int64(66666), c.Next())
	require.Equal(t, int64(2), c.Frames())
	require.Equal(t, int64(333333), c.At(10))

	c = NewPresentationClock(25)
	prev := int64(0)
	for i := 0; i < 1000; i++ {
		pts := c.Next()
		require.Greater(t, pts, prev)
		prev = pts
	}
	require.Equal(t, int64(40000000), prev)
}

func TestRecentFPS(t *testing.T) {
	s := newStats()
	require.Equal(t, 0.0, s.RecentFPS())
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		s.frameSubmitted(start.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	require.Equal(t, int64(50), s.FramesSubmitted)
	require.InDelta(t, 10.0, s.RecentFPS(), 0.001)
	require.Contains(t, s.String(), "frames: 50")
}
