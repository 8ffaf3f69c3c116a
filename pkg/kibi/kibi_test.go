package kibi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatBytes(t *testing.T) {
	require.Equal(t, "0 bytes", FormatBytes(0))
	require.Equal(t, "1023 bytes", FormatBytes(1023))
	require.Equal(t, "1.0 KB", FormatBytes(1024))
	require.Equal(t, "1.5 KB", FormatBytes(1536))
	require.Equal(t, "35.0 MB", FormatBytes(35*1024*1024))
	require.Equal(t, "1.0 GB", FormatBytes(1024*1024*1024))
	require.Equal(t, "2048.0 TB", FormatBytes(2*1024*1024*1024*1024*1024))
}

func TestBitRate(t *testing.T) {
	require.Equal(t, "500 kbit/s", FormatBitRate(500000))
	require.Equal(t, "2.5 Mbit/s", FormatBitRate(2500000))
	require.Equal(t, "999 bit/s", FormatBitRate(999))

	good := func(expected int, s string) {
		v, err := ParseBitRate(s)
		require.NoError(t, err)
		require.Equal(t, expected, v)
	}
	good(500000, "500000")
	good(500000, "500k")
	good(500000, "500 K")
	good(2500000, "2.5M")
	good(8000000, "8mbps")

	bad := func(s string) {
		_, err := ParseBitRate(s)
		require.ErrorIs(t, err, ErrInvalidBitRate)
	}
	bad("")
	bad("fast")
	bad("-5k")
	bad("0")
}
