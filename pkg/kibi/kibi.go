// Package kibi formats and parses byte counts and bit rates.
package kibi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidBitRate = errors.New("Invalid bit rate")

var byteUnits = []string{"KB", "MB", "GB", "TB"}

// FormatBytes uses binary units, with one decimal place above 1 KB. eg "1.5 MB"
func FormatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%v bytes", b)
	}
	v := float64(b) / 1024
	unit := 0
	for v >= 1024 && unit < len(byteUnits)-1 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %v", v, byteUnits[unit])
}

// FormatBitRate uses decimal units, the way codecs are configured. eg "500 kbit/s"
func FormatBitRate(bps int) string {
	switch {
	case bps >= 1000000 && bps%100000 == 0:
		return strconv.FormatFloat(float64(bps)/1000000, 'f', -1, 64) + " Mbit/s"
	case bps >= 1000:
		return strconv.FormatFloat(float64(bps)/1000, 'f', -1, 64) + " kbit/s"
	}
	return fmt.Sprintf("%v bit/s", bps)
}

// ParseBitRate accepts a number of bits per second, with an optional decimal suffix.
// Examples:
// 500000 -> 500000
// 500k -> 500000
// 2.5M -> 2500000
func ParseBitRate(v string) (int, error) {
	v = strings.TrimSpace(strings.ToLower(v))
	v = strings.TrimSuffix(v, "bps")
	multiplier := 1.0
	if strings.HasSuffix(v, "k") {
		multiplier = 1000
		v = v[:len(v)-1]
	} else if strings.HasSuffix(v, "m") {
		multiplier = 1000000
		v = v[:len(v)-1]
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("%w '%v'", ErrInvalidBitRate, v)
	}
	return int(f * multiplier), nil
}
