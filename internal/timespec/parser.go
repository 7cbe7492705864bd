package timespec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a duration specification.
// Supports two formats:
//   - Go duration format: "90s", "30m", "1h30m"
//   - Plain seconds: "300", "0.5"
//
// Negative durations are rejected.
func ParseDuration(spec string) (time.Duration, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, fmt.Errorf("empty duration specification")
	}

	var d time.Duration
	if seconds, err := strconv.ParseFloat(spec, 64); err == nil {
		d = time.Duration(seconds * float64(time.Second))
	} else if parsed, err := time.ParseDuration(spec); err == nil {
		d = parsed
	} else {
		return 0, fmt.Errorf("invalid duration specification: %s (use duration like '1h30m' or seconds like '300')", spec)
	}

	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative: %s", spec)
	}
	return d, nil
}

// ParseAge parses a "since" specification into an age relative to now.
// Accepts everything ParseDuration does, plus RFC3339 timestamps, which are
// converted to the time elapsed since that instant.
func ParseAge(spec string, now time.Time) (time.Duration, error) {
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(spec)); err == nil {
		if t.After(now) {
			return 0, fmt.Errorf("timestamp is in the future: %s", spec)
		}
		return now.Sub(t), nil
	}
	return ParseDuration(spec)
}
