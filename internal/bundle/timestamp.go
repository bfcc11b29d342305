package bundle

import (
	"fmt"
	"strings"
	"time"
)

// Timestamp is the fixed-format capture start time used as bundle id,
// sort key and base for absolute-time computations: YYYY-MM-DD_HH-MM-SS.
type Timestamp struct {
	raw string
	t   time.Time
}

const timestampLayout = "2006-01-02_15-04-05"

// ParseTimestamp parses the fixed dashcam filename timestamp format.
func ParseTimestamp(s string) (Timestamp, error) {
	t, err := time.ParseInLocation(timestampLayout, s, time.Local)
	if err != nil {
		return Timestamp{}, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	return Timestamp{raw: s, t: t}, nil
}

// String returns the raw fixed-format form.
func (ts Timestamp) String() string {
	return ts.raw
}

// Time returns the capture start as a wall-clock time.
func (ts Timestamp) Time() time.Time {
	return ts.t
}

// At returns the absolute wall-clock time at an offset into the clip.
func (ts Timestamp) At(offsetSeconds float64) time.Time {
	return ts.t.Add(time.Duration(offsetSeconds * float64(time.Second)))
}

// Label formats the absolute time at the given offset for display,
// e.g. "2024-01-15 14:30:40".
func (ts Timestamp) Label(offsetSeconds float64) string {
	return ts.At(offsetSeconds).Format("2006-01-02 15:04:05")
}

// FormatLabel renders a raw timestamp string plus an offset for display.
// A malformed timestamp falls back to a verbatim best-effort re-formatting
// rather than failing; display must never block on a bad filename.
func FormatLabel(raw string, offsetSeconds float64) string {
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return strings.ReplaceAll(strings.ReplaceAll(raw, "_", " "), "-", ":")
	}
	return ts.Label(offsetSeconds)
}
