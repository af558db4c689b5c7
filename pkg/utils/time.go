package utils

import (
	"slices"
	"time"
)

// Interval is a closed span of wall-clock time
type Interval struct {
	Start time.Time
	End   time.Time
}

// Millis converts a duration to fractional milliseconds
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// UnionDuration returns the total time covered by at least one interval.
// Overlapping spans are counted once; inverted spans are ignored.
func UnionDuration(spans []Interval) time.Duration {
	valid := make([]Interval, 0, len(spans))
	for _, s := range spans {
		if !s.End.Before(s.Start) {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return 0
	}
	slices.SortFunc(valid, func(a, b Interval) int {
		return a.Start.Compare(b.Start)
	})

	var total time.Duration
	cur := valid[0]
	for _, s := range valid[1:] {
		if s.Start.After(cur.End) {
			total += cur.End.Sub(cur.Start)
			cur = s
			continue
		}
		if s.End.After(cur.End) {
			cur.End = s.End
		}
	}
	return total + cur.End.Sub(cur.Start)
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
