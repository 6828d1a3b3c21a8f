package util //nolint:revive // package name util hosts shared formatting helpers for API responses

import "time"

// FormatRunDuration renders a run duration for the health view. Zero and
// negative values render as an em dash; anything at millisecond scale or
// above is truncated to whole milliseconds.
func FormatRunDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "—"
	case d < time.Millisecond:
		return d.String()
	default:
		return d.Truncate(time.Millisecond).String()
	}
}
