// Package timeutil formats credential lifetimes for CLI output.
package timeutil

import (
	"fmt"
	"time"
)

// LocalTimeFormat is used for absolute times in CLI output.
const LocalTimeFormat = "Mon Jan 2 15:04:05 2006"

// FormatDuration renders d as "3d 0h 30m", "2h 5m 1s" or "42s".
// Sub-second precision is dropped.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatExpiry renders an expiry time relative to now, for example
// "Mon Jan 2 15:04:05 2006 (in 2h 0m 0s)" or "... (expired 5m 0s ago)".
// The zero time renders as "never".
func FormatExpiry(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	abs := t.Local().Format(LocalTimeFormat)
	if t.After(now) {
		return fmt.Sprintf("%s (in %s)", abs, FormatDuration(t.Sub(now)))
	}
	return fmt.Sprintf("%s (expired %s ago)", abs, FormatDuration(now.Sub(t)))
}
