package epoch

import (
	"fmt"
	"strings"
	"time"
)

// NextBoundary returns 00:00 UTC of the next anchor weekday after now.
// When now already falls on the anchor weekday the boundary is a week out, never today.
func NextBoundary(now time.Time, anchor time.Weekday) time.Time {
	today := Midnight(now)
	days := (int(anchor) - int(today.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return today.AddDate(0, 0, days)
}

// Midnight truncates t to 00:00 UTC of its day.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysAgo returns 00:00 UTC of the day n days before now.
func DaysAgo(now time.Time, n int) time.Time {
	return Midnight(now).AddDate(0, 0, -n)
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(input string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(input))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid weekday: %q", input)
}
