// Package format renders timer values for display. It holds no state.
package format

import (
	"fmt"
	"time"
)

// HMS renders a second count as HH:MM:SS. Hours are not wrapped at 24.
func HMS(totalSeconds int64) string {
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// MinutesHuman renders "X hours Y minutes", or only minutes under an hour.
func MinutesHuman(totalMinutes int) string {
	if totalMinutes < 0 {
		totalMinutes = 0
	}
	hours := totalMinutes / 60
	minutes := totalMinutes % 60
	if hours == 0 {
		return plural(minutes, "minute")
	}
	return plural(hours, "hour") + " " + plural(minutes, "minute")
}

func Clock(t time.Time) string {
	return t.Format("15:04")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
