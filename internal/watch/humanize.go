package watch

import (
	"fmt"
	"math"
	"time"
)

// humanizeDuration renders a duration in the wording users already know
// from earlier builds ("a few seconds", "5 minutes", "a day"). Bucket
// thresholds are pinned; changing them changes user-visible replies.
func humanizeDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	seconds := d.Seconds()
	minutes := math.Round(d.Minutes())
	hours := math.Round(d.Hours())
	days := math.Round(d.Hours() / 24)

	switch {
	case seconds < 45:
		return "a few seconds"
	case seconds < 90:
		return "a minute"
	case minutes < 45:
		return fmt.Sprintf("%.0f minutes", minutes)
	case minutes < 90:
		return "an hour"
	case hours < 22:
		return fmt.Sprintf("%.0f hours", hours)
	case hours < 36:
		return "a day"
	case days < 26:
		return fmt.Sprintf("%.0f days", days)
	case days < 46:
		return "a month"
	case days < 320:
		return fmt.Sprintf("%.0f months", math.Round(days/30.436875))
	case days < 548:
		return "a year"
	default:
		return fmt.Sprintf("%.0f years", math.Round(days/365.25))
	}
}

// humanizeMinutes is a convenience for interval values stored in minutes.
func humanizeMinutes(minutes int) string {
	return humanizeDuration(time.Duration(minutes) * time.Minute)
}
