package watch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationToken = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([a-z]+)`)

var unitTable = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second,
	"second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute,
	"minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour,
	"hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"w": 7 * 24 * time.Hour, "wk": 7 * 24 * time.Hour,
	"week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
	"mo": 30 * 24 * time.Hour, "month": 30 * 24 * time.Hour, "months": 30 * 24 * time.Hour,
	"y": 365 * 24 * time.Hour, "yr": 365 * 24 * time.Hour,
	"year": 365 * 24 * time.Hour, "years": 365 * 24 * time.Hour,
}

// parseHumanDuration accepts free-form duration text like "1h", "90s",
// "2 weeks" or "1 day 6 hours". It rejects input with leftover characters
// so arbitrary text never parses as a zero duration.
func parseHumanDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var total time.Duration
	rest := s
	matched := false
	for {
		loc := durationToken.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		// anything before the token other than spaces/commas is garbage
		if strings.Trim(rest[:loc[0]], " ,") != "" {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		num, err := strconv.ParseFloat(rest[loc[2]:loc[3]], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		unit, ok := unitTable[rest[loc[4]:loc[5]]]
		if !ok {
			return 0, fmt.Errorf("invalid duration unit in %q", s)
		}
		total += time.Duration(num * float64(unit))
		matched = true
		rest = rest[loc[1]:]
	}
	if !matched || strings.Trim(rest, " ,") != "" {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return total, nil
}

var bareNumber = regexp.MustCompile(`^\d+$`)

// parseIntervalArg resolves an /uptick argument to whole minutes.
// A bare integer is taken as minutes; otherwise the text is parsed as a
// duration. Results below one minute are rejected.
func parseIntervalArg(arg string) (int, bool) {
	arg = strings.TrimSpace(arg)
	if arg == "default" {
		return DefaultRate, true
	}
	if bareNumber.MatchString(arg) {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return 0, false
		}
		return n, true
	}
	d, err := parseHumanDuration(arg)
	if err != nil {
		return 0, false
	}
	minutes := int(d / time.Minute)
	if minutes < 1 {
		return 0, false
	}
	return minutes, true
}

var dateFormats = []string{
	"1/2/2006",
	"01/02/2006",
	"2006-01-02",
}

// parsePauseArg resolves a /pause argument to an absolute resume time.
// Priority: bare integer minutes, duration text, calendar date, then a
// time of day (taken as the next occurrence).
func parsePauseArg(arg string, now time.Time) (time.Time, bool) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return time.Time{}, false
	}

	if bareNumber.MatchString(arg) {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return time.Time{}, false
		}
		return now.Add(time.Duration(n) * time.Minute), true
	}

	if d, err := parseHumanDuration(arg); err == nil && d > 0 {
		return now.Add(d), true
	}

	for _, layout := range dateFormats {
		if t, err := time.ParseInLocation(layout, arg, now.Location()); err == nil {
			return t, true
		}
	}

	if t, err := time.ParseInLocation("15:04", arg, now.Location()); err == nil {
		resume := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		if !resume.After(now) {
			resume = resume.Add(24 * time.Hour)
		}
		return resume, true
	}

	return time.Time{}, false
}
