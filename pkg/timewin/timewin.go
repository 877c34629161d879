package timewin

import (
	"fmt"
	"strings"
	"time"

	"github.com/vigilsec/vigil/pkg/types"
)

var dayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseDay resolves a weekday name. Three-letter abbreviations are accepted.
func ParseDay(name string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if d, ok := dayNames[key]; ok {
		return d, nil
	}
	if len(key) >= 3 {
		for full, d := range dayNames {
			if strings.HasPrefix(full, key[:3]) {
				return d, nil
			}
		}
	}
	return time.Sunday, fmt.Errorf("unknown day of week %q", name)
}

// parseClock parses an "HH:MM:SS" (or "HH:MM") wall-clock string.
func parseClock(s string) (time.Duration, error) {
	layouts := []string{"15:04:05", "15:04"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid start time %q", s)
}

// windowStart finds the most recent occurrence of the window's weekday and
// start time on or before the given instant's date.
func windowStart(w types.ScanWindow, now time.Time) (time.Time, error) {
	day, err := ParseDay(w.Day)
	if err != nil {
		return time.Time{}, err
	}
	clock, err := parseClock(w.Start)
	if err != nil {
		return time.Time{}, err
	}
	daysBack := int(now.Weekday() - day)
	if daysBack < 0 {
		daysBack += 7
	}
	base := now.AddDate(0, 0, -daysBack)
	start := time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, now.Location()).Add(clock)
	return start, nil
}

// Contains reports whether the instant falls strictly inside the window.
// Windows recur weekly, so the occurrence one week back is checked as well.
func Contains(w types.ScanWindow, now time.Time) (bool, error) {
	start, err := windowStart(w, now)
	if err != nil {
		return false, err
	}
	duration := time.Duration(w.Duration) * time.Hour
	for _, s := range []time.Time{start, start.AddDate(0, 0, -7)} {
		if now.After(s) && now.Before(s.Add(duration)) {
			return true, nil
		}
	}
	return false, nil
}

// InWindows reports whether the instant lies inside any of the windows.
// Malformed windows are skipped.
func InWindows(windows []types.ScanWindow, now time.Time) bool {
	for _, w := range windows {
		if ok, err := Contains(w, now.UTC()); err == nil && ok {
			return true
		}
	}
	return false
}
