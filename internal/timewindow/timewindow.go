// Package timewindow converts upstream display times and watch windows into
// comparable minute-of-day values. All times are wall-clock local to the
// location, exactly as the upstream returns them; no timezone math happens
// here.
package timewindow

import (
	"fmt"
	"strconv"
	"strings"
)

// Minutes parses a clock string into minutes since midnight. Both 24-hour
// ("18:00") and 12-hour ("6:45 PM") forms are accepted. Callers scanning
// upstream data treat an error as a non-match, never a failure.
func Minutes(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty time string")
	}

	upper := strings.ToUpper(s)
	meridiem := ""
	switch {
	case strings.HasSuffix(upper, "AM"):
		meridiem = "AM"
	case strings.HasSuffix(upper, "PM"):
		meridiem = "PM"
	}
	if meridiem != "" {
		upper = strings.TrimSpace(strings.TrimSuffix(upper, meridiem))
	}

	parts := strings.Split(upper, ":")
	if len(parts) < 2 {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, fmt.Errorf("malformed hour in %q: %w", s, err)
	}
	minute, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("malformed minute in %q: %w", s, err)
	}
	if minute < 0 || minute > 59 {
		return 0, fmt.Errorf("minute out of range in %q", s)
	}

	switch meridiem {
	case "AM":
		if hour < 1 || hour > 12 {
			return 0, fmt.Errorf("hour out of range in %q", s)
		}
		if hour == 12 {
			hour = 0
		}
	case "PM":
		if hour < 1 || hour > 12 {
			return 0, fmt.Errorf("hour out of range in %q", s)
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour < 0 || hour > 23 {
			return 0, fmt.Errorf("hour out of range in %q", s)
		}
	}

	return hour*60 + minute, nil
}

// Window is an inclusive [Start, End] range of minutes since midnight.
type Window struct {
	Start int
	End   int
}

// Parse builds a window from two clock strings.
func Parse(start, end string) (Window, error) {
	s, err := Minutes(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := Minutes(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	return Window{Start: s, End: e}, nil
}

// Contains reports whether a minute value falls inside the window, inclusive
// on both ends.
func (w Window) Contains(minute int) bool {
	return minute >= w.Start && minute <= w.End
}
