package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeWindowConfig is a named window as written in configuration.
// Days use 0=Sunday..6=Saturday; empty means every day.
type TimeWindowConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
	Days  []int  `yaml:"days,omitempty"`
}

// Window is a parsed time window in minutes since midnight.
type Window struct {
	Start int
	End   int
	Days  []time.Weekday
}

// Contains reports whether the minute-of-day falls in the window. A window
// whose start is after its end wraps past midnight. Equal bounds are empty.
func (w Window) Contains(minute int) bool {
	return inRange(minute, w.Start, w.End)
}

// OnDay reports whether the window applies on the given weekday.
func (w Window) OnDay(d time.Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}
	for _, wd := range w.Days {
		if wd == d {
			return true
		}
	}
	return false
}

// ParseWindows converts configured windows, failing on the first bad entry.
func ParseWindows(cfg map[string]TimeWindowConfig) (map[string]Window, error) {
	out := make(map[string]Window, len(cfg))
	for name, wc := range cfg {
		start, err := parseClock(wc.Start)
		if err != nil {
			return nil, fmt.Errorf("time window %q: start: %w", name, err)
		}
		end, err := parseClock(wc.End)
		if err != nil {
			return nil, fmt.Errorf("time window %q: end: %w", name, err)
		}
		w := Window{Start: start, End: end}
		for _, d := range wc.Days {
			if d < 0 || d > 6 {
				return nil, fmt.Errorf("time window %q: day %d out of range 0-6", name, d)
			}
			w.Days = append(w.Days, time.Weekday(d))
		}
		out[name] = w
	}
	return out, nil
}

// parseClock parses "HH:MM" (or "HH") into minutes since midnight.
// "24:00" is accepted as end of day.
func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty time")
	}
	hh, mm, found := strings.Cut(s, ":")
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m := 0
	if found {
		m, err = strconv.Atoi(mm)
		if err != nil || len(mm) != 2 {
			return 0, fmt.Errorf("invalid minute in %q", s)
		}
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return h*60 + m, nil
}

func inRange(minute, start, end int) bool {
	switch {
	case start < end:
		return minute >= start && minute < end
	case start > end:
		return minute >= start || minute < end
	default:
		return false
	}
}
