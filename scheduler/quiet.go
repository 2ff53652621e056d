package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuietHours is a daily [start, end) window during which no announcements go
// out. The window may wrap midnight (23:00-08:00). The zero value disables
// the window entirely.
type QuietHours struct {
	start int // minutes from midnight
	end   int
	set   bool
}

// ParseQuietHours parses "HH:MM-HH:MM". An empty string disables quiet hours.
func ParseQuietHours(s string) (QuietHours, error) {
	if s == "" {
		return QuietHours{}, nil
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return QuietHours{}, fmt.Errorf("quiet hours %q: want HH:MM-HH:MM", s)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours %q: %w", s, err)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours %q: %w", s, err)
	}
	if start == end {
		return QuietHours{}, nil
	}
	return QuietHours{start: start, end: end, set: true}, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour %q", parts[0])
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute %q", parts[1])
	}
	return h*60 + m, nil
}

// Contains reports whether t falls inside the quiet window.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.set {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if q.start < q.end {
		return m >= q.start && m < q.end
	}
	// Wraps midnight.
	return m >= q.start || m < q.end
}

// NextAllowed returns the earliest moment at or after t outside the quiet
// window: t itself when already allowed, otherwise the window's end.
func (q QuietHours) NextAllowed(t time.Time) time.Time {
	if !q.Contains(t) {
		return t
	}
	day := t
	m := t.Hour()*60 + t.Minute()
	// In a wrapping window the evening side ends tomorrow morning.
	if q.start > q.end && m >= q.start {
		day = day.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), q.end/60, q.end%60, 0, 0, t.Location())
}
