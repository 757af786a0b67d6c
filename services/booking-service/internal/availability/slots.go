package availability

import (
	"fmt"
	"strings"
	"time"
)

// Break is a half-open span of the day, as offsets from midnight, when no slot may start.
type Break struct {
	Start time.Duration
	End   time.Duration
}

// Hours describes the bookable part of a clinic day.
type Hours struct {
	Open   time.Duration
	Close  time.Duration
	Step   time.Duration
	Breaks []Break
}

// DefaultHours is 09:00-17:00 with lunch 13:00-14:00 in 30 minute slots.
func DefaultHours() Hours {
	return Hours{
		Open:   9 * time.Hour,
		Close:  17 * time.Hour,
		Step:   30 * time.Minute,
		Breaks: []Break{{Start: 13 * time.Hour, End: 14 * time.Hour}},
	}
}

func (h Hours) Validate() error {
	if h.Step <= 0 {
		return fmt.Errorf("slot step must be positive, got %s", h.Step)
	}
	if h.Open < 0 || h.Close > 24*time.Hour || h.Close <= h.Open {
		return fmt.Errorf("invalid opening hours %s-%s", h.Open, h.Close)
	}
	for _, b := range h.Breaks {
		if b.End <= b.Start {
			return fmt.Errorf("invalid break %s-%s", b.Start, b.End)
		}
	}
	return nil
}

// Candidates returns every slot of the day as "HH:MM", in order. A slot is
// kept when [t, t+Step) fits in opening hours and overlaps no break.
func (h Hours) Candidates() []string {
	if h.Step <= 0 || h.Close <= h.Open {
		return nil
	}
	var slots []string
	for t := h.Open; t+h.Step <= h.Close; t += h.Step {
		if !h.inBreak(t, t+h.Step) {
			slots = append(slots, formatOffset(t))
		}
	}
	return slots
}

// IsCandidate reports whether hhmm is one of Candidates.
func (h Hours) IsCandidate(hhmm string) bool {
	for _, c := range h.Candidates() {
		if c == hhmm {
			return true
		}
	}
	return false
}

// Available removes booked times from the candidate slots, keeping order.
func (h Hours) Available(booked []string) []string {
	taken := make(map[string]struct{}, len(booked))
	for _, b := range booked {
		taken[b] = struct{}{}
	}
	slots := make([]string, 0, len(h.Candidates()))
	for _, c := range h.Candidates() {
		if _, ok := taken[c]; !ok {
			slots = append(slots, c)
		}
	}
	return slots
}

func (h Hours) inBreak(start, end time.Duration) bool {
	for _, b := range h.Breaks {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start < b.End && b.Start < end {
			return true
		}
	}
	return false
}

func formatOffset(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// ParseClock converts "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ParseBreaks reads a comma separated list such as "13:00-14:00,16:00-16:30".
func ParseBreaks(s string) ([]Break, error) {
	var out []Break
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, ok := strings.Cut(part, "-")
		if !ok {
			return nil, fmt.Errorf("invalid break %q", part)
		}
		start, err := ParseClock(from)
		if err != nil {
			return nil, err
		}
		end, err := ParseClock(to)
		if err != nil {
			return nil, err
		}
		out = append(out, Break{Start: start, End: end})
	}
	return out, nil
}
