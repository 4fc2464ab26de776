package rbac

import (
	"fmt"
	"time"
)

// ============================================================================
// TEMPORAL ACCESS WINDOWS
// ============================================================================

// WindowInterval is one allowed weekday/time-of-day slot. Start is inclusive,
// End exclusive, both "HH:MM" local to the window's timezone. An interval must
// not be inverted and must not span midnight; a window crossing midnight is
// expressed as two intervals.
type WindowInterval struct {
	Weekday time.Weekday `json:"weekday" yaml:"weekday"`
	Start   string       `json:"start" yaml:"start"`
	End     string       `json:"end" yaml:"end"`
}

// AccessWindow restricts when a grant is active: a set of weekday intervals
// interpreted in Timezone, plus optional absolute validity bounds. A nil
// window means unrestricted; a non-nil window with zero intervals is an
// explicit lockout.
type AccessWindow struct {
	Intervals  []WindowInterval `json:"intervals" yaml:"intervals"`
	Timezone   string           `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	ValidFrom  *time.Time       `json:"valid_from,omitempty" yaml:"valid_from,omitempty"`
	ValidUntil *time.Time       `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad clock value %q", ErrInvalidWindow, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Validate checks interval and timezone well-formedness.
func (w *AccessWindow) Validate() error {
	if w == nil {
		return nil
	}
	if _, err := w.location(); err != nil {
		return err
	}
	for _, iv := range w.Intervals {
		start, err := parseClock(iv.Start)
		if err != nil {
			return err
		}
		end, err := parseClock(iv.End)
		if err != nil {
			return err
		}
		if start >= end {
			return fmt.Errorf("%w: interval %s %s-%s is inverted or empty", ErrInvalidWindow, iv.Weekday, iv.Start, iv.End)
		}
	}
	if w.ValidFrom != nil && w.ValidUntil != nil && w.ValidFrom.After(*w.ValidUntil) {
		return fmt.Errorf("%w: valid_from after valid_until", ErrInvalidWindow)
	}
	return nil
}

// Equal reports whether two windows impose the same restriction.
func (w *AccessWindow) Equal(other *AccessWindow) bool {
	if w == nil || other == nil {
		return w == other
	}
	if w.Timezone != other.Timezone || len(w.Intervals) != len(other.Intervals) {
		return false
	}
	for i, iv := range w.Intervals {
		if iv != other.Intervals[i] {
			return false
		}
	}
	return timePtrEqual(w.ValidFrom, other.ValidFrom) && timePtrEqual(w.ValidUntil, other.ValidUntil)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (w *AccessWindow) location() (*time.Location, error) {
	if w.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidWindow, w.Timezone)
	}
	return loc, nil
}

// Admits reports whether the instant falls inside the window. It is a pure
// function: no state, no side effects. A nil window admits everything.
//
// The instant is converted to the window's timezone; an instant whose local
// representation does not round-trip (it fell into a DST gap or an ambiguous
// repeated hour) is denied rather than guessed. Malformed window data also
// denies: the evaluator fails closed and returns the fault for logging.
func (w *AccessWindow) Admits(instant time.Time) (bool, error) {
	if w == nil {
		return true, nil
	}
	if w.ValidFrom != nil && instant.Before(*w.ValidFrom) {
		return false, nil
	}
	if w.ValidUntil != nil && instant.After(*w.ValidUntil) {
		return false, nil
	}
	if len(w.Intervals) == 0 {
		// explicit lockout
		return false, nil
	}
	loc, err := w.location()
	if err != nil {
		return false, err
	}
	local := instant.In(loc)
	y, mo, d := local.Date()
	roundTrip := time.Date(y, mo, d, local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc)
	if !roundTrip.Equal(instant) {
		return false, nil
	}
	weekday := local.Weekday()
	minute := local.Hour()*60 + local.Minute()
	for _, iv := range w.Intervals {
		if iv.Weekday != weekday {
			continue
		}
		start, err := parseClock(iv.Start)
		if err != nil {
			return false, err
		}
		end, err := parseClock(iv.End)
		if err != nil {
			return false, err
		}
		if minute >= start && minute < end {
			return true, nil
		}
	}
	return false, nil
}

// BusinessHours returns a Mon-Fri window between start and end ("HH:MM") in
// the given timezone. Convenience for the most common grant shape.
func BusinessHours(tz, start, end string) *AccessWindow {
	w := &AccessWindow{Timezone: tz}
	for wd := time.Monday; wd <= time.Friday; wd++ {
		w.Intervals = append(w.Intervals, WindowInterval{Weekday: wd, Start: start, End: end})
	}
	return w
}
