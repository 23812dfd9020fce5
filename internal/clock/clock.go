// Package clock holds the time-of-day arithmetic shared by the recurrence
// expander and the timeline builder. All values are local wall-clock
// minutes since midnight; 24:00 is represented as EndOfDay (1440).
package clock

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	MinutesPerDay = 24 * 60

	// EndOfDay is "24:00", the exclusive end of a day.
	EndOfDay Clock = MinutesPerDay
)

var ErrInvalidClock = errors.New("invalid time of day")

// Clock is a time of day in minutes since midnight, 0..1440.
type Clock int

// Parse reads an "HH:MM" 24-hour string. "24:00" is accepted as EndOfDay.
func Parse(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock(h*60 + m), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Clock {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) Valid() bool {
	return c >= 0 && c <= EndOfDay
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Midnight normalizes t to 00:00 of its calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// At composes the wall-clock time c on the calendar day of date. Composition
// goes through time.Date so a DST shift on that day does not move the hour.
func At(date time.Time, c Clock, loc *time.Location) time.Time {
	d := Midnight(date, loc)
	return time.Date(d.Year(), d.Month(), d.Day(), int(c)/60, int(c)%60, 0, 0, d.Location())
}

// Of returns the wall-clock time of t in loc relative to the calendar day
// day. Times before the day clamp to 0, times on a later day clamp to
// EndOfDay.
func Of(t time.Time, day time.Time, loc *time.Location) Clock {
	start := Midnight(day, loc)
	next := start.AddDate(0, 0, 1)
	t = t.In(start.Location())
	switch {
	case t.Before(start):
		return 0
	case !t.Before(next):
		return EndOfDay
	}
	return Clock(t.Hour()*60 + t.Minute())
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return Midnight(a, loc).Equal(Midnight(b, loc))
}

// FreeLabel renders a gap of the given minutes, e.g. "1:30 hours free" or
// "45 min free". Non-positive gaps have no label.
func FreeLabel(minutes int) string {
	switch {
	case minutes <= 0:
		return ""
	case minutes < 60:
		return fmt.Sprintf("%d min free", minutes)
	default:
		return fmt.Sprintf("%d:%02d hours free", minutes/60, minutes%60)
	}
}

// ParseDate reads a "2006-01-02" date as local midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(time.DateOnly, strings.TrimSpace(s), loc)
}
