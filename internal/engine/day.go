package engine

import (
	"fmt"
	"time"
)

// DayLayout is the wire and storage format of a day key.
const DayLayout = "2006-01-02"

const secondsPerDay = 24 * 60 * 60

// Day is a calendar day in the reference timezone, counted from 1970-01-01.
// Consecutive calendar days differ by exactly one.
type Day int64

// String formats the day as YYYY-MM-DD.
func (d Day) String() string {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC().Format(DayLayout)
}

// ParseDay decodes a YYYY-MM-DD day key.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return 0, fmt.Errorf("parse day %q: %w", s, err)
	}
	return Day(t.Unix() / secondsPerDay), nil
}

// Consecutive reports whether b is the day immediately after a.
func Consecutive(a, b Day) bool {
	return b == a+1
}

// Calendar maps instants to days in one fixed reference timezone. The host's
// local zone is never consulted.
type Calendar struct {
	loc *time.Location
}

// NewCalendar returns a Calendar for loc. A nil loc means UTC.
func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// Location returns the reference timezone.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Day normalizes t to its calendar day in the reference timezone.
func (c Calendar) Day(t time.Time) Day {
	y, m, d := t.In(c.Location()).Date()
	return Day(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay)
}
