package engine

import (
	"log"
	"sort"

	"github.com/lazypower/streaks/internal/store"
)

// tally is the counter arithmetic shared by the live and rebuild paths.
type tally struct {
	current int
	longest int
	total   int
	last    Day
	hasLast bool
	days    []string
}

// tallyOf loads the counters of a stored record. A last_event_day that does
// not parse is logged and treated as absent. A day list whose length
// disagrees with the total is logged and kept; the counters stay
// authoritative.
func tallyOf(s *store.Streak) tally {
	t := tally{
		current: s.CurrentStreak,
		longest: s.LongestStreak,
		total:   s.TotalEventsCompleted,
		days:    s.QualifyingDays,
	}
	if t.days == nil {
		t.days = []string{}
	}
	if len(t.days) != t.total {
		log.Printf("engine: %s: qualifying_days has %d entries but total_events_completed is %d",
			s.UserID, len(t.days), t.total)
	}
	if s.LastEventDay != nil {
		d, err := ParseDay(*s.LastEventDay)
		if err != nil {
			log.Printf("engine: %s: ignoring last_event_day: %v", s.UserID, err)
		} else {
			t.last, t.hasLast = d, true
		}
	}
	return t
}

// add counts a new qualifying day. The caller guarantees day was not counted
// before and is not earlier than t.last.
func (t *tally) add(day Day) {
	switch {
	case !t.hasLast:
		t.current = 1
	case Consecutive(t.last, day):
		t.current++
	default:
		t.current = 1
	}
	if t.current > t.longest {
		t.longest = t.current
	}
	t.total++
	t.days = append(t.days, day.String())
	t.last, t.hasLast = day, true
}

// counted reports whether day is already among the qualifying days. Days are
// stored in chronological order and YYYY-MM-DD sorts the same way, so a
// binary search suffices.
func (t *tally) counted(day Day) bool {
	if t.hasLast && day == t.last {
		return true
	}
	key := day.String()
	i := sort.SearchStrings(t.days, key)
	return i < len(t.days) && t.days[i] == key
}

// writeTo copies the counters back onto s.
func (t *tally) writeTo(s *store.Streak) {
	s.CurrentStreak = t.current
	s.LongestStreak = t.longest
	s.TotalEventsCompleted = t.total
	s.QualifyingDays = t.days
	if t.hasLast {
		last := t.last.String()
		s.LastEventDay = &last
	} else {
		s.LastEventDay = nil
	}
}
