package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lazypower/streaks/internal/metrics"
	"github.com/lazypower/streaks/internal/store"
)

// maxConflictRetries bounds how often a read-modify-write is re-run after
// losing an optimistic version check to another process.
const maxConflictRetries = 3

// Store is the durable record store. *store.DB and *pgstore.Store satisfy it.
// GetStreak returns (nil, nil) when the user has no record.
type Store interface {
	GetStreak(ctx context.Context, userID string) (*store.Streak, error)
	InsertStreak(ctx context.Context, s *store.Streak) error
	UpdateStreak(ctx context.Context, s *store.Streak) error
	DeleteStreak(ctx context.Context, userID string) error
	ReplaceStreak(ctx context.Context, s *store.Streak) error
	StaleStreakUsers(ctx context.Context, before string) ([]string, error)
}

// EventSource lists a user's qualifying-event times, ascending.
type EventSource interface {
	CompletedSessionTimes(ctx context.Context, userID string) ([]time.Time, error)
}

// Engine owns streak accounting: live updates, lazy expiry, and rebuilds.
// All mutations for one user are serialized through a per-user lock, and
// every write carries the version it read.
type Engine struct {
	Store    Store
	Events   EventSource
	Calendar Calendar
	Clock    Clock

	locks    *userLocks
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a new Engine.
func New(st Store, cal Calendar, clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		Store:    st,
		Calendar: cal,
		Clock:    clock,
		locks:    newUserLocks(),
		stopCh:   make(chan struct{}),
	}
}

// SetEventSource configures where RebuildFromSessions reads history from.
func (e *Engine) SetEventSource(src EventSource) {
	e.Events = src
}

// Today is the current day in the reference timezone.
func (e *Engine) Today() Day {
	return e.Calendar.Day(e.Clock.Now())
}

func (e *Engine) emptyRecord(userID string) *store.Streak {
	now := e.Clock.Now().UnixMilli()
	return &store.Streak{
		ID:             uuid.NewString(),
		UserID:         userID,
		QualifyingDays: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// withRetry runs fn until it succeeds, fails with something other than a
// version conflict, or runs out of retries.
func withRetry(fn func() (*store.Streak, error)) (*store.Streak, error) {
	for attempt := 0; ; attempt++ {
		rec, err := fn()
		if err == nil || !errors.Is(err, store.ErrConflict) || attempt >= maxConflictRetries {
			return rec, err
		}
		metrics.StoreConflicts.Inc()
	}
}

// write persists rec: insert when it was never stored, versioned update
// otherwise. Conflicts pass through unwrapped for withRetry.
func (e *Engine) write(ctx context.Context, rec *store.Streak, isNew bool) error {
	var err error
	if isNew {
		err = e.Store.InsertStreak(ctx, rec)
	} else {
		err = e.Store.UpdateStreak(ctx, rec)
	}
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return unavailable("write streak", err)
	}
	return err
}

// notFuture rejects day when it lies beyond tomorrow. One day of slack
// absorbs clock skew between the caller and this host.
func (e *Engine) notFuture(day Day) error {
	if today := e.Today(); day > today+1 {
		return fmt.Errorf("%s is after %s: %w", day, today+1, ErrFutureEvent)
	}
	return nil
}

// RecordEvent counts a qualifying event at ts for userID and returns the
// resulting record. A second event on an already-counted day returns the
// record unchanged without writing. An uncounted day earlier than the last
// qualifying day is rejected with ErrOutOfOrder, and a day after tomorrow
// with ErrFutureEvent.
func (e *Engine) RecordEvent(ctx context.Context, userID string, ts time.Time) (*store.Streak, error) {
	day := e.Calendar.Day(ts)
	if err := e.notFuture(day); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(userID)
	defer unlock()

	return withRetry(func() (*store.Streak, error) {
		rec, err := e.Store.GetStreak(ctx, userID)
		if err != nil {
			return nil, unavailable("load streak", err)
		}
		isNew := rec == nil
		if isNew {
			rec = e.emptyRecord(userID)
		}

		t := tallyOf(rec)
		if t.hasLast && day <= t.last {
			if t.counted(day) {
				metrics.EventsDuplicate.Inc()
				return rec, nil
			}
			metrics.EventsOutOfOrder.Inc()
			return nil, fmt.Errorf("record %s for %s (last %s): %w", day, userID, t.last, ErrOutOfOrder)
		}

		t.add(day)
		t.writeTo(rec)
		rec.UpdatedAt = e.Clock.Now().UnixMilli()

		if err := e.write(ctx, rec, isNew); err != nil {
			return nil, err
		}
		metrics.EventsRecorded.Inc()
		return rec, nil
	})
}

// expired reports whether rec's current streak has lapsed as of today: at
// least one whole day passed with no qualifying event.
func (e *Engine) expired(rec *store.Streak, today Day) bool {
	if rec.CurrentStreak == 0 {
		return false
	}
	t := tallyOf(rec)
	return t.hasLast && today-t.last > 1
}

// GetStreak returns userID's record with lazy expiry applied. The boolean is
// false when the user has no record. Expiry is persisted and one-way: only a
// new qualifying event restarts the streak.
func (e *Engine) GetStreak(ctx context.Context, userID string) (*store.Streak, bool, error) {
	rec, _, err := e.loadExpiring(ctx, userID, "read")
	if err != nil {
		return nil, false, err
	}
	return rec, rec != nil, nil
}

// loadExpiring reads userID's record under the user lock and zeroes a lapsed
// current streak. zeroed reports whether this call did the zeroing.
func (e *Engine) loadExpiring(ctx context.Context, userID, trigger string) (rec *store.Streak, zeroed bool, err error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	rec, err = withRetry(func() (*store.Streak, error) {
		zeroed = false
		rec, err := e.Store.GetStreak(ctx, userID)
		if err != nil {
			return nil, unavailable("load streak", err)
		}
		if rec == nil || !e.expired(rec, e.Today()) {
			return rec, nil
		}

		rec.CurrentStreak = 0
		rec.UpdatedAt = e.Clock.Now().UnixMilli()
		if err := e.write(ctx, rec, false); err != nil {
			return nil, err
		}
		zeroed = true
		metrics.StreaksExpired.WithLabelValues(trigger).Inc()
		return rec, nil
	})
	return rec, zeroed, err
}

// EnsureStreak is GetStreak that creates and stores the empty-state record
// when the user has none.
func (e *Engine) EnsureStreak(ctx context.Context, userID string) (*store.Streak, error) {
	rec, ok, err := e.GetStreak(ctx, userID)
	if err != nil || ok {
		return rec, err
	}

	unlock := e.locks.lock(userID)
	defer unlock()

	rec = e.emptyRecord(userID)
	if err := e.write(ctx, rec, true); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		// Created elsewhere in the meantime.
		existing, err := e.Store.GetStreak(ctx, userID)
		if err != nil {
			return nil, unavailable("load streak", err)
		}
		return existing, nil
	}
	return rec, nil
}

// RebuildFromHistory recomputes userID's record from the complete,
// chronologically ordered list of qualifying-event times and replaces any
// stored record. Lazy expiry is not applied. An empty list yields the
// empty-state record. Events after tomorrow fail with ErrFutureEvent.
func (e *Engine) RebuildFromHistory(ctx context.Context, userID string, events []time.Time) (*store.Streak, error) {
	if err := e.checkHistory(events); err != nil {
		metrics.Rebuilds.WithLabelValues("rejected").Inc()
		return nil, err
	}

	unlock := e.locks.lock(userID)
	defer unlock()

	return e.rebuild(ctx, userID, events)
}

// checkHistory validates ordering, then the latest event's day.
func (e *Engine) checkHistory(events []time.Time) error {
	if err := validateHistory(events); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	return e.notFuture(e.Calendar.Day(events[len(events)-1]))
}

func (e *Engine) rebuild(ctx context.Context, userID string, events []time.Time) (*store.Streak, error) {
	rec := e.emptyRecord(userID)

	t := tally{days: make([]string, 0, len(events))}
	seen := make(map[Day]struct{}, len(events))
	for _, ts := range events {
		day := e.Calendar.Day(ts)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		t.add(day)
	}
	t.writeTo(rec)

	if err := e.Store.ReplaceStreak(ctx, rec); err != nil {
		metrics.Rebuilds.WithLabelValues("failed").Inc()
		return nil, unavailable("replace streak", err)
	}
	metrics.Rebuilds.WithLabelValues("ok").Inc()
	return rec, nil
}

// RebuildFromSessions rebuilds userID's record from the event source.
// The per-user lock is held across the fetch so no live event slips in
// between reading history and replacing the record.
func (e *Engine) RebuildFromSessions(ctx context.Context, userID string) (*store.Streak, error) {
	if e.Events == nil {
		return nil, ErrNoEventSource
	}

	unlock := e.locks.lock(userID)
	defer unlock()

	events, err := e.Events.CompletedSessionTimes(ctx, userID)
	if err != nil {
		return nil, unavailable("load history", err)
	}
	if err := e.checkHistory(events); err != nil {
		metrics.Rebuilds.WithLabelValues("rejected").Inc()
		return nil, err
	}
	return e.rebuild(ctx, userID, events)
}
