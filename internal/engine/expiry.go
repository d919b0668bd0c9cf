package engine

import (
	"context"
	"fmt"
	"log"
	"time"
)

// ExpireStale applies lazy expiry to every user whose positive streak has
// lapsed, so a broken streak is persisted even if nobody reads it. It returns
// the number of records zeroed. Each user goes through the same locked path
// as a read.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	// A streak lapses once its last day is before yesterday.
	cutoff := (e.Today() - 1).String()
	users, err := e.Store.StaleStreakUsers(ctx, cutoff)
	if err != nil {
		return 0, unavailable("list stale streaks", err)
	}

	expired := 0
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		_, zeroed, err := e.loadExpiring(ctx, userID, "sweep")
		if err != nil {
			log.Printf("expiry: %s: %v", userID, err)
			continue
		}
		if zeroed {
			expired++
		}
	}
	return expired, nil
}

// StartExpirySweep runs ExpireStale on startup and then every interval until
// Stop is called. A non-positive interval disables the sweep.
func (e *Engine) StartExpirySweep(interval time.Duration, timeout time.Duration) {
	if interval <= 0 {
		return
	}

	sweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if n, err := e.ExpireStale(ctx); err != nil {
			log.Printf("expiry error: %v", err)
		} else if n > 0 {
			log.Printf("expiry: zeroed %d streaks", n)
		}
	}

	// Run once at startup
	sweep()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sweep()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// String describes the engine configuration for startup logs.
func (e *Engine) String() string {
	return fmt.Sprintf("streak engine (tz=%s)", e.Calendar.Location())
}
