package engine

import (
	"fmt"
	"time"
)

// validateHistory checks that a rebuild input is usable as-is: every
// timestamp set, and each no earlier than the one before it. The whole
// history is rejected on the first violation rather than sorted, so a
// caller handing over a broken log finds out.
func validateHistory(events []time.Time) error {
	for i, ts := range events {
		if ts.IsZero() {
			return fmt.Errorf("%w: event %d has no timestamp", ErrMalformedHistory, i)
		}
		if i > 0 && ts.Before(events[i-1]) {
			return fmt.Errorf("%w: event %d (%s) precedes event %d (%s)", ErrMalformedHistory,
				i, ts.Format(time.RFC3339), i-1, events[i-1].Format(time.RFC3339))
		}
	}
	return nil
}
