package engine

import "errors"

var (
	// ErrStoreUnavailable wraps any failure of the record store or event
	// source. It is retryable by the caller; the engine does not retry.
	ErrStoreUnavailable = errors.New("streak store unavailable")

	// ErrOutOfOrder rejects a live event dated before the user's last
	// qualifying day that was not already counted. Such events belong to a
	// rebuild, not to the live path.
	ErrOutOfOrder = errors.New("event precedes last qualifying day")

	// ErrFutureEvent rejects an event dated more than one day after today in
	// the reference timezone, on the live path and in rebuilds.
	ErrFutureEvent = errors.New("event is in the future")

	// ErrMalformedHistory rejects a rebuild whose events are not in
	// chronological order or contain zero timestamps. Nothing is written.
	ErrMalformedHistory = errors.New("malformed event history")

	// ErrNoEventSource is returned by RebuildFromSessions when the engine has
	// no event source configured.
	ErrNoEventSource = errors.New("no event source configured")
)
