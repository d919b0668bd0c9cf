package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lazypower/streaks/internal/store"
)

const sessionColumns = `id, session_id, user_id, started_at, ended_at, status, message_count`

func scanSession(row pgx.Row) (*store.Session, error) {
	var s store.Session
	if err := row.Scan(&s.ID, &s.SessionID, &s.UserID, &s.StartedAt, &s.EndedAt, &s.Status, &s.MessageCount); err != nil {
		return nil, err
	}
	return &s, nil
}

// InitSession creates or resumes a session. If the session_id already exists
// and is active, it returns the existing session.
func (s *Store) InitSession(ctx context.Context, sessionID, userID string, at time.Time) (*store.Session, error) {
	existing, err := scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE session_id = $1 AND status = 'active'
	`, sessionID))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing session: %w", err)
	}

	now := at.UnixMilli()
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO sessions (session_id, user_id, started_at, status)
		VALUES ($1, $2, $3, 'active')
		RETURNING id
	`, sessionID, userID, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return &store.Session{
		ID:        id,
		SessionID: sessionID,
		UserID:    userID,
		StartedAt: now,
		Status:    "active",
	}, nil
}

// GetSession returns a session by its session_id, or nil if none exists.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1
	`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// CompleteSession marks an active session as completed at the given time and
// returns the updated session.
func (s *Store) CompleteSession(ctx context.Context, sessionID string, at time.Time) (*store.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		UPDATE sessions SET status = 'completed', ended_at = $1
		WHERE session_id = $2 AND status = 'active'
		RETURNING `+sessionColumns,
		at.UnixMilli(), sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no active session found for %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	return sess, nil
}

// IncrementMessageCount bumps message_count on an active session.
func (s *Store) IncrementMessageCount(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET message_count = message_count + 1
		WHERE session_id = $1 AND status = 'active'
	`, sessionID)
	if err != nil {
		return fmt.Errorf("increment message count: %w", err)
	}
	return nil
}

// GetRecentSessions returns a user's most recent sessions, ordered by started_at DESC.
func (s *Store) GetRecentSessions(ctx context.Context, userID string, limit int) ([]store.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE user_id = $1 ORDER BY started_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent sessions: %w", err)
	}
	defer rows.Close()

	var sessions []store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// CompletedSessionTimes returns the completion times of a user's completed
// sessions, ascending.
func (s *Store) CompletedSessionTimes(ctx context.Context, userID string) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ended_at FROM sessions
		WHERE user_id = $1 AND status = 'completed' AND ended_at IS NOT NULL
		ORDER BY ended_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("completed session times: %w", err)
	}
	millis, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan ended_at: %w", err)
	}

	times := make([]time.Time, len(millis))
	for i, ms := range millis {
		times[i] = time.UnixMilli(ms).UTC()
	}
	return times, nil
}
