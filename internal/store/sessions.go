package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Session represents a chat session. Completing one is the qualifying
// action that counts toward a user's streak.
type Session struct {
	ID           int64  `json:"id"`
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	StartedAt    int64  `json:"started_at"`
	EndedAt      *int64 `json:"ended_at,omitempty"`
	Status       string `json:"status"`
	MessageCount int    `json:"message_count"`
}

const sessionColumns = `id, session_id, user_id, started_at, ended_at, status, message_count`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.SessionID, &s.UserID, &s.StartedAt, &s.EndedAt, &s.Status, &s.MessageCount); err != nil {
		return nil, err
	}
	return &s, nil
}

// InitSession creates or resumes a session. If the session_id already exists
// and is active, it returns the existing session.
func (db *DB) InitSession(ctx context.Context, sessionID, userID string, at time.Time) (*Session, error) {
	s, err := scanSession(db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE session_id = ? AND status = 'active'
	`, sessionID))
	if err == nil {
		return s, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("check existing session: %w", err)
	}

	now := at.UnixMilli()
	result, err := db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, started_at, status)
		VALUES (?, ?, ?, 'active')
	`, sessionID, userID, now)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	id, _ := result.LastInsertId()
	return &Session{
		ID:        id,
		SessionID: sessionID,
		UserID:    userID,
		StartedAt: now,
		Status:    "active",
	}, nil
}

// GetSession returns a session by its session_id.
func (db *DB) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s, err := scanSession(db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?
	`, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// CompleteSession marks an active session as completed at the given time and
// returns the updated session.
func (db *DB) CompleteSession(ctx context.Context, sessionID string, at time.Time) (*Session, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE sessions SET status = 'completed', ended_at = ?
		WHERE session_id = ? AND status = 'active'
	`, at.UnixMilli(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, fmt.Errorf("no active session found for %s", sessionID)
	}
	return db.GetSession(ctx, sessionID)
}

// IncrementMessageCount bumps message_count on an active session.
func (db *DB) IncrementMessageCount(ctx context.Context, sessionID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + 1
		WHERE session_id = ? AND status = 'active'
	`, sessionID)
	if err != nil {
		return fmt.Errorf("increment message count: %w", err)
	}
	return nil
}

// GetRecentSessions returns a user's most recent sessions, ordered by started_at DESC.
func (db *DB) GetRecentSessions(ctx context.Context, userID string, limit int) ([]Session, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE user_id = ? ORDER BY started_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// CompletedSessionTimes returns the completion times of a user's completed
// sessions, ascending. Duplicates on the same day are kept; callers dedupe.
func (db *DB) CompletedSessionTimes(ctx context.Context, userID string) ([]time.Time, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT ended_at FROM sessions
		WHERE user_id = ? AND status = 'completed' AND ended_at IS NOT NULL
		ORDER BY ended_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("completed session times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("scan ended_at: %w", err)
		}
		times = append(times, time.UnixMilli(ms).UTC())
	}
	return times, rows.Err()
}
