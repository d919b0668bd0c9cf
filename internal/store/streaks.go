package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
)

// Streak is the persisted accounting record for one user.
//
// QualifyingDays normally has TotalEventsCompleted entries. After a corrupt
// stored value is read back as empty it holds only the days counted since,
// while the counters keep their stored values.
type Streak struct {
	ID                   string   `json:"id"`
	UserID               string   `json:"user_id"`
	CurrentStreak        int      `json:"current_streak"`
	LongestStreak        int      `json:"longest_streak"`
	LastEventDay         *string  `json:"last_event_day"`  // YYYY-MM-DD
	TotalEventsCompleted int      `json:"total_events_completed"`
	QualifyingDays       []string `json:"qualifying_days"` // YYYY-MM-DD, chronological
	Version              int64    `json:"version"`
	CreatedAt            int64    `json:"created_at"`
	UpdatedAt            int64    `json:"updated_at"`
}

// EncodeDays serializes a day list for the qualifying_days column.
func EncodeDays(days []string) (string, error) {
	if days == nil {
		days = []string{}
	}
	data, err := json.Marshal(days)
	if err != nil {
		return "", fmt.Errorf("encode qualifying days: %w", err)
	}
	return string(data), nil
}

// DecodeDays parses a stored day list. A malformed value degrades to an
// empty list and is logged; the day list is auxiliary to the counters.
func DecodeDays(userID, raw string) []string {
	if raw == "" {
		return []string{}
	}
	var days []string
	if err := json.Unmarshal([]byte(raw), &days); err != nil {
		log.Printf("store: malformed qualifying_days for %s, treating as empty: %v", userID, err)
		return []string{}
	}
	if days == nil {
		days = []string{}
	}
	return days
}

const streakColumns = `id, user_id, current_streak, longest_streak, last_event_day,
	total_events_completed, qualifying_days, version, created_at, updated_at`

// GetStreak returns the streak record for a user, or nil if none exists.
func (db *DB) GetStreak(ctx context.Context, userID string) (*Streak, error) {
	var s Streak
	var last sql.NullString
	var days string
	err := db.QueryRowContext(ctx, `
		SELECT `+streakColumns+` FROM streaks WHERE user_id = ?
	`, userID).Scan(&s.ID, &s.UserID, &s.CurrentStreak, &s.LongestStreak, &last,
		&s.TotalEventsCompleted, &days, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get streak: %w", err)
	}
	if last.Valid {
		s.LastEventDay = &last.String
	}
	s.QualifyingDays = DecodeDays(userID, days)
	return &s, nil
}

// InsertStreak creates the record for s.UserID. Returns ErrConflict if one
// already exists. On success s.Version is 1.
func (db *DB) InsertStreak(ctx context.Context, s *Streak) error {
	return insertStreak(ctx, db.DB, s, 1)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertStreak(ctx context.Context, ex execer, s *Streak, version int64) error {
	days, err := EncodeDays(s.QualifyingDays)
	if err != nil {
		return err
	}
	result, err := ex.ExecContext(ctx, `
		INSERT INTO streaks (`+streakColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, s.ID, s.UserID, s.CurrentStreak, s.LongestStreak, s.LastEventDay,
		s.TotalEventsCompleted, days, version, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert streak: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("insert streak for %s: %w", s.UserID, ErrConflict)
	}
	s.Version = version
	return nil
}

// UpdateStreak writes the whole record if the stored id and version still
// match s, then bumps s.Version. Returns ErrConflict otherwise.
func (db *DB) UpdateStreak(ctx context.Context, s *Streak) error {
	days, err := EncodeDays(s.QualifyingDays)
	if err != nil {
		return err
	}
	result, err := db.ExecContext(ctx, `
		UPDATE streaks SET
			current_streak = ?, longest_streak = ?, last_event_day = ?,
			total_events_completed = ?, qualifying_days = ?,
			version = version + 1, updated_at = ?
		WHERE user_id = ? AND id = ? AND version = ?
	`, s.CurrentStreak, s.LongestStreak, s.LastEventDay,
		s.TotalEventsCompleted, days, s.UpdatedAt, s.UserID, s.ID, s.Version)
	if err != nil {
		return fmt.Errorf("update streak: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("update streak for %s at version %d: %w", s.UserID, s.Version, ErrConflict)
	}
	s.Version++
	return nil
}

// DeleteStreak removes a user's record. Deleting a missing record is a no-op.
func (db *DB) DeleteStreak(ctx context.Context, userID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM streaks WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete streak: %w", err)
	}
	return nil
}

// ReplaceStreak discards any existing record for s.UserID and inserts s,
// in one transaction. The version continues from the discarded record so
// writers holding a pre-replace copy fail their version check.
func (db *DB) ReplaceStreak(ctx context.Context, s *Streak) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace streak: %w", err)
	}
	var prev int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM streaks WHERE user_id = ?`, s.UserID,
	).Scan(&prev); err != nil {
		tx.Rollback()
		return fmt.Errorf("replace streak: read version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM streaks WHERE user_id = ?`, s.UserID); err != nil {
		tx.Rollback()
		return fmt.Errorf("replace streak: delete: %w", err)
	}
	if err := insertStreak(ctx, tx, s, prev+1); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace streak: %w", err)
	}
	return nil
}

// StaleStreakUsers returns users with a positive current streak whose last
// event day is strictly before the given day key.
func (db *DB) StaleStreakUsers(ctx context.Context, before string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id FROM streaks
		WHERE current_streak > 0 AND last_event_day < ?
		ORDER BY user_id
	`, before)
	if err != nil {
		return nil, fmt.Errorf("stale streak users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user_id: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
