package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lazypower/streaks/internal/store"
)

const streakColumns = `id, user_id, current_streak, longest_streak, last_event_day,
	total_events_completed, qualifying_days, version, created_at, updated_at`

// GetStreak returns the streak record for a user, or nil if none exists.
func (s *Store) GetStreak(ctx context.Context, userID string) (*store.Streak, error) {
	var rec store.Streak
	var days string
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, user_id, current_streak, longest_streak, last_event_day,
			total_events_completed, qualifying_days, version, created_at, updated_at
		FROM streaks WHERE user_id = $1
	`, userID).Scan(&rec.ID, &rec.UserID, &rec.CurrentStreak, &rec.LongestStreak, &rec.LastEventDay,
		&rec.TotalEventsCompleted, &days, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get streak: %w", err)
	}
	rec.QualifyingDays = store.DecodeDays(userID, days)
	return &rec, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// InsertStreak creates the record for rec.UserID. Returns store.ErrConflict
// if one already exists. On success rec.Version is 1.
func (s *Store) InsertStreak(ctx context.Context, rec *store.Streak) error {
	return insertStreak(ctx, s.pool, rec, 1)
}

func insertStreak(ctx context.Context, ex execer, rec *store.Streak, version int64) error {
	days, err := store.EncodeDays(rec.QualifyingDays)
	if err != nil {
		return err
	}
	tag, err := ex.Exec(ctx, `
		INSERT INTO streaks (`+streakColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO NOTHING
	`, rec.ID, rec.UserID, rec.CurrentStreak, rec.LongestStreak, rec.LastEventDay,
		rec.TotalEventsCompleted, days, version, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert streak: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert streak for %s: %w", rec.UserID, store.ErrConflict)
	}
	rec.Version = version
	return nil
}

// UpdateStreak writes the whole record if the stored id and version still
// match rec, then bumps rec.Version. Returns store.ErrConflict otherwise.
func (s *Store) UpdateStreak(ctx context.Context, rec *store.Streak) error {
	days, err := store.EncodeDays(rec.QualifyingDays)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE streaks SET
			current_streak = $1, longest_streak = $2, last_event_day = $3,
			total_events_completed = $4, qualifying_days = $5,
			version = version + 1, updated_at = $6
		WHERE user_id = $7 AND id::text = $8 AND version = $9
	`, rec.CurrentStreak, rec.LongestStreak, rec.LastEventDay,
		rec.TotalEventsCompleted, days, rec.UpdatedAt, rec.UserID, rec.ID, rec.Version)
	if err != nil {
		return fmt.Errorf("update streak: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update streak for %s at version %d: %w", rec.UserID, rec.Version, store.ErrConflict)
	}
	rec.Version++
	return nil
}

// DeleteStreak removes a user's record. Deleting a missing record is a no-op.
func (s *Store) DeleteStreak(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM streaks WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete streak: %w", err)
	}
	return nil
}

// ReplaceStreak discards any existing record for rec.UserID and inserts rec,
// in one transaction. The version continues from the discarded record so
// writers holding a pre-replace copy fail their version check.
func (s *Store) ReplaceStreak(ctx context.Context, rec *store.Streak) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace streak: %w", err)
	}
	defer tx.Rollback(ctx)

	var prev int64
	err = tx.QueryRow(ctx,
		`SELECT version FROM streaks WHERE user_id = $1 FOR UPDATE`, rec.UserID,
	).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("replace streak: read version: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM streaks WHERE user_id = $1`, rec.UserID); err != nil {
		return fmt.Errorf("replace streak: delete: %w", err)
	}
	if err := insertStreak(ctx, tx, rec, prev+1); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace streak: %w", err)
	}
	return nil
}

// StaleStreakUsers returns users with a positive current streak whose last
// event day is strictly before the given day key.
func (s *Store) StaleStreakUsers(ctx context.Context, before string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM streaks
		WHERE current_streak > 0 AND last_event_day < $1
		ORDER BY user_id
	`, before)
	if err != nil {
		return nil, fmt.Errorf("stale streak users: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan user_id: %w", err)
	}
	return users, nil
}
