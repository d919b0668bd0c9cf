package pgstore

import (
	"context"
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "sessions: chat sessions, the qualifying-event source",
		SQL: `
CREATE TABLE sessions (
    id             BIGSERIAL PRIMARY KEY,
    session_id     TEXT NOT NULL UNIQUE,
    user_id        TEXT NOT NULL,
    started_at     BIGINT NOT NULL,
    ended_at       BIGINT,
    status         TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'failed')),
    message_count  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_sessions_user_status ON sessions(user_id, status, ended_at);
CREATE INDEX idx_sessions_started_at  ON sessions(started_at DESC);
`,
	},
	{
		Version:     2,
		Description: "streaks: one accounting record per user",
		SQL: `
CREATE TABLE streaks (
    id                      UUID PRIMARY KEY,
    user_id                 TEXT NOT NULL UNIQUE,
    current_streak          INTEGER NOT NULL DEFAULT 0 CHECK (current_streak >= 0),
    longest_streak          INTEGER NOT NULL DEFAULT 0 CHECK (longest_streak >= 0),
    last_event_day          TEXT,
    total_events_completed  INTEGER NOT NULL DEFAULT 0 CHECK (total_events_completed >= 0),
    qualifying_days         TEXT NOT NULL DEFAULT '[]',
    version                 BIGINT NOT NULL DEFAULT 1,
    created_at              BIGINT NOT NULL,
    updated_at              BIGINT NOT NULL
);

CREATE INDEX idx_streaks_last_event ON streaks(last_event_day) WHERE current_streak > 0;
`,
	},
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		if err := s.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// apply runs one migration in a transaction. The advisory lock keeps two
// processes starting together from applying the same version twice.
func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(4242)`); err != nil {
		return fmt.Errorf("lock migration %d: %w", m.Version, err)
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM schema_versions WHERE version = $1`, m.Version).Scan(&count); err != nil {
		return fmt.Errorf("check migration %d: %w", m.Version, err)
	}
	if count > 0 {
		return nil
	}

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_versions (version, description) VALUES ($1, $2)`,
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

// SchemaVersion returns the current schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&version)
	return version, err
}
