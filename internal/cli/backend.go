package cli

import (
	"context"
	"fmt"

	"github.com/lazypower/streaks/internal/config"
	"github.com/lazypower/streaks/internal/engine"
	"github.com/lazypower/streaks/internal/pgstore"
	"github.com/lazypower/streaks/internal/server"
	"github.com/lazypower/streaks/internal/store"
)

// backend is everything the serving process needs from a record store.
type backend interface {
	engine.Store
	engine.EventSource
	server.Backend
	Close() error
}

// openBackend opens the store selected by cfg.Database and returns it with a
// label for logs and health checks.
func openBackend(ctx context.Context, cfg config.Config) (backend, string, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := pgstore.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		return pg, "postgres", nil
	default:
		dbPath := cfg.Database.Path
		if dbPath == "" {
			var err error
			dbPath, err = store.DefaultDBPath()
			if err != nil {
				return nil, "", fmt.Errorf("resolve db path: %w", err)
			}
		}
		db, err := store.Open(dbPath)
		if err != nil {
			return nil, "", fmt.Errorf("open database: %w", err)
		}
		return db, dbPath, nil
	}
}
