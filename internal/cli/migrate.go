package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/streaks/internal/config"
	"github.com/lazypower/streaks/internal/pgstore"
	"github.com/lazypower/streaks/internal/store"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and print the schema version",
	Long:  "Opens the configured database directly, applying any pending migrations. Does not need a running server.",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional .env file to load before reading STREAKS_* variables")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, label, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var version int
	switch b := db.(type) {
	case *store.DB:
		version, err = b.SchemaVersion()
	case *pgstore.Store:
		version, err = b.SchemaVersion(ctx)
	}
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", label, version)
	return nil
}
