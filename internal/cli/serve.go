package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lazypower/streaks/internal/config"
	"github.com/lazypower/streaks/internal/engine"
	"github.com/lazypower/streaks/internal/server"
	"github.com/spf13/cobra"
)

var envFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional .env file to load before reading STREAKS_* variables")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	openCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, dbLabel, err := openBackend(openCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer db.Close()

	eng := engine.New(db, engine.NewCalendar(loc), engine.SystemClock{})
	eng.SetEventSource(db)
	eng.StartExpirySweep(cfg.Streak.SweepInterval, time.Minute)
	defer eng.Stop()

	srv := server.New(db, eng, server.Options{
		Version:      VersionString(),
		DBLabel:      dbLabel,
		StoreTimeout: cfg.Database.Timeout,
		RateLimitRPS: cfg.RateLimit.RPS,
		RateBurst:    cfg.RateLimit.Burst,
		CORSOrigins:  cfg.Server.CORSOrigins,
	})
	defer srv.Close()

	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "streaks serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", dbLabel)
		fmt.Fprintf(os.Stderr, "  %s\n", eng)
		if cfg.Streak.SweepInterval > 0 {
			fmt.Fprintf(os.Stderr, "  expiry sweep: every %s\n", cfg.Streak.SweepInterval)
		}
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
