package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all streaks configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Streak    StreakConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Bind        string
	Port        int
	CORSOrigins []string
}

type DatabaseConfig struct {
	Driver  string        // "sqlite" or "postgres"
	Path    string        // sqlite file; empty resolves to store.DefaultDBPath()
	URL     string        // postgres connection string
	Timeout time.Duration // per-call bound on store access
}

type StreakConfig struct {
	Timezone      string        // reference zone for day keys, e.g. "UTC"
	SweepInterval time.Duration // 0 disables the background expiry sweep
}

type RateLimitConfig struct {
	RPS   float64 // 0 disables
	Burst int
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:        "127.0.0.1",
			Port:        37778,
			CORSOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Path:    "", // resolved at runtime via store.DefaultDBPath()
			Timeout: 5 * time.Second,
		},
		Streak: StreakConfig{
			Timezone:      "UTC",
			SweepInterval: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RPS:   5,
			Burst: 30,
		},
	}
}

// Load returns Default() overlaid with values from an optional .env file and
// STREAKS_* environment variables. A missing .env file is not an error.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := Default()

	if v := os.Getenv("STREAKS_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("STREAKS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("STREAKS_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("STREAKS_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}

	if v := os.Getenv("STREAKS_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("STREAKS_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		if os.Getenv("STREAKS_DB_DRIVER") == "" {
			cfg.Database.Driver = "postgres"
		}
	}
	if v := os.Getenv("STREAKS_DB_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("STREAKS_DB_TIMEOUT: %w", err)
		}
		cfg.Database.Timeout = d
	}

	if v := os.Getenv("STREAKS_TIMEZONE"); v != "" {
		cfg.Streak.Timezone = v
	}
	if v := os.Getenv("STREAKS_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("STREAKS_SWEEP_INTERVAL: %w", err)
		}
		cfg.Streak.SweepInterval = d
	}

	if v := os.Getenv("STREAKS_RATE_LIMIT"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("STREAKS_RATE_LIMIT: %w", err)
		}
		cfg.RateLimit.RPS = rps
	}
	if v := os.Getenv("STREAKS_RATE_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("STREAKS_RATE_BURST: %w", err)
		}
		cfg.RateLimit.Burst = burst
	}

	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("postgres driver requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown database driver: %q", c.Database.Driver)
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst == 0 {
		return fmt.Errorf("rate limit burst must be positive when rps is set")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the reference timezone used for day keys.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Streak.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Streak.Timezone, err)
	}
	return loc, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
