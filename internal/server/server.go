package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/lazypower/streaks/internal/engine"
	"github.com/lazypower/streaks/internal/metrics"
	"github.com/lazypower/streaks/internal/store"
)

// Backend is the session side of the record store. *store.DB and
// *pgstore.Store satisfy it.
type Backend interface {
	PingContext(ctx context.Context) error
	InitSession(ctx context.Context, sessionID, userID string, at time.Time) (*store.Session, error)
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	CompleteSession(ctx context.Context, sessionID string, at time.Time) (*store.Session, error)
	IncrementMessageCount(ctx context.Context, sessionID string) error
	GetRecentSessions(ctx context.Context, userID string, limit int) ([]store.Session, error)
}

// DefaultMaxBodyBytes caps API request bodies when Options.MaxBodyBytes is
// unset.
const DefaultMaxBodyBytes = 1 << 20

// Options tunes a Server. The zero value serves with no rate limit, CORS
// open to any origin, a 5s store timeout, and 1 MiB request bodies.
type Options struct {
	Version      string
	DBLabel      string // reported by /api/health
	StoreTimeout time.Duration
	RateLimitRPS float64
	RateBurst    int
	CORSOrigins  []string
	MaxBodyBytes int64
}

// Server is the streaks HTTP API server.
type Server struct {
	db      Backend
	engine  *engine.Engine
	opts    Options
	limiter *rateLimiter
	handler http.Handler
	started time.Time
}

// New creates a new Server over the given backend and engine.
func New(db Backend, eng *engine.Engine, opts Options) *Server {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{
		db:      db,
		engine:  eng,
		opts:    opts,
		started: time.Now(),
	}
	if opts.RateLimitRPS > 0 {
		s.limiter = newRateLimiter(opts.RateLimitRPS, opts.RateBurst)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops background work started by New.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.stop()
	}
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(monitor)

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.middleware)
			}
			r.Use(middleware.RequestSize(s.opts.MaxBodyBytes))

			r.Post("/sessions/init", s.handleSessionInit)
			r.Post("/sessions/{sessionID}/messages", s.handleSessionMessage)
			r.Post("/sessions/{sessionID}/complete", s.handleCompleteSession)

			r.Route("/users/{userID}", func(r chi.Router) {
				r.Get("/sessions", s.handleRecentSessions)
				r.Get("/streak", s.handleGetStreak)
				r.Put("/streak", s.handleEnsureStreak)
				r.Post("/streak/events", s.handleRecordEvent)
				r.Post("/streak/rebuild", s.handleRebuild)
			})
		})
	})

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins(origins),
		gorillaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "OPTIONS"}),
		gorillaHandlers.AllowedHeaders([]string{"Content-Type"}),
	)(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.StoreTimeout)
	defer cancel()

	dbOK := s.db.PingContext(ctx) == nil

	code, status := http.StatusOK, "ok"
	if !dbOK {
		code, status = http.StatusServiceUnavailable, "degraded"
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.opts.Version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.opts.DBLabel,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
