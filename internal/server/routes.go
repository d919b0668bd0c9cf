package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lazypower/streaks/internal/engine"
	"github.com/lazypower/streaks/internal/store"
)

func (s *Server) storeCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.opts.StoreTimeout)
}

// writeEngineError maps engine and store failures onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrMalformedHistory), errors.Is(err, engine.ErrFutureEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrOutOfOrder), errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrNoEventSource):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, engine.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		log.Printf("server: %v", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		log.Printf("server: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeDecodeError reports a body that could not be decoded, telling an
// oversized body apart from bad JSON.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooBig.Limit))
		return
	}
	writeError(w, http.StatusBadRequest, "invalid json")
}

// decodeOptional decodes a JSON body into v. An empty body leaves v as is.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		UserID    string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.SessionID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "session_id and user_id required")
		return
	}

	ctx, cancel := s.storeCtx(r)
	defer cancel()

	sess, err := s.db.InitSession(ctx, req.SessionID, req.UserID, s.engine.Clock.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	ctx, cancel := s.storeCtx(r)
	defer cancel()

	if err := s.db.IncrementMessageCount(ctx, sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

// handleCompleteSession closes an active session and counts its completion
// as a qualifying event for the session's user.
func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	ctx, cancel := s.storeCtx(r)
	defer cancel()

	sess, err := s.db.GetSession(ctx, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "no such session")
		return
	}
	if sess.Status != "active" {
		// Already closed; completing twice must not count twice.
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "note": "session already " + sess.Status})
		return
	}

	sess, err = s.db.CompleteSession(ctx, sessionID, s.engine.Clock.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rec, err := s.engine.RecordEvent(ctx, sess.UserID, time.UnixMilli(*sess.EndedAt))
	if err != nil {
		// The session stays completed; a rebuild from sessions recovers it.
		log.Printf("server: session %s completed but not counted: %v", sessionID, err)
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "streak": rec})
}

func (s *Server) handleRecentSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	ctx, cancel := s.storeCtx(r)
	defer cancel()

	sessions, err := s.db.GetRecentSessions(ctx, userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleGetStreak(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	ctx, cancel := s.storeCtx(r)
	defer cancel()

	rec, ok, err := s.engine.GetStreak(ctx, userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no streak")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleEnsureStreak(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	ctx, cancel := s.storeCtx(r)
	defer cancel()

	rec, err := s.engine.EnsureStreak(ctx, userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		Timestamp *time.Time `json:"timestamp"`
	}
	if err := decodeOptional(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	ts := s.engine.Clock.Now()
	if req.Timestamp != nil {
		if req.Timestamp.IsZero() {
			writeError(w, http.StatusBadRequest, "timestamp must not be zero")
			return
		}
		ts = *req.Timestamp
	}

	ctx, cancel := s.storeCtx(r)
	defer cancel()

	rec, err := s.engine.RecordEvent(ctx, userID, ts)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleRebuild replaces the user's record. With an events list it rebuilds
// from exactly those timestamps; without one it replays completed sessions.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		Events *[]time.Time `json:"events"`
	}
	if err := decodeOptional(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	ctx, cancel := s.storeCtx(r)
	defer cancel()

	var (
		rec *store.Streak
		err error
	)
	if req.Events != nil {
		rec, err = s.engine.RebuildFromHistory(ctx, userID, *req.Events)
	} else {
		rec, err = s.engine.RebuildFromSessions(ctx, userID)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
