// Package client talks to a running streaks server. CLI writes go through it
// so they share the server's per-user serialization.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/lazypower/streaks/internal/store"
)

const (
	defaultServerURL = "http://127.0.0.1:37778"
	httpTimeout      = 10 * time.Second
)

// ErrNotFound is returned when the server has no record for the request.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response from the server.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client talks to the streaks server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for serverURL. An empty serverURL respects the
// STREAKS_URL env var, falling back to http://127.0.0.1:37778.
func New(serverURL string) *Client {
	if serverURL == "" {
		serverURL = os.Getenv("STREAKS_URL")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: serverURL,
	}
}

// do sends a request with an optional JSON body and decodes a JSON response
// into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, rd)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(data)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}

func userPath(userID, suffix string) string {
	return "/api/users/" + url.PathEscape(userID) + suffix
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil) == nil
}

// GetStreak returns a user's record with lazy expiry applied. A user with no
// record yields an error matching ErrNotFound.
func (c *Client) GetStreak(ctx context.Context, userID string) (*store.Streak, error) {
	var s store.Streak
	if err := c.do(ctx, http.MethodGet, userPath(userID, "/streak"), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// EnsureStreak returns the user's record, creating the empty one if needed.
func (c *Client) EnsureStreak(ctx context.Context, userID string) (*store.Streak, error) {
	var s store.Streak
	if err := c.do(ctx, http.MethodPut, userPath(userID, "/streak"), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RecordEvent counts a qualifying event at ts. A zero ts means now on the
// server's clock.
func (c *Client) RecordEvent(ctx context.Context, userID string, ts time.Time) (*store.Streak, error) {
	var body any
	if !ts.IsZero() {
		body = map[string]time.Time{"timestamp": ts}
	}
	var s store.Streak
	if err := c.do(ctx, http.MethodPost, userPath(userID, "/streak/events"), body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RebuildFromHistory replaces the user's record with one computed from events.
func (c *Client) RebuildFromHistory(ctx context.Context, userID string, events []time.Time) (*store.Streak, error) {
	if events == nil {
		events = []time.Time{}
	}
	var s store.Streak
	body := map[string][]time.Time{"events": events}
	if err := c.do(ctx, http.MethodPost, userPath(userID, "/streak/rebuild"), body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RebuildFromSessions replaces the user's record with one computed from the
// user's completed sessions.
func (c *Client) RebuildFromSessions(ctx context.Context, userID string) (*store.Streak, error) {
	var s store.Streak
	if err := c.do(ctx, http.MethodPost, userPath(userID, "/streak/rebuild"), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// InitSession opens a session for userID.
func (c *Client) InitSession(ctx context.Context, sessionID, userID string) (*store.Session, error) {
	var sess store.Session
	body := map[string]string{"session_id": sessionID, "user_id": userID}
	if err := c.do(ctx, http.MethodPost, "/api/sessions/init", body, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// CompletionResult is the server's answer to a session completion. Streak is
// nil when the session had already been closed.
type CompletionResult struct {
	Session store.Session `json:"session"`
	Streak  *store.Streak `json:"streak"`
	Note    string        `json:"note"`
}

// CompleteSession closes a session, counting it toward the user's streak.
func (c *Client) CompleteSession(ctx context.Context, sessionID string) (*CompletionResult, error) {
	var res CompletionResult
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/complete"
	if err := c.do(ctx, http.MethodPost, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RecentSessions lists a user's latest sessions.
func (c *Client) RecentSessions(ctx context.Context, userID string, limit int) ([]store.Session, error) {
	var resp struct {
		Sessions []store.Session `json:"sessions"`
	}
	path := fmt.Sprintf("%s?limit=%d", userPath(userID, "/sessions"), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}
