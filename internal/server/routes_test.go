package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/streaks/internal/store"
)

func decodeStreak(t *testing.T, body []byte) store.Streak {
	t.Helper()
	var s store.Streak
	if err := json.Unmarshal(body, &s); err != nil {
		t.Fatalf("decode streak: %v; body: %s", err, body)
	}
	return s
}

func TestSessionInit(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/sessions/init", `{"session_id":"test-001","user_id":"u1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["session_id"] != "test-001" {
		t.Errorf("session_id = %v, want test-001", resp["session_id"])
	}
	if resp["status"] != "active" {
		t.Errorf("status = %v, want active", resp["status"])
	}
}

func TestSessionInitMissingFields(t *testing.T) {
	srv := testServer(t)

	for _, body := range []string{`{"user_id":"u1"}`, `{"session_id":"s"}`, `not json`} {
		if w := do(t, srv, "POST", "/api/sessions/init", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
	}
}

func TestSessionMessages(t *testing.T) {
	srv := testServer(t)

	do(t, srv, "POST", "/api/sessions/init", `{"session_id":"s1","user_id":"u1"}`)
	for i := 0; i < 3; i++ {
		if w := do(t, srv, "POST", "/api/sessions/s1/messages", ""); w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
		}
	}

	w := do(t, srv, "GET", "/api/users/u1/sessions", "")
	var resp struct {
		Count    int             `json:"count"`
		Sessions []store.Session `json:"sessions"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 || resp.Sessions[0].MessageCount != 3 {
		t.Errorf("sessions = %+v", resp)
	}
}

func TestCompleteSessionRecordsEvent(t *testing.T) {
	srv, clock := testServerWith(t, Options{})

	do(t, srv, "POST", "/api/sessions/init", `{"session_id":"s1","user_id":"u1"}`)
	w := do(t, srv, "POST", "/api/sessions/s1/complete", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Session store.Session `json:"session"`
		Streak  store.Streak  `json:"streak"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Session.Status != "completed" {
		t.Errorf("session status = %q", resp.Session.Status)
	}
	if resp.Streak.CurrentStreak != 1 || resp.Streak.TotalEventsCompleted != 1 {
		t.Errorf("streak = %+v", resp.Streak)
	}

	// Completing again is a no-op.
	w = do(t, srv, "POST", "/api/sessions/s1/complete", "")
	if w.Code != http.StatusOK {
		t.Fatalf("second complete status = %d", w.Code)
	}

	// A session the next day extends the streak.
	clock.Advance(24 * time.Hour)
	do(t, srv, "POST", "/api/sessions/init", `{"session_id":"s2","user_id":"u1"}`)
	do(t, srv, "POST", "/api/sessions/s2/complete", "")

	s := decodeStreak(t, do(t, srv, "GET", "/api/users/u1/streak", "").Body.Bytes())
	if s.CurrentStreak != 2 || s.TotalEventsCompleted != 2 {
		t.Errorf("streak = %+v, want current 2 total 2", s)
	}
}

func TestCompleteUnknownSession(t *testing.T) {
	srv := testServer(t)

	if w := do(t, srv, "POST", "/api/sessions/ghost/complete", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetStreakNotFound(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "GET", "/api/users/nobody/streak", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["error"] != "no streak" {
		t.Errorf("error = %q, want no streak", body["error"])
	}
}

func TestEnsureStreak(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "PUT", "/api/users/u1/streak", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	s := decodeStreak(t, w.Body.Bytes())
	if s.ID == "" || s.CurrentStreak != 0 || s.LastEventDay != nil {
		t.Errorf("ensured streak = %+v", s)
	}

	if w := do(t, srv, "GET", "/api/users/u1/streak", ""); w.Code != http.StatusOK {
		t.Errorf("get after ensure status = %d", w.Code)
	}
}

func TestRecordEventEndpoint(t *testing.T) {
	srv := testServer(t)

	for _, ts := range []string{"2024-01-01T08:00:00Z", "2024-01-02T08:00:00Z", "2024-01-02T22:00:00Z"} {
		w := do(t, srv, "POST", "/api/users/u1/streak/events", `{"timestamp":"`+ts+`"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d; body: %s", ts, w.Code, w.Body.String())
		}
	}

	s := decodeStreak(t, do(t, srv, "GET", "/api/users/u1/streak", "").Body.Bytes())
	// Clock is parked on 2024-01-01, so the Jan 2 streak is still live.
	if s.CurrentStreak != 2 || s.TotalEventsCompleted != 2 || *s.LastEventDay != "2024-01-02" {
		t.Errorf("streak = %+v", s)
	}
}

func TestRecordEventDefaultsToNow(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/users/u1/streak/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	s := decodeStreak(t, w.Body.Bytes())
	if s.LastEventDay == nil || *s.LastEventDay != "2024-01-01" {
		t.Errorf("last_event_day = %v, want clock day", s.LastEventDay)
	}
}

func TestRecordEventOutOfOrder(t *testing.T) {
	srv, clock := testServerWith(t, Options{})
	clock.Set(time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC))

	do(t, srv, "POST", "/api/users/u1/streak/events", `{"timestamp":"2024-01-05T08:00:00Z"}`)
	w := do(t, srv, "POST", "/api/users/u1/streak/events", `{"timestamp":"2024-01-03T08:00:00Z"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestRecordEventFuture(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/users/u1/streak/events", `{"timestamp":"2030-01-01T08:00:00Z"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body: %s", w.Code, w.Body.String())
	}
	if w := do(t, srv, "GET", "/api/users/u1/streak", ""); w.Code != http.StatusNotFound {
		t.Errorf("rejected event created a record: status %d", w.Code)
	}

	// Real events still count afterwards.
	w = do(t, srv, "POST", "/api/users/u1/streak/events", `{"timestamp":"2024-01-01T08:00:00Z"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
}

func TestRecordEventBadBody(t *testing.T) {
	srv := testServer(t)

	for _, body := range []string{`{"timestamp":"yesterday"}`, `{"timestamp":"0001-01-01T00:00:00Z"}`} {
		if w := do(t, srv, "POST", "/api/users/u1/streak/events", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestLazyExpiryOverHTTP(t *testing.T) {
	srv, clock := testServerWith(t, Options{})

	do(t, srv, "POST", "/api/users/u1/streak/events", `{"timestamp":"2024-01-01T08:00:00Z"}`)
	clock.Set(time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC))

	s := decodeStreak(t, do(t, srv, "GET", "/api/users/u1/streak", "").Body.Bytes())
	if s.CurrentStreak != 0 || s.LongestStreak != 1 {
		t.Errorf("streak = %+v, want current 0 longest 1", s)
	}
}

func TestRebuildFromEvents(t *testing.T) {
	srv, clock := testServerWith(t, Options{})
	clock.Set(time.Date(2024, 1, 4, 12, 0, 0, 0, time.UTC))

	body := `{"events":["2024-01-01T10:00:00Z","2024-01-02T10:00:00Z","2024-01-02T11:00:00Z","2024-01-04T10:00:00Z"]}`
	w := do(t, srv, "POST", "/api/users/u1/streak/rebuild", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	s := decodeStreak(t, w.Body.Bytes())
	if s.TotalEventsCompleted != 3 || s.CurrentStreak != 1 || s.LongestStreak != 2 || *s.LastEventDay != "2024-01-04" {
		t.Errorf("rebuilt = %+v", s)
	}
}

func TestRebuildBodyTooLarge(t *testing.T) {
	srv, _ := testServerWith(t, Options{MaxBodyBytes: 256})

	events := make([]string, 50)
	for i := range events {
		events[i] = `"2024-01-01T10:00:00Z"`
	}
	body := `{"events":[` + strings.Join(events, ",") + `]}`
	w := do(t, srv, "POST", "/api/users/u1/streak/rebuild", body)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413; body: %s", w.Code, w.Body.String())
	}
	if w := do(t, srv, "GET", "/api/users/u1/streak", ""); w.Code != http.StatusNotFound {
		t.Errorf("oversized rebuild wrote a record: status %d", w.Code)
	}

	w = do(t, srv, "POST", "/api/sessions/init", `{"session_id":"`+strings.Repeat("x", 300)+`","user_id":"u1"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("session init status = %d, want 413", w.Code)
	}
}

func TestRebuildEmptyEvents(t *testing.T) {
	srv := testServer(t)

	do(t, srv, "POST", "/api/users/u1/streak/events", `{"timestamp":"2024-01-01T08:00:00Z"}`)
	s := decodeStreak(t, do(t, srv, "POST", "/api/users/u1/streak/rebuild", `{"events":[]}`).Body.Bytes())
	if s.TotalEventsCompleted != 0 || s.LastEventDay != nil || len(s.QualifyingDays) != 0 {
		t.Errorf("rebuilt = %+v, want empty", s)
	}
}

func TestRebuildMalformed(t *testing.T) {
	srv := testServer(t)

	body := `{"events":["2024-01-03T10:00:00Z","2024-01-01T10:00:00Z"]}`
	if w := do(t, srv, "POST", "/api/users/u1/streak/rebuild", body); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRebuildFromSessions(t *testing.T) {
	srv, clock := testServerWith(t, Options{})

	for _, id := range []string{"s1", "s2"} {
		do(t, srv, "POST", "/api/sessions/init", `{"session_id":"`+id+`","user_id":"u1"}`)
		do(t, srv, "POST", "/api/sessions/"+id+"/complete", "")
		clock.Advance(24 * time.Hour)
	}

	// Wipe the live record, then recover it from sessions.
	do(t, srv, "POST", "/api/users/u1/streak/rebuild", `{"events":[]}`)
	w := do(t, srv, "POST", "/api/users/u1/streak/rebuild", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	s := decodeStreak(t, w.Body.Bytes())
	if s.TotalEventsCompleted != 2 || s.LongestStreak != 2 {
		t.Errorf("rebuilt = %+v", s)
	}
}
