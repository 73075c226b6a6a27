package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/BTreeMap/ContactPipe/internal/flow"
	"github.com/BTreeMap/ContactPipe/internal/store"
)

type fixedStats flow.Stats

func (f fixedStats) Stats() flow.Stats { return flow.Stats(f) }

func do(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := NewServer(fixedStats{Creations: 3, Searches: 2, ActiveSessions: 1})
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json content type, got %q", ct)
	}
	var health struct {
		Status string     `json:"status"`
		Stats  flow.Stats `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if health.Status != "healthy" || health.Stats.Creations != 3 {
		t.Errorf("Unexpected health response: %+v", health)
	}

	rec = do(t, h, http.MethodGet, "/metrics", "")
	expectStatus(t, rec, http.StatusOK)
	var stats flow.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to decode metrics: %v", err)
	}
	if want := (flow.Stats{Creations: 3, Searches: 2, ActiveSessions: 1}); stats != want {
		t.Errorf("Metrics = %+v, want %+v", stats, want)
	}

	expectStatus(t, do(t, h, http.MethodPost, "/metrics", ""), http.StatusMethodNotAllowed)
}

func TestWebhookRoutesOnlyWhenConfigured(t *testing.T) {
	h := NewServer(fixedStats{}).Handler()
	expectStatus(t, do(t, h, http.MethodPost, TelegramWebhookPath, ""), http.StatusNotFound)
	expectStatus(t, do(t, h, http.MethodPost, TwilioWebhookPath, ""), http.StatusNotFound)

	var hits []string
	h = NewServer(fixedStats{},
		WithTelegramWebhook(func(w http.ResponseWriter, r *http.Request) { hits = append(hits, "telegram") }),
		WithTwilioWebhook(func(w http.ResponseWriter, r *http.Request) { hits = append(hits, "twilio") }),
	).Handler()
	expectStatus(t, do(t, h, http.MethodPost, TelegramWebhookPath, ""), http.StatusOK)
	expectStatus(t, do(t, h, http.MethodPost, TwilioWebhookPath, ""), http.StatusOK)
	expectStatus(t, do(t, h, http.MethodGet, TelegramWebhookPath, ""), http.StatusMethodNotAllowed)
	if want := []string{"telegram", "twilio"}; !reflect.DeepEqual(hits, want) {
		t.Errorf("Webhook hits = %v, want %v", hits, want)
	}
}

func TestSubmissions(t *testing.T) {
	repo := store.NewInMemoryStore()
	for _, sub := range []store.Submission{
		{UserID: "42", Action: "create", PageID: "p1", Title: "Cabinet Martin", CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		{UserID: "42", Action: "update", PageID: "p1", Title: "Cabinet Martin", CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
	} {
		if err := repo.SaveSubmission(sub); err != nil {
			t.Fatalf("SaveSubmission: %v", err)
		}
	}

	h := NewServer(fixedStats{}, WithSubmissions(repo, "tok")).Handler()

	expectStatus(t, do(t, h, http.MethodGet, "/api/submissions", ""), http.StatusUnauthorized)
	expectStatus(t, do(t, h, http.MethodGet, "/api/submissions", "nope"), http.StatusUnauthorized)
	expectStatus(t, do(t, h, http.MethodGet, "/api/submissions?limit=x", "tok"), http.StatusBadRequest)

	rec := do(t, h, http.MethodGet, "/api/submissions?limit=1", "tok")
	expectStatus(t, rec, http.StatusOK)
	var body struct {
		Status    string             `json:"status"`
		Result    []store.Submission `json:"result"`
		Count     int                `json:"count"`
		RequestID string             `json:"request_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode submissions: %v", err)
	}
	if body.Status != "ok" || body.Count != 1 || body.RequestID == "" {
		t.Errorf("Unexpected envelope: %+v", body)
	}
	if len(body.Result) != 1 {
		t.Fatalf("Expected 1 submission, got %d", len(body.Result))
	}
	if body.Result[0].Action != "update" {
		t.Errorf("Expected the latest submission first, got %q", body.Result[0].Action)
	}

	h = NewServer(fixedStats{}, WithSubmissions(repo, "")).Handler()
	expectStatus(t, do(t, h, http.MethodGet, "/api/submissions", ""), http.StatusNotFound)
}

func TestWriteJSONResponseFallback(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSONResponse(rec, http.StatusOK, map[string]interface{}{"bad": make(chan int)})
	expectStatus(t, rec, http.StatusInternalServerError)
	if got := rec.Body.String(); got != `{"status":"error","message":"Internal server error"}` {
		t.Errorf("Unexpected fallback body: %s", got)
	}
}
