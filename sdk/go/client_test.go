package taskflowsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Auth   string
	APIKey string
	Body   map[string]any
}

func newRecordingServer(t *testing.T, status int, reply any) (*httptest.Server, func() []recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			APIKey: r.Header.Get("X-Api-Key"),
		}
		_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		mu.Lock()
		calls = append(calls, rec)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if reply != nil {
			_ = json.NewEncoder(w).Encode(reply)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), calls...)
	}
}

func TestSaveActivitySendsBearer(t *testing.T) {
	srv, calls := newRecordingServer(t, http.StatusCreated, map[string]any{"id": "a1", "type": "website", "duration": 30})
	c := New(srv.URL + "/api/")
	c.BearerToken = "tok"

	cat := "productive"
	got, err := c.SaveActivity(context.Background(), Activity{SessionKey: "s1", Type: "website", URL: "https://github.com", Duration: 30, Category: &cat})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if got.ID != "a1" {
		t.Fatalf("expected id a1, got %q", got.ID)
	}
	rec := calls()[0]
	if rec.Method != http.MethodPost || rec.Path != "/api/activities" {
		t.Fatalf("unexpected request %s %s", rec.Method, rec.Path)
	}
	if rec.Auth != "Bearer tok" {
		t.Fatalf("expected bearer header, got %q", rec.Auth)
	}
	if rec.Body["sessionKey"] != "s1" || rec.Body["category"] != "productive" {
		t.Fatalf("unexpected body %v", rec.Body)
	}
}

func TestQueriesAndAPIKey(t *testing.T) {
	srv, calls := newRecordingServer(t, http.StatusOK, []any{})
	c := New(srv.URL + "/api")
	c.APIKey = "tf_key"

	if _, err := c.ListActivities(context.Background(), "2025-03-01", "", "website"); err != nil {
		t.Fatalf("list: %v", err)
	}
	rec := calls()[0]
	if rec.Query != "startDate=2025-03-01&type=website" {
		t.Fatalf("unexpected query %q", rec.Query)
	}
	if rec.APIKey != "tf_key" || rec.Auth != "" {
		t.Fatalf("expected api key header only, got auth=%q key=%q", rec.Auth, rec.APIKey)
	}
}

func TestUnauthorizedIsDetected(t *testing.T) {
	srv, _ := newRecordingServer(t, http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": "unauthorized"}})
	c := New(srv.URL)
	_, err := c.Me(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	_, err = c.Summary(context.Background(), "2025-03-10")
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestBeaconIgnoresResponse(t *testing.T) {
	srv, calls := newRecordingServer(t, http.StatusInternalServerError, nil)
	c := New(srv.URL + "/api")
	c.BearerToken = "tok en"

	if err := c.Beacon(context.Background(), Activity{SessionKey: "s1", Type: "application", Application: "Code", Duration: 12}); err != nil {
		t.Fatalf("beacon: %v", err)
	}
	rec := calls()[0]
	if rec.Path != "/api/activities" || rec.Query != "token=tok+en" {
		t.Fatalf("unexpected beacon %s?%s", rec.Path, rec.Query)
	}
	if rec.Auth != "" {
		t.Fatalf("beacon must not send an Authorization header")
	}
}
