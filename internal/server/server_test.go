package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/events"
	"taskflow/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	Hub    *events.Hub
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	cfg.Server.Timezone = "UTC"
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	hub := events.NewHub()
	e.Publisher = hub
	if _, err := e.SeedCategories(context.Background(), cfg.Categories); err != nil {
		t.Fatalf("seed categories: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/api",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowDevLogin: true},
		Hub:      hub,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Hub:    hub,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(t *testing.T, userID string, roles ...string) map[string]string {
	t.Helper()
	token, err := MintToken(testSecret, userID, roles, 0)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

func TestHealthIsPublicAndMeRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(body))
	}
	env := decode[struct {
		Error apiErrorBody `json:"error"`
	}](t, body)
	if env.Error.Code != "unauthorized" {
		t.Fatalf("unexpected error code %q", env.Error.Code)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(body))
	}
}

func TestDevLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/dev/login", map[string]any{
		"userId": "alice",
		"name":   "Alice",
		"roles":  []string{"admin"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(body))
	}
	login := decode[DevLoginResponse](t, body)
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(body))
	}
	me := decode[MeResponse](t, body)
	if me.UserID != "alice" || me.Name != "Alice" {
		t.Fatalf("unexpected me %+v", me)
	}
	if !containsString(me.Permissions, "categories.manage") {
		t.Fatalf("admin should manage categories, got %v", me.Permissions)
	}
}

func TestSaveActivityCategorizesAndContinuesSession(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := bearer(t, "alice")

	payload := map[string]any{
		"sessionKey": "s-1",
		"type":       "website",
		"title":      "taskflow repo",
		"url":        "https://github.com/acme/taskflow",
		"duration":   30,
		"startTime":  "2026-03-10T10:00:00Z",
		"isActive":   true,
	}
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/activities", payload, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(body))
	}
	first := decode[ActivityResponse](t, body)
	if first.Domain != "github.com" || first.User != "alice" {
		t.Fatalf("unexpected activity %+v", first)
	}
	if first.Category == nil || *first.Category == "" {
		t.Fatalf("expected auto category, got nil")
	}

	payload["duration"] = 60
	payload["isActive"] = false
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/activities", payload, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("continue status %d: %s", res.StatusCode, string(body))
	}
	second := decode[ActivityResponse](t, body)
	if second.ID != first.ID || second.Duration != 60 || second.IsActive {
		t.Fatalf("expected continued record, got %+v", second)
	}

	// A shorter late heartbeat never shrinks the record.
	payload["duration"] = 45
	_, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/activities", payload, headers)
	if got := decode[ActivityResponse](t, body); got.Duration != 60 {
		t.Fatalf("duration decreased to %d", got.Duration)
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/activities?startDate=2026-03-10&endDate=2026-03-10", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(body))
	}
	if items := decode[[]ActivityResponse](t, body); len(items) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(items))
	}
}

func TestSaveActivityRejectsUnknownType(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/activities", map[string]any{
		"type":     "meeting",
		"duration": 10,
	}, bearer(t, "alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(body))
	}
}

func TestQueryTokenOnlyForActivityPost(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	token, err := MintToken(testSecret, "alice", nil, 0)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/activities?token="+token, map[string]any{
		"type":        "application",
		"application": "Vim",
		"duration":    12,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("beacon status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/activities?token="+token, nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for query token on list, got %d: %s", res.StatusCode, string(body))
	}
}

func TestUpdateActivityOwnership(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	_, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/activities", map[string]any{
		"type":     "website",
		"url":      "https://news.ycombinator.com/",
		"duration": 20,
	}, bearer(t, "alice"))
	created := decode[ActivityResponse](t, body)

	res, body := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/api/activities/"+created.ID, map[string]any{
		"duration": 90,
	}, bearer(t, "bob"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign activity, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/api/activities/"+created.ID, map[string]any{
		"duration": 90,
		"category": "productive",
	}, bearer(t, "alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(body))
	}
	updated := decode[ActivityResponse](t, body)
	if updated.Duration != 90 || updated.Category == nil || *updated.Category != "productive" {
		t.Fatalf("unexpected update %+v", updated)
	}
}

func TestDailySummaryAndRange(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := bearer(t, "alice")

	for _, p := range []map[string]any{
		{"type": "website", "url": "https://github.com/x", "duration": 600, "startTime": "2026-03-10T09:15:00Z"},
		{"type": "website", "url": "https://www.youtube.com/watch", "duration": 300, "startTime": "2026-03-10T14:00:00Z"},
		{"type": "application", "application": "Slack", "duration": 120, "startTime": "2026-03-11T08:00:00Z"},
	} {
		res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/activities", p, headers)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create status %d: %s", res.StatusCode, string(body))
		}
	}

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/analytics/summary?date=2026-03-10", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary status %d: %s", res.StatusCode, string(body))
	}
	summary := decode[domain.DailySummary](t, body)
	if summary.TotalTime != 900 || summary.ProductiveTime != 600 || summary.DistractingTime != 300 {
		t.Fatalf("unexpected summary totals %+v", summary)
	}
	if summary.HourlyBreakdown[9].Time != 600 || summary.HourlyBreakdown[14].Time != 300 {
		t.Fatalf("unexpected hourly breakdown %+v", summary.HourlyBreakdown)
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/analytics/range?startDate=2026-03-10&endDate=2026-03-11", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("range status %d: %s", res.StatusCode, string(body))
	}
	stats := decode[domain.RangeStatistics](t, body)
	if stats.TotalActivities != 3 || stats.TotalTime != 1020 {
		t.Fatalf("unexpected range %+v", stats)
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/analytics/range?startDate=2026-03-10", nil, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without endDate, got %d: %s", res.StatusCode, string(body))
	}
}

func TestCategoryWritesRequirePermission(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	payload := map[string]any{
		"name":    "Research",
		"type":    "productive",
		"domains": []string{"arxiv.org"},
	}
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/categories", payload, bearer(t, "alice"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/categories", payload, bearer(t, "root", "admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create category status %d: %s", res.StatusCode, string(body))
	}
	created := decode[domain.Category](t, body)

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/activities", map[string]any{
		"type":     "website",
		"url":      "https://arxiv.org/abs/1234",
		"duration": 40,
	}, bearer(t, "alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create activity status %d: %s", res.StatusCode, string(body))
	}
	if a := decode[ActivityResponse](t, body); a.Category == nil || *a.Category != created.ID {
		t.Fatalf("expected category %s, got %+v", created.ID, a.Category)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api/categories/"+created.ID, nil, bearer(t, "root", "admin"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api/categories/"+created.ID, nil, bearer(t, "root", "admin"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", res.StatusCode)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	plain, _, err := srv.Engine.CreateAPIKey(context.Background(), "carol", "agent")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me", nil, map[string]string{"X-Api-Key": plain})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(body))
	}
	if me := decode[MeResponse](t, body); me.UserID != "carol" || me.Source != "api_key" {
		t.Fatalf("unexpected principal %+v", me)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me", nil, map[string]string{"X-Api-Key": "tf_wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", res.StatusCode)
	}
}

func TestRealtimeChannelWithQueryToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	token, err := MintToken(testSecret, "alice", nil, 0)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub.Subscribers("alice") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("websocket never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	payload := map[string]any{"type": "application", "application": "Code", "duration": 42, "startTime": "2026-03-10T10:00:00Z"}
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/activities", payload, bearer(t, "alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(body))
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg events.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Event != events.ActivityUpdate || msg.UserID != "alice" {
		t.Fatalf("unexpected message %+v", msg)
	}

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	if err == nil {
		t.Fatalf("expected unauthenticated dial to fail")
	}
}

func TestMetricsExposeIngestCounters(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	payload := map[string]any{"type": "website", "url": "https://news.example.com", "duration": 3, "startTime": "2026-03-10T10:00:00Z"}
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/activities", payload, bearer(t, "alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	for _, name := range []string{"taskflow_ingest_activities_saved_total", "taskflow_ingest_short_activities_total"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics missing %s", name)
		}
	}
}
