package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskflow/internal/classify"
	"taskflow/internal/domain"
	"taskflow/internal/logger"
	taskflowsdk "taskflow/sdk/go"
)

type fixedWindow struct {
	w Window
}

func (f *fixedWindow) Active(ctx context.Context) (Window, error) { return f.w, nil }

type agentHarness struct {
	agent     *Agent
	clock     *fakeClock
	transport *fakeTransport
	server    *httptest.Server
	cancel    context.CancelFunc
	stopped   chan error
}

func startAgent(t *testing.T, windows WindowSource) *agentHarness {
	t.Helper()
	clock := newClock()
	tr := &fakeTransport{}
	syncer := NewSyncer(tr, &MemoryCredentials{}, "test")
	idle := NewIdleDetector(5*time.Minute, nil, clock.Now())
	a := NewAgent(syncer, idle, windows, nil, clock.Now)
	a.Classifier = classify.New([]domain.Category{
		{ID: "dev", Name: "Development", Type: domain.TagProductive, Domains: []string{"github.com"}, Applications: []string{"Code"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	h := &agentHarness{agent: a, clock: clock, transport: tr, cancel: cancel, stopped: make(chan error, 1)}
	go func() { h.stopped <- a.Run(ctx) }()
	h.server = httptest.NewServer(NewBridge(a))
	t.Cleanup(func() {
		h.server.Close()
		h.stop(t)
	})
	return h
}

func (h *agentHarness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err, ok := <-h.stopped:
		if ok {
			require.NoError(t, err)
			close(h.stopped)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func (h *agentHarness) post(t *testing.T, path string, body any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(h.server.URL+path, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func (h *agentHarness) status(t *testing.T) Status {
	t.Helper()
	resp, err := http.Get(h.server.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func TestBridgeDrivesBrowserSessions(t *testing.T) {
	h := startAgent(t, nil)

	require.Equal(t, http.StatusNoContent, h.post(t, "/token", map[string]string{"token": "tok"}))
	require.Equal(t, http.StatusNoContent, h.post(t, "/focus", map[string]string{"url": "https://github.com/acme/api", "title": "acme/api"}))

	st := h.status(t)
	require.True(t, st.Authenticated)
	require.NotNil(t, st.Browser)
	require.Equal(t, "github.com", st.Browser.Domain)
	require.Equal(t, domain.TagProductive, st.Browser.Classification)
	require.Nil(t, st.Desktop)
	require.Equal(t, "active", st.Idle)

	require.Equal(t, http.StatusNoContent, h.post(t, "/interaction", map[string]any{"metadata": map[string]any{"clicks": 3}}))
	require.Equal(t, http.StatusNoContent, h.post(t, "/task/start", map[string]string{"taskId": "card-7", "title": "API review"}))
	h.clock.Advance(40 * time.Second)
	require.Equal(t, http.StatusNoContent, h.post(t, "/visibility", map[string]bool{"hidden": true}))
	require.NoError(t, h.agent.Syncer.Wait(context.Background()))

	calls := h.transport.Calls()
	require.Len(t, calls, 1)
	got := calls[0].Activity
	require.Equal(t, "tok", calls[0].Token)
	require.True(t, got.IsActive)
	require.Equal(t, int64(40), got.Duration)
	require.Equal(t, "card-7", got.Metadata["taskId"])
	require.EqualValues(t, 3, got.Metadata["clicks"])

	require.Equal(t, http.StatusNoContent, h.post(t, "/focus", map[string]string{"url": "chrome://extensions"}))
	require.NoError(t, h.agent.Syncer.Wait(context.Background()))
	require.Len(t, h.transport.Calls(), 2)
	require.Nil(t, h.status(t).Browser)
}

func TestBridgePauseAndResume(t *testing.T) {
	h := startAgent(t, nil)
	require.Equal(t, http.StatusNoContent, h.post(t, "/focus", map[string]string{"url": "https://github.com/"}))
	h.clock.Advance(40 * time.Second)
	require.Equal(t, http.StatusNoContent, h.post(t, "/pause", nil))

	st := h.status(t)
	require.True(t, st.Browser.Suspended)
	require.Equal(t, int64(40), st.Browser.Elapsed)

	h.clock.Advance(120 * time.Second)
	require.Equal(t, http.StatusNoContent, h.post(t, "/resume", nil))
	h.clock.Advance(20 * time.Second)

	st = h.status(t)
	require.False(t, st.Browser.Suspended)
	require.Equal(t, int64(60), st.Browser.Elapsed)
}

func TestBridgeRejectsBadInput(t *testing.T) {
	h := startAgent(t, nil)
	resp, err := http.Post(h.server.URL+"/focus", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.Equal(t, http.StatusBadRequest, h.post(t, "/task/start", map[string]string{"title": "missing id"}))
	require.Equal(t, http.StatusBadRequest, h.post(t, "/input", map[string]string{}))
}

func TestIdleSuspendsAndInputResumes(t *testing.T) {
	h := startAgent(t, nil)
	require.Equal(t, http.StatusNoContent, h.post(t, "/focus", map[string]string{"url": "https://github.com/"}))

	h.clock.Advance(6 * time.Minute)
	require.NoError(t, h.agent.Do(context.Background(), func(a *Agent) { a.Idle.Tick(a.Now()) }))
	st := h.status(t)
	require.Equal(t, "idle", st.Idle)
	require.True(t, st.Browser.Suspended)
	require.Equal(t, int64(360), st.Browser.Elapsed)

	require.Equal(t, http.StatusNoContent, h.post(t, "/input", map[string]string{"kind": "key"}))
	st = h.status(t)
	require.Equal(t, "active", st.Idle)
	require.False(t, st.Browser.Suspended)
}

func TestAgentPollsForegroundWindow(t *testing.T) {
	h := startAgent(t, &fixedWindow{w: Window{Application: "Code", Title: "main.go - Code"}})

	var st Status
	require.Eventually(t, func() bool {
		st = h.status(t)
		return st.Desktop != nil
	}, 3*time.Second, 20*time.Millisecond)
	require.Equal(t, "Code", st.Desktop.Application)
	require.Equal(t, domain.TagProductive, st.Desktop.Classification)
}

func TestTeardownFlushesOnStop(t *testing.T) {
	h := startAgent(t, nil)
	require.Equal(t, http.StatusNoContent, h.post(t, "/token", map[string]string{"token": "tok"}))
	require.Equal(t, http.StatusNoContent, h.post(t, "/focus", map[string]string{"url": "https://github.com/"}))
	h.clock.Advance(15 * time.Second)

	h.stop(t)
	calls := h.transport.Calls()
	require.Len(t, calls, 1)
	require.True(t, calls[0].Beacon)
	require.Equal(t, int64(15), calls[0].Activity.Duration)

	require.ErrorIs(t, h.agent.Do(context.Background(), func(*Agent) {}), ErrStopped)
}

func TestApplicationFromTitle(t *testing.T) {
	require.Equal(t, "Visual Studio Code", applicationFromTitle("main.go - taskflow - Visual Studio Code"))
	require.Equal(t, "Slack", applicationFromTitle("general | Slack"))
	require.Equal(t, "Terminal", applicationFromTitle(" Terminal "))
}

func TestCommandSources(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	ctx := context.Background()

	idle, err := CommandIdleSource{Command: []string{"echo", "1500"}}.Idle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, idle)

	_, err = CommandIdleSource{Command: []string{"echo", "soon"}}.Idle(ctx)
	require.Error(t, err)

	w, err := CommandWindowSource{TitleCommand: []string{"false"}}.Active(ctx)
	require.NoError(t, err)
	require.Equal(t, Window{}, w)

	w, err = CommandWindowSource{TitleCommand: []string{"echo", "notes.txt - Editor"}}.Active(ctx)
	require.NoError(t, err)
	require.Equal(t, "Editor", w.Application)
}

func TestCategoriesFromWire(t *testing.T) {
	pos := 7
	cats := CategoriesFromWire([]taskflowsdk.Category{
		{ID: "a", Name: "A", Type: "productive"},
		{ID: "b", Name: "B", Type: "bogus", Position: &pos},
	})
	require.Len(t, cats, 2)
	require.Equal(t, domain.TagProductive, cats[0].Type)
	require.Equal(t, 0, cats[0].Position)
	require.Equal(t, domain.TagNeutral, cats[1].Type)
	require.Equal(t, 7, cats[1].Position)
}

func TestBridgeTokenSendsHeldSnapshots(t *testing.T) {
	h := startAgent(t, nil)
	require.Equal(t, http.StatusNoContent, h.post(t, "/focus", map[string]string{"url": "https://github.com/acme/api"}))
	h.clock.Advance(40 * time.Second)
	require.Equal(t, http.StatusNoContent, h.post(t, "/visibility", map[string]bool{"hidden": true}))
	require.NoError(t, h.agent.Syncer.Wait(context.Background()))
	require.Empty(t, h.transport.Calls())
	require.Len(t, h.agent.Syncer.Pending(), 1)

	require.Equal(t, http.StatusNoContent, h.post(t, "/token", map[string]string{"token": "tok"}))
	require.NoError(t, h.agent.Syncer.Wait(context.Background()))

	calls := h.transport.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "tok", calls[0].Token)
	require.Equal(t, int64(40), calls[0].Activity.Duration)
	require.Empty(t, h.agent.Syncer.Pending())
}

func TestAgentLogsLifecyclePerEmitter(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf, false)
	t.Cleanup(func() { logger.SetOutput(io.Discard, false) })

	clock := newClock()
	agent := NewAgent(NewSyncer(&fakeTransport{}, &MemoryCredentials{}, "test"), nil, nil, nil, clock.Now)
	agent.Desktop.Focus(Target{Type: domain.ActivityApplication, Application: "Code"})
	agent.Browser.Focus(Target{Type: domain.ActivityWebsite, URL: "https://github.com/"})

	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(l, " start ") {
			lines = append(lines, l)
		}
	}
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "desktop start application")
	require.Contains(t, lines[1], "browser start website")
}
