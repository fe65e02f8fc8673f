package tracker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskflow/internal/domain"
)

type sentCall struct {
	Beacon   bool
	Token    string
	Activity domain.Activity
}

type fakeTransport struct {
	mu    sync.Mutex
	calls []sentCall
	err   error
}

func (f *fakeTransport) Save(ctx context.Context, token string, a domain.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sentCall{Token: token, Activity: a})
	return f.err
}

func (f *fakeTransport) Beacon(ctx context.Context, token string, a domain.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sentCall{Beacon: true, Token: token, Activity: a})
	return nil
}

func (f *fakeTransport) Calls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

func waitSyncs(t *testing.T, s *Syncer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func activity(key string, seconds int64) domain.Activity {
	return domain.Activity{SessionKey: key, Type: domain.ActivityApplication, Application: "Code", Duration: seconds}
}

func TestShortSnapshotsAreSuppressed(t *testing.T) {
	tr := &fakeTransport{}
	creds := &MemoryCredentials{}
	require.NoError(t, creds.SetToken("tok"))
	s := NewSyncer(tr, creds, "desktop")

	s.Deliver(activity("a", 4), TriggerFocus)
	waitSyncs(t, s)
	require.Empty(t, tr.Calls())
	require.Equal(t, "suppressed", s.Last().Outcome)

	s.Deliver(activity("a", 5), TriggerHeartbeat)
	waitSyncs(t, s)
	calls := tr.Calls()
	require.Len(t, calls, 1)
	require.False(t, calls[0].Beacon)
	require.Equal(t, "tok", calls[0].Token)
	require.Equal(t, "desktop", calls[0].Activity.Metadata["source"])
	require.Equal(t, "ok", s.Last().Outcome)
}

func TestMissingCredentialKeepsPending(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSyncer(tr, nil, "")

	s.Deliver(activity("a", 30), TriggerHeartbeat)
	s.Deliver(activity("a", 60), TriggerHeartbeat)
	waitSyncs(t, s)

	require.Empty(t, tr.Calls())
	pending := s.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, int64(60), pending[0].Duration)
	require.Equal(t, "skipped", s.Last().Outcome)
}

func TestSetCredentialSendsHeldSnapshots(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSyncer(tr, nil, "")

	s.Deliver(activity("a", 40), TriggerFocus)
	s.Deliver(activity("b", 30), TriggerHeartbeat)
	s.Deliver(activity("b", 45), TriggerHeartbeat)
	waitSyncs(t, s)
	require.Empty(t, tr.Calls())

	require.NoError(t, s.SetCredential("tok"))
	waitSyncs(t, s)

	calls := tr.Calls()
	require.Len(t, calls, 2)
	got := map[string]int64{}
	for _, c := range calls {
		require.Equal(t, "tok", c.Token)
		got[c.Activity.SessionKey] = c.Activity.Duration
	}
	require.Equal(t, map[string]int64{"a": 40, "b": 45}, got)
	require.Empty(t, s.Pending())

	require.NoError(t, s.SetCredential("tok2"))
	waitSyncs(t, s)
	require.Len(t, tr.Calls(), 2)
}

// gatedTransport blocks saves of gateDuration until open is closed.
type gatedTransport struct {
	fakeTransport
	gateDuration int64
	open         chan struct{}
}

func (g *gatedTransport) Save(ctx context.Context, token string, a domain.Activity) error {
	err := g.fakeTransport.Save(ctx, token, a)
	if a.Duration == g.gateDuration {
		<-g.open
	}
	return err
}

func TestDeliveriesKeepSessionOrder(t *testing.T) {
	tr := &gatedTransport{gateDuration: 30, open: make(chan struct{})}
	creds := &MemoryCredentials{}
	require.NoError(t, creds.SetToken("tok"))
	s := NewSyncer(tr, creds, "")

	heartbeat := activity("a", 30)
	heartbeat.IsActive = true
	s.Deliver(heartbeat, TriggerHeartbeat)
	s.Deliver(activity("a", 60), TriggerFocus)
	s.Deliver(activity("other", 20), TriggerFocus)

	require.Eventually(t, func() bool {
		for _, c := range tr.Calls() {
			if c.Activity.SessionKey == "other" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	for _, c := range tr.Calls() {
		require.NotEqual(t, int64(60), c.Activity.Duration, "final record overtook the heartbeat")
	}

	close(tr.open)
	waitSyncs(t, s)
	var durations []int64
	for _, c := range tr.Calls() {
		if c.Activity.SessionKey == "a" {
			durations = append(durations, c.Activity.Duration)
		}
	}
	require.Equal(t, []int64{30, 60}, durations)
}

func TestUnauthorizedClearsCredential(t *testing.T) {
	tr := &fakeTransport{err: errors.Join(ErrUnauthorized, errors.New("401"))}
	creds := &MemoryCredentials{}
	require.NoError(t, creds.SetToken("expired"))
	s := NewSyncer(tr, creds, "")

	s.Deliver(activity("a", 30), TriggerFocus)
	waitSyncs(t, s)

	require.Len(t, tr.Calls(), 1)
	require.Empty(t, creds.Token())
	require.Equal(t, "unauthorized", s.Last().Outcome)
}

func TestTransportErrorsAreDropped(t *testing.T) {
	tr := &fakeTransport{err: errors.New("connection refused")}
	creds := &MemoryCredentials{}
	require.NoError(t, creds.SetToken("tok"))
	s := NewSyncer(tr, creds, "")

	s.Deliver(activity("a", 30), TriggerVisibility)
	waitSyncs(t, s)

	require.Equal(t, "tok", creds.Token())
	last := s.Last()
	require.Equal(t, "error", last.Outcome)
	require.Equal(t, TriggerVisibility, last.Trigger)
	require.Contains(t, last.Error, "connection refused")
}

func TestTeardownUsesBeacon(t *testing.T) {
	tr := &fakeTransport{}
	creds := &MemoryCredentials{}
	require.NoError(t, creds.SetToken("tok"))
	s := NewSyncer(tr, creds, "")

	s.Deliver(activity("a", 12), TriggerTeardown)
	waitSyncs(t, s)

	calls := tr.Calls()
	require.Len(t, calls, 1)
	require.True(t, calls[0].Beacon)
}

func TestFileCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent", "token")
	creds := &FileCredentials{Path: path}
	require.Empty(t, creds.Token())

	require.NoError(t, creds.SetToken("  abc.def  \n"))
	require.Equal(t, "abc.def", creds.Token())
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded := &FileCredentials{Path: path}
	require.Equal(t, "abc.def", reloaded.Token())

	require.NoError(t, reloaded.Clear())
	require.Empty(t, reloaded.Token())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.NoError(t, reloaded.Clear())
}

func TestToWire(t *testing.T) {
	start := newClock().Now()
	a := activity("k", 42)
	a.StartTime = start
	a.Category = domain.LiteralCategory(domain.TagProductive)

	w := ToWire(a)
	require.Equal(t, "k", w.SessionKey)
	require.Equal(t, "application", w.Type)
	require.NotNil(t, w.StartTime)
	require.True(t, start.Equal(*w.StartTime))
	require.NotNil(t, w.Category)
	require.Equal(t, "productive", *w.Category)

	w = ToWire(activity("k", 1))
	require.Nil(t, w.StartTime)
	require.Nil(t, w.Category)
}
