package tracker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"taskflow/internal/domain"
	"taskflow/internal/logger"
	"taskflow/internal/metrics"
	taskflowsdk "taskflow/sdk/go"
)

// MinSyncDuration is the floor below which no sync is attempted.
const MinSyncDuration = 5 * time.Second

// DefaultHeartbeat is the in-flight sync interval.
const DefaultHeartbeat = 30 * time.Second

// ErrUnauthorized is returned by transports when the backend rejects the
// credential.
var ErrUnauthorized = errors.New("unauthorized")

// Transport delivers one activity snapshot with the given credential.
type Transport interface {
	Save(ctx context.Context, token string, a domain.Activity) error
	// Beacon is best effort: it must not wait for or inspect a response.
	Beacon(ctx context.Context, token string, a domain.Activity) error
}

// CredentialStore caches the bearer token of the tracking user.
type CredentialStore interface {
	Token() string
	SetToken(token string) error
	Clear() error
}

// MemoryCredentials keeps the token in memory only.
type MemoryCredentials struct {
	mu    sync.RWMutex
	token string
}

func (m *MemoryCredentials) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *MemoryCredentials) SetToken(token string) error {
	m.mu.Lock()
	m.token = strings.TrimSpace(token)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCredentials) Clear() error {
	return m.SetToken("")
}

// FileCredentials persists the token in a 0600 file and caches it in memory.
type FileCredentials struct {
	Path string
	mem  MemoryCredentials
	once sync.Once
}

func (f *FileCredentials) load() {
	f.once.Do(func() {
		data, err := os.ReadFile(f.Path)
		if err == nil {
			_ = f.mem.SetToken(string(data))
		}
	})
}

func (f *FileCredentials) Token() string {
	f.load()
	return f.mem.Token()
}

func (f *FileCredentials) SetToken(token string) error {
	f.load()
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(f.Path, []byte(strings.TrimSpace(token)), 0o600); err != nil {
		return err
	}
	return f.mem.SetToken(token)
}

func (f *FileCredentials) Clear() error {
	f.load()
	_ = f.mem.Clear()
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Syncer is the Sink that pushes snapshots to the backend. Each delivery is
// an independent request run off the caller's goroutine; failures are logged
// and dropped. Deliveries sharing a session key reach the transport in the
// order they were handed over.
type Syncer struct {
	Transport   Transport
	Credentials CredentialStore
	MinDuration time.Duration
	Source      string

	wg    sync.WaitGroup
	mu    sync.Mutex
	lanes map[string]chan struct{}
	// latest snapshot per session held back for lack of a credential
	pending map[string]heldSnapshot
	order   []string
	last    SyncResult
}

type heldSnapshot struct {
	activity domain.Activity
	trigger  Trigger
}

// SyncResult describes the latest delivery attempt.
type SyncResult struct {
	Trigger  Trigger   `json:"trigger,omitempty"`
	Outcome  string    `json:"outcome,omitempty"`
	Duration int64     `json:"duration,omitempty"`
	At       time.Time `json:"at,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func NewSyncer(t Transport, creds CredentialStore, source string) *Syncer {
	if creds == nil {
		creds = &MemoryCredentials{}
	}
	return &Syncer{Transport: t, Credentials: creds, MinDuration: MinSyncDuration, Source: source}
}

func (s *Syncer) floor() time.Duration {
	if s.MinDuration <= 0 {
		return MinSyncDuration
	}
	return s.MinDuration
}

func (s *Syncer) record(trigger Trigger, outcome string, a domain.Activity, err error) {
	metrics.AgentSyncs.WithLabelValues(string(trigger), outcome).Inc()
	res := SyncResult{Trigger: trigger, Outcome: outcome, Duration: a.Duration, At: time.Now()}
	if err != nil {
		res.Error = err.Error()
	}
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
}

// Deliver implements Sink.
func (s *Syncer) Deliver(a domain.Activity, trigger Trigger) {
	if time.Duration(a.Duration)*time.Second < s.floor() {
		s.record(trigger, "suppressed", a, nil)
		return
	}
	if s.Source != "" {
		a.Metadata = a.Metadata.Merge(domain.Metadata{"source": s.Source})
	}
	token := s.Credentials.Token()
	if token == "" {
		s.hold(a, trigger)
		s.record(trigger, "skipped", a, nil)
		logger.Debug("no credential, %s sync for %s kept in memory", trigger, a.SessionKey)
		return
	}
	s.send(token, a, trigger)
}

func (s *Syncer) hold(a domain.Activity, trigger Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = map[string]heldSnapshot{}
	}
	if _, ok := s.pending[a.SessionKey]; !ok {
		s.order = append(s.order, a.SessionKey)
	}
	s.pending[a.SessionKey] = heldSnapshot{activity: a, trigger: trigger}
}

// enqueue chains the delivery behind the previous one for the same session.
func (s *Syncer) enqueue(key string) (prev <-chan struct{}, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lanes == nil {
		s.lanes = map[string]chan struct{}{}
	}
	done = make(chan struct{})
	prev = s.lanes[key]
	s.lanes[key] = done
	return prev, done
}

func (s *Syncer) release(key string, done chan struct{}) {
	s.mu.Lock()
	if s.lanes[key] == done {
		delete(s.lanes, key)
	}
	s.mu.Unlock()
	close(done)
}

func (s *Syncer) send(token string, a domain.Activity, trigger Trigger) {
	prev, done := s.enqueue(a.SessionKey)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(a.SessionKey, done)
		if prev != nil {
			<-prev
		}
		ctx := context.Background()
		var err error
		if trigger == TriggerTeardown {
			err = s.Transport.Beacon(ctx, token, a)
		} else {
			err = s.Transport.Save(ctx, token, a)
		}
		switch {
		case err == nil:
			s.record(trigger, "ok", a, nil)
		case errors.Is(err, ErrUnauthorized):
			s.record(trigger, "unauthorized", a, err)
			if cerr := s.Credentials.Clear(); cerr != nil {
				logger.Warn("clear credential: %v", cerr)
			}
			logger.Warn("%s sync rejected, credential cleared", trigger)
		default:
			s.record(trigger, "error", a, err)
			logger.Warn("%s sync for %s failed: %v", trigger, a.SessionKey, err)
		}
	}()
}

// SetCredential stores token and sends the snapshots held back while no
// credential was available.
func (s *Syncer) SetCredential(token string) error {
	if err := s.Credentials.SetToken(token); err != nil {
		return err
	}
	token = s.Credentials.Token()
	if token == "" {
		return nil
	}
	s.mu.Lock()
	held := make([]heldSnapshot, 0, len(s.order))
	for _, key := range s.order {
		held = append(held, s.pending[key])
	}
	s.pending, s.order = nil, nil
	s.mu.Unlock()
	if len(held) > 0 {
		logger.Info("credential set, sending %d held snapshots", len(held))
	}
	for _, h := range held {
		s.send(token, h.activity, h.trigger)
	}
	return nil
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (s *Syncer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Last returns the latest delivery attempt.
func (s *Syncer) Last() SyncResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Pending returns the snapshots held back for lack of a credential, the
// latest one per session, oldest session first.
func (s *Syncer) Pending() []domain.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Activity, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.pending[key].activity)
	}
	return out
}

// APITransport sends snapshots through the HTTP SDK.
type APITransport struct {
	BaseURL string
	Timeout time.Duration
}

func (t APITransport) client(token string) *taskflowsdk.Client {
	c := taskflowsdk.New(t.BaseURL)
	if t.Timeout > 0 {
		c.Timeout = t.Timeout
	}
	c.BearerToken = token
	return c
}

func (t APITransport) Save(ctx context.Context, token string, a domain.Activity) error {
	_, err := t.client(token).SaveActivity(ctx, ToWire(a))
	if taskflowsdk.IsUnauthorized(err) {
		return errors.Join(ErrUnauthorized, err)
	}
	return err
}

func (t APITransport) Beacon(ctx context.Context, token string, a domain.Activity) error {
	return t.client(token).Beacon(ctx, ToWire(a))
}

// ToWire converts an activity to the SDK request shape.
func ToWire(a domain.Activity) taskflowsdk.Activity {
	w := taskflowsdk.Activity{
		SessionKey:  a.SessionKey,
		Type:        string(a.Type),
		Title:       a.Title,
		Description: a.Description,
		URL:         a.URL,
		Domain:      a.Domain,
		Application: a.Application,
		TaskID:      a.TaskID,
		BoardID:     a.BoardID,
		Duration:    a.Duration,
		EndTime:     a.EndTime,
		IsActive:    a.IsActive,
		Metadata:    a.Metadata,
	}
	if !a.StartTime.IsZero() {
		start := a.StartTime
		w.StartTime = &start
	}
	if !a.Category.IsZero() {
		c := a.Category.String()
		w.Category = &c
	}
	return w
}
