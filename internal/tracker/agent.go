package tracker

import (
	"context"
	"errors"
	"time"

	"taskflow/internal/classify"
	"taskflow/internal/domain"
	"taskflow/internal/logger"
	taskflowsdk "taskflow/sdk/go"
)

// ErrStopped is returned by Do once the agent loop has exited.
var ErrStopped = errors.New("agent stopped")

const (
	DefaultPollInterval = 2 * time.Second
	idleCheckInterval   = time.Second
	shutdownGrace       = 3 * time.Second
)

// Agent runs the desktop tracking loop. It owns two emitters: Desktop
// follows the foreground application, Browser follows tab focus pushed over
// the bridge. Both share the idle detector and the syncer. All state is
// touched from the Run goroutine only; other goroutines go through Do.
type Agent struct {
	Desktop    *Emitter
	Browser    *Emitter
	Idle       *IdleDetector
	Syncer     *Syncer
	Windows    WindowSource
	IdleInput  IdleSource
	Classifier *classify.Classifier

	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Now               func() time.Time

	cmds       chan func()
	done       chan struct{}
	lastWindow Window
}

// NewAgent wires emitters and the idle detector around syncer.
func NewAgent(syncer *Syncer, idle *IdleDetector, windows WindowSource, idleInput IdleSource, now func() time.Time) *Agent {
	if now == nil {
		now = time.Now
	}
	a := &Agent{
		Desktop:           NewEmitter(syncer, now),
		Browser:           NewEmitter(syncer, now),
		Idle:              idle,
		Syncer:            syncer,
		Windows:           windows,
		IdleInput:         idleInput,
		PollInterval:      DefaultPollInterval,
		HeartbeatInterval: DefaultHeartbeat,
		Now:               now,
		cmds:              make(chan func()),
		done:              make(chan struct{}),
	}
	if idle != nil {
		idle.Observe(a)
	}
	a.Desktop.Observe(logLifecycle("desktop"))
	a.Browser.Observe(logLifecycle("browser"))
	return a
}

func logLifecycle(name string) func(LifecycleEvent) {
	return func(ev LifecycleEvent) {
		logger.Info("%s %s %s %s (%ds)", name, ev.Kind, ev.Target.Type, describe(ev.Target), ev.Duration)
	}
}

func describe(t Target) string {
	switch t.Type {
	case domain.ActivityApplication:
		return t.Application
	case domain.ActivityTask:
		return t.Title
	}
	return t.URL
}

// OnIdle implements IdleObserver.
func (a *Agent) OnIdle(at time.Time) {
	logger.Info("idle since %s, pausing", a.Idle.LastInput().Format(time.TimeOnly))
	a.Desktop.Suspend()
	a.Browser.Suspend()
}

// OnActive implements IdleObserver.
func (a *Agent) OnActive(at time.Time, idleFor time.Duration) {
	logger.Info("active again after %s, resuming", idleFor.Truncate(time.Second))
	a.Desktop.Resume()
	a.Browser.Resume()
}

// Do runs fn on the agent loop and waits for it.
func (a *Agent) Do(ctx context.Context, fn func(*Agent)) error {
	finished := make(chan struct{})
	select {
	case a.cmds <- func() { fn(a); close(finished) }:
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the loop until ctx is done, then closes open sessions through
// the teardown path and waits briefly for in-flight syncs.
func (a *Agent) Run(ctx context.Context) error {
	defer close(a.done)
	pollEvery := a.PollInterval
	if pollEvery <= 0 {
		pollEvery = DefaultPollInterval
	}
	hbEvery := a.HeartbeatInterval
	if hbEvery <= 0 {
		hbEvery = DefaultHeartbeat
	}
	poll := time.NewTicker(pollEvery)
	defer poll.Stop()
	idle := time.NewTicker(idleCheckInterval)
	defer idle.Stop()
	heartbeat := time.NewTicker(hbEvery)
	defer heartbeat.Stop()

	a.pollWindow(ctx)
	for {
		select {
		case <-ctx.Done():
			a.Desktop.Teardown()
			a.Browser.Teardown()
			waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := a.Syncer.Wait(waitCtx); err != nil {
				logger.Warn("teardown syncs still in flight: %v", err)
			}
			return nil
		case <-poll.C:
			a.pollWindow(ctx)
		case <-idle.C:
			a.checkIdle(ctx)
		case <-heartbeat.C:
			a.Desktop.Heartbeat()
			a.Browser.Heartbeat()
		case fn := <-a.cmds:
			fn()
		}
	}
}

func (a *Agent) pollWindow(ctx context.Context) {
	if a.Windows == nil {
		return
	}
	if a.Idle != nil && a.Idle.State() == StateIdle {
		return
	}
	w, err := a.Windows.Active(ctx)
	if err != nil {
		logger.Debug("active window: %v", err)
		return
	}
	if w.Application != "" && w.Application == a.lastWindow.Application && a.Desktop.Current() != nil {
		a.lastWindow = w
		return
	}
	a.lastWindow = w
	a.Desktop.Focus(Target{Type: domain.ActivityApplication, Application: w.Application, Title: w.Title})
}

func (a *Agent) checkIdle(ctx context.Context) {
	sampleIdle(ctx, a.Idle, a.IdleInput, a.Now())
}

// sampleIdle advances d from the OS idle counter when src is set, otherwise
// from the time since the last reported input.
func sampleIdle(ctx context.Context, d *IdleDetector, src IdleSource, now time.Time) {
	if d == nil {
		return
	}
	if src == nil {
		d.Tick(now)
		return
	}
	idleFor, err := src.Idle(ctx)
	if err != nil {
		logger.Debug("system idle: %v", err)
		d.Tick(now)
		return
	}
	d.ObserveSystemIdle(idleFor, now)
}

// SessionStatus describes one emitter's open session.
type SessionStatus struct {
	Type           domain.ActivityType `json:"type"`
	Title          string              `json:"title,omitempty"`
	Domain         string              `json:"domain,omitempty"`
	Application    string              `json:"application,omitempty"`
	TaskID         string              `json:"taskId,omitempty"`
	Elapsed        int64               `json:"elapsed"`
	Suspended      bool                `json:"suspended"`
	Classification domain.Tag          `json:"classification"`
}

type Status struct {
	Desktop       *SessionStatus `json:"desktop"`
	Browser       *SessionStatus `json:"browser"`
	Idle          string         `json:"idle"`
	IdleSeconds   int64          `json:"idleSeconds"`
	IdleTimeout   string         `json:"idleTimeout"`
	Authenticated bool           `json:"authenticated"`
	LastSync      SyncResult     `json:"lastSync"`
}

// Status snapshots the agent. Call it on the loop, e.g. through Do.
func (a *Agent) Status() Status {
	now := a.Now()
	st := Status{
		Desktop:       a.sessionStatus(a.Desktop, now),
		Browser:       a.sessionStatus(a.Browser, now),
		Authenticated: a.Syncer.Credentials.Token() != "",
		LastSync:      a.Syncer.Last(),
	}
	if a.Idle != nil {
		st.Idle = a.Idle.State().String()
		st.IdleSeconds = int64(a.Idle.IdleDuration(now) / time.Second)
		st.IdleTimeout = a.Idle.Timeout().String()
	}
	return st
}

func (a *Agent) sessionStatus(e *Emitter, now time.Time) *SessionStatus {
	s := e.Current()
	if s == nil {
		return nil
	}
	return &SessionStatus{
		Type:           s.Target.Type,
		Title:          s.Target.Title,
		Domain:         s.Domain,
		Application:    s.Target.Application,
		TaskID:         s.Target.TaskID,
		Elapsed:        int64(s.Elapsed(now) / time.Second),
		Suspended:      s.Suspended(),
		Classification: a.classify(s),
	}
}

// classify shows the live category the backend is expected to assign.
func (a *Agent) classify(s *Session) domain.Tag {
	ref := s.Target.Category
	if ref.IsZero() && a.Classifier != nil {
		if c, ok := a.Classifier.Match(s.Domain, s.Target.Application); ok {
			ref = domain.CategoryReference(c.ID)
		}
	}
	return a.Classifier.Resolve(ref)
}

// CategoriesFromWire converts API categories for a local Classifier.
func CategoriesFromWire(items []taskflowsdk.Category) []domain.Category {
	out := make([]domain.Category, 0, len(items))
	for i, c := range items {
		tag, ok := domain.ParseTag(c.Type)
		if !ok {
			tag = domain.TagNeutral
		}
		pos := i
		if c.Position != nil {
			pos = *c.Position
		}
		out = append(out, domain.Category{
			ID:           c.ID,
			Name:         c.Name,
			Color:        c.Color,
			Type:         tag,
			Domains:      c.Domains,
			Applications: c.Applications,
			Position:     pos,
		})
	}
	return out
}
