package tracker

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/classify"
	"taskflow/internal/domain"
)

// Trigger names the reason an activity snapshot is handed to the Sink.
type Trigger string

const (
	TriggerHeartbeat  Trigger = "heartbeat"
	TriggerIdle       Trigger = "idle"
	TriggerVisibility Trigger = "visibility"
	TriggerTeardown   Trigger = "teardown"
	TriggerFocus      Trigger = "focus"
)

// Terminal reports whether the trigger closes the logical activity.
func (t Trigger) Terminal() bool {
	return t == TriggerFocus || t == TriggerTeardown
}

// Sink receives activity snapshots. Deliver must not block the caller.
type Sink interface {
	Deliver(a domain.Activity, trigger Trigger)
}

var internalPrefixes = []string{"chrome://", "chrome-extension://", "about:", "edge://"}

// Target is a focus candidate: a browser tab, a native application or a task.
type Target struct {
	Type        domain.ActivityType
	Title       string
	Description string
	URL         string
	Application string
	TaskID      string
	BoardID     string
	Category    domain.CategoryRef
	Metadata    domain.Metadata
}

// normalize validates t and fills Domain for web targets. The bool is false
// when t carries nothing worth tracking.
func (t Target) normalize() (Target, string, bool) {
	switch t.Type {
	case domain.ActivityWebsite, domain.ActivityTab:
		raw := strings.TrimSpace(t.URL)
		if raw == "" {
			return t, "", false
		}
		lower := strings.ToLower(raw)
		for _, p := range internalPrefixes {
			if strings.HasPrefix(lower, p) {
				return t, "", false
			}
		}
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return t, "", false
		}
		return t, classify.NormalizeDomain(u.Hostname()), true
	case domain.ActivityApplication:
		t.Application = strings.TrimSpace(t.Application)
		return t, "", t.Application != ""
	case domain.ActivityTask:
		t.TaskID = strings.TrimSpace(t.TaskID)
		return t, "", t.TaskID != ""
	}
	return t, "", false
}

// Same reports whether o points at the same focus target as t.
func (t Target) Same(o Target) bool {
	if t.Type != o.Type {
		return false
	}
	switch t.Type {
	case domain.ActivityApplication:
		return t.Application == o.Application
	case domain.ActivityTask:
		return t.TaskID == o.TaskID
	}
	return t.URL == o.URL
}

// Session is the one open activity of an emitter.
type Session struct {
	Key       string
	Target    Target
	Domain    string
	StartTime time.Time
	Metadata  domain.Metadata

	effectiveStart time.Time
	elapsedActive  time.Duration
	suspended      bool
}

// Elapsed returns the active time accumulated so far, excluding suspensions.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.suspended {
		return s.elapsedActive
	}
	d := now.Sub(s.effectiveStart)
	if d < 0 {
		return 0
	}
	return d
}

func (s *Session) Suspended() bool { return s.suspended }

// Snapshot renders the session as an activity record as of now.
func (s *Session) Snapshot(now time.Time, active bool) domain.Activity {
	end := now
	a := domain.Activity{
		SessionKey:  s.Key,
		Type:        s.Target.Type,
		Title:       s.Target.Title,
		Description: s.Target.Description,
		URL:         s.Target.URL,
		Domain:      s.Domain,
		Application: s.Target.Application,
		TaskID:      s.Target.TaskID,
		BoardID:     s.Target.BoardID,
		Category:    s.Target.Category,
		Duration:    int64(s.Elapsed(now) / time.Second),
		StartTime:   s.StartTime,
		EndTime:     &end,
		IsActive:    active,
		Metadata:    domain.Metadata{}.Merge(s.Metadata),
	}
	return a
}

// LifecycleEvent is sent to observers when a session starts or ends.
type LifecycleEvent struct {
	Kind     string
	Target   Target
	Key      string
	Duration int64
	At       time.Time
}

const (
	LifecycleStart = "start"
	LifecycleEnd   = "end"
)

// Emitter owns the current session of one tracking context. It is driven
// from a single goroutine and does no I/O; snapshots go to the Sink.
type Emitter struct {
	Sink      Sink
	Now       func() time.Time
	NewKey    func() string
	current   *Session
	observers []func(LifecycleEvent)
}

func NewEmitter(sink Sink, now func() time.Time) *Emitter {
	if now == nil {
		now = time.Now
	}
	return &Emitter{Sink: sink, Now: now, NewKey: uuid.NewString}
}

// Observe registers fn for start and end notifications.
func (e *Emitter) Observe(fn func(LifecycleEvent)) {
	e.observers = append(e.observers, fn)
}

func (e *Emitter) Current() *Session { return e.current }

func (e *Emitter) notify(ev LifecycleEvent) {
	for _, fn := range e.observers {
		fn(ev)
	}
}

func (e *Emitter) deliver(a domain.Activity, trigger Trigger) {
	if e.Sink != nil {
		e.Sink.Deliver(a, trigger)
	}
}

// Focus closes the open session and opens one for t. A target with nothing
// to track only closes. It reports whether a new session was opened.
func (e *Emitter) Focus(t Target) bool {
	e.closeCurrent(TriggerFocus)
	t, host, ok := t.normalize()
	if !ok {
		return false
	}
	now := e.Now()
	s := &Session{
		Key:            e.NewKey(),
		Target:         t,
		Domain:         host,
		StartTime:      now,
		Metadata:       domain.Metadata{}.Merge(t.Metadata),
		effectiveStart: now,
	}
	if t.Type == domain.ActivityWebsite || t.Type == domain.ActivityTab {
		s.Metadata = s.Metadata.Merge(domain.Metadata{
			"tabSwitches": 0,
			"scrollDepth": 0,
			"keystrokes":  0,
			"clicks":      0,
		})
	}
	e.current = s
	e.notify(LifecycleEvent{Kind: LifecycleStart, Target: t, Key: s.Key, At: now})
	return true
}

// Close ends the open session with the focus trigger.
func (e *Emitter) Close() {
	e.closeCurrent(TriggerFocus)
}

// Teardown ends the open session through the teardown path.
func (e *Emitter) Teardown() {
	e.closeCurrent(TriggerTeardown)
}

func (e *Emitter) closeCurrent(trigger Trigger) {
	s := e.current
	if s == nil {
		return
	}
	now := e.Now()
	a := s.Snapshot(now, false)
	e.current = nil
	e.deliver(a, trigger)
	e.notify(LifecycleEvent{Kind: LifecycleEnd, Target: s.Target, Key: s.Key, Duration: a.Duration, At: now})
}

// Suspend freezes the session's active time and flushes the partial
// duration. The session stays open for Resume.
func (e *Emitter) Suspend() {
	s := e.current
	if s == nil || s.suspended {
		return
	}
	now := e.Now()
	s.elapsedActive = s.Elapsed(now)
	s.suspended = true
	s.Metadata = s.Metadata.Merge(domain.Metadata{"idle": true})
	e.deliver(s.Snapshot(now, false), TriggerIdle)
}

// Resume continues a suspended session so that the suspended interval is
// excluded from its duration.
func (e *Emitter) Resume() {
	s := e.current
	if s == nil || !s.suspended {
		return
	}
	now := e.Now()
	s.effectiveStart = now.Add(-s.elapsedActive)
	s.suspended = false
	s.Metadata = s.Metadata.Merge(domain.Metadata{"idle": false})
}

// Heartbeat sends the in-flight snapshot unless the session is suspended.
func (e *Emitter) Heartbeat() {
	e.flush(TriggerHeartbeat)
}

// Hidden flushes the open session when its context loses visibility.
func (e *Emitter) Hidden() {
	e.flush(TriggerVisibility)
}

func (e *Emitter) flush(trigger Trigger) {
	s := e.current
	if s == nil || s.suspended {
		return
	}
	e.deliver(s.Snapshot(e.Now(), true), trigger)
}

// MergeMetadata folds interaction counters into the open session.
func (e *Emitter) MergeMetadata(m domain.Metadata) {
	if e.current == nil || len(m) == 0 {
		return
	}
	e.current.Metadata = e.current.Metadata.Merge(m)
}

// LinkTask tags the open session with the task being worked on.
func (e *Emitter) LinkTask(taskID, title string) {
	e.MergeMetadata(domain.Metadata{
		"taskId":            taskID,
		"taskTitle":         title,
		"isUnifiedTracking": true,
	})
}

// UnlinkTask removes the task tags from the open session.
func (e *Emitter) UnlinkTask() {
	if e.current == nil {
		return
	}
	delete(e.current.Metadata, "taskId")
	delete(e.current.Metadata, "taskTitle")
	e.current.Metadata["isUnifiedTracking"] = false
}
