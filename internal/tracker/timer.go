package tracker

import (
	"context"
	"time"

	"taskflow/internal/domain"
)

// TaskInfo identifies the card a task timer runs for.
type TaskInfo struct {
	TaskID    string `json:"taskId"`
	BoardID   string `json:"boardId,omitempty"`
	ListID    string `json:"listId,omitempty"`
	BoardName string `json:"boardName,omitempty"`
	Title     string `json:"title"`
}

// TaskTimer tracks time spent on one task at a time as productive work.
type TaskTimer struct {
	Heartbeat time.Duration
	emitter   *Emitter
	idle      *IdleDetector
	idleInput IdleSource
}

func NewTaskTimer(sink Sink, now func() time.Time) *TaskTimer {
	return &TaskTimer{Heartbeat: DefaultHeartbeat, emitter: NewEmitter(sink, now)}
}

// Emitter exposes the underlying emitter for lifecycle observers.
func (t *TaskTimer) Emitter() *Emitter { return t.emitter }

// WatchIdle pauses the running timer while d reports the user idle. src,
// when set, supplies the OS idle counter sampled by Run.
func (t *TaskTimer) WatchIdle(d *IdleDetector, src IdleSource) {
	t.idle = d
	t.idleInput = src
	if d != nil {
		d.Observe(t)
	}
}

// OnIdle freezes the running timer at its current active time.
func (t *TaskTimer) OnIdle(at time.Time) {
	t.emitter.Suspend()
}

func (t *TaskTimer) OnActive(at time.Time, idleFor time.Duration) {
	t.emitter.Resume()
}

// Start stops any running timer and starts one for info.
func (t *TaskTimer) Start(info TaskInfo) bool {
	return t.emitter.Focus(Target{
		Type:        domain.ActivityTask,
		Title:       info.Title,
		Description: "Working on: " + info.Title,
		TaskID:      info.TaskID,
		BoardID:     info.BoardID,
		Category:    domain.LiteralCategory(domain.TagProductive),
		Metadata: domain.Metadata{
			"listId":    info.ListID,
			"boardName": info.BoardName,
			"cardTitle": info.Title,
		},
	})
}

// Stop sends the final record of the running timer.
func (t *TaskTimer) Stop() {
	t.emitter.Close()
}

func (t *TaskTimer) Running() bool { return t.emitter.Current() != nil }

// Elapsed returns the running timer's active time.
func (t *TaskTimer) Elapsed() time.Duration {
	s := t.emitter.Current()
	if s == nil {
		return 0
	}
	return s.Elapsed(t.emitter.Now())
}

// Hidden flushes the running timer when its window is backgrounded.
func (t *TaskTimer) Hidden() {
	t.emitter.Hidden()
}

// Run heartbeats until ctx is done, then sends the final record through the
// teardown path.
func (t *TaskTimer) Run(ctx context.Context) error {
	every := t.Heartbeat
	if every <= 0 {
		every = DefaultHeartbeat
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	var idleC <-chan time.Time
	if t.idle != nil {
		idle := time.NewTicker(idleCheckInterval)
		defer idle.Stop()
		idleC = idle.C
	}
	for {
		select {
		case <-ctx.Done():
			t.emitter.Teardown()
			return nil
		case <-ticker.C:
			t.emitter.Heartbeat()
		case <-idleC:
			sampleIdle(ctx, t.idle, t.idleInput, t.emitter.Now())
		}
	}
}
