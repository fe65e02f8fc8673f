package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskflow/internal/domain"
)

func TestTaskTimerRecordsProductiveWork(t *testing.T) {
	clock := newClock()
	sink := &recordingSink{}
	timer := NewTaskTimer(sink, clock.Now)

	require.True(t, timer.Start(TaskInfo{TaskID: "card-1", BoardID: "b-1", ListID: "l-1", BoardName: "Sprint", Title: "Fix login"}))
	require.True(t, timer.Running())
	clock.Advance(25 * time.Minute)
	require.Equal(t, 25*time.Minute, timer.Elapsed())

	require.True(t, timer.Start(TaskInfo{TaskID: "card-2", Title: "Review PR"}))
	sent := sink.All()
	require.Len(t, sent, 1)
	first := sent[0].Activity
	require.Equal(t, domain.ActivityTask, first.Type)
	require.Equal(t, "Working on: Fix login", first.Description)
	require.Equal(t, domain.LiteralCategory(domain.TagProductive), first.Category)
	require.Equal(t, "card-1", first.TaskID)
	require.Equal(t, "b-1", first.BoardID)
	require.Equal(t, "Sprint", first.Metadata["boardName"])
	require.Equal(t, int64(1500), first.Duration)

	clock.Advance(10 * time.Second)
	timer.Stop()
	require.False(t, timer.Running())
	require.Zero(t, timer.Elapsed())
	sent = sink.All()
	require.Len(t, sent, 2)
	require.Equal(t, "card-2", sent[1].Activity.TaskID)
	require.Equal(t, int64(10), sent[1].Activity.Duration)
}

func TestTaskTimerRequiresTaskID(t *testing.T) {
	timer := NewTaskTimer(&recordingSink{}, newClock().Now)
	require.False(t, timer.Start(TaskInfo{Title: "no id"}))
	require.False(t, timer.Running())
}

func TestTaskTimerRunTearsDown(t *testing.T) {
	clock := newClock()
	sink := &recordingSink{}
	timer := NewTaskTimer(sink, clock.Now)
	timer.Start(TaskInfo{TaskID: "card-1", Title: "Deploy"})
	clock.Advance(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, timer.Run(ctx))

	sent := sink.All()
	require.Len(t, sent, 1)
	require.Equal(t, TriggerTeardown, sent[0].Trigger)
	require.False(t, timer.Running())
}

func TestTaskTimerPausesWhileIdle(t *testing.T) {
	clock := newClock()
	sink := &recordingSink{}
	timer := NewTaskTimer(sink, clock.Now)
	idle := NewIdleDetector(30*time.Second, nil, clock.Now())
	timer.WatchIdle(idle, nil)
	timer.Start(TaskInfo{TaskID: "card-1", Title: "Write docs"})

	clock.Advance(40 * time.Second)
	idle.ObserveSystemIdle(30*time.Second, clock.Now())
	require.Equal(t, StateIdle, idle.State())
	sent := sink.All()
	require.Len(t, sent, 1)
	require.Equal(t, TriggerIdle, sent[0].Trigger)
	require.Equal(t, int64(40), sent[0].Activity.Duration)
	require.False(t, sent[0].Activity.IsActive)

	clock.Advance(120 * time.Second)
	require.Equal(t, 40*time.Second, timer.Elapsed())
	idle.Input(InputKey, clock.Now())

	clock.Advance(20 * time.Second)
	timer.Stop()
	sent = sink.All()
	require.Len(t, sent, 2)
	require.Equal(t, int64(60), sent[1].Activity.Duration)
	require.Equal(t, false, sent[1].Activity.Metadata["idle"])
}
