package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversPerUser(t *testing.T) {
	h := NewHub()
	alice, stopAlice := h.Subscribe("alice")
	bob, stopBob := h.Subscribe("bob")
	defer stopBob()

	require.NoError(t, h.Publish(context.Background(), Message{Event: ActivityUpdate, UserID: "alice", Data: "x"}))

	select {
	case msg := <-alice:
		require.Equal(t, ActivityUpdate, msg.Event)
	case <-time.After(time.Second):
		t.Fatal("alice did not receive the message")
	}
	select {
	case msg := <-bob:
		t.Fatalf("bob received %v", msg)
	default:
	}

	stopAlice()
	stopAlice()
	_, open := <-alice
	require.False(t, open)
	require.Equal(t, 0, h.Subscribers("alice"))
	require.Equal(t, 1, h.Subscribers("bob"))
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	dropped := 0
	h.Dropped = func() { dropped++ }
	_, stop := h.Subscribe("u")
	defer stop()

	for i := 0; i < defaultBuffer+3; i++ {
		require.NoError(t, h.Publish(context.Background(), Message{UserID: "u"}))
	}
	require.Equal(t, 3, dropped)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherKeysByUser(t *testing.T) {
	fw := &fakeWriter{}
	p := NewKafkaPublisher([]string{"localhost:9092"}, "taskflow.activity")
	p.writer = fw

	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, p.Publish(context.Background(), Message{Event: ActivityUpdate, UserID: "u1", Data: map[string]any{"id": "a1"}, TS: ts}))
	require.Len(t, fw.msgs, 1)
	require.Equal(t, "u1", string(fw.msgs[0].Key))
	require.Equal(t, ts, fw.msgs[0].Time)

	var decoded Message
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &decoded))
	require.Equal(t, ActivityUpdate, decoded.Event)

	require.NoError(t, p.Close())
	require.True(t, fw.closed)
}

func TestMultiJoinsErrors(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisher(nil, "t")
	p.writer = fw
	h := NewHub()
	ch, stop := h.Subscribe("u")
	defer stop()

	err := Multi{h, p, nil}.Publish(context.Background(), Message{UserID: "u"})
	require.ErrorContains(t, err, "broker down")
	require.Len(t, ch, 1)
}
