package events

import (
	"context"
	"sync"
)

const defaultBuffer = 16

// Hub is an in-process per-user fan-out. Publishing never blocks: a
// subscriber whose buffer is full misses the message.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	buffer int
	// Dropped counts messages skipped for slow subscribers.
	Dropped func()
}

type subscription struct {
	ch chan Message
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[*subscription]struct{}{}, buffer: defaultBuffer}
}

// Subscribe registers a channel for userID. The returned func unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(userID string) (<-chan Message, func()) {
	sub := &subscription{ch: make(chan Message, h.buffer)}
	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = map[*subscription]struct{}{}
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[userID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, userID)
				}
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

func (h *Hub) Publish(_ context.Context, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[msg.UserID] {
		select {
		case sub.ch <- msg:
		default:
			if h.Dropped != nil {
				h.Dropped()
			}
		}
	}
	return nil
}

// Subscribers returns the number of open subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
