package events

import (
	"context"
	"errors"
	"time"
)

const ActivityUpdate = "activityUpdate"

// Message is a realtime notification addressed to one user's channel.
type Message struct {
	Event  string    `json:"event"`
	UserID string    `json:"userId"`
	Data   any       `json:"data"`
	TS     time.Time `json:"ts"`
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Multi fans a message out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
