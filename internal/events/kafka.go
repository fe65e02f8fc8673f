package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes realtime messages to a topic keyed by user ID. The
// writer is created on first use.
type KafkaPublisher struct {
	brokers []string
	topic   string
	timeout time.Duration

	mu     sync.Mutex
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{brokers: brokers, topic: topic, timeout: 5 * time.Second}
}

func (p *KafkaPublisher) writerFor() messageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		return p.writer
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        p.topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
		Async:        false,
	}
	return p.writer
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Event, err)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	record := kafka.Message{
		Key:   []byte(msg.UserID),
		Value: value,
		Time:  msg.TS.UTC(),
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(msg.Event)},
		},
	}
	if err := p.writerFor().WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("kafka %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	return err
}
