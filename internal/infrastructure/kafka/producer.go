package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"chat-relay/internal/chat"
	"chat-relay/internal/domain"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NotificationProducer enqueues notification events for the notify worker.
type NotificationProducer struct {
	writer messageWriter
	topic  string
}

var _ chat.Notifier = (*NotificationProducer)(nil)

func NewNotificationProducer(brokers []string, topic string) *NotificationProducer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		// Optimize for low latency
		BatchSize:    1,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &NotificationProducer{writer: writer, topic: topic}
}

// Notify keys by session id so one session's events stay on one partition.
func (p *NotificationProducer) Notify(ctx context.Context, event domain.NotificationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.SessionID),
		Value: data,
	}); err != nil {
		return fmt.Errorf("enqueue notification on %s: %w", p.topic, err)
	}
	return nil
}

func (p *NotificationProducer) Close() error {
	return p.writer.Close()
}
