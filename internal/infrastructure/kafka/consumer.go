package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/domain"
	"chat-relay/internal/pkg/logger"

	"github.com/segmentio/kafka-go"
)

const module = "NotifyConsumer"

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NotificationConsumer drains the notification topic into a notifier. Delivery
// is at most once: a message is committed whether or not its dispatch worked.
type NotificationConsumer struct {
	reader   messageReader
	notifier chat.Notifier
	timeout  time.Duration
	log      logger.ILogger
}

func NewNotificationConsumer(brokers []string, groupID, topic string, notifier chat.Notifier, timeout time.Duration, log logger.ILogger) *NotificationConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafka.LastOffset,
		MaxWait:        500 * time.Millisecond,
	})
	return &NotificationConsumer{reader: reader, notifier: notifier, timeout: timeout, log: log}
}

// Run blocks until ctx is cancelled.
func (c *NotificationConsumer) Run(ctx context.Context) error {
	c.log.Info(module, "Notification consumer started", nil)
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.log.Info(module, "Notification consumer stopping", nil)
				return nil
			}
			c.log.Warn(module, "Error reading Kafka message", map[string]interface{}{"error": err.Error()})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		c.handleMessage(ctx, m)

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn(module, "Commit failed", map[string]interface{}{
				"offset": m.Offset,
				"error":  err.Error(),
			})
		}
	}
}

func (c *NotificationConsumer) handleMessage(ctx context.Context, m kafka.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error(module, "Recovered from panic in handleMessage", map[string]interface{}{"panic": r})
		}
	}()

	var event domain.NotificationEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.log.Warn(module, "Error unmarshaling notification event", map[string]interface{}{
			"offset": m.Offset,
			"error":  err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.notifier.Notify(ctx, event); err != nil {
		c.log.Warn(module, "Notification dispatch failed", map[string]interface{}{
			"session_id": event.SessionID,
			"message_id": event.MessageID,
			"error":      err.Error(),
		})
	}
}

func (c *NotificationConsumer) Close() error {
	return c.reader.Close()
}
