package notify

import (
	"context"
	"errors"
	"fmt"

	"chat-relay/internal/chat"
	"chat-relay/internal/domain"
	"chat-relay/internal/pkg/logger"
)

const module = "Notify"

// Channel is one operator-facing destination (email, Telegram, Slack).
type Channel interface {
	Name() string
	Notify(ctx context.Context, event domain.NotificationEvent) error
}

// Dispatcher fans one event out to every configured channel. A failing channel
// does not stop the others.
type Dispatcher struct {
	channels []Channel
	log      logger.ILogger
}

var _ chat.Notifier = (*Dispatcher)(nil)

func NewDispatcher(log logger.ILogger, channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, log: log}
}

func (d *Dispatcher) Channels() int { return len(d.channels) }

func (d *Dispatcher) Notify(ctx context.Context, event domain.NotificationEvent) error {
	var errs []error
	for _, ch := range d.channels {
		if err := ch.Notify(ctx, event); err != nil {
			d.log.Warn(module, "Channel failed", map[string]interface{}{
				"channel":    ch.Name(),
				"session_id": event.SessionID,
				"error":      err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		d.log.Debug(module, "Notification sent", map[string]interface{}{
			"channel":    ch.Name(),
			"session_id": event.SessionID,
		})
	}
	return errors.Join(errs...)
}
