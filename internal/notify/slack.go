package notify

import (
	"context"

	"chat-relay/internal/domain"

	"github.com/slack-go/slack"
)

// SlackNotifier posts events to an incoming webhook.
type SlackNotifier struct {
	webhookURL string
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL}
}

func (n *SlackNotifier) Name() string { return "slack" }

func (n *SlackNotifier) Notify(ctx context.Context, event domain.NotificationEvent) error {
	return slack.PostWebhookContext(ctx, n.webhookURL, &slack.WebhookMessage{
		Text: PlainText(event),
	})
}
