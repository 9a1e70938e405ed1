package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"chat-relay/internal/domain"

	"gopkg.in/gomail.v2"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier mails every event to the operator inbox list.
type EmailNotifier struct {
	sender mailSender
	from   string
	to     []string
}

func NewEmailNotifier(host string, port int, username, password, from, senderName string, to []string) *EmailNotifier {
	d := gomail.NewDialer(host, port, username, password)
	if senderName != "" {
		from = fmt.Sprintf("%s <%s>", senderName, from)
	}
	return &EmailNotifier{sender: d, from: from, to: to}
}

func (n *EmailNotifier) Name() string { return "email" }

func (n *EmailNotifier) Notify(ctx context.Context, event domain.NotificationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.to...)
	m.SetHeader("Subject", subject(event))

	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<h2>New chat message</h2>
			<p><strong>From:</strong> %s</p>
			<p style="white-space: pre-wrap;">%s</p>
			<p style="color: #888;">Session %s, %s</p>
		</div>
	`, html.EscapeString(describeUser(event.User)),
		html.EscapeString(event.Text),
		html.EscapeString(event.SessionID),
		event.CreatedAt.Format(domain.TimestampLayout))

	m.SetBody("text/plain", PlainText(event))
	m.AddAlternative("text/html", strings.TrimSpace(body))

	return n.sender.DialAndSend(m)
}
