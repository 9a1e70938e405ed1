package notify

import (
	"context"
	"strings"

	"chat-relay/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts events into the operators' Telegram chat.
type TelegramNotifier struct {
	bot    telegramSender
	chatID int64
}

func NewTelegramNotifier(bot telegramSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID}
}

func (n *TelegramNotifier) Name() string { return "telegram" }

func (n *TelegramNotifier) Notify(ctx context.Context, event domain.NotificationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, PlainText(event))
	msg.DisableWebPagePreview = true
	_, err := n.bot.Send(msg)
	return err
}

// OperatorReply is a manager answer typed in Telegram as a reply to a notification.
type OperatorReply struct {
	SessionID string
	Text      string
	Operator  string
}

// ParseOperatorReply accepts only replies, posted in the operators' chat, to a
// message that carries a session marker.
func ParseOperatorReply(update tgbotapi.Update, chatID int64) (OperatorReply, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID != chatID || msg.ReplyToMessage == nil {
		return OperatorReply{}, false
	}
	sessionID, ok := ExtractSessionID(msg.ReplyToMessage.Text)
	if !ok {
		return OperatorReply{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return OperatorReply{}, false
	}
	reply := OperatorReply{SessionID: sessionID, Text: text}
	if msg.From != nil {
		reply.Operator = msg.From.UserName
	}
	return reply, true
}
