package delivery

import (
	"chat-relay/internal/chat"
	"chat-relay/internal/domain"
	"chat-relay/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// handleTelegramWebhook turns operator replies in the Telegram group into manager
// messages on the referenced session. Updates that are not such replies are
// acknowledged and dropped so Telegram stops redelivering them.
func (s *Server) handleTelegramWebhook(c *fiber.Ctx) error {
	tg := s.config.Telegram
	if !tg.Enabled() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "telegram integration disabled",
		})
	}
	if tg.WebhookSecret != "" && c.Get(telegramSecretHeader) != tg.WebhookSecret {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "invalid webhook secret",
		})
	}

	var update tgbotapi.Update
	if err := c.BodyParser(&update); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid update",
		})
	}

	reply, ok := notify.ParseOperatorReply(update, tg.ChatID)
	if !ok {
		return c.JSON(fiber.Map{"success": true, "ignored": true})
	}

	var msg domain.Message
	err := s.registry.Do(c.UserContext(), reply.SessionID, func(a *chat.Actor) error {
		var err error
		msg, err = a.Post(c.UserContext(), reply.Text, domain.SenderManager)
		return err
	})
	if err != nil {
		return s.errorResponse(c, err)
	}

	s.log.Info(module, "Operator reply relayed", map[string]interface{}{
		"session_id": reply.SessionID,
		"message_id": msg.ID,
		"operator":   reply.Operator,
	})
	return c.JSON(fiber.Map{"success": true, "message": msg})
}
