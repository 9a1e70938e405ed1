package delivery

import (
	"errors"

	"chat-relay/internal/chat"
	"chat-relay/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// errorResponse maps chat and domain errors onto HTTP status codes.
func (s *Server) errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	body := fiber.Map{"success": false, "error": err.Error()}

	var notOwner *chat.NotOwnerError
	var invalid validator.ValidationErrors
	switch {
	case errors.Is(err, chat.ErrUnavailable), errors.Is(err, chat.ErrActorStopped):
		status = fiber.StatusServiceUnavailable
		body["error"] = chat.ErrUnavailable.Error()
	case errors.As(err, &notOwner):
		status = fiber.StatusMisdirectedRequest
		body["owner"] = notOwner.Owner
	case errors.Is(err, chat.ErrInvalidSessionID),
		errors.Is(err, domain.ErrMissingText),
		errors.Is(err, domain.ErrTextTooLong),
		errors.As(err, &invalid):
		status = fiber.StatusBadRequest
	case errors.Is(err, chat.ErrPersist):
		body["error"] = "failed to send message"
	}

	if status >= fiber.StatusInternalServerError {
		s.log.Error(module, "Request failed", map[string]interface{}{
			"path":  c.Path(),
			"error": err,
		})
	}
	return c.Status(status).JSON(body)
}
