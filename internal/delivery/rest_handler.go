package delivery

import (
	"strconv"

	"chat-relay/internal/chat"
	"chat-relay/internal/domain"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")

	var info chat.SessionInfo
	err := s.registry.Do(c.UserContext(), sessionID, func(a *chat.Actor) error {
		var err error
		info, err = a.Info(c.UserContext())
		return err
	})
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"success":          true,
		"session":          info.Session,
		"connectedClients": info.ConnectedClients,
	})
}

func (s *Server) handleGetMessages(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")
	q := historyQuery(c)

	var msgs []domain.Message
	err := s.registry.Do(c.UserContext(), sessionID, func(a *chat.Actor) error {
		var err error
		msgs, err = a.History(c.UserContext(), q)
		return err
	})
	if err != nil {
		return s.errorResponse(c, err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"messages":  msgs,
		"sessionId": sessionID,
	})
}

// historyQuery reads limit, offset and order. Bad values fall back to defaults.
func historyQuery(c *fiber.Ctx) chat.ListQuery {
	q := chat.ListQuery{Limit: defaultHistoryLimit}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil {
		q.Limit = v
	}
	if q.Limit < 1 {
		q.Limit = 1
	}
	if q.Limit > maxHistoryLimit {
		q.Limit = maxHistoryLimit
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		q.Offset = v
	}
	q.NewestFirst = c.Query("order") == "desc"
	return q
}

func (s *Server) handlePostMessage(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")

	var req domain.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	var msg domain.Message
	err := s.registry.Do(c.UserContext(), sessionID, func(a *chat.Actor) error {
		var err error
		msg, err = a.Post(c.UserContext(), req.Text, domain.ParseSenderType(req.SenderType))
		return err
	})
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": msg,
	})
}

func (s *Server) handlePutUser(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")

	var user domain.UserInfo
	if err := c.BodyParser(&user); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	var session *domain.Session
	err := s.registry.Do(c.UserContext(), sessionID, func(a *chat.Actor) error {
		var err error
		session, err = a.Identify(c.UserContext(), user)
		return err
	})
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"session": session,
	})
}
