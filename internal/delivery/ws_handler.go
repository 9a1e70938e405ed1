package delivery

import (
	"context"
	"errors"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const localsSessionID = "sessionId"

// wsConn adapts a fiber websocket to chat.Conn.
type wsConn struct {
	*websocket.Conn
}

func (c wsConn) Ping(deadline time.Time) error {
	return c.WriteControl(websocket.PingMessage, nil, deadline)
}

// upgradeMiddleware resolves the session before the upgrade so that an unavailable
// router or a foreign owner is reported as a plain HTTP error.
func (s *Server) upgradeMiddleware(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	sessionID := c.Query("sessionId")
	if sessionID == "" {
		sessionID = chat.NewSessionID()
	}
	if _, err := s.registry.Get(c.UserContext(), sessionID); err != nil {
		return s.errorResponse(c, err)
	}

	c.Locals(localsSessionID, sessionID)
	return c.Next()
}

func (s *Server) handleWebSocket(c *websocket.Conn) {
	defer c.Close()

	sessionID, _ := c.Locals(localsSessionID).(string)
	c.SetReadLimit(s.config.WSReadLimit)
	ctx := context.Background()

	var actor *chat.Actor
	var connID string
	err := s.registry.Do(ctx, sessionID, func(a *chat.Actor) error {
		id, err := a.Attach(ctx, wsConn{c})
		if err != nil {
			return err
		}
		actor, connID = a, id
		return nil
	})
	if err != nil {
		s.log.Warn(module, "WebSocket attach failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		if errors.Is(err, chat.ErrUnavailable) || errors.Is(err, chat.ErrActorStopped) {
			_ = c.WriteJSON(domain.OutboundFrame{
				Type:      domain.FrameError,
				SessionID: sessionID,
				Data:      domain.ErrorPayload{Code: domain.CodeSendFailed, Error: chat.ErrUnavailable.Error()},
			})
		}
		return
	}
	defer actor.Detach(connID)

	for {
		mt, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug(module, "WebSocket read error", map[string]interface{}{
					"session_id":    sessionID,
					"connection_id": connID,
					"error":         err.Error(),
				})
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if err := actor.Deliver(ctx, connID, raw); err != nil {
			// Actor retired underneath us; the client reconnects.
			return
		}
	}
}
