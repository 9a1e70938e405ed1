package delivery

import (
	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const module = "Server"

type Server struct {
	config   *config.Config
	registry *chat.Registry
	log      logger.ILogger
	app      *fiber.App
}

// NewServer wires every route. A nil registry keeps the site up while all chat
// endpoints answer 503.
func NewServer(cfg *config.Config, registry *chat.Registry, log logger.ILogger) *Server {
	s := &Server{
		config:   cfg,
		registry: registry,
		log:      log,
	}
	s.app = s.routes()
	return s
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) routes() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Chat Relay (WebSocket + REST)",
		DisableStartupMessage: !s.config.IsDevelopment(),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
	}))

	corsConfig := cors.Config{
		AllowMethods:     "GET,POST,PUT,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With",
		AllowCredentials: s.config.AllowCredentials,
		MaxAge:           86400, // 24 hours
	}
	if s.config.IsProduction() {
		corsConfig.AllowOrigins = s.config.GetCORSOrigins()
	} else {
		corsConfig.AllowOrigins = "*"
	}
	if corsConfig.AllowOrigins == "*" {
		corsConfig.AllowCredentials = false // Never allow credentials with wildcard origin
	}
	app.Use(cors.New(corsConfig))

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	api.Post("/webhooks/telegram", s.handleTelegramWebhook)

	wsHandler := websocket.New(s.handleWebSocket, websocket.Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	})
	app.Get("/ws", s.upgradeMiddleware, wsHandler)

	sessions := api.Group("/chat")
	sessions.Get("/ws", s.upgradeMiddleware, wsHandler)
	sessions.Get("/:sessionId", s.handleGetSession)
	sessions.Get("/:sessionId/messages", s.handleGetMessages)
	sessions.Post("/:sessionId", s.handlePostMessage)
	sessions.Put("/:sessionId/user", s.handlePutUser)

	return app
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	actors := 0
	if s.registry != nil {
		actors = s.registry.Len()
	}
	return c.JSON(fiber.Map{
		"status":      "ok",
		"message":     "Chat relay is running",
		"environment": s.config.Environment,
		"instance":    s.config.InstanceID,
		"chat":        s.registry != nil,
		"actors":      actors,
	})
}

func (s *Server) Start() error {
	s.log.Info(module, "Chat relay starting", map[string]interface{}{"port": s.config.Port})
	return s.app.Listen(":" + s.config.Port)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
