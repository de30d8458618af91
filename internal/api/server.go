package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/playrhq/messaging-service/internal/auth"
	"github.com/playrhq/messaging-service/internal/config"
	"github.com/playrhq/messaging-service/internal/models"
	"github.com/playrhq/messaging-service/internal/realtime"
	"github.com/playrhq/messaging-service/internal/service"
)

// NewServer builds the fiber app: the authenticated command/query surface
// plus the websocket push channel.
func NewServer(
	cfg *config.Config,
	svc *service.ChatService,
	hub *realtime.Hub,
	validator *auth.Validator,
	sink service.EventSink,
	log *zap.SugaredLogger,
) *fiber.App {
	app := fiber.New(fiber.Config{AppName: "messaging-service"})
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	h := NewHandlers(svc)
	v1 := app.Group("/v1", RequireAuth(validator))

	writeLimit := RateLimitWrites(20, 40)
	v1.Post("/conversations", writeLimit, h.createConversation)
	v1.Get("/conversations", h.listConversations)
	v1.Post("/conversations/:id/messages", writeLimit, h.sendMessage)
	v1.Get("/conversations/:id/messages", h.listMessages)
	v1.Post("/conversations/:id/read", writeLimit, h.markRead)
	v1.Get("/unread-count", h.unreadCount)

	v1.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("user_id").(string)
		if userID == "" {
			_ = conn.Close()
			return
		}
		client := realtime.NewClient(
			conn,
			hub,
			userID,
			func(ctx context.Context, ev models.Event) {
				if err := sink.Publish(ctx, ev); err != nil {
					log.Warnw("transient event publish", "type", ev.Type, "err", err)
				}
			},
			svc.Participants,
			realtime.ClientOptions{
				PingInterval:   cfg.PingInterval,
				WriteDeadline:  cfg.WriteDeadline,
				MaxMessageSize: cfg.WS.MaxMessageSizeBytes,
				InboundRPS:     cfg.WS.InboundRPS,
			},
			log,
		)
		client.Run(context.Background())
	}))

	return app
}
