package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"

	"github.com/fathima-sithara/chat-client-core/internal/auth"
	"github.com/fathima-sithara/chat-client-core/internal/bridge"
	"github.com/fathima-sithara/chat-client-core/internal/domain"
	"github.com/fathima-sithara/chat-client-core/internal/store"
)

// NewServer mounts the bridge websocket and the conversation history
// endpoints behind JWT auth and per-IP rate limiting. Healthz stays
// unthrottled for probes.
func NewServer(br *bridge.Server, st store.MessageStore, jv *auth.JWTValidator, rl *IPRateLimiter) *fiber.App {
	app := fiber.New()
	app.Use(fiberlogger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Use(rl.Handler())

	authn := func(c *fiber.Ctx) error {
		token := c.Query("token")
		if token == "" {
			hdr := c.Get("Authorization")
			const pref = "Bearer "
			if len(hdr) > len(pref) && hdr[:len(pref)] == pref {
				token = hdr[len(pref):]
			}
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing auth"})
		}
		sub, err := jv.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}
		c.Locals("user_id", sub)
		return c.Next()
	}

	v1 := app.Group("/v1", authn)

	v1.Get("/conversations/:conversation_id/messages", func(c *fiber.Ctx) error {
		conversationID := c.Params("conversation_id")
		limit := int64(c.QueryInt("limit", 50))
		before := time.Time{}
		if v := c.Query("before"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid before"})
			}
			before = t
		}
		ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
		defer cancel()
		msgs, err := st.List(ctx, conversationID, limit, before)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		if msgs == nil {
			msgs = []domain.Message{}
		}
		return c.JSON(fiber.Map{"status": "ok", "data": msgs})
	})

	v1.Post("/conversations/:conversation_id/read", func(c *fiber.Ctx) error {
		conversationID := c.Params("conversation_id")
		user := c.Locals("user_id").(string)
		ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
		defer cancel()
		if err := st.MarkRead(ctx, conversationID, user); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	ws := app.Group("/ws", authn)
	ws.Use(func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	ws.Get("/conversations/:conversation_id", websocket.New(br.HandleWS))

	return app
}
