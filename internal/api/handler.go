package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/playrhq/messaging-service/internal/apperrors"
	"github.com/playrhq/messaging-service/internal/service"
)

type Handlers struct {
	svc *service.ChatService
}

func NewHandlers(svc *service.ChatService) *Handlers {
	return &Handlers{svc: svc}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, apperrors.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, apperrors.ErrRateLimited):
		return fiber.StatusTooManyRequests
	}
	return fiber.StatusServiceUnavailable
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
}

func reqCtx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context(), 5*time.Second)
}

func (h *Handlers) createConversation(c *fiber.Ctx) error {
	var req struct {
		PeerID string `json:"peer_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	user := c.Locals("user_id").(string)
	ctx, cancel := reqCtx(c)
	defer cancel()
	conv, err := h.svc.GetOrCreateConversation(ctx, user, req.PeerID)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": conv})
}

func (h *Handlers) listConversations(c *fiber.Ctx) error {
	user := c.Locals("user_id").(string)
	var cursor time.Time
	if raw := c.Query("cursor"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid cursor"})
		}
		cursor = t
	}
	limit := int64(c.QueryInt("limit", 20))
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.svc.ListConversations(ctx, user, cursor, limit)
	if err != nil {
		return fail(c, err)
	}
	next := ""
	if len(list) > 0 {
		next = list[len(list)-1].UpdatedAt.Format(time.RFC3339Nano)
	}
	return c.JSON(fiber.Map{"data": list, "next_cursor": next})
}

func (h *Handlers) sendMessage(c *fiber.Ctx) error {
	var req struct {
		Body           string `json:"body"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.Get("X-Idempotency-Key")
	}
	user := c.Locals("user_id").(string)
	ctx, cancel := reqCtx(c)
	defer cancel()
	msg, err := h.svc.SendMessage(ctx, c.Params("id"), user, req.Body, req.IdempotencyKey)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": msg})
}

func (h *Handlers) listMessages(c *fiber.Ctx) error {
	user := c.Locals("user_id").(string)
	var before time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid before"})
		}
		before = t
	}
	limit := int64(c.QueryInt("limit", 50))
	ctx, cancel := reqCtx(c)
	defer cancel()
	msgs, err := h.svc.History(ctx, c.Params("id"), user, before, limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"data": msgs})
}

func (h *Handlers) markRead(c *fiber.Ctx) error {
	user := c.Locals("user_id").(string)
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.svc.MarkConversationRead(ctx, c.Params("id"), user)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"marked": n})
}

func (h *Handlers) unreadCount(c *fiber.Ctx) error {
	user := c.Locals("user_id").(string)
	ctx, cancel := reqCtx(c)
	defer cancel()
	return c.JSON(fiber.Map{"count": h.svc.UnreadCount(ctx, user)})
}
