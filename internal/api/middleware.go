package api

import (
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/playrhq/messaging-service/internal/apperrors"
	"github.com/playrhq/messaging-service/internal/auth"
)

// RequireAuth resolves the bearer token to a user id and stores it in the
// request locals. The websocket handshake also passes through here, so a
// `token` query parameter is accepted as a fallback for browser clients that
// cannot set headers on the upgrade request.
func RequireAuth(v *auth.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := ""
		if hdr := c.Get("Authorization"); hdr != "" {
			const pref = "Bearer "
			if !strings.HasPrefix(hdr, pref) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid auth"})
			}
			token = hdr[len(pref):]
		} else {
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing auth"})
		}
		sub, err := v.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals("user_id", sub)
		return c.Next()
	}
}

// RateLimitWrites applies a per-user token bucket to the write commands. Runs
// after RequireAuth so the user id is in locals.
func RateLimitWrites(rps float64, burst int) fiber.Handler {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)
	return func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		mu.Lock()
		lim, ok := limiters[uid]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[uid] = lim
		}
		mu.Unlock()
		if !lim.Allow() {
			return fail(c, apperrors.ErrRateLimited)
		}
		return c.Next()
	}
}
