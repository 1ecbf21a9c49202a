package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// contextWithTimeout derives a bounded context from the request.
func contextWithTimeout(c *fiber.Ctx, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return c.Context(), func() {}
	}
	return context.WithTimeout(c.Context(), d)
}
