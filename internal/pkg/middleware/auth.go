package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/keyshop-app/keyshop/internal/pkg/env"
)

// RequireAdminToken authenticates operator endpoints with a static bearer
// token from the environment. Returns JSON 401 instead of a redirect; the
// callers are scripts and dashboards, not browsers.
func RequireAdminToken(c *fiber.Ctx) error {
	expected := strings.TrimSpace(env.GetEnv("ADMIN_API_TOKEN", ""))
	if expected == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "admin_disabled",
			"message": "ADMIN_API_TOKEN is not configured",
		})
	}

	got := extractBearerToken(c)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "Missing or invalid admin token",
		})
	}
	return c.Next()
}

func extractBearerToken(c *fiber.Ctx) string {
	if token := strings.TrimSpace(c.Get("X-Admin-Token")); token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}
