package handlers

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// APIKeyAuth guards the API with a shared key from configuration. When
// no key is configured the middleware is a pass-through, which keeps
// local development friction-free.
func APIKeyAuth(apiKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if apiKey == "" {
			return c.Next()
		}

		got := c.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or missing API key",
			})
		}
		return c.Next()
	}
}
