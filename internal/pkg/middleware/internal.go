package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// InternalSecretHeader carries the shared secret of internal callers.
const InternalSecretHeader = "X-Internal-Secret"

// RequireInternalSecret guards the internal routes. An empty secret only
// passes in dev mode.
func RequireInternalSecret(secret string, devMode bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			if devMode {
				return c.Next()
			}
			log.Warn("[Middleware] Internal route called but no secret is configured")
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Zugriff verweigert", "reason": "forbidden"})
		}
		got := c.Get(InternalSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Zugriff verweigert", "reason": "forbidden"})
		}
		return c.Next()
	}
}
