package middleware

import (
	"strconv"
	"strings"

	"github.com/ManuelReschke/LeadHub/internal/pkg/accesstoken"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/gofiber/fiber/v2"
)

// KeyClaims is the Locals key holding the *accesstoken.Claims of the request.
const KeyClaims = "TOKEN_CLAIMS"

// RequireToken validates the request's access token against the given
// types. When param is set, a resource-bound token must point at the id in
// that route parameter.
func RequireToken(grantor *accesstoken.Grantor, param string, types ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := ExtractToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":  apperror.UserMessage(apperror.ErrAuth),
				"reason": accesstoken.ReasonNotFound,
			})
		}

		var resourceID uint
		if param != "" {
			id, err := strconv.ParseUint(c.Params(param), 10, 64)
			if err != nil || id == 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error":  apperror.UserMessage(apperror.ErrValidation),
					"reason": "invalid_id",
				})
			}
			resourceID = uint(id)
		}

		claims, err := grantor.Require(c.UserContext(), token, resourceID, types...)
		if err != nil {
			reason := apperror.ReasonOf(err)
			if reason == "" {
				reason = "internal_error"
			}
			return c.Status(apperror.HTTPStatus(err)).JSON(fiber.Map{
				"error":  apperror.UserMessage(err),
				"reason": reason,
			})
		}
		c.Locals(KeyClaims, claims)
		return c.Next()
	}
}

// Claims returns the claims stored by RequireToken, or nil.
func Claims(c *fiber.Ctx) *accesstoken.Claims {
	claims, _ := c.Locals(KeyClaims).(*accesstoken.Claims)
	return claims
}

// ExtractToken reads the token from the X-Access-Token header, a bearer
// Authorization header or the "token" query parameter of a deep link.
func ExtractToken(c *fiber.Ctx) string {
	if token := strings.TrimSpace(c.Get("X-Access-Token")); token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(c.Query("token"))
}
