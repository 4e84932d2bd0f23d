package controllers

import (
	"github.com/ManuelReschke/LeadHub/internal/pkg/accesstoken"
	"github.com/gofiber/fiber/v2"
)

type TokenController struct {
	grantor *accesstoken.Grantor
}

func NewTokenController(grantor *accesstoken.Grantor) *TokenController {
	return &TokenController{grantor: grantor}
}

type validateTokenRequest struct {
	Token string `json:"token" validate:"max=128"`
}

// HandleValidate checks a token from a deep link. Single-use tokens are
// spent by this call.
func (tc *TokenController) HandleValidate(c *fiber.Ctx) error {
	var req validateTokenRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	claims, err := tc.grantor.Validate(c.UserContext(), req.Token)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"valid":         claims.Valid,
		"user_id":       claims.UserID,
		"resource_type": claims.ResourceType,
		"resource_id":   claims.ResourceID,
		"metadata":      claims.Metadata,
	})
}
