package controllers

import (
	"github.com/ManuelReschke/LeadHub/internal/pkg/lifecycle"
	"github.com/ManuelReschke/LeadHub/internal/pkg/matching"
	"github.com/ManuelReschke/LeadHub/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

type LeadController struct {
	lifecycle *lifecycle.Service
	matcher   *matching.Matcher
}

func NewLeadController(lc *lifecycle.Service, matcher *matching.Matcher) *LeadController {
	return &LeadController{lifecycle: lc, matcher: matcher}
}

// HandleRecordView records that the token's provider opened the lead.
func (lc *LeadController) HandleRecordView(c *fiber.Ctx) error {
	leadID, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	claims := middleware.Claims(c)
	if err := lc.lifecycle.RecordView(c.UserContext(), claims.UserID, leadID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type submitProposalRequest struct {
	PriceMin int64  `json:"price_min" validate:"gte=0"`
	PriceMax int64  `json:"price_max" validate:"gte=0,gtefield=PriceMin"`
	Message  string `json:"message" validate:"required,max=5000"`
	Timeline string `json:"timeline" validate:"max=200"`
}

func (lc *LeadController) HandleSubmitProposal(c *fiber.Ctx) error {
	leadID, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req submitProposalRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	claims := middleware.Claims(c)
	proposal, err := lc.lifecycle.Submit(c.UserContext(), claims.UserID, leadID, lifecycle.SubmitInput{
		PriceMin: req.PriceMin,
		PriceMax: req.PriceMax,
		Message:  req.Message,
		Timeline: req.Timeline,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"proposal_id": proposal.ID,
		"lead_id":     proposal.LeadID,
		"status":      proposal.Status,
	})
}

// HandlePublish activates a draft lead and runs the matcher for it.
func (lc *LeadController) HandlePublish(c *fiber.Ctx) error {
	leadID, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	result, err := lc.matcher.Publish(c.UserContext(), leadID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// HandleMatch reruns the matcher for an active lead.
func (lc *LeadController) HandleMatch(c *fiber.Ctx) error {
	leadID, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	result, err := lc.matcher.MatchLead(c.UserContext(), leadID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}
