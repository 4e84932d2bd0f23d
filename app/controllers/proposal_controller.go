package controllers

import (
	"context"

	"github.com/ManuelReschke/LeadHub/internal/pkg/lifecycle"
	"github.com/ManuelReschke/LeadHub/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

type ProposalController struct {
	lifecycle *lifecycle.Service
}

func NewProposalController(lc *lifecycle.Service) *ProposalController {
	return &ProposalController{lifecycle: lc}
}

func (pc *ProposalController) HandleAccept(c *fiber.Ctx) error {
	return pc.decide(c, pc.lifecycle.Accept)
}

func (pc *ProposalController) HandleReject(c *fiber.Ctx) error {
	return pc.decide(c, pc.lifecycle.Reject)
}

func (pc *ProposalController) decide(c *fiber.Ctx, fn func(ctx context.Context, ownerID, proposalID uint) (*lifecycle.Decision, error)) error {
	proposalID, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	decision, err := fn(c.UserContext(), middleware.Claims(c).UserID, proposalID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(decision)
}

type batchRequest struct {
	Action string `json:"action" validate:"required,oneof=accept reject"`
	IDs    []uint `json:"ids"`
}

// HandleBatch accepts or rejects several proposals of the token's owner.
// Failures of single ids are reported in the result, not as an error.
func (pc *ProposalController) HandleBatch(c *fiber.Ctx) error {
	var req batchRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	ownerID := middleware.Claims(c).UserID
	var (
		result *lifecycle.BatchResult
		err    error
	)
	if req.Action == lifecycle.DecisionAccept {
		result, err = pc.lifecycle.BatchAccept(c.UserContext(), ownerID, req.IDs)
	} else {
		result, err = pc.lifecycle.BatchReject(c.UserContext(), ownerID, req.IDs)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// HandleContacts returns the counterpart's contact details of an accepted
// proposal.
func (pc *ProposalController) HandleContacts(c *fiber.Ctx) error {
	proposalID, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	contacts, err := pc.lifecycle.Contacts(c.UserContext(), middleware.Claims(c).UserID, proposalID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"conversation_id": contacts.ConversationID,
		"name":            contacts.Name,
		"email":           contacts.Email,
		"phone":           contacts.Phone,
		"revealed_at":     formatTimePtr(contacts.RevealedAt),
	})
}
