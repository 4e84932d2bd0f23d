package controllers

import (
	"github.com/ManuelReschke/LeadHub/internal/pkg/payment"
	"github.com/gofiber/fiber/v2"
)

type PaymentController struct {
	processor       *payment.Processor
	signatureHeader string
}

func NewPaymentController(processor *payment.Processor, signatureHeader string) *PaymentController {
	if signatureHeader == "" {
		signatureHeader = "X-Webhook-Signature"
	}
	return &PaymentController{processor: processor, signatureHeader: signatureHeader}
}

// HandleWebhook receives the gateway's transaction callback. The raw body
// is passed through untouched for the signature check.
func (pc *PaymentController) HandleWebhook(c *fiber.Ctx) error {
	out := pc.processor.Handle(c.UserContext(), c.Body(), c.Get(pc.signatureHeader))
	return c.Status(out.Status).JSON(out.Body)
}

type checkoutRequest struct {
	Plan string `json:"plan" validate:"required"`
}

// HandleCheckout starts a checkout for a user and returns the reference the
// payment page has to carry.
func (pc *PaymentController) HandleCheckout(c *fiber.Ctx) error {
	userID, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req checkoutRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	ref, plan, err := pc.processor.Checkout(c.UserContext(), userID, req.Plan)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"reference_id": ref.String(),
		"plan":         plan.Type,
		"amount":       plan.Amount,
		"months":       plan.Months,
	})
}
