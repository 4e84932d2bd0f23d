package router

import (
	"strings"

	"github.com/ManuelReschke/LeadHub/app/controllers"
	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	limit := h.deps.Config.RateLimit
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        limit.Max,
		Expiration: limit.Expiration,
		Storage:    h.deps.LimiterStorage,
		// The gateway retries on its own schedule.
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/api/v1/webhooks/")
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":  "Zu viele Anfragen. Bitte später erneut versuchen.",
				"reason": "rate_limited",
			})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "LeadHub API",
		})
	})

	v1 := api.Group("/v1")
	grantor := h.deps.Grantor

	payments := controllers.NewPaymentController(h.deps.Payments, h.deps.Config.Payment.SignatureHeader)
	v1.Post("/webhooks/payment", payments.HandleWebhook)

	tokens := controllers.NewTokenController(grantor)
	v1.Post("/tokens/validate", tokens.HandleValidate)

	// Lead deep links
	leads := controllers.NewLeadController(h.deps.Lifecycle, h.deps.Matcher)
	leadToken := middleware.RequireToken(grantor, "id", models.TokenResourceLead)
	v1.Post("/leads/:id/views", leadToken, leads.HandleRecordView)
	v1.Post("/leads/:id/proposals", leadToken, leads.HandleSubmitProposal)

	// Owner decisions
	proposals := controllers.NewProposalController(h.deps.Lifecycle)
	decisionToken := middleware.RequireToken(grantor, "id", models.TokenResourceProposal, models.TokenResourceDashboard)
	v1.Post("/proposals/batch", middleware.RequireToken(grantor, "", models.TokenResourceDashboard), proposals.HandleBatch)
	v1.Post("/proposals/:id/accept", decisionToken, proposals.HandleAccept)
	v1.Post("/proposals/:id/reject", decisionToken, proposals.HandleReject)
	v1.Get("/proposals/:id/contacts", middleware.RequireToken(grantor, "id", models.TokenResourceConversation, models.TokenResourceDashboard), proposals.HandleContacts)
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}
