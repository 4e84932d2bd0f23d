package router

import (
	"github.com/ManuelReschke/LeadHub/app/controllers"
	"github.com/ManuelReschke/LeadHub/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
)

// HttpRouter installs the operational and internal routes.
type HttpRouter struct {
	deps Deps
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	cfg := h.deps.Config

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// fiber metrics
	if cfg.MetricsPassword != "" {
		ops := basicauth.New(basicauth.Config{
			Users: map[string]string{
				cfg.MetricsUser: cfg.MetricsPassword,
			},
		})
		app.Get("/metrics", ops, adaptor.HTTPHandler(h.deps.Metrics.Handler()))
		app.Get("/monitor", ops, monitor.New(monitor.Config{Title: "LeadHub Monitor"}))
	} else {
		log.Warn("[Router] METRICS_PASSWORD not set, /metrics and /monitor are disabled")
	}

	h.registerInternalRoutes(app)
}

func (h HttpRouter) registerInternalRoutes(app *fiber.App) {
	internal := app.Group("/internal", middleware.RequireInternalSecret(h.deps.Config.InternalSecret, h.deps.Config.IsDev()))

	leads := controllers.NewLeadController(h.deps.Lifecycle, h.deps.Matcher)
	internal.Post("/leads/:id/publish", leads.HandlePublish)
	internal.Post("/leads/:id/match", leads.HandleMatch)

	payments := controllers.NewPaymentController(h.deps.Payments, h.deps.Config.Payment.SignatureHeader)
	internal.Post("/users/:id/checkout", payments.HandleCheckout)

	jobs := controllers.NewJobController(h.deps.Scheduler)
	internal.Get("/jobs", jobs.HandleListJobs)
	internal.Post("/jobs/:job", jobs.HandleRunJob)
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}
