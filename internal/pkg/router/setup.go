package router

import (
	"github.com/ManuelReschke/LeadHub/internal/pkg/accesstoken"
	"github.com/ManuelReschke/LeadHub/internal/pkg/config"
	"github.com/ManuelReschke/LeadHub/internal/pkg/lifecycle"
	"github.com/ManuelReschke/LeadHub/internal/pkg/matching"
	"github.com/ManuelReschke/LeadHub/internal/pkg/metrics"
	"github.com/ManuelReschke/LeadHub/internal/pkg/payment"
	"github.com/ManuelReschke/LeadHub/internal/pkg/scheduler"
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps are the services the routes are served by.
type Deps struct {
	Config    config.Config
	Grantor   *accesstoken.Grantor
	Lifecycle *lifecycle.Service
	Matcher   *matching.Matcher
	Payments  *payment.Processor
	Scheduler *scheduler.Manager
	Metrics   *metrics.Metrics
	// LimiterStorage backs the rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, deps Deps) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
