package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/LeadHub/app/repository"
	"github.com/ManuelReschke/LeadHub/app/repository/memory"
	"github.com/ManuelReschke/LeadHub/internal/pkg/accesstoken"
	"github.com/ManuelReschke/LeadHub/internal/pkg/alerts"
	"github.com/ManuelReschke/LeadHub/internal/pkg/cache"
	"github.com/ManuelReschke/LeadHub/internal/pkg/config"
	"github.com/ManuelReschke/LeadHub/internal/pkg/database"
	"github.com/ManuelReschke/LeadHub/internal/pkg/lifecycle"
	"github.com/ManuelReschke/LeadHub/internal/pkg/mail"
	"github.com/ManuelReschke/LeadHub/internal/pkg/matching"
	"github.com/ManuelReschke/LeadHub/internal/pkg/metrics"
	"github.com/ManuelReschke/LeadHub/internal/pkg/notify"
	"github.com/ManuelReschke/LeadHub/internal/pkg/payment"
	"github.com/ManuelReschke/LeadHub/internal/pkg/router"
	"github.com/ManuelReschke/LeadHub/internal/pkg/scheduler"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("[Main] Invalid configuration: %v", err)
	}

	app, shutdown, err := NewApplication(cfg)
	if err != nil {
		log.Fatalf("[Main] Startup failed: %v", err)
	}

	go func() {
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			log.Errorf("[Main] Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("[Main] Shutdown signal received")

	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
		log.Errorf("[Main] Server shutdown: %v", err)
	}
	shutdown()
	log.Info("[Main] Bye")
}

// NewApplication wires all components. The returned function releases
// what the application holds once the server has stopped.
func NewApplication(cfg config.Config) (*fiber.App, func(), error) {
	var closers []func()
	shutdown := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// store, lock and rate limit storage
	var (
		store          repository.Store
		locker         cache.Locker
		limiterStorage fiber.Storage
	)
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn("[Main] Using the in-memory store, data is lost on restart")
		store = memory.New()
		locker = cache.NewLocalLocker()
	} else {
		db, err := database.Setup(cfg.DB, cfg.IsDev())
		if err != nil {
			return nil, nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			closers = append(closers, func() { _ = sqlDB.Close() })
		}
		store = repository.NewFactory(db).GetStore()

		client := cache.NewClient(context.Background(), cfg.Cache)
		closers = append(closers, func() { _ = client.Close() })
		locker = cache.NewRedisLocker(client)
		limiterStorage = cache.NewLimiterStorage(cfg.Cache)
	}

	// alerts
	var pub alerts.Publisher = alerts.LogPublisher{}
	if len(cfg.Alerts.KafkaBrokers) > 0 {
		kp, err := alerts.NewKafkaPublisher(cfg.Alerts.KafkaBrokers, cfg.Alerts.Topic)
		if err != nil {
			shutdown()
			return nil, nil, err
		}
		pub = kp
	}
	closers = append(closers, func() { _ = pub.Close() })

	mailer, err := mail.New(cfg.Mail)
	if err != nil {
		shutdown()
		return nil, nil, err
	}

	// services
	m := metrics.New()
	grantor := accesstoken.NewGrantor(store, cfg.PublicBaseURL, cfg.Tokens, accesstoken.WithMetrics(m))
	dispatcher := notify.NewDispatcher(mailer, notify.WithMetrics(m))
	lc := lifecycle.NewService(store, grantor, dispatcher, lifecycle.WithMetrics(m))
	matcher := matching.NewMatcher(store, grantor, dispatcher, pub, matching.WithMetrics(m))
	payments := payment.NewProcessor(store, dispatcher, pub, cfg.Payment, payment.WithMetrics(m))
	sweeps := scheduler.NewService(scheduler.Deps{
		Store:      store,
		Lifecycle:  lc,
		Matcher:    matcher,
		Grantor:    grantor,
		Dispatcher: dispatcher,
		Outbox:     notify.NewOutboxWorker(store, dispatcher, pub, cfg.Outbox.BatchSize, cfg.Outbox.MaxAttempts),
		Alerts:     pub,
		Metrics:    m,
	}, cfg.Scheduler, cfg.Tokens)
	manager := scheduler.NewManager(sweeps, locker, cfg.Scheduler)
	if cfg.Scheduler.Enabled {
		manager.Start()
		closers = append(closers, manager.Stop)
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "LeadHub",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if doc := findFile("docs/v1/openapi.yml"); doc != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: doc,
			Path:     "v1",
		}))
	} else {
		log.Warn("[Main] OpenAPI document not found, /docs/api/v1 is disabled")
	}

	// ROUTER
	router.InstallRouter(app, router.Deps{
		Config:         cfg,
		Grantor:        grantor,
		Lifecycle:      lc,
		Matcher:        matcher,
		Payments:       payments,
		Scheduler:      manager,
		Metrics:        m,
		LimiterStorage: limiterStorage,
	})

	return app, shutdown, nil
}

// findFile looks for a project file from the working directory and from
// cmd/leadhub.
func findFile(name string) string {
	for _, base := range []string{"./", "../../", "../../../"} {
		if _, err := os.Stat(base + name); err == nil {
			return base + name
		}
	}
	return ""
}
