// Package main provides the Dialora gateway server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/robfig/cron/v3"

	"github.com/dialora/dialora/pkg/analyzer"
	"github.com/dialora/dialora/pkg/config"
	"github.com/dialora/dialora/pkg/enhanced"
	"github.com/dialora/dialora/pkg/eventbus"
	"github.com/dialora/dialora/pkg/fallback"
	"github.com/dialora/dialora/pkg/flow"
	"github.com/dialora/dialora/pkg/leads"
	"github.com/dialora/dialora/pkg/metrics"
	"github.com/dialora/dialora/pkg/otelhelper"
	"github.com/dialora/dialora/pkg/router"
	"github.com/dialora/dialora/pkg/session"
	"github.com/dialora/dialora/pkg/statestore"
	"github.com/dialora/dialora/pkg/templates"
	"github.com/dialora/dialora/pkg/web"
)

type Gateway struct {
	logger *slog.Logger
	cfg    config.Config
	store  statestore.Store
	repo   templates.Repository
	bus    eventbus.EventBus

	engineRouter *router.Router
}

func NewGateway(
	logger *slog.Logger,
	cfg config.Config,
	store statestore.Store,
	repo templates.Repository,
	bus eventbus.EventBus,
) *Gateway {
	return &Gateway{
		logger:       logger,
		cfg:          cfg,
		store:        store,
		repo:         repo,
		bus:          bus,
		engineRouter: router.New(cfg.RouterOptions(), logger),
	}
}

// App assembles the processing pipeline and the HTTP surface.
func (g *Gateway) App() *fiber.App {
	graphAnalyzer := analyzer.New(g.cfg.AnalyzerThresholds())
	collector := metrics.NewCollector(g.cfg.MetricsOptions(), g.logger)

	baseline := flow.NewBaseline(g.logger)
	enhancedEngine := enhanced.NewEngine(baseline, enhanced.Options{
		StepTimeout: g.cfg.EnhancedStepTimeout,
	}, g.logger)

	var publisher eventbus.EventPublisher
	if g.bus != nil {
		publisher = g.bus
	}

	fallbackManager := fallback.NewManager(baseline, g.store, collector, publisher, g.logger)

	var advancer leads.StageAdvancer = leads.NoopAdvancer{}
	if g.cfg.LeadWebhookURL != "" {
		advancer = leads.NewHTTPAdvancer(g.cfg.LeadWebhookURL, g.cfg.LeadWebhookTimeout, g.logger)
	}

	processor := session.NewProcessor(
		g.store,
		g.repo,
		graphAnalyzer,
		g.engineRouter,
		baseline,
		enhancedEngine,
		fallbackManager,
		advancer,
		collector,
		publisher,
		g.logger,
		session.Options{SaveRetries: g.cfg.SaveRetries},
	)

	handlers := web.NewAPIHandlers(
		processor,
		g.repo,
		graphAnalyzer,
		g.engineRouter,
		collector,
		g.store,
		publisher,
		g.logger,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Dialora Gateway")
	})

	tenants := app.Group("/tenants/:tenantId")
	tenants.Post("/messages", handlers.ProcessMessage)
	tenants.Delete("/sessions/:userId/:sessionId", handlers.ResetSession)

	tenants.Post("/templates", handlers.ActivateTemplate)
	tenants.Get("/templates", handlers.ListTemplates)
	tenants.Delete("/templates/:templateId", handlers.DeactivateTemplate)
	tenants.Get("/templates/:templateId/analysis", handlers.GetTemplateAnalysis)

	tenants.Get("/metrics", handlers.GetTenantMetrics)

	app.Get("/health", handlers.HealthCheck)

	return app
}

// Run starts the HTTP server and the maintenance jobs, blocking until
// the context is canceled.
func (g *Gateway) Run(ctx context.Context) error {
	if _, err := otelhelper.NewTracer(ctx, "dialora-gateway"); err != nil {
		g.logger.WarnContext(ctx, "Tracing disabled", "error", err)
	}

	app := g.App()
	jobs := g.startMaintenance(ctx)

	defer jobs.Stop()

	errs := make(chan error, 1)

	go func() {
		errs <- app.Listen(":" + strconv.Itoa(g.cfg.Port))
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		g.logger.Info("Shutting down gateway")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return app.ShutdownWithContext(shutdownCtx)
	}
}

// startMaintenance schedules the routing-cache sweep and the idle
// session purge.
func (g *Gateway) startMaintenance(ctx context.Context) *cron.Cron {
	jobs := cron.New()

	_, err := jobs.AddFunc("@every 1m", func() {
		if removed := g.engineRouter.Sweep(); removed > 0 {
			g.logger.Debug("Swept routing cache", "removed", removed)
		}
	})
	if err != nil {
		g.logger.ErrorContext(ctx, "Failed to schedule cache sweep", "error", err)
	}

	_, err = jobs.AddFunc("@every 10m", func() {
		purgeCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		purged, err := g.store.PurgeIdle(purgeCtx, time.Now().Add(-g.cfg.SessionIdleTTL))
		if err != nil {
			g.logger.Error("Failed to purge idle sessions", "error", err)

			return
		}

		if purged > 0 {
			g.logger.Info("Purged idle sessions", "purged", purged)
		}
	})
	if err != nil {
		g.logger.ErrorContext(ctx, "Failed to schedule session purge", "error", err)
	}

	jobs.Start()

	return jobs
}
