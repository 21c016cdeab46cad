package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/dialora/dialora/pkg/cmd"
	"github.com/dialora/dialora/pkg/config"
	"github.com/dialora/dialora/pkg/log"
)

func main() {
	defaults := config.Default()

	command := &cli.Command{
		Name:                  "dialora-gateway",
		Usage:                 "Process conversational flows and route them across engines",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the gateway on",
				Value:   defaults.Port,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "State store URL (memory://, redis://, postgres://)",
				Value:   defaults.DatabaseURL,
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "templates-url",
				Usage:   "Template repository URL (file://, postgres://)",
				Value:   defaults.TemplatesURL,
				Sources: cli.EnvVars("TEMPLATES_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka); empty disables the bus",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.BoolFlag{
				Name:    "enhanced-enabled",
				Usage:   "Allow routing to the enhanced engine",
				Value:   defaults.EnhancedEnabled,
				Sources: cli.EnvVars("ENHANCED_ENABLED"),
			},
			&cli.StringSliceFlag{
				Name:    "disabled-tenants",
				Usage:   "Tenants pinned to the baseline engine",
				Sources: cli.EnvVars("DISABLED_TENANTS"),
			},
			&cli.FloatFlag{
				Name:    "confidence-threshold",
				Usage:   "Minimum confidence to route to the enhanced engine",
				Value:   defaults.ConfidenceThreshold,
				Sources: cli.EnvVars("CONFIDENCE_THRESHOLD"),
			},
			&cli.DurationFlag{
				Name:    "routing-cache-ttl",
				Usage:   "How long a routing decision stays cached",
				Value:   defaults.RoutingCacheTTL,
				Sources: cli.EnvVars("ROUTING_CACHE_TTL"),
			},
			&cli.IntFlag{
				Name:    "routing-min-samples",
				Usage:   "Window samples needed before live metrics weigh in",
				Value:   defaults.RoutingMinSamples,
				Sources: cli.EnvVars("ROUTING_MIN_SAMPLES"),
			},
			&cli.FloatFlag{
				Name:    "analyzer-medium-score",
				Usage:   "Complexity score from which a template is medium risk",
				Value:   defaults.AnalyzerMediumScore,
				Sources: cli.EnvVars("ANALYZER_MEDIUM_SCORE"),
			},
			&cli.FloatFlag{
				Name:    "analyzer-high-score",
				Usage:   "Complexity score from which a template is high risk",
				Value:   defaults.AnalyzerHighScore,
				Sources: cli.EnvVars("ANALYZER_HIGH_SCORE"),
			},
			&cli.FloatFlag{
				Name:    "analyzer-critical-score",
				Usage:   "Complexity score from which a template is critical risk",
				Value:   defaults.AnalyzerCriticalScore,
				Sources: cli.EnvVars("ANALYZER_CRITICAL_SCORE"),
			},
			&cli.IntFlag{
				Name:    "analyzer-blocking-inputs",
				Usage:   "Input nodes from which enhanced capture is recommended",
				Value:   defaults.AnalyzerBlockingInputs,
				Sources: cli.EnvVars("ANALYZER_BLOCKING_INPUTS"),
			},
			&cli.FloatFlag{
				Name:    "analyzer-branching-factor",
				Usage:   "Predicates per condition node from which dynamic navigation is recommended",
				Value:   defaults.AnalyzerBranchingFactor,
				Sources: cli.EnvVars("ANALYZER_BRANCHING_FACTOR"),
			},
			&cli.FloatFlag{
				Name:    "analyzer-min-capture-rate",
				Usage:   "Historical capture rate below which enhanced capture is recommended",
				Value:   defaults.AnalyzerMinCaptureRate,
				Sources: cli.EnvVars("ANALYZER_MIN_CAPTURE_RATE"),
			},
			&cli.DurationFlag{
				Name:    "enhanced-step-timeout",
				Usage:   "Time budget for one enhanced step",
				Value:   defaults.EnhancedStepTimeout,
				Sources: cli.EnvVars("ENHANCED_STEP_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "metrics-window",
				Usage:   "Sliding window for metric aggregation",
				Value:   defaults.MetricsWindow,
				Sources: cli.EnvVars("METRICS_WINDOW"),
			},
			&cli.IntFlag{
				Name:    "metrics-max-events",
				Usage:   "Per-tenant cap on buffered metric events",
				Value:   defaults.MetricsMaxEventsPerTenant,
				Sources: cli.EnvVars("METRICS_MAX_EVENTS_PER_TENANT"),
			},
			&cli.DurationFlag{
				Name:    "session-idle-ttl",
				Usage:   "How long idle sessions survive before purging",
				Value:   defaults.SessionIdleTTL,
				Sources: cli.EnvVars("SESSION_IDLE_TTL"),
			},
			&cli.IntFlag{
				Name:    "save-retries",
				Usage:   "Turn re-executions after a save conflict",
				Value:   defaults.SaveRetries,
				Sources: cli.EnvVars("SAVE_RETRIES"),
			},
			&cli.StringFlag{
				Name:    "lead-webhook-url",
				Usage:   "Sales-funnel webhook; empty disables lead integration",
				Sources: cli.EnvVars("LEAD_WEBHOOK_URL"),
			},
			&cli.DurationFlag{
				Name:    "lead-webhook-timeout",
				Usage:   "Per-call budget for the sales-funnel webhook",
				Value:   defaults.LeadWebhookTimeout,
				Sources: cli.EnvVars("LEAD_WEBHOOK_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   defaults.LogLevel,
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("gateway")
	logger.InfoContext(ctx, "Initializing Dialora gateway")

	cfg := config.Default()
	cfg.Port = command.Int("port")
	cfg.DatabaseURL = command.String("database-url")
	cfg.TemplatesURL = command.String("templates-url")
	cfg.EventBusProvider = command.String("event-bus")
	cfg.EnhancedEnabled = command.Bool("enhanced-enabled")
	cfg.DisabledTenants = command.StringSlice("disabled-tenants")
	cfg.ConfidenceThreshold = command.Float("confidence-threshold")
	cfg.RoutingCacheTTL = command.Duration("routing-cache-ttl")
	cfg.RoutingMinSamples = command.Int("routing-min-samples")
	cfg.AnalyzerMediumScore = command.Float("analyzer-medium-score")
	cfg.AnalyzerHighScore = command.Float("analyzer-high-score")
	cfg.AnalyzerCriticalScore = command.Float("analyzer-critical-score")
	cfg.AnalyzerBlockingInputs = command.Int("analyzer-blocking-inputs")
	cfg.AnalyzerBranchingFactor = command.Float("analyzer-branching-factor")
	cfg.AnalyzerMinCaptureRate = command.Float("analyzer-min-capture-rate")
	cfg.EnhancedStepTimeout = command.Duration("enhanced-step-timeout")
	cfg.MetricsWindow = command.Duration("metrics-window")
	cfg.MetricsMaxEventsPerTenant = command.Int("metrics-max-events")
	cfg.SessionIdleTTL = command.Duration("session-idle-ttl")
	cfg.SaveRetries = command.Int("save-retries")
	cfg.LeadWebhookURL = command.String("lead-webhook-url")
	cfg.LeadWebhookTimeout = command.Duration("lead-webhook-timeout")
	cfg.LogLevel = command.String("log-level")

	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := cmd.NewStateStore(ctx, logger, cfg.DatabaseURL, cfg.SessionIdleTTL)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close state store", "error", err)
		}
	}()

	repo, err := cmd.NewTemplateRepository(ctx, logger, cfg.TemplatesURL)
	if err != nil {
		return err
	}

	defer func() {
		if err := repo.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close template repository", "error", err)
		}
	}()

	bus, err := cmd.NewEventBus(cfg.EventBusProvider, "dialora-gateway", logger)
	if err != nil {
		return err
	}

	if bus != nil {
		defer func() {
			if err := bus.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
			}
		}()
	}

	gateway := NewGateway(logger, cfg, store, repo, bus)

	return gateway.Run(ctx)
}

// shutdownTimeout bounds how long in-flight requests may drain.
const shutdownTimeout = 10 * time.Second
