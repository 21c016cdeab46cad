// Package config holds the validated runtime configuration of the
// gateway. Values are bound from CLI flags and environment variables in
// cmd and validated here before anything starts.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dialora/dialora/pkg/analyzer"
	"github.com/dialora/dialora/pkg/metrics"
	"github.com/dialora/dialora/pkg/router"
)

// Config is the full gateway configuration.
type Config struct {
	// DatabaseURL selects the state store adapter by scheme:
	// memory://, redis:// or postgres://.
	DatabaseURL string `validate:"required"`

	// TemplatesURL selects the template repository adapter by scheme:
	// file:// or postgres://.
	TemplatesURL string `validate:"required"`

	// EventBusProvider selects the bus channel: gochannel or kafka.
	// Empty disables the bus.
	EventBusProvider string `validate:"omitempty,oneof=gochannel kafka"`

	Port int `validate:"gt=0,lte=65535"`

	EnhancedEnabled bool

	// DisabledTenants lists tenants pinned to the baseline engine even
	// when the enhanced path is enabled globally.
	DisabledTenants []string

	ConfidenceThreshold float64       `validate:"gte=0,lte=1"`
	RoutingCacheTTL     time.Duration `validate:"gt=0"`
	RoutingMinSamples   int           `validate:"gte=1"`

	// Analyzer risk thresholds; scores live in (0, 1).
	AnalyzerMediumScore     float64 `validate:"gt=0,lt=1"`
	AnalyzerHighScore       float64 `validate:"gt=0,lt=1"`
	AnalyzerCriticalScore   float64 `validate:"gt=0,lt=1"`
	AnalyzerBlockingInputs  int     `validate:"min=1"`
	AnalyzerBranchingFactor float64 `validate:"gt=0"`
	AnalyzerMinCaptureRate  float64 `validate:"gt=0,lte=1"`

	EnhancedStepTimeout time.Duration `validate:"gt=0"`

	MetricsWindow             time.Duration `validate:"gt=0"`
	MetricsMaxEventsPerTenant int           `validate:"gte=1"`

	// SaveRetries bounds the compare-and-swap retry loop per delivery.
	SaveRetries int `validate:"gte=0,lte=10"`

	// SessionIdleTTL is how long an untouched session survives before
	// the purge job removes it.
	SessionIdleTTL time.Duration `validate:"gt=0"`

	// LeadWebhookURL, when set, enables the sales-funnel integration.
	LeadWebhookURL     string        `validate:"omitempty,url"`
	LeadWebhookTimeout time.Duration `validate:"gt=0"`

	LogLevel string `validate:"oneof=debug info warn error"`
}

// Default returns the configuration the gateway starts from before flag
// and environment binding.
func Default() Config {
	thresholds := analyzer.DefaultThresholds()

	return Config{
		DatabaseURL:               "memory://",
		TemplatesURL:              "file://./data/templates",
		Port:                      9091,
		EnhancedEnabled:           true,
		ConfidenceThreshold:       0.6,
		RoutingCacheTTL:           5 * time.Minute,
		RoutingMinSamples:         20,
		AnalyzerMediumScore:       thresholds.MediumScore,
		AnalyzerHighScore:         thresholds.HighScore,
		AnalyzerCriticalScore:     thresholds.CriticalScore,
		AnalyzerBlockingInputs:    thresholds.BlockingInputs,
		AnalyzerBranchingFactor:   thresholds.BranchingFactor,
		AnalyzerMinCaptureRate:    thresholds.MinCaptureSuccessRate,
		EnhancedStepTimeout:       3 * time.Second,
		MetricsWindow:             15 * time.Minute,
		MetricsMaxEventsPerTenant: 4096,
		SaveRetries:               3,
		SessionIdleTTL:            24 * time.Hour,
		LeadWebhookTimeout:        5 * time.Second,
		LogLevel:                  "info",
	}
}

// Validate checks the configuration and returns a descriptive error for
// the first violation.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// RouterOptions derives the routing options from the configuration.
func (c Config) RouterOptions() router.Options {
	disabled := make([]string, 0, len(c.DisabledTenants))
	for _, tenant := range c.DisabledTenants {
		if tenant = strings.TrimSpace(tenant); tenant != "" {
			disabled = append(disabled, tenant)
		}
	}

	return router.Options{
		ConfidenceThreshold: c.ConfidenceThreshold,
		EnhancedEnabled:     c.EnhancedEnabled,
		DisabledTenants:     disabled,
		CacheTTL:            c.RoutingCacheTTL,
		MinSamples:          c.RoutingMinSamples,
	}
}

// AnalyzerThresholds derives the complexity thresholds from the
// configuration.
func (c Config) AnalyzerThresholds() analyzer.Thresholds {
	return analyzer.Thresholds{
		MediumScore:           c.AnalyzerMediumScore,
		HighScore:             c.AnalyzerHighScore,
		CriticalScore:         c.AnalyzerCriticalScore,
		BlockingInputs:        c.AnalyzerBlockingInputs,
		BranchingFactor:       c.AnalyzerBranchingFactor,
		MinCaptureSuccessRate: c.AnalyzerMinCaptureRate,
	}
}

// MetricsOptions derives the collector options from the configuration.
func (c Config) MetricsOptions() metrics.Options {
	return metrics.Options{
		Window:             c.MetricsWindow,
		MaxEventsPerTenant: c.MetricsMaxEventsPerTenant,
	}
}
