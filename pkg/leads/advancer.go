// Package leads integrates the external sales-funnel collaborator. The
// lead system is authoritative; the core only fires stage transitions
// at it and logs failures.
package leads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StageAdvancer moves a lead to a sales stage. Calls are fire-and-forget
// from the session layer: a failure is logged, never surfaced to the
// end user.
type StageAdvancer interface {
	AdvanceStage(ctx context.Context, leadID, stageID string) error
}

// NoopAdvancer ignores stage transitions; used for tenants without a
// lead integration and in tests.
type NoopAdvancer struct{}

func (NoopAdvancer) AdvanceStage(_ context.Context, _, _ string) error {
	return nil
}

// HTTPAdvancer posts stage transitions to the lead system's webhook.
type HTTPAdvancer struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPAdvancer creates an advancer posting to endpoint with the
// given per-call timeout.
func NewHTTPAdvancer(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPAdvancer {
	return &HTTPAdvancer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("module", "leads"),
	}
}

type advanceRequest struct {
	LeadID  string `json:"lead_id"`
	StageID string `json:"stage_id"`
}

// AdvanceStage posts the transition. A non-2xx response is an error for
// the caller to log; the lead system is expected to be idempotent per
// (lead, stage).
func (a *HTTPAdvancer) AdvanceStage(ctx context.Context, leadID, stageID string) error {
	payload, err := json.Marshal(advanceRequest{LeadID: leadID, StageID: stageID})
	if err != nil {
		return fmt.Errorf("failed to encode stage advance: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build stage advance request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")

	response, err := a.client.Do(request)
	if err != nil {
		return fmt.Errorf("failed to call lead system: %w", err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("lead system returned status %d", response.StatusCode)
	}

	a.logger.DebugContext(ctx, "Lead stage advanced", "lead_id", leadID, "stage_id", stageID)

	return nil
}
