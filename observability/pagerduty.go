/*
Logic:       PagerDuty Events API v2 integration for the orchestrator:
             fires alerts when a worker goes unavailable, a bandit arm
             is quarantined, or a principal's budget is exhausted.
Root Cause:  SPEC_FULL.md §11 "Operational alerting": degraded-health
             and quarantine transitions are operationally significant
             and should page on-call the same way tokenhub's health
             tracker emits an EventHealthChange on every old-state/
             new-state transition.
Context:     The trigger/resolve-on-edge-transition idiom is grounded on
             tokenhub's internal/events.Bus EventHealthChange (OldState/
             NewState fields, only published on the actual transition,
             never per-request); no example repo in the pack talks to
             the PagerDuty Events API v2 itself, so that HTTP client is
             plain net/http by necessity, generalised from worker/arm
             transitions to a PagerDuty trigger/resolve payload.
*/
package observability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// PagerDutyConfig holds configuration for PagerDuty Events API v2.
type PagerDutyConfig struct {
	RoutingKey  string
	Enabled     bool
	SourceName  string
	HTTPTimeout time.Duration
}

// DefaultPagerDutyConfig returns defaults with alerting disabled.
func DefaultPagerDutyConfig() PagerDutyConfig {
	return PagerDutyConfig{
		RoutingKey:  "",
		Enabled:     false,
		SourceName:  "orchestrator-gateway",
		HTTPTimeout: 10 * time.Second,
	}
}

// PagerDutySeverity maps to PagerDuty alert severity.
type PagerDutySeverity string

const (
	PDSeverityCritical PagerDutySeverity = "critical"
	PDSeverityError    PagerDutySeverity = "error"
	PDSeverityWarning  PagerDutySeverity = "warning"
	PDSeverityInfo     PagerDutySeverity = "info"
)

// PagerDutyClient sends incidents to PagerDuty Events API v2.
type PagerDutyClient struct {
	cfg    PagerDutyConfig
	client *http.Client
	logger zerolog.Logger
}

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// NewPagerDutyClient creates a PagerDuty alerting client.
func NewPagerDutyClient(cfg PagerDutyConfig, logger zerolog.Logger) *PagerDutyClient {
	return &PagerDutyClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger.With().Str("component", "pagerduty").Logger(),
	}
}

// TriggerAlert fires a PagerDuty alert.
func (pd *PagerDutyClient) TriggerAlert(severity PagerDutySeverity, summary, dedupKey string, details map[string]interface{}) error {
	if !pd.cfg.Enabled || pd.cfg.RoutingKey == "" {
		pd.logger.Debug().Str("summary", summary).Msg("pagerduty disabled — alert suppressed")
		return nil
	}

	payload := map[string]interface{}{
		"routing_key":  pd.cfg.RoutingKey,
		"event_action": "trigger",
		"dedup_key":    dedupKey,
		"payload": map[string]interface{}{
			"summary":         summary,
			"severity":        string(severity),
			"source":          pd.cfg.SourceName,
			"component":       "orchestrator-gateway",
			"group":           "ai-platform",
			"class":           "infrastructure",
			"timestamp":       time.Now().UTC().Format(time.RFC3339),
			"custom_details":  details,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pagerduty: marshal failed: %w", err)
	}

	resp, err := pd.client.Post(pagerDutyEventsURL, "application/json", bytes.NewReader(body))
	if err != nil {
		pd.logger.Error().Err(err).Str("dedup_key", dedupKey).Msg("pagerduty API call failed")
		return fmt.Errorf("pagerduty: API call failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		pd.logger.Error().Int("status", resp.StatusCode).Str("dedup_key", dedupKey).Msg("pagerduty API error")
		return fmt.Errorf("pagerduty: HTTP %d", resp.StatusCode)
	}

	pd.logger.Info().Str("dedup_key", dedupKey).Str("severity", string(severity)).Msg("pagerduty alert triggered")
	return nil
}

// ResolveAlert resolves a previously triggered alert.
func (pd *PagerDutyClient) ResolveAlert(dedupKey string) error {
	if !pd.cfg.Enabled || pd.cfg.RoutingKey == "" {
		return nil
	}

	payload := map[string]interface{}{
		"routing_key":  pd.cfg.RoutingKey,
		"event_action": "resolve",
		"dedup_key":    dedupKey,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pagerduty: marshal failed: %w", err)
	}

	resp, err := pd.client.Post(pagerDutyEventsURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("pagerduty: resolve call failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	pd.logger.Info().Str("dedup_key", dedupKey).Msg("pagerduty alert resolved")
	return nil
}

// AlertWorkerUnavailable fires a critical alert when a worker's derived
// health transitions to unavailable.
func (pd *PagerDutyClient) AlertWorkerUnavailable(workerID, reason string) error {
	return pd.TriggerAlert(
		PDSeverityCritical,
		fmt.Sprintf("orchestrator: worker %s is unavailable", workerID),
		fmt.Sprintf("worker-unavailable-%s", workerID),
		map[string]interface{}{"worker_id": workerID, "reason": reason},
	)
}

// AlertWorkerRecovered resolves a worker-unavailable alert.
func (pd *PagerDutyClient) AlertWorkerRecovered(workerID string) error {
	return pd.ResolveAlert(fmt.Sprintf("worker-unavailable-%s", workerID))
}

// AlertArmQuarantined fires when the adaptive router quarantines a
// bandit arm for sustained sub-threshold success.
func (pd *PagerDutyClient) AlertArmQuarantined(armID string, successRate float64) error {
	return pd.TriggerAlert(
		PDSeverityWarning,
		fmt.Sprintf("orchestrator: arm %s quarantined (success rate %.2f)", armID, successRate),
		fmt.Sprintf("arm-quarantined-%s", armID),
		map[string]interface{}{"arm_id": armID, "success_rate": successRate},
	)
}

// AlertArmCleared resolves an arm-quarantined alert.
func (pd *PagerDutyClient) AlertArmCleared(armID string) error {
	return pd.ResolveAlert(fmt.Sprintf("arm-quarantined-%s", armID))
}

// AlertBudgetExhausted fires when a principal's budget ledger hits its
// hard limit.
func (pd *PagerDutyClient) AlertBudgetExhausted(principalID, window string, balance float64) error {
	return pd.TriggerAlert(
		PDSeverityError,
		fmt.Sprintf("orchestrator: budget exhausted for %s (remaining $%.4f)", principalID, balance),
		fmt.Sprintf("budget-exhausted-%s-%s", principalID, window),
		map[string]interface{}{"principal_id": principalID, "window": window, "remaining": balance},
	)
}

// AlertHighErrorRate fires when the gateway error rate exceeds threshold.
func (pd *PagerDutyClient) AlertHighErrorRate(errorPct float64, window string) error {
	return pd.TriggerAlert(
		PDSeverityCritical,
		fmt.Sprintf("orchestrator: gateway error rate %.1f%% over %s", errorPct, window),
		"gateway-high-error-rate",
		map[string]interface{}{"error_percentage": errorPct, "window": window},
	)
}
