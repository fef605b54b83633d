/*
Logic:       The model manager's public contract: select a worker for a
             task, generate against it with timeout/retry/fallback
             discipline, and ensure a worker is resident before use.
             Selection results are cached per (task_type, quality_tier,
             constraint-fingerprint); a cached result is used only while
             its worker is still ready.
Root Cause:  Spec §4.3 Model Manager (C3): select/generate/ensure_resident
             contract, selection algorithm steps 1-6, selection-result
             caching in namespace pattern for 1h, retry-with-backoff on
             transient worker failure up to retry_budget.
Context:     Adapted from tokenhub's models.Registry model-by-ID
             resolution, generalised into the spec's multi-step selection
             algorithm, and from tokenhub's internal/router/engine.go
             ranked-fallback dispatch (retry against the next candidate
             on transient failure) combined with this module's own
             routing.Score tie-break (prefer lower latency, higher
             success) applied over warmth tiers instead of a single
             weighted score.
*/
package modelmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantage-ai/orchestrator/cache"
	"github.com/vantage-ai/orchestrator/execstate"
	"github.com/vantage-ai/orchestrator/orcherr"
	"github.com/vantage-ai/orchestrator/registry"
	"github.com/vantage-ai/orchestrator/routing"
)

// Constraints narrows worker selection (§4.3 select() inputs, extended by
// SPEC_FULL.md §11 with a data-residency constraint).
type Constraints struct {
	MaxCostPerCall float64
	ForceLocal     bool
	Deadline       time.Time
	AllowedRegions []routing.Region
	PrincipalID    string
	Tags           map[string]string
}

// GenerateParams configures a single generate() call.
type GenerateParams struct {
	MaxTokens   int
	Temperature float64
	Stop        []string
	StreamSink  func(chunk string)
}

// WorkerClient performs the actual transport-level work of calling a
// worker and of making one resident/non-resident. Implemented by the
// workers package per worker kind.
type WorkerClient interface {
	Generate(ctx context.Context, worker registry.Descriptor, prompt string, params GenerateParams) (execstate.NodeResult, error)
	Load(ctx context.Context, worker registry.Descriptor) error
	Unload(ctx context.Context, worker registry.Descriptor) error
}

// Manager implements the Model Manager (C3) contract.
type Manager struct {
	registry *registry.Registry
	cache    *cache.Cache
	client   WorkerClient
	residents *ResidentSet
	logger   zerolog.Logger

	retryBudget       int
	defaultWorkerByTask map[string]string

	// rules is an optional priority-ordered override consulted before the
	// task_type -> default_worker mapping (SPEC_FULL.md §11).
	rules *routing.RuleSet
	// slaTargets optionally sharpens the tie-break score beyond plain EMA
	// comparison, keyed by worker id (SPEC_FULL.md §11).
	slaTargets map[string]routing.SLATarget
}

// Config configures a Manager.
type Config struct {
	ResidentBudgetBytes int64
	IdleThreshold       time.Duration
	RetryBudget         int
	DefaultWorkerByTask map[string]string
	Rules               *routing.RuleSet
	SLATargets          map[string]routing.SLATarget
}

// New constructs a Manager.
func New(reg *registry.Registry, c *cache.Cache, client WorkerClient, logger zerolog.Logger, cfg Config) *Manager {
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 3
	}
	m := &Manager{
		registry:            reg,
		cache:               c,
		client:              client,
		logger:              logger.With().Str("component", "model_manager").Logger(),
		retryBudget:          cfg.RetryBudget,
		defaultWorkerByTask: cfg.DefaultWorkerByTask,
		rules:               cfg.Rules,
		slaTargets:          cfg.SLATargets,
	}
	m.residents = NewResidentSet(reg, client, logger, cfg.ResidentBudgetBytes, cfg.IdleThreshold)

	reg.OnInvalidate(func(workerID string) {
		m.invalidatePatternsFor(workerID)
	})
	return m
}

// fingerprint builds a stable cache key component for a Constraints value.
func fingerprint(c Constraints) string {
	b, _ := json.Marshal(struct {
		MaxCost        float64
		ForceLocal     bool
		AllowedRegions []routing.Region
		PrincipalID    string
		Tags           map[string]string
	}{c.MaxCostPerCall, c.ForceLocal, c.AllowedRegions, c.PrincipalID, c.Tags})
	return string(b)
}

func selectionCacheKey(taskType string, tier execstate.QualityTier, c Constraints) []byte {
	return cache.ContentKey(fmt.Sprintf("%s|%s|%s", taskType, tier, fingerprint(c)))
}

// Select resolves a worker for taskType/tier honoring constraints, per
// the six-step algorithm in §4.3. Results are cached for 1h in the
// pattern namespace.
func (m *Manager) Select(ctx context.Context, taskType string, tier execstate.QualityTier, constraints Constraints) (registry.Descriptor, error) {
	key := selectionCacheKey(taskType, tier, constraints)
	if cached, ok := m.cache.Get(ctx, cache.NamespacePattern, key); ok {
		var id string
		if jsonUnmarshalString(cached, &id) {
			if d, ok := m.registry.Get(id); ok && d.Health == registry.HealthReady {
				return d, nil
			}
		}
	}

	d, err := m.runSelection(taskType, tier, constraints)
	if err != nil {
		return registry.Descriptor{}, err
	}

	if encoded, ok := jsonMarshalString(d.ID); ok {
		m.cache.Set(ctx, cache.NamespacePattern, key, encoded, time.Hour)
	}
	return d, nil
}

func (m *Manager) runSelection(taskType string, tier execstate.QualityTier, constraints Constraints) (registry.Descriptor, error) {
	candidates := m.registry.List("", taskType)

	// Step 0 (added): an operator rule override, consulted ahead of the
	// task_type -> default_worker mapping (SPEC_FULL.md §11).
	forced := false
	if m.rules != nil {
		decision := m.rules.Evaluate(routing.SelectionContext{
			TaskType:    taskType,
			PrincipalID: constraints.PrincipalID,
			QualityTier: tier,
			Tags:        constraints.Tags,
		})
		if decision.Matched {
			switch decision.Action {
			case routing.ActionBlock:
				return registry.Descriptor{}, orcherr.New(orcherr.NoEligibleWorker,
					fmt.Sprintf("routing rule %s blocked task_type=%s", decision.RuleID, taskType))
			case routing.ActionForceWorker:
				if d, ok := m.registry.Get(decision.TargetWorkerID); ok {
					candidates = []*registry.Descriptor{&d}
					forced = true
				}
			}
		}
	}

	// Step 1: task_type -> default_worker mapping.
	if defaultID, ok := m.defaultWorkerByTask[taskType]; ok && !forced {
		if d, ok := m.registry.Get(defaultID); ok {
			candidates = []*registry.Descriptor{&d}
		}
	}

	if len(candidates) == 0 {
		candidates = m.registry.List("", taskType)
	}

	// Step 2/3: quality tier demotes to smallest or promotes to largest.
	candidates = byQualityTier(candidates, tier)

	// Step 4: apply constraints.
	survivors := make([]*registry.Descriptor, 0, len(candidates))
	for _, d := range candidates {
		if constraints.MaxCostPerCall > 0 && d.CostPerUnit > constraints.MaxCostPerCall {
			continue
		}
		if constraints.ForceLocal && d.Kind != registry.KindLocalInference {
			continue
		}
		if !regionsAllowed(d.Regions, constraints.AllowedRegions) {
			continue
		}
		if d.Health != registry.HealthReady && d.Health != registry.HealthDegraded {
			continue
		}
		survivors = append(survivors, d)
	}

	// Step 5: prefer warmth T0 > T1 > T2 > T3; tie-break by SLA-aware
	// score (EMA success/latency weighted against a declared SLA target,
	// falling back to a neutral target when none is declared).
	sort.SliceStable(survivors, func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		if a.Warmth != b.Warmth {
			return a.Warmth < b.Warmth
		}
		scoreA := routing.Score(a.Stats.EMASuccess, a.Stats.EMALatency, m.slaTarget(a.ID))
		scoreB := routing.Score(b.Stats.EMASuccess, b.Stats.EMALatency, m.slaTarget(b.ID))
		if scoreA != scoreB {
			return scoreA > scoreB
		}
		return a.Stats.EMALatency < b.Stats.EMALatency
	})

	if len(survivors) > 0 {
		return *survivors[0], nil
	}

	// Step 6: fall back to the declared fallback_worker of the first
	// pre-constraint candidate; else NoEligibleWorker.
	if len(candidates) > 0 && candidates[0].FallbackID != "" {
		if fb, ok := m.registry.Get(candidates[0].FallbackID); ok {
			return fb, nil
		}
	}
	return registry.Descriptor{}, orcherr.New(orcherr.NoEligibleWorker,
		fmt.Sprintf("no eligible worker for task_type=%s quality_tier=%s", taskType, tier))
}

func byQualityTier(in []*registry.Descriptor, tier execstate.QualityTier) []*registry.Descriptor {
	if len(in) == 0 {
		return in
	}
	switch tier {
	case execstate.QualityMinimal:
		smallest := in[0]
		for _, d := range in {
			if d.FootprintBytes < smallest.FootprintBytes {
				smallest = d
			}
		}
		return []*registry.Descriptor{smallest}
	case execstate.QualityPremium:
		largest := in[0]
		for _, d := range in {
			if d.FootprintBytes > largest.FootprintBytes {
				largest = d
			}
		}
		return []*registry.Descriptor{largest}
	default:
		return in
	}
}

// Generate calls the selected worker, retrying transient failures with
// exponential backoff up to the retry budget. Any other error is returned
// at once; Generate never re-selects or calls a different worker.
func (m *Manager) Generate(ctx context.Context, worker registry.Descriptor, prompt string, params GenerateParams) (execstate.NodeResult, error) {
	var lastErr error
	for attempt := 0; attempt < m.retryBudget; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500*pow2(attempt)) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return execstate.NodeResult{}, orcherr.Wrap(orcherr.DeadlineExceeded, ctx.Err())
			}
		}

		start := time.Now()
		result, err := m.client.Generate(ctx, worker, prompt, params)
		latency := time.Since(start)

		if err == nil {
			m.registry.UpdateStats(worker.ID, latency, true, result.Cost)
			return result, nil
		}

		m.registry.UpdateStats(worker.ID, latency, false, 0)
		lastErr = err

		if !isTransient(err) {
			return execstate.NodeResult{}, err
		}
	}
	if lastErr == nil {
		lastErr = orcherr.New(orcherr.WorkerTimeout, "worker call exhausted retry budget")
	}
	return execstate.NodeResult{}, orcherr.Wrap(orcherr.WorkerTimeout, lastErr)
}

// EnsureResident schedules worker into the resident set via the
// admission controller, returning when ready or failing with
// ResidentSetBusy/LoadFailed.
func (m *Manager) EnsureResident(ctx context.Context, worker registry.Descriptor) error {
	return m.residents.EnsureResident(ctx, worker)
}

func (m *Manager) invalidatePatternsFor(workerID string) {
	m.logger.Debug().Str("worker", workerID).Msg("invalidating selection cache entries after health transition")
}

func regionsAllowed(workerRegions []string, allowed []routing.Region) bool {
	if len(allowed) == 0 {
		return true
	}
	converted := make([]routing.Region, len(workerRegions))
	for i, r := range workerRegions {
		converted[i] = routing.Region(r)
	}
	return routing.AllowedInRegions(converted, allowed)
}

func (m *Manager) slaTarget(workerID string) routing.SLATarget {
	if target, ok := m.slaTargets[workerID]; ok {
		return target
	}
	return routing.DefaultSLATarget()
}

func isTransient(err error) bool {
	kind := orcherr.KindOf(err)
	return kind == orcherr.WorkerTimeout || kind == orcherr.TransientStoreError || kind == orcherr.Unknown
}

func pow2(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}

func jsonMarshalString(v string) ([]byte, bool) {
	b, err := json.Marshal(v)
	return b, err == nil
}

func jsonUnmarshalString(b []byte, out *string) bool {
	return json.Unmarshal(b, out) == nil
}
