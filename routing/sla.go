/*
Logic:       An SLA-aware composite score for tie-breaking worker
             selection beyond plain EMA comparison: penalises workers
             exceeding a declared latency ceiling or error-rate floor,
             on top of a static preference weight.
Root Cause:  SPEC_FULL.md §11 "SLA-aware scoring": the EMA
             latency/success tracking backing §4.2's stats update and
             the Model Manager's tie-break rule (highest ema_success,
             lowest ema_latency).
Context:     Adapted from tokenhub's internal/health.Stats
             (AvgLatencyMs, ConsecErrors, State derived from rolling
             request/error counts), narrowed from a standalone tracker
             (registry/registry.go already owns EMA latency/success per
             worker, per §4.2) to a pure scoring function consumed by
             modelmanager's tie-break: Score(stats, target) folds the
             registry's own EMA fields against a declared SLA target
             instead of re-deriving them.
*/
package routing

import "time"

// SLATarget declares the acceptable operating envelope for a worker.
type SLATarget struct {
	MaxLatency   time.Duration
	MaxErrorRate float64 // 1 - ema_success ceiling
	Weight       float64 // static preference multiplier, 1.0 = neutral
}

// DefaultSLATarget is a permissive target used when a worker declares
// none.
func DefaultSLATarget() SLATarget {
	return SLATarget{MaxLatency: 5 * time.Second, MaxErrorRate: 0.05, Weight: 1.0}
}

// Score combines ema success/latency against a target into a single
// higher-is-better scalar: 1.0 is a perfectly on-target worker at
// neutral weight; breaching either ceiling applies a 0.5 penalty
// multiplier per breach.
func Score(emaSuccess float64, emaLatency time.Duration, target SLATarget) float64 {
	weight := target.Weight
	if weight <= 0 {
		weight = 1.0
	}
	score := emaSuccess * weight

	if target.MaxLatency > 0 && emaLatency > target.MaxLatency {
		score *= 0.5
	}
	if target.MaxErrorRate > 0 && (1-emaSuccess) > target.MaxErrorRate {
		score *= 0.5
	}
	return score
}
