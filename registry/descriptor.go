/*
Logic:       The WorkerDescriptor shape and the health/warmth vocabulary
             every other component (model manager, routing, bandit)
             selects and filters over.
Root Cause:  Spec §3 WorkerDescriptor: "{ id, kind, capabilities,
             footprint, cost_per_unit, warmth, health, stats }".
Context:     Adapted from tokenhub's models.Model/providers.Sender pair
             (a static per-model config record plus a runtime adapter
             interface), generalised from "LLM model/provider" to the
             spec's broader worker kinds (local-inference, remote-
             inference, web-search, scraper).
*/
package registry

import "time"

// Kind is the category of work a worker performs.
type Kind string

const (
	KindLocalInference  Kind = "local-inference"
	KindRemoteInference Kind = "remote-inference"
	KindWebSearch       Kind = "web-search"
	KindScraper         Kind = "scraper"
)

// Warmth is the worker's residency tier in the resident-set policy (§4.3).
type Warmth int

const (
	// T0 workers are pinned at startup and never evicted.
	T0 Warmth = iota
	// T1 workers are loaded on first use and kept.
	T1
	// T2 workers are loaded on demand and evicted when idle.
	T2
	// T3 workers are never auto-loaded; explicit ensure_resident required.
	T3
)

func (w Warmth) String() string {
	switch w {
	case T0:
		return "T0"
	case T1:
		return "T1"
	case T2:
		return "T2"
	case T3:
		return "T3"
	default:
		return "unknown"
	}
}

// Health is a worker's current operational state (§4.2 state machine:
// unknown → probing → ready ↔ degraded → unavailable).
type Health string

const (
	HealthUnknown     Health = "unknown"
	HealthProbing     Health = "probing"
	HealthReady       Health = "ready"
	HealthDegraded    Health = "degraded"
	HealthUnavailable Health = "unavailable"
	HealthLoading     Health = "loading"
	HealthEvicting    Health = "evicting"
	HealthUnloaded    Health = "unloaded"
)

// Stats is the exponential-moving-average performance record kept per
// worker (§4.2: "ema_latency ← α·sample + (1−α)·ema_latency").
type Stats struct {
	EMALatency        time.Duration
	EMASuccess        float64
	TotalCalls        int64
	recentOutcomes    []bool // ring buffer, last 20 samples, for degraded detection
	consecutiveProbeFailures int
	LastProbe         time.Time
	LastUsed          time.Time
}

// Descriptor is the full record the registry keeps per worker.
type Descriptor struct {
	ID           string
	Kind         Kind
	Capabilities map[string]struct{}
	FootprintBytes int64
	CostPerUnit  float64
	Warmth       Warmth
	Health       Health
	FallbackID   string // declared fallback_worker, used when selection survivors are empty
	Stats        Stats

	// Regions declares the data-residency zones this worker may serve
	// (SPEC_FULL.md §11 geo constraint). Empty means unrestricted.
	Regions []string

	// SecretRef names the credential a SecretResolver should fetch for
	// this worker's upstream call (SPEC_FULL.md §11 secret fetch).
	SecretRef string
}

// HasCapability reports whether the descriptor declares the given
// task-type capability.
func (d *Descriptor) HasCapability(capability string) bool {
	if capability == "" {
		return true
	}
	_, ok := d.Capabilities[capability]
	return ok
}
