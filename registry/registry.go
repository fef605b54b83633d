/*
Logic:       The worker registry: a concurrency-safe map of Descriptors
             with EMA stat updates, derived health transitions, and
             list/get/mark accessors used by the model manager and
             routing layer.
Root Cause:  Spec §4.2 Worker Registry (C2): list/get/mark/update_stats,
             EMA smoothing α=0.2, health derivation rules (ready if probe
             within interval and successful; degraded if success rate
             < 0.5 over the last 20 samples; unavailable after three
             consecutive failed probes).
Context:     Adapted from tokenhub's internal/health.Tracker (a
             map[string]*Stats behind an RWMutex, State one of
             healthy/degraded/down derived from consecutive-error
             thresholds) and models.Registry's plain map+mutex for list/
             get, generalised from a provider-id-keyed health tracker to
             a worker-id-keyed registry with capability filtering.
*/
package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// emaAlpha is the fixed smoothing factor for latency/success EMAs (§4.2
// design choice: α = 0.2).
const emaAlpha = 0.2

// degradedWindow is the number of recent outcomes considered for the
// degraded-health determination (§4.2: "window of 20 samples").
const degradedWindow = 20

// ProbeInterval bounds how stale a last-successful-probe may be before a
// worker is no longer considered ready, even absent a failure.
const ProbeInterval = 30 * time.Second

// Registry is the concurrency-safe worker registry (C2).
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*Descriptor
	logger  zerolog.Logger

	invalidate func(workerID string) // pattern-cache invalidation hook, see §4.3
}

// New constructs an empty Registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		workers: make(map[string]*Descriptor),
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// OnInvalidate registers a callback fired whenever a worker transitions
// to a non-ready health. The model manager's hook logs the transition;
// its cached selections are not deleted, and Select skips any whose
// worker is not ready.
func (r *Registry) OnInvalidate(fn func(workerID string)) {
	r.invalidate = fn
}

// Register adds or replaces a worker descriptor.
func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.Health == "" {
		d.Health = HealthUnknown
	}
	r.workers[d.ID] = d
}

// List returns descriptors matching kind and capability; either may be
// empty to mean "any".
func (r *Registry) List(kind Kind, capability string) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(r.workers))
	for _, d := range r.workers {
		if kind != "" && d.Kind != kind {
			continue
		}
		if !d.HasCapability(capability) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out
}

// Get returns a copy of the descriptor for id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.workers[id]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Mark sets a worker's health directly (used by the admission controller
// for loading/evicting transitions and by external overrides).
func (r *Registry) Mark(id string, health Health) {
	r.mu.Lock()
	d, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	prev := d.Health
	d.Health = health
	r.mu.Unlock()

	if prev == HealthReady && health != HealthReady && r.invalidate != nil {
		r.invalidate(id)
	}
}

// RecordProbe updates the derived health state from a single probe
// outcome, applying the EMA and sample-window rules from §4.2.
func (r *Registry) RecordProbe(id string, success bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.workers[id]
	if !ok {
		return
	}
	prev := d.Health
	s := &d.Stats
	s.LastProbe = time.Now()

	if success {
		s.consecutiveProbeFailures = 0
		s.EMALatency = emaDuration(s.EMALatency, latency)
	} else {
		s.consecutiveProbeFailures++
	}
	s.EMASuccess = emaFloat(s.EMASuccess, boolToFloat(success))
	s.recentOutcomes = appendBounded(s.recentOutcomes, success, degradedWindow)

	d.Health = deriveHealth(s, d.Health)

	if prev == HealthReady && d.Health != HealthReady && r.invalidate != nil {
		workerID := id
		r.mu.Unlock()
		r.invalidate(workerID)
		r.mu.Lock()
	}
}

// UpdateStats folds a completed call's outcome into the worker's EMA
// latency/success stats and bumps its usage counters. Called by the model
// manager after every generate() regardless of transport outcome.
func (r *Registry) UpdateStats(id string, latency time.Duration, success bool, cost float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.workers[id]
	if !ok {
		return
	}
	prev := d.Health
	s := &d.Stats
	s.EMALatency = emaDuration(s.EMALatency, latency)
	s.EMASuccess = emaFloat(s.EMASuccess, boolToFloat(success))
	s.TotalCalls++
	s.LastUsed = time.Now()
	s.recentOutcomes = appendBounded(s.recentOutcomes, success, degradedWindow)

	d.Health = deriveHealth(s, d.Health)

	if prev == HealthReady && d.Health != HealthReady && r.invalidate != nil {
		r.mu.Unlock()
		r.invalidate(id)
		r.mu.Lock()
	}
}

// deriveHealth applies §4.2's derivation: ready if the last probe is
// recent and successful; degraded if the recent success rate over the
// last 20 samples drops below 0.5; unavailable after three consecutive
// probe failures. current is the prior health, used so loading/evicting
// transitions driven by the admission controller are not clobbered here.
func deriveHealth(s *Stats, current Health) Health {
	if current == HealthLoading || current == HealthEvicting || current == HealthUnloaded {
		return current
	}
	if s.consecutiveProbeFailures >= 3 {
		return HealthUnavailable
	}
	if len(s.recentOutcomes) > 0 {
		successes := 0
		for _, ok := range s.recentOutcomes {
			if ok {
				successes++
			}
		}
		rate := float64(successes) / float64(len(s.recentOutcomes))
		if rate < 0.5 {
			return HealthDegraded
		}
	}
	if s.LastProbe.IsZero() || time.Since(s.LastProbe) > ProbeInterval {
		if current == HealthReady || current == HealthDegraded {
			return HealthDegraded
		}
		return HealthProbing
	}
	return HealthReady
}

func emaFloat(prev, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	return emaAlpha*sample + (1-emaAlpha)*prev
}

func emaDuration(prev, sample time.Duration) time.Duration {
	if prev == 0 {
		return sample
	}
	return time.Duration(emaAlpha*float64(sample) + (1-emaAlpha)*float64(prev))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func appendBounded(buf []bool, v bool, max int) []bool {
	buf = append(buf, v)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}
