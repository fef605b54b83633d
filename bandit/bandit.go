/*
Logic:       The Adaptive Router itself: Thompson-sampling arm selection
             over declared arms, atomic-per-arm posterior updates, a
             global read lock for sampling, periodic checkpointing to the
             cache, and the quarantine safety rail.
Root Cause:  Spec §4.6 Adaptive Router (C6): selection rule, tie-break,
             update rule, cold start, persistence, quarantine/clear.
             §5: "Bandit posterior updates: linearisable per arm"; "a
             global read lock allows concurrent sampling."
Context:     Grounded on tokenhub's internal/router/thompson.go
             ThompsonSampler (a map of arms behind an RWMutex, each
             holding its own Alpha/Beta posterior, sampled and sorted in
             Sample) generalised from a fixed model/token-bucket key to
             this orchestrator's declared arms, plus cache/cache.go's
             NamespacePattern convention for the bandit:<arm_id>
             checkpoint key (§6 Persisted state layout).
*/
package bandit

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantage-ai/orchestrator/cache"
	"github.com/vantage-ai/orchestrator/orcherr"
)

// Config tunes the bandit's safety rails and persistence cadence (§6
// bandit.checkpoint_interval_ms, bandit.min_success). The quarantine
// window is not set here: it is fixed at successWindow (100) outcomes.
type Config struct {
	MinSuccess              float64
	QuarantineClearThreshold float64
	CheckpointInterval      time.Duration
	ShadowRate              float64
}

func (c *Config) applyDefaults() {
	if c.MinSuccess <= 0 {
		c.MinSuccess = 0.3
	}
	if c.QuarantineClearThreshold <= 0 {
		c.QuarantineClearThreshold = 0.5
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 60 * time.Second
	}
	if c.ShadowRate <= 0 {
		c.ShadowRate = 0.3
	}
}

// Bandit is the Thompson-sampling router over a fixed, declared arm set.
type Bandit struct {
	cfg    Config
	cache  *cache.Cache
	logger zerolog.Logger

	globalMu sync.RWMutex
	arms     map[string]*Arm
	armLocks map[string]*sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand

	anomaly *AnomalyDetector

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Bandit, restoring checkpointed state from the cache if
// present, else cold-starting every declared arm (§4.6 Persistence).
func New(ctx context.Context, c *cache.Cache, logger zerolog.Logger, cfg Config, declared []Arm, seed int64) *Bandit {
	cfg.applyDefaults()
	b := &Bandit{
		cfg:      cfg,
		cache:    c,
		logger:   logger.With().Str("component", "adaptive_router").Logger(),
		arms:     make(map[string]*Arm),
		armLocks: make(map[string]*sync.Mutex),
		rng:      rand.New(rand.NewSource(seed)),
		anomaly:  NewAnomalyDetector(24, 2.0),
	}
	for _, a := range declared {
		arm := NewArm(a.ID, a.WorkflowID)
		if restored := b.restore(ctx, a.ID); restored != nil {
			arm = restored
		}
		b.arms[a.ID] = arm
		b.armLocks[a.ID] = &sync.Mutex{}
	}
	return b
}

// StartCheckpointing runs the periodic checkpoint loop until Stop is called.
func (b *Bandit) StartCheckpointing(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.cfg.CheckpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				b.CheckpointAll(runCtx)
			}
		}
	}()
}

// Stop halts the checkpoint loop.
func (b *Bandit) Stop() {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
}

// Select performs Thompson sampling over eligible (non-quarantined) arms,
// breaking ties by lowest n_selections then lexicographic id (§4.6).
func (b *Bandit) Select(forShadow bool) (*Arm, error) {
	b.globalMu.RLock()
	candidates := make([]*Arm, 0, len(b.arms))
	for _, a := range b.arms {
		if !forShadow && a.Quarantined {
			continue
		}
		candidates = append(candidates, a)
	}
	b.globalMu.RUnlock()

	if len(candidates) == 0 {
		return nil, orcherr.New(orcherr.NoEligibleWorker, "no eligible bandit arms")
	}

	b.rngMu.Lock()
	samples := make([]float64, len(candidates))
	for i, a := range candidates {
		samples[i] = sampleBeta(b.rng, a.Alpha, a.Beta)
	}
	b.rngMu.Unlock()

	best := 0
	for i := 1; i < len(candidates); i++ {
		if samples[i] > samples[best] {
			best = i
			continue
		}
		if samples[i] == samples[best] {
			if tieBreak(candidates[i], candidates[best]) {
				best = i
			}
		}
	}
	return candidates[best], nil
}

// tieBreak reports whether a should be preferred over b: lowest
// n_selections first, then lexicographic id (§4.6).
func tieBreak(a, b *Arm) bool {
	if a.NSelections != b.NSelections {
		return a.NSelections < b.NSelections
	}
	return a.ID < b.ID
}

// SelectShadow picks a shadow arm distinct from the production arm,
// eligible even if quarantined (§4.6: "remains eligible for shadow
// selection").
func (b *Bandit) SelectShadow(productionArmID string) (*Arm, error) {
	b.globalMu.RLock()
	candidates := make([]*Arm, 0, len(b.arms))
	for id, a := range b.arms {
		if id == productionArmID {
			continue
		}
		candidates = append(candidates, a)
	}
	b.globalMu.RUnlock()

	if len(candidates) == 0 {
		return nil, orcherr.New(orcherr.NoEligibleWorker, "no eligible shadow arms")
	}

	b.rngMu.Lock()
	samples := make([]float64, len(candidates))
	for i, a := range candidates {
		samples[i] = sampleBeta(b.rng, a.Alpha, a.Beta)
	}
	b.rngMu.Unlock()

	best := 0
	for i := 1; i < len(candidates); i++ {
		if samples[i] > samples[best] || (samples[i] == samples[best] && tieBreak(candidates[i], candidates[best])) {
			best = i
		}
	}
	return candidates[best], nil
}

// Update applies an observed reward to arm i: alpha += r, beta += (1-r),
// n_selections += 1, atomically under the arm's own lock (§4.6 Update).
func (b *Bandit) Update(armID string, reward float64) {
	b.globalMu.RLock()
	arm, ok := b.arms[armID]
	lock := b.armLocks[armID]
	b.globalMu.RUnlock()
	if !ok {
		return
	}

	lock.Lock()
	arm.Alpha += reward
	arm.Beta += 1 - reward
	arm.NSelections++
	arm.observe(reward >= 0.5, b.cfg.MinSuccess, b.cfg.QuarantineClearThreshold)
	lock.Unlock()
}

// UpdateWithLatency behaves like Update, plus folds latency into the
// per-arm anomaly detector and logs a warning on a statistically
// anomalous sample — an earlier signal than the rolling success-rate
// window the quarantine rule reacts to.
func (b *Bandit) UpdateWithLatency(armID string, reward float64, latency time.Duration) {
	b.Update(armID, reward)
	if result := b.anomaly.CheckLatency(armID, latency); result.IsAnomaly {
		b.logger.Warn().
			Str("arm_id", armID).
			Float64("z_score", result.ZScore).
			Str("direction", result.Direction).
			Dur("latency", latency).
			Msg("latency anomaly detected for arm")
	}
}

// Snapshot returns a read-only copy of every arm's current state, sorted
// by id for deterministic reporting.
func (b *Bandit) Snapshot() []Arm {
	b.globalMu.RLock()
	defer b.globalMu.RUnlock()
	out := make([]Arm, 0, len(b.arms))
	for _, a := range b.arms {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func checkpointKey(armID string) []byte {
	return []byte("bandit:" + armID)
}

// CheckpointAll persists every arm's posterior to the pattern namespace
// (§4.6 Persistence, §6 Namespace pattern key "bandit:<arm_id>").
func (b *Bandit) CheckpointAll(ctx context.Context) {
	b.globalMu.RLock()
	arms := make([]*Arm, 0, len(b.arms))
	for _, a := range b.arms {
		arms = append(arms, a)
	}
	b.globalMu.RUnlock()

	for _, a := range arms {
		lock := b.armLocks[a.ID]
		lock.Lock()
		encoded, err := json.Marshal(a.toSnapshot())
		lock.Unlock()
		if err != nil {
			continue
		}
		b.cache.Set(ctx, cache.NamespacePattern, checkpointKey(a.ID), encoded, 0)
	}
}

func (b *Bandit) restore(ctx context.Context, armID string) *Arm {
	raw, found := b.cache.Get(ctx, cache.NamespacePattern, checkpointKey(armID))
	if !found {
		return nil
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		b.logger.Warn().Err(err).Str("arm", armID).Msg("discarding unreadable bandit checkpoint")
		return nil
	}
	return fromSnapshot(snap)
}
