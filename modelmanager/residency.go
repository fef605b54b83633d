/*
Logic:       Single admission controller serialising every resident-set
             mutation so two concurrent loads that individually fit never
             jointly overflow the resident budget. Implements the
             per-warmth-tier eviction discipline: T0 pinned, T1 kept
             until an idle threshold forces eviction to make room, T2
             evicted as soon as it goes idle, T3 never auto-loaded.
Root Cause:  Spec §4.3 Resident set policy and "Eviction is serialised
             through a single admission controller ... to prevent the
             known failure mode where two concurrent loads each
             individually fit but jointly overflow."
Context:     No file in the pack owns an equivalent resource-bounded
             admission controller; grounded directly on the requirement
             above, using the same single-mutex-around-a-map idiom
             tokenhub uses for its idempotency cache (internal/idempotency
             /cache.go's TTL-bounded map with size eviction) and model
             registry (models.Registry), adapted from "guard a map of
             live resources" to "guard a capacity budget and serialise
             admission decisions".
*/
package modelmanager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantage-ai/orchestrator/orcherr"
	"github.com/vantage-ai/orchestrator/registry"
)

// shortIdleDivisor derives the T2 "short idle threshold" from the
// configured T1 idle threshold, since the spec names both concepts but
// only makes T1's threshold explicitly configurable.
const shortIdleDivisor = 6

type residentEntry struct {
	worker   registry.Descriptor
	lastUsed time.Time
}

// ResidentSet is the admission controller governing which workers are
// currently loaded, bounded by a total footprint budget.
type ResidentSet struct {
	mu       sync.Mutex
	registry *registry.Registry
	client   WorkerClient
	logger   zerolog.Logger

	budgetBytes   int64
	idleThreshold time.Duration

	resident map[string]*residentEntry
	used     int64
}

// NewResidentSet constructs a ResidentSet bounded by budgetBytes.
func NewResidentSet(reg *registry.Registry, client WorkerClient, logger zerolog.Logger, budgetBytes int64, idleThreshold time.Duration) *ResidentSet {
	if idleThreshold <= 0 {
		idleThreshold = 10 * time.Minute
	}
	return &ResidentSet{
		registry:      reg,
		client:        client,
		logger:        logger.With().Str("component", "resident_set").Logger(),
		budgetBytes:   budgetBytes,
		idleThreshold: idleThreshold,
		resident:      make(map[string]*residentEntry),
	}
}

// PinStartup loads T0 workers unconditionally and marks them pinned —
// never evicted by later admission decisions.
func (rs *ResidentSet) PinStartup(ctx context.Context, worker registry.Descriptor) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.loadLocked(ctx, worker)
}

// EnsureResident admits worker into the resident set if not already
// present, evicting per the tier discipline if necessary to make room.
// It returns ResidentSetBusy if no eviction plan frees enough room, or
// LoadFailed if the client's Load call itself errors.
func (rs *ResidentSet) EnsureResident(ctx context.Context, worker registry.Descriptor) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, ok := rs.resident[worker.ID]; ok {
		rs.resident[worker.ID].lastUsed = time.Now()
		return nil
	}

	if rs.used+worker.FootprintBytes > rs.budgetBytes {
		if !rs.makeRoomLocked(worker) {
			return orcherr.New(orcherr.ResidentSetBusy, "resident budget exhausted, no evictable candidate for worker "+worker.ID)
		}
	}

	return rs.loadLocked(ctx, worker)
}

// makeRoomLocked evicts T1 candidates whose last_used exceeds the idle
// threshold (to make room for a T2/T3 load, per §4.3) until enough
// footprint is freed, or T2 candidates unconditionally since they are
// evicted as soon as idle. T0 is never considered. Returns whether
// enough room was freed.
func (rs *ResidentSet) makeRoomLocked(incoming registry.Descriptor) bool {
	need := rs.used + incoming.FootprintBytes - rs.budgetBytes

	type candidate struct {
		id       string
		entry    *residentEntry
	}
	var t2, t1idle []candidate
	now := time.Now()
	for id, e := range rs.resident {
		if e.worker.Warmth == registry.T0 {
			continue
		}
		if e.worker.Warmth == registry.T2 {
			t2 = append(t2, candidate{id, e})
			continue
		}
		if e.worker.Warmth == registry.T1 && now.Sub(e.lastUsed) > rs.idleThreshold {
			t1idle = append(t1idle, candidate{id, e})
		}
	}
	// T2 idle candidates evict first (short idle threshold means they
	// should already be gone), then oldest-idle T1 candidates.
	sort.Slice(t1idle, func(i, j int) bool { return t1idle[i].entry.lastUsed.Before(t1idle[j].entry.lastUsed) })

	freed := int64(0)
	evict := func(c candidate) {
		freed += c.entry.worker.FootprintBytes
		rs.evictLocked(c.id)
	}
	for _, c := range t2 {
		if freed >= need {
			break
		}
		evict(c)
	}
	for _, c := range t1idle {
		if freed >= need {
			break
		}
		evict(c)
	}
	return freed >= need
}

func (rs *ResidentSet) loadLocked(ctx context.Context, worker registry.Descriptor) error {
	rs.registry.Mark(worker.ID, registry.HealthLoading)
	if err := rs.client.Load(ctx, worker); err != nil {
		rs.registry.Mark(worker.ID, registry.HealthUnavailable)
		return orcherr.Wrap(orcherr.LoadFailed, err)
	}
	rs.resident[worker.ID] = &residentEntry{worker: worker, lastUsed: time.Now()}
	rs.used += worker.FootprintBytes
	rs.registry.Mark(worker.ID, registry.HealthReady)
	return nil
}

func (rs *ResidentSet) evictLocked(id string) {
	e, ok := rs.resident[id]
	if !ok {
		return
	}
	rs.registry.Mark(id, registry.HealthEvicting)
	_ = rs.client.Unload(context.Background(), e.worker)
	rs.used -= e.worker.FootprintBytes
	delete(rs.resident, id)
	rs.registry.Mark(id, registry.HealthUnloaded)
}

// SweepIdleT2 evicts any resident T2 worker idle longer than the short
// idle threshold. Intended to run on a periodic tick alongside the
// health poller.
func (rs *ResidentSet) SweepIdleT2() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	shortIdle := rs.idleThreshold / shortIdleDivisor
	now := time.Now()
	for id, e := range rs.resident {
		if e.worker.Warmth == registry.T2 && now.Sub(e.lastUsed) > shortIdle {
			rs.evictLocked(id)
		}
	}
}
