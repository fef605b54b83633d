/*
Logic:       Per-principal budget ledger: atomic monetary decrement with
             underflow refusal, a reserve-then-settle flow so a request's
             estimated cost is held before a worker call and trued up to
             actual cost afterward, and a sliding rate-limit counter
             sharing the same cache-backed primitives.
Root Cause:  Spec §3 BudgetLedger: "{ remaining: float, window_start:
             time, rate_counter: int, rate_window: duration }. Decrement
             is atomic; on underflow the operation fails with
             BudgetExceeded and no cost is recorded." §6: "Namespace
             budget: key principal_id:window, value the remaining
             monetary units; decremented atomically."
Context:     Adapted from tokenhub's internal/apikey/budget.go
             BudgetChecker (spend tracked per key against a monthly cap,
             a short TTL cache sitting in front of the store), re-targeted
             from a read-only spend check to a full reserve/settle/refund
             ledger backed by cache.Cache's DecrBounded so it survives
             process restarts and is shared across instances. Monetary
             units are stored as int64 micro-dollars (value * 1e6) since
             DecrBounded's atomicity guarantee is only available for
             integers.
*/
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vantage-ai/orchestrator/cache"
	"github.com/vantage-ai/orchestrator/orcherr"
)

const microUnit = 1_000_000

// dollarsToMicro converts a monetary float to the fixed-point integer the
// cache's DecrBounded operates on.
func dollarsToMicro(v float64) int64 { return int64(v * microUnit) }

func microToDollars(v int64) float64 { return float64(v) / microUnit }

// ReservationStatus is the lifecycle state of a Reservation.
type ReservationStatus string

const (
	StatusReserved ReservationStatus = "reserved"
	StatusSettled  ReservationStatus = "settled"
	StatusRefunded ReservationStatus = "refunded"
)

// Reservation is a pre-flight hold against a principal's budget, trued up
// once the worker call's actual cost is known.
type Reservation struct {
	ID            string
	PrincipalID   string
	Window        string
	EstimatedCost float64
	ActualCost    float64
	Status        ReservationStatus
	CreatedAt     time.Time
	SettledAt     time.Time
}

// Ledger enforces per-principal, per-window monetary budgets atop the
// shared cache. It holds in-process bookkeeping for open reservations
// (so Settle/Refund can true up the exact amount originally decremented)
// but the authoritative balance always lives in the cache.
type Ledger struct {
	cache *cache.Cache

	mu           sync.Mutex
	reservations map[string]*Reservation
}

// New constructs a Ledger backed by c.
func New(c *cache.Cache) *Ledger {
	return &Ledger{cache: c, reservations: make(map[string]*Reservation)}
}

func windowKey(principalID, window string) []byte {
	return cache.PrincipalKey(principalID, window)
}

// EnsureFunded seeds a principal's window balance to startingBudget if no
// balance is currently recorded for that window. It is a no-op if the
// window already has a balance (including zero), so repeated calls never
// top a principal back up mid-window.
func (l *Ledger) EnsureFunded(ctx context.Context, principalID, window string, startingBudget float64, windowTTL time.Duration) error {
	key := windowKey(principalID, window)
	if _, ok := l.cache.Get(ctx, cache.NamespaceBudget, key); ok {
		return nil
	}
	l.cache.Set(ctx, cache.NamespaceBudget, key, encodeMicro(dollarsToMicro(startingBudget)), windowTTL)
	return nil
}

// Reserve atomically holds estimatedCost against the principal's window
// balance. On underflow it returns an *orcherr.Error of kind
// BudgetExceeded and records no cost (§3 BudgetLedger invariant).
func (l *Ledger) Reserve(ctx context.Context, reservationID, principalID, window string, estimatedCost float64) (*Reservation, error) {
	key := windowKey(principalID, window)
	amount := dollarsToMicro(estimatedCost)

	newValue, ok, err := l.cache.DecrBounded(ctx, cache.NamespaceBudget, key, amount, 0)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.BudgetUnknown, err)
	}
	if !ok {
		return nil, orcherr.New(orcherr.BudgetExceeded,
			fmt.Sprintf("estimated cost %.4f exceeds remaining budget", estimatedCost))
	}
	_ = newValue

	r := &Reservation{
		ID:            reservationID,
		PrincipalID:   principalID,
		Window:        window,
		EstimatedCost: estimatedCost,
		Status:        StatusReserved,
		CreatedAt:     time.Now(),
	}
	l.mu.Lock()
	l.reservations[reservationID] = r
	l.mu.Unlock()
	return r, nil
}

// Settle finalises a reservation with the actual cost incurred. If
// actualCost is less than the estimate, the difference is credited back;
// if it is more, the difference is decremented (best-effort — it is not
// re-checked against the floor, since the work already happened and the
// spec's invariant only binds the running sum, not mid-flight refusal).
func (l *Ledger) Settle(ctx context.Context, reservationID string, actualCost float64) (*Reservation, error) {
	l.mu.Lock()
	r, ok := l.reservations[reservationID]
	l.mu.Unlock()
	if !ok {
		return nil, orcherr.New(orcherr.Unknown, "reservation not found: "+reservationID)
	}
	if r.Status != StatusReserved {
		return nil, orcherr.New(orcherr.Unknown, "reservation already finalised: "+reservationID)
	}

	key := windowKey(r.PrincipalID, r.Window)
	delta := dollarsToMicro(r.EstimatedCost - actualCost) // positive => credit back
	if delta != 0 {
		if _, err := l.cache.Incr(ctx, cache.NamespaceBudget, key, delta, 0); err != nil {
			return nil, orcherr.Wrap(orcherr.TransientStoreError, err)
		}
	}

	r.ActualCost = actualCost
	r.Status = StatusSettled
	r.SettledAt = time.Now()
	return r, nil
}

// Refund credits the entire estimated cost back to the principal's
// balance and marks the reservation cancelled (e.g. the worker call
// failed before producing any billable output).
func (l *Ledger) Refund(ctx context.Context, reservationID string) (*Reservation, error) {
	l.mu.Lock()
	r, ok := l.reservations[reservationID]
	l.mu.Unlock()
	if !ok {
		return nil, orcherr.New(orcherr.Unknown, "reservation not found: "+reservationID)
	}
	if r.Status != StatusReserved {
		return nil, orcherr.New(orcherr.Unknown, "reservation already finalised: "+reservationID)
	}

	key := windowKey(r.PrincipalID, r.Window)
	amount := dollarsToMicro(r.EstimatedCost)
	if amount != 0 {
		if _, err := l.cache.Incr(ctx, cache.NamespaceBudget, key, amount, 0); err != nil {
			return nil, orcherr.Wrap(orcherr.TransientStoreError, err)
		}
	}

	r.ActualCost = 0
	r.Status = StatusRefunded
	r.SettledAt = time.Now()
	return r, nil
}

// Remaining reports the current balance for a principal's window. ok is
// false if no balance has been recorded yet (never funded or expired).
func (l *Ledger) Remaining(ctx context.Context, principalID, window string) (float64, bool) {
	v, ok := l.cache.Get(ctx, cache.NamespaceBudget, windowKey(principalID, window))
	if !ok {
		return 0, false
	}
	return microToDollars(decodeMicro(v)), true
}

// RateLimiter tracks a per-principal sliding request-rate counter,
// sharing the cache's namespaced-incr primitive (§3 rate_counter /
// rate_window, §4.1 NamespaceRate).
type RateLimiter struct {
	cache *cache.Cache
}

// NewRateLimiter constructs a RateLimiter backed by c.
func NewRateLimiter(c *cache.Cache) *RateLimiter {
	return &RateLimiter{cache: c}
}

// Allow increments the principal's request counter for the current
// window and reports whether the request is within limitRPM. On a
// TransientStoreError the caller fails open (logged by the cache layer)
// since rate limiting is a fairness control, not a correctness one.
func (rl *RateLimiter) Allow(ctx context.Context, principalID string, limitRPM int, window time.Duration) (bool, error) {
	key := cache.PrincipalKey(principalID, "rate")
	count, err := rl.cache.Incr(ctx, cache.NamespaceRate, key, 1, window)
	if err != nil {
		return true, orcherr.Wrap(orcherr.TransientStoreError, err)
	}
	return count <= int64(limitRPM), nil
}
