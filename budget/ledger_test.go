package budget

import (
	"context"
	"testing"
	"time"

	"github.com/vantage-ai/orchestrator/cache"
	"github.com/vantage-ai/orchestrator/orcherr"
	"github.com/rs/zerolog"
)

func newTestLedger() *Ledger {
	c := cache.New(zerolog.Nop(), nil, cache.NewMemoryBackend(100))
	return New(c)
}

func TestReserveSucceedsWithinBudget(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	if err := l.EnsureFunded(ctx, "p1", "w1", 10.0, time.Hour); err != nil {
		t.Fatal(err)
	}
	r, err := l.Reserve(ctx, "req1", "p1", "w1", 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != StatusReserved {
		t.Fatalf("expected reserved status, got %s", r.Status)
	}
	remaining, ok := l.Remaining(ctx, "p1", "w1")
	if !ok || remaining != 9.0 {
		t.Fatalf("expected remaining 9.0, got %v (ok=%v)", remaining, ok)
	}
}

func TestReserveFailsOnExhaustedBudget(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	if err := l.EnsureFunded(ctx, "p2", "w1", 0.001, time.Hour); err != nil {
		t.Fatal(err)
	}
	_, err := l.Reserve(ctx, "req2", "p2", "w1", 0.01)
	if err == nil {
		t.Fatal("expected BudgetExceeded error")
	}
	if orcherr.KindOf(err) != orcherr.BudgetExceeded {
		t.Fatalf("expected BudgetExceeded, got %v", orcherr.KindOf(err))
	}
	remaining, ok := l.Remaining(ctx, "p2", "w1")
	if !ok || remaining != 0.001 {
		t.Fatalf("expected balance unchanged at 0.001, got %v", remaining)
	}
}

func TestSettleCreditsBackUnusedEstimate(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	if err := l.EnsureFunded(ctx, "p3", "w1", 5.0, time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Reserve(ctx, "req3", "p3", "w1", 2.0); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Settle(ctx, "req3", 0.5); err != nil {
		t.Fatal(err)
	}
	remaining, ok := l.Remaining(ctx, "p3", "w1")
	if !ok {
		t.Fatal("expected balance to exist")
	}
	if remaining != 4.5 {
		t.Fatalf("expected remaining 4.5 after settling 0.5 of a 2.0 hold, got %v", remaining)
	}
}

func TestRefundReturnsFullEstimate(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	if err := l.EnsureFunded(ctx, "p4", "w1", 5.0, time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Reserve(ctx, "req4", "p4", "w1", 2.0); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Refund(ctx, "req4"); err != nil {
		t.Fatal(err)
	}
	remaining, ok := l.Remaining(ctx, "p4", "w1")
	if !ok || remaining != 5.0 {
		t.Fatalf("expected balance restored to 5.0, got %v", remaining)
	}
}

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	c := cache.New(zerolog.Nop(), nil, cache.NewMemoryBackend(100))
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "p5", 3, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("request %d unexpectedly rate limited", i)
		}
	}
	ok, err := rl.Allow(ctx, "p5", 3, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected 4th request to be rate limited")
	}
}

func TestTokenCounterEstimatesNonZero(t *testing.T) {
	tc := NewTokenCounter(0)
	if got := tc.EstimateTokens("hello world"); got <= 0 {
		t.Fatalf("expected positive token estimate, got %d", got)
	}
	if got := tc.EstimateTokens(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty string, got %d", got)
	}
}

func TestPricingTableFallsBackToModelOnlyKey(t *testing.T) {
	pt := NewPricingTable()
	pt.Upsert("customproxy", "gpt-4o", WorkerPrice{InputPer1M: 1, OutputPer1M: 2})
	cost := pt.Calculate("customproxy", "gpt-4o", 1_000_000, 0)
	if cost != 1.0 {
		t.Fatalf("expected cost 1.0, got %v", cost)
	}
	if cost := pt.Calculate("azure", "gpt-4o-mini", 1_000_000, 0); cost != 0.15 {
		t.Fatalf("expected model-only fallback to the gpt-4o-mini price 0.15, got %v", cost)
	}
	if cost := pt.Calculate("unknown", "unknown-model", 1_000_000, 1_000_000); cost != 0 {
		t.Fatalf("expected 0 cost for unknown model, got %v", cost)
	}
}
