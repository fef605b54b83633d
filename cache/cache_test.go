package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestCache() *Cache {
	return New(zerolog.Nop(), nil, NewMemoryBackend(100))
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()
	key := ContentKey("hello world")

	c.Set(ctx, NamespaceResponse, key, []byte("cached value"), time.Minute)
	v, ok := c.Get(ctx, NamespaceResponse, key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(v) != "cached value" {
		t.Fatalf("unexpected value: %s", v)
	}
}

func TestIncrIdempotentAccumulation(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()
	key := PrincipalKey("p1", "requests")

	if _, err := c.Incr(ctx, NamespaceRate, key, 1, time.Minute); err != nil {
		t.Fatal(err)
	}
	v, err := c.Incr(ctx, NamespaceRate, key, 1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Fatalf("expected accumulated value 2, got %d", v)
	}
}

func TestDecrBoundedConcurrentExactlyMinSucceeds(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()
	key := PrincipalKey("p2", "budget")

	const balance = 7
	const attempts = 20
	if _, err := c.Incr(ctx, NamespaceBudget, key, balance, 0); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var successCount int64
	var mu sync.Mutex
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := c.DecrBounded(ctx, NamespaceBudget, key, 1, 0)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successCount != balance {
		t.Fatalf("expected exactly %d successful decrements, got %d", balance, successCount)
	}

	final, _ := c.Get(ctx, NamespaceBudget, key)
	if decodeInt64(final) != 0 {
		t.Fatalf("expected final balance 0, got %d", decodeInt64(final))
	}
}

func TestDecrBoundedRefusesBelowFloor(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()
	key := PrincipalKey("p3", "budget")

	if _, err := c.Incr(ctx, NamespaceBudget, key, 5, 0); err != nil {
		t.Fatal(err)
	}
	_, ok, err := c.DecrBounded(ctx, NamespaceBudget, key, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected decrement below floor to be refused")
	}
	v, _ := c.Get(ctx, NamespaceBudget, key)
	if decodeInt64(v) != 5 {
		t.Fatalf("expected balance unchanged at 5, got %d", decodeInt64(v))
	}
}

func TestMetricsHitRate(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()
	key := ContentKey("x")

	c.Get(ctx, NamespaceResponse, key) // miss
	c.Set(ctx, NamespaceResponse, key, []byte("v"), time.Minute)
	c.Get(ctx, NamespaceResponse, key) // hit

	m := c.Metrics()
	if m.Hits != 1 || m.Misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %+v", m)
	}
	if m.HitRate != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %v", m.HitRate)
	}
}
