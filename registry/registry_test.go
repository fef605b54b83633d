package registry

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestDescriptor(id string) *Descriptor {
	return &Descriptor{
		ID:           id,
		Kind:         KindRemoteInference,
		Capabilities: map[string]struct{}{"chat": {}},
		Warmth:       T1,
	}
}

func TestListFiltersByKindAndCapability(t *testing.T) {
	r := New(zerolog.Nop())
	r.Register(newTestDescriptor("w1"))
	local := newTestDescriptor("w2")
	local.Kind = KindLocalInference
	local.Capabilities = map[string]struct{}{"search": {}}
	r.Register(local)

	got := r.List(KindRemoteInference, "chat")
	if len(got) != 1 || got[0].ID != "w1" {
		t.Fatalf("expected only w1, got %+v", got)
	}

	got = r.List("", "search")
	if len(got) != 1 || got[0].ID != "w2" {
		t.Fatalf("expected only w2, got %+v", got)
	}
}

func TestUpdateStatsAppliesEMA(t *testing.T) {
	r := New(zerolog.Nop())
	r.Register(newTestDescriptor("w1"))

	r.UpdateStats("w1", 100*time.Millisecond, true, 0.01)
	d, _ := r.Get("w1")
	if d.Stats.EMALatency != 100*time.Millisecond {
		t.Fatalf("expected first sample to seed EMA exactly, got %v", d.Stats.EMALatency)
	}
	if d.Stats.EMASuccess != 1.0 {
		t.Fatalf("expected EMASuccess 1.0 after first success, got %v", d.Stats.EMASuccess)
	}

	r.UpdateStats("w1", 200*time.Millisecond, false, 0.01)
	d, _ = r.Get("w1")
	wantLatency := time.Duration(0.2*float64(200*time.Millisecond) + 0.8*float64(100*time.Millisecond))
	if d.Stats.EMALatency != wantLatency {
		t.Fatalf("expected EMA latency %v, got %v", wantLatency, d.Stats.EMALatency)
	}
	if d.Stats.TotalCalls != 2 {
		t.Fatalf("expected 2 total calls, got %d", d.Stats.TotalCalls)
	}
}

func TestHealthDegradesUnderSuccessRateThreshold(t *testing.T) {
	r := New(zerolog.Nop())
	r.Register(newTestDescriptor("w1"))

	for i := 0; i < 20; i++ {
		success := i%3 == 0 // well below 0.5
		r.RecordProbe("w1", success, 10*time.Millisecond)
	}
	d, _ := r.Get("w1")
	if d.Health != HealthDegraded {
		t.Fatalf("expected degraded health from low success rate, got %s", d.Health)
	}
}

func TestHealthUnavailableAfterThreeConsecutiveProbeFailures(t *testing.T) {
	r := New(zerolog.Nop())
	r.Register(newTestDescriptor("w1"))

	r.RecordProbe("w1", false, 0)
	r.RecordProbe("w1", false, 0)
	d, _ := r.Get("w1")
	if d.Health == HealthUnavailable {
		t.Fatal("expected not yet unavailable after only two failures")
	}
	r.RecordProbe("w1", false, 0)
	d, _ = r.Get("w1")
	if d.Health != HealthUnavailable {
		t.Fatalf("expected unavailable after three consecutive failures, got %s", d.Health)
	}
}

func TestMarkNonReadyInvokesInvalidation(t *testing.T) {
	r := New(zerolog.Nop())
	r.Register(newTestDescriptor("w1"))
	r.Mark("w1", HealthReady)

	invalidated := ""
	r.OnInvalidate(func(id string) { invalidated = id })
	r.Mark("w1", HealthUnavailable)

	if invalidated != "w1" {
		t.Fatalf("expected invalidation for w1, got %q", invalidated)
	}
}
