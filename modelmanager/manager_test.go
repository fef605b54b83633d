package modelmanager

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantage-ai/orchestrator/cache"
	"github.com/vantage-ai/orchestrator/execstate"
	"github.com/vantage-ai/orchestrator/orcherr"
	"github.com/vantage-ai/orchestrator/registry"
	"github.com/vantage-ai/orchestrator/routing"
)

type fakeClient struct {
	generateErr   error
	generateCalls int
	loadErr       error
}

func (f *fakeClient) Generate(ctx context.Context, worker registry.Descriptor, prompt string, params GenerateParams) (execstate.NodeResult, error) {
	f.generateCalls++
	if f.generateErr != nil {
		return execstate.NodeResult{}, f.generateErr
	}
	return execstate.NodeResult{Success: true, Confidence: 0.9, Cost: 0.01}, nil
}

func (f *fakeClient) Load(ctx context.Context, worker registry.Descriptor) error   { return f.loadErr }
func (f *fakeClient) Unload(ctx context.Context, worker registry.Descriptor) error { return nil }

func newTestManager(client WorkerClient) (*Manager, *registry.Registry) {
	reg := registry.New(zerolog.Nop())
	c := cache.New(zerolog.Nop(), nil, cache.NewMemoryBackend(100))
	m := New(reg, c, client, zerolog.Nop(), Config{ResidentBudgetBytes: 1 << 30, RetryBudget: 3})
	return m, reg
}

func TestSelectPrefersHigherWarmth(t *testing.T) {
	m, reg := newTestManager(&fakeClient{})
	reg.Register(&registry.Descriptor{ID: "t1worker", Kind: registry.KindRemoteInference, Warmth: registry.T1, Health: registry.HealthReady, Capabilities: map[string]struct{}{"chat": {}}})
	reg.Register(&registry.Descriptor{ID: "t0worker", Kind: registry.KindRemoteInference, Warmth: registry.T0, Health: registry.HealthReady, Capabilities: map[string]struct{}{"chat": {}}})

	d, err := m.Select(context.Background(), "chat", execstate.QualityBalanced, Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != "t0worker" {
		t.Fatalf("expected t0worker selected for higher warmth, got %s", d.ID)
	}
}

func TestSelectFailsWithNoEligibleWorker(t *testing.T) {
	m, _ := newTestManager(&fakeClient{})
	_, err := m.Select(context.Background(), "nonexistent", execstate.QualityBalanced, Constraints{})
	if orcherr.KindOf(err) != orcherr.NoEligibleWorker {
		t.Fatalf("expected NoEligibleWorker, got %v", err)
	}
}

func TestSelectExcludesWorkersOverCostConstraint(t *testing.T) {
	m, reg := newTestManager(&fakeClient{})
	reg.Register(&registry.Descriptor{ID: "cheap", Kind: registry.KindRemoteInference, Warmth: registry.T1, Health: registry.HealthReady, CostPerUnit: 0.001, Capabilities: map[string]struct{}{"chat": {}}})
	reg.Register(&registry.Descriptor{ID: "expensive", Kind: registry.KindRemoteInference, Warmth: registry.T0, Health: registry.HealthReady, CostPerUnit: 1.0, Capabilities: map[string]struct{}{"chat": {}}})

	d, err := m.Select(context.Background(), "chat", execstate.QualityBalanced, Constraints{MaxCostPerCall: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != "cheap" {
		t.Fatalf("expected cheap worker under cost constraint, got %s", d.ID)
	}
}

func TestGenerateRetriesTransientFailure(t *testing.T) {
	client := &fakeClient{generateErr: orcherr.New(orcherr.WorkerTimeout, "connection reset")}
	m, reg := newTestManager(client)
	reg.Register(&registry.Descriptor{ID: "w1", Kind: registry.KindRemoteInference, Warmth: registry.T1, Health: registry.HealthReady})
	d, _ := reg.Get("w1")

	_, err := m.Generate(context.Background(), d, "hi", GenerateParams{})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if client.generateCalls != 3 {
		t.Fatalf("expected 3 attempts (retry_budget), got %d", client.generateCalls)
	}
}

func TestEnsureResidentPinsT0(t *testing.T) {
	m, reg := newTestManager(&fakeClient{})
	reg.Register(&registry.Descriptor{ID: "w1", Kind: registry.KindLocalInference, Warmth: registry.T0, FootprintBytes: 1024})
	d, _ := reg.Get("w1")

	if err := m.EnsureResident(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	got, _ := reg.Get("w1")
	if got.Health != registry.HealthReady {
		t.Fatalf("expected ready after ensure_resident, got %s", got.Health)
	}
}

func TestSelectExcludesWorkersOutsideAllowedRegion(t *testing.T) {
	m, reg := newTestManager(&fakeClient{})
	reg.Register(&registry.Descriptor{ID: "eu-worker", Kind: registry.KindRemoteInference, Warmth: registry.T1, Health: registry.HealthReady, Regions: []string{"eu-west"}, Capabilities: map[string]struct{}{"chat": {}}})
	reg.Register(&registry.Descriptor{ID: "us-worker", Kind: registry.KindRemoteInference, Warmth: registry.T1, Health: registry.HealthReady, Regions: []string{"us-east"}, Capabilities: map[string]struct{}{"chat": {}}})

	d, err := m.Select(context.Background(), "chat", execstate.QualityBalanced, Constraints{AllowedRegions: []routing.Region{routing.RegionEUWest}})
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != "eu-worker" {
		t.Fatalf("expected eu-worker selected under region constraint, got %s", d.ID)
	}
}

func TestSelectHonorsForceWorkerRule(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	c := cache.New(zerolog.Nop(), nil, cache.NewMemoryBackend(100))
	reg.Register(&registry.Descriptor{ID: "default", Kind: registry.KindRemoteInference, Warmth: registry.T0, Health: registry.HealthReady, Capabilities: map[string]struct{}{"chat": {}}})
	reg.Register(&registry.Descriptor{ID: "overridden", Kind: registry.KindRemoteInference, Warmth: registry.T1, Health: registry.HealthReady, Capabilities: map[string]struct{}{"chat": {}}})

	rules := routing.NewRuleSet(zerolog.Nop())
	rules.AddRule(routing.Rule{
		ID:             "force-override",
		Priority:       1,
		Enabled:        true,
		Conditions:     []routing.Condition{{Field: "task_type", Operator: routing.OpEquals, Value: "chat"}},
		Action:         routing.ActionForceWorker,
		TargetWorkerID: "overridden",
	})

	m := New(reg, c, &fakeClient{}, zerolog.Nop(), Config{ResidentBudgetBytes: 1 << 30, RetryBudget: 3, Rules: rules, DefaultWorkerByTask: map[string]string{"chat": "default"}})

	d, err := m.Select(context.Background(), "chat", execstate.QualityBalanced, Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != "overridden" {
		t.Fatalf("expected rule override to win over default_worker mapping, got %s", d.ID)
	}
}

func TestEnsureResidentEvictsIdleT1ForT2Load(t *testing.T) {
	m, reg := newTestManager(&fakeClient{})
	reg.Register(&registry.Descriptor{ID: "old", Kind: registry.KindLocalInference, Warmth: registry.T1, FootprintBytes: 8})
	reg.Register(&registry.Descriptor{ID: "new", Kind: registry.KindLocalInference, Warmth: registry.T2, FootprintBytes: 8})

	m.residents = NewResidentSet(reg, &fakeClient{}, zerolog.Nop(), 10, time.Millisecond)

	old, _ := reg.Get("old")
	if err := m.EnsureResident(context.Background(), old); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	newer, _ := reg.Get("new")
	if err := m.EnsureResident(context.Background(), newer); err != nil {
		t.Fatalf("expected eviction of idle T1 to make room, got error: %v", err)
	}
}
