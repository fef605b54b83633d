package bandit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantage-ai/orchestrator/cache"
	"github.com/vantage-ai/orchestrator/execstate"
)

func newTestBandit(t *testing.T) *Bandit {
	t.Helper()
	c := cache.New(zerolog.Nop(), nil, cache.NewMemoryBackend(100))
	declared := []Arm{
		{ID: "arm-a", WorkflowID: "wf-a"},
		{ID: "arm-b", WorkflowID: "wf-b"},
	}
	return New(context.Background(), c, zerolog.Nop(), Config{}, declared, 42)
}

func TestBanditPrefersHigherPosteriorArm(t *testing.T) {
	b := newTestBandit(t)
	// Bias arm-a heavily toward success and arm-b heavily toward failure.
	for i := 0; i < 50; i++ {
		b.Update("arm-a", 1.0)
		b.Update("arm-b", 0.0)
	}

	counts := map[string]int{}
	for i := 0; i < 500; i++ {
		arm, err := b.Select(false)
		if err != nil {
			t.Fatalf("select error: %v", err)
		}
		counts[arm.ID]++
	}
	if counts["arm-a"] <= counts["arm-b"] {
		t.Fatalf("expected arm-a to win a clear majority of selections, got %v", counts)
	}
}

func TestBanditTieBreakPrefersFewerSelectionsThenLexicographicID(t *testing.T) {
	a := NewArm("b-arm", "wf")
	b := NewArm("a-arm", "wf")
	a.NSelections = 5
	b.NSelections = 5
	if !tieBreak(b, a) {
		t.Fatalf("expected lexicographically smaller id to win equal n_selections tie")
	}

	a.NSelections = 1
	b.NSelections = 5
	if !tieBreak(a, b) {
		t.Fatalf("expected fewer n_selections to win regardless of id")
	}
}

func TestBanditQuarantinesOnSustainedFailureAndClears(t *testing.T) {
	b := newTestBandit(t)
	for i := 0; i < successWindow; i++ {
		b.Update("arm-a", 0.0)
	}
	snap := b.Snapshot()
	var armA Arm
	for _, a := range snap {
		if a.ID == "arm-a" {
			armA = a
		}
	}
	if !armA.Quarantined {
		t.Fatalf("expected arm-a to be quarantined after a sustained failure run")
	}

	// Production selection must never return a quarantined arm while
	// any eligible arm remains.
	for i := 0; i < 50; i++ {
		arm, err := b.Select(false)
		if err != nil {
			t.Fatalf("select error: %v", err)
		}
		if arm.ID == "arm-a" {
			t.Fatalf("quarantined arm-a must not be selected for production traffic")
		}
	}

	// Shadow selection must still be able to reach it.
	reached := false
	for i := 0; i < 50; i++ {
		arm, err := b.SelectShadow("arm-b")
		if err != nil {
			t.Fatalf("shadow select error: %v", err)
		}
		if arm.ID == "arm-a" {
			reached = true
		}
	}
	if !reached {
		t.Fatalf("expected shadow selection to still be able to pick the quarantined arm")
	}

	for i := 0; i < successWindow; i++ {
		b.Update("arm-a", 1.0)
	}
	snap = b.Snapshot()
	for _, a := range snap {
		if a.ID == "arm-a" && a.Quarantined {
			t.Fatalf("expected arm-a to clear quarantine after a sustained recovery run")
		}
	}
}

func TestBanditCheckpointRestoreRoundTrip(t *testing.T) {
	c := cache.New(zerolog.Nop(), nil, cache.NewMemoryBackend(100))
	declared := []Arm{{ID: "arm-a", WorkflowID: "wf-a"}}
	b1 := New(context.Background(), c, zerolog.Nop(), Config{}, declared, 1)
	for i := 0; i < 10; i++ {
		b1.Update("arm-a", 1.0)
	}
	b1.CheckpointAll(context.Background())

	b2 := New(context.Background(), c, zerolog.Nop(), Config{}, declared, 2)
	snap := b2.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one restored arm, got %d", len(snap))
	}
	if snap[0].NSelections != 10 {
		t.Fatalf("expected restored n_selections=10, got %d", snap[0].NSelections)
	}
	if snap[0].Alpha != 11 {
		t.Fatalf("expected restored alpha=11 (1 cold start + 10 successes), got %v", snap[0].Alpha)
	}
}

func TestBanditColdStartsWhenNoCheckpointPresent(t *testing.T) {
	b := newTestBandit(t)
	snap := b.Snapshot()
	for _, a := range snap {
		if a.Alpha != 1 || a.Beta != 1 || a.NSelections != 0 {
			t.Fatalf("expected cold-started arm, got %+v", a)
		}
	}
}

func TestShadowRunnerUpdatesArmWithoutAffectingProductionResponse(t *testing.T) {
	b := newTestBandit(t)
	b.cfg.ShadowRate = 1.0 // always fire, for a deterministic test

	called := make(chan string, 1)
	exec := func(ctx context.Context, workflowID string, state *execstate.ExecutionState) (*execstate.ExecutionState, error) {
		state.FinalResponse = "shadow-response"
		state.AppendPath("some_node")
		called <- workflowID
		return state, nil
	}

	runner := NewShadowRunner(b, exec, 1.0, zerolog.Nop(), 7)
	prodState := execstate.New("q", "c", "p", "s", "hi", 1.0, time.Now().Add(time.Minute), execstate.QualityBalanced)
	prodState.FinalResponse = "production-response"

	runner.MaybeRun(context.Background(), "arm-a", prodState)

	select {
	case wf := <-called:
		if wf != "wf-b" {
			t.Fatalf("expected shadow execution against the non-production arm's workflow, got %q", wf)
		}
	case <-time.After(time.Second):
		t.Fatalf("shadow execution did not run")
	}

	if prodState.FinalResponse != "production-response" {
		t.Fatalf("shadow execution must never mutate the production response")
	}
}
