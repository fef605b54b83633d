package graph

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantage-ai/orchestrator/execstate"
	"github.com/vantage-ai/orchestrator/orcherr"
)

func newState() *execstate.ExecutionState {
	return execstate.New("q1", "c1", "p1", "s1", "hello", 10.0, time.Now().Add(time.Hour), execstate.QualityBalanced)
}

func ok(data any) execstate.NodeResult {
	return execstate.NodeResult{Success: true, Confidence: 1, Data: data}
}

func TestEngineRunsHappyPathToTerminal(t *testing.T) {
	g := NewGraph("happy")
	g.AddNode(NodeSpec{Name: "a", Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		return ok("a-done")
	})})
	g.AddNode(NodeSpec{Name: "b", IsTerminal: true, Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		s.FinalResponse = "final"
		return ok("b-done")
	})})
	g.StartAt("a")
	g.AddEdge(Edge{From: "a", To: "b"})

	e, err := New(g, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	state := newState()
	out, err := e.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if out.FinalResponse != "final" {
		t.Fatalf("expected final response set, got %q", out.FinalResponse)
	}
	if len(out.ExecutionPath) != 2 || out.ExecutionPath[0] != "a" || out.ExecutionPath[1] != "b" {
		t.Fatalf("unexpected execution path: %v", out.ExecutionPath)
	}
}

func TestEngineConditionalRouting(t *testing.T) {
	g := NewGraph("cond")
	g.AddNode(NodeSpec{Name: "classify", Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		return ok("classified")
	})})
	g.AddNode(NodeSpec{Name: "cheap", IsTerminal: true, Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		s.FinalResponse = "cheap-path"
		return ok(nil)
	})})
	g.AddNode(NodeSpec{Name: "expensive", IsTerminal: true, Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		s.FinalResponse = "expensive-path"
		return ok(nil)
	})})
	g.StartAt("classify")
	g.AddEdge(Edge{
		From:      "classify",
		Predicate: func(ctx context.Context, s *execstate.ExecutionState) string { return "low" },
		Mapping:   map[string]string{"low": "cheap", "high": "expensive"},
		Labels:    []string{"low", "high"},
	})

	e, err := New(g, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	out, err := e.Run(context.Background(), newState())
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if out.FinalResponse != "cheap-path" {
		t.Fatalf("expected cheap-path, got %q", out.FinalResponse)
	}
}

func TestEngineSynthesizesTimeoutOnSlowNode(t *testing.T) {
	g := NewGraph("slow")
	g.AddNode(NodeSpec{
		Name:    "a",
		Timeout: 10 * time.Millisecond,
		Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
			<-ctx.Done()
			return ok(nil)
		}),
	})
	g.AddNode(NodeSpec{Name: "handler", IsTerminal: true, Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		return ok(nil)
	})})
	g.AddNode(NodeSpec{Name: "b", IsTerminal: true, Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		return ok(nil)
	})})
	g.StartAt("a")
	g.AddEdge(Edge{From: "a", To: "b"})
	g.SetErrorHandler("handler")

	e, err := New(g, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	out, err := e.Run(context.Background(), newState())
	if err != nil {
		t.Fatalf("unexpected run error (handler succeeded): %v", err)
	}
	if len(out.Errors) == 0 || out.Errors[0].Kind != string(orcherr.WorkerTimeout) {
		t.Fatalf("expected a synthesized WorkerTimeout error, got %v", out.Errors)
	}
}

func TestEngineRetriesThenSucceeds(t *testing.T) {
	g := NewGraph("retry-ok")
	attempts := 0
	g.AddNode(NodeSpec{
		Name: "a",
		Retry: RetryPolicy{
			MaxAttempts: 3,
			RetryOn:     map[orcherr.Kind]struct{}{orcherr.TransientStoreError: {}},
		},
		Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
			attempts++
			if attempts < 3 {
				return execstate.NodeResult{Error: &execstate.NodeError{Kind: string(orcherr.TransientStoreError), Message: "flaky"}}
			}
			return ok("recovered")
		}),
	})
	g.AddNode(NodeSpec{Name: "b", IsTerminal: true, Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		return ok(nil)
	})})
	g.StartAt("a")
	g.AddEdge(Edge{From: "a", To: "b"})

	e, err := New(g, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	out, err := e.Run(context.Background(), newState())
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
	if len(out.Errors) != 0 {
		t.Fatalf("expected no error recorded once recovered, got %v", out.Errors)
	}
}

func TestEngineRetryExhaustedRoutesToErrorHandler(t *testing.T) {
	g := NewGraph("retry-exhausted")
	attempts := 0
	g.AddNode(NodeSpec{
		Name: "a",
		Retry: RetryPolicy{
			MaxAttempts: 2,
			RetryOn:     map[orcherr.Kind]struct{}{orcherr.TransientStoreError: {}},
		},
		Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
			attempts++
			return execstate.NodeResult{Error: &execstate.NodeError{Kind: string(orcherr.TransientStoreError), Message: "always flaky"}}
		}),
	})
	g.AddNode(NodeSpec{Name: "handler", IsTerminal: true, Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		s.FinalResponse = "handled"
		return ok(nil)
	})})
	g.AddNode(NodeSpec{Name: "b", IsTerminal: true, Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		return ok(nil)
	})})
	g.StartAt("a")
	g.AddEdge(Edge{From: "a", To: "b"})
	g.SetErrorHandler("handler")

	e, err := New(g, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	out, err := e.Run(context.Background(), newState())
	if err != nil {
		t.Fatalf("unexpected run error (handler succeeded): %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
	if out.FinalResponse != "handled" {
		t.Fatalf("expected error_handler to have run, got final response %q", out.FinalResponse)
	}
}

func TestEngineDeadlineShortCircuitsToErrorHandler(t *testing.T) {
	g := NewGraph("deadline")
	g.AddNode(NodeSpec{Name: "a", Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		return ok(nil)
	})})
	g.AddNode(NodeSpec{Name: "handler", IsTerminal: true, Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		s.FinalResponse = "deadline-handled"
		return ok(nil)
	})})
	g.AddNode(NodeSpec{Name: "b", IsTerminal: true, Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		return ok(nil)
	})})
	g.StartAt("a")
	g.AddEdge(Edge{From: "a", To: "b"})
	g.SetErrorHandler("handler")

	e, err := New(g, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	state := newState()
	state.Deadline = time.Now().Add(-time.Minute)
	out, err := e.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected run error (handler succeeded): %v", err)
	}
	if out.FinalResponse != "deadline-handled" {
		t.Fatalf("expected error_handler to run on expired deadline, got %q", out.FinalResponse)
	}
}

func TestEngineUnmappedLabelProducesGraphRoutingError(t *testing.T) {
	g := NewGraph("unmapped")
	g.AddNode(NodeSpec{Name: "a", Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		return ok(nil)
	})})
	g.AddNode(NodeSpec{Name: "b", IsTerminal: true, Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		return ok(nil)
	})})
	g.StartAt("a")
	// Declare only "x" as a label so Validate passes, but have the
	// predicate return something else at runtime to exercise the
	// unmapped-label path rather than rejecting it at registration.
	g.AddEdge(Edge{
		From:      "a",
		Predicate: func(ctx context.Context, s *execstate.ExecutionState) string { return "unexpected" },
		Mapping:   map[string]string{"x": "b"},
		Labels:    []string{"x"},
	})

	e, err := New(g, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	out, err := e.Run(context.Background(), newState())
	if err == nil {
		t.Fatalf("expected a routing error, got none (final=%q)", out.FinalResponse)
	}
	if orcherr.KindOf(err) != orcherr.GraphRoutingError {
		t.Fatalf("expected GraphRoutingError, got %v", err)
	}
}

func TestEngineErrorHandlerFailureProducesSyntheticTerminal(t *testing.T) {
	g := NewGraph("handler-fails")
	g.AddNode(NodeSpec{Name: "a", Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		return execstate.NodeResult{Error: &execstate.NodeError{Kind: string(orcherr.Unknown), Message: "boom"}}
	})})
	g.AddNode(NodeSpec{Name: "handler", IsTerminal: true, Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		return execstate.NodeResult{Error: &execstate.NodeError{Kind: string(orcherr.Unknown), Message: "handler also failed"}}
	})})
	g.AddNode(NodeSpec{Name: "b", IsTerminal: true, Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		return ok(nil)
	})})
	g.StartAt("a")
	g.AddEdge(Edge{From: "a", To: "b"})
	g.SetErrorHandler("handler")

	e, err := New(g, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	state := newState()
	out, err := e.Run(context.Background(), state)
	if err == nil {
		t.Fatalf("expected the original error to propagate when error_handler itself fails")
	}
	if out.FinalResponse != "" {
		t.Fatalf("expected empty final_response on double failure, got %q", out.FinalResponse)
	}
}

func TestEngineStatsAggregateAcrossRuns(t *testing.T) {
	g := NewGraph("stats")
	g.AddNode(NodeSpec{Name: "a", IsTerminal: true, Node: NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		return ok(nil)
	})})
	g.StartAt("a")

	e, err := New(g, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := e.Run(context.Background(), newState()); err != nil {
			t.Fatalf("unexpected run error: %v", err)
		}
	}
	stats := e.Stats()
	if stats.TotalExecutions != 3 || stats.SuccessCount != 3 {
		t.Fatalf("expected 3/3 successful executions, got %+v", stats)
	}
}
