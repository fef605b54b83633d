/*
Logic:       The execution loop: invoke the current node, merge its
             result, decide the next node from unconditional/conditional
             edges, wrap every invocation with a per-node timeout and its
             declared retry policy, and short-circuit to error_handler on
             routing failure or deadline overrun.
Root Cause:  Spec §4.4 Execution steps 1-5, per-node timeout (default
             30s), retry policy, and the three tie-break/edge-case rules
             (unmapped label, error_handler failure, deadline mid-graph).
Context:     Adapted from other_examples' langgraph-go Engine.Run loop
             structurally (step loop bounded by MaxSteps, per-node
             context derivation, emitter hooks) but replacing its
             generic Reducer[S]/Frontier concurrent-node machinery —
             which this graph's strictly-sequential, acyclic topology
             doesn't need — with the spec's simpler single-active-node
             walk, and its emit.Emitter with zerolog per this module's
             own structured-logging convention (logger/logger.go).
*/
package graph

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantage-ai/orchestrator/execstate"
	"github.com/vantage-ai/orchestrator/orcherr"
)

// DefaultPerNodeTimeout is used when a NodeSpec does not declare one
// (§4.4: "per_node_timeout (default 30 s, overridable per node)").
const DefaultPerNodeTimeout = 30 * time.Second

// ExecutionRecord is one node's observability record (§4.4 Observability).
type ExecutionRecord struct {
	NodeName   string
	StartedAt  time.Time
	Duration   time.Duration
	Success    bool
	Confidence float64
	Cost       float64
}

// GraphStats is the per-graph rolling observability aggregate (§4.4).
type GraphStats struct {
	TotalExecutions int64
	SuccessCount    int64
	EMADuration     time.Duration
	TopFailingNode  string

	failuresByNode map[string]int64
}

const statsEMAAlpha = 0.2

// Engine runs a validated Graph against an ExecutionState.
type Engine struct {
	graph  *Graph
	logger zerolog.Logger

	mu    sync.Mutex
	stats GraphStats
}

// New validates graph and constructs an Engine for it. Returns an error
// if the graph fails registration validation.
func New(g *Graph, logger zerolog.Logger) (*Engine, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		graph:  g,
		logger: logger.With().Str("component", "graph_engine").Str("graph", g.Name).Logger(),
		stats:  GraphStats{failuresByNode: make(map[string]int64)},
	}, nil
}

// Run executes the graph from its start node to a terminal, mutating
// state in place and returning it (or a synthetic terminal result if
// both the primary path and error_handler fail).
func (e *Engine) Run(ctx context.Context, state *execstate.ExecutionState) (*execstate.ExecutionState, error) {
	current := e.graph.start
	records := make([]ExecutionRecord, 0, 8)

	for {
		if !state.Deadline.IsZero() && time.Now().After(state.Deadline) {
			rec, handlerErr := e.runErrorHandler(ctx, state, orcherr.New(orcherr.DeadlineExceeded, "request deadline reached mid-graph"))
			records = append(records, rec)
			e.recordStats(records)
			return state, handlerErr
		}

		spec, ok := e.graph.nodes[current]
		if !ok {
			return state, orcherr.New(orcherr.GraphRoutingError, "unregistered node reached: "+current)
		}

		rec, result := e.invoke(ctx, spec, state)
		records = append(records, rec)
		state.Merge(spec.Name, result)

		if result.Error != nil && !result.Handled {
			rec2, handlerErr := e.runErrorHandler(ctx, state, orcherrFromNode(result.Error))
			records = append(records, rec2)
			e.recordStats(records)
			return state, handlerErr
		}

		if spec.IsTerminal {
			e.recordStats(records)
			return state, nil
		}

		next, err := e.route(ctx, spec.Name, state)
		if err != nil {
			rec2, handlerErr := e.runErrorHandler(ctx, state, err)
			records = append(records, rec2)
			e.recordStats(records)
			return state, handlerErr
		}
		current = next
	}
}

// route resolves the successor of name given the (post-merge) state.
func (e *Engine) route(ctx context.Context, name string, state *execstate.ExecutionState) (string, error) {
	edge, ok := e.graph.edges[name]
	if !ok {
		return "", orcherr.New(orcherr.GraphRoutingError, "node has no outgoing edge: "+name)
	}
	if !edge.isConditional() {
		return edge.To, nil
	}
	label := edge.Predicate(ctx, state)
	to, ok := edge.Mapping[label]
	if !ok {
		return "", orcherr.New(orcherr.GraphRoutingError, "predicate returned unmapped label: "+label)
	}
	return to, nil
}

// invoke wraps one node call with its timeout and retry policy. Only the
// final attempt's NodeResult is merged by the caller (§4.4).
func (e *Engine) invoke(ctx context.Context, spec *NodeSpec, state *execstate.ExecutionState) (ExecutionRecord, execstate.NodeResult) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultPerNodeTimeout
	}
	attempts := spec.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	started := time.Now()
	var result execstate.NodeResult
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && spec.Retry.Backoff > 0 {
			time.Sleep(spec.Retry.Backoff)
		}
		result = e.invokeOnce(ctx, spec, state, timeout)
		if result.Error == nil {
			break
		}
		kind := orcherr.Kind(result.Error.Kind)
		if !spec.Retry.shouldRetry(kind) {
			break
		}
	}

	return ExecutionRecord{
		NodeName:   spec.Name,
		StartedAt:  started,
		Duration:   time.Since(started),
		Success:    result.Error == nil,
		Confidence: result.Confidence,
		Cost:       result.Cost,
	}, result
}

func (e *Engine) invokeOnce(ctx context.Context, spec *NodeSpec, state *execstate.ExecutionState, timeout time.Duration) execstate.NodeResult {
	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result execstate.NodeResult
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		done <- outcome{result: spec.Node.Run(nodeCtx, state)}
	}()

	select {
	case o := <-done:
		if o.result.ExecutionTime == 0 {
			o.result.ExecutionTime = time.Since(start)
		}
		return o.result
	case <-nodeCtx.Done():
		return execstate.NodeResult{
			Success:       false,
			ExecutionTime: time.Since(start),
			Error:         &execstate.NodeError{Kind: string(orcherr.WorkerTimeout), Message: "node exceeded per-node timeout"},
		}
	}
}

// runErrorHandler invokes the graph's designated error_handler node with
// the triggering error attached, producing a synthetic terminal result
// if the handler itself fails or is absent (§4.4 edge cases).
func (e *Engine) runErrorHandler(ctx context.Context, state *execstate.ExecutionState, cause error) (ExecutionRecord, error) {
	if e.graph.errorHandler == "" {
		state.FinalResponse = ""
		return ExecutionRecord{NodeName: "error_handler", StartedAt: time.Now(), Success: false}, cause
	}
	spec, ok := e.graph.nodes[e.graph.errorHandler]
	if !ok {
		state.FinalResponse = ""
		return ExecutionRecord{NodeName: "error_handler", StartedAt: time.Now(), Success: false}, cause
	}

	rec, result := e.invoke(ctx, spec, state)
	state.Merge(spec.Name, result)

	if result.Error != nil {
		state.FinalResponse = ""
		return rec, cause
	}
	return rec, nil
}

func orcherrFromNode(ne *execstate.NodeError) error {
	return orcherr.New(orcherr.Kind(ne.Kind), ne.Message)
}

func (e *Engine) recordStats(records []ExecutionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.TotalExecutions++
	allSucceeded := true
	var worstFailure string
	for _, rec := range records {
		if !rec.Success {
			allSucceeded = false
			e.stats.failuresByNode[rec.NodeName]++
			if worstFailure == "" || e.stats.failuresByNode[rec.NodeName] > e.stats.failuresByNode[e.stats.TopFailingNode] {
				worstFailure = rec.NodeName
			}
		}
		if e.stats.EMADuration == 0 {
			e.stats.EMADuration = rec.Duration
		} else {
			e.stats.EMADuration = time.Duration(statsEMAAlpha*float64(rec.Duration) + (1-statsEMAAlpha)*float64(e.stats.EMADuration))
		}
	}
	if allSucceeded {
		e.stats.SuccessCount++
	}
	if worstFailure != "" {
		e.stats.TopFailingNode = worstFailure
	}
}

// Stats returns a snapshot of the engine's rolling observability stats.
func (e *Engine) Stats() GraphStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return GraphStats{
		TotalExecutions: e.stats.TotalExecutions,
		SuccessCount:    e.stats.SuccessCount,
		EMADuration:     e.stats.EMADuration,
		TopFailingNode:  e.stats.TopFailingNode,
	}
}
