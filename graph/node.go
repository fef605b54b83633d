/*
Logic:       The Node contract and per-node declarations (timeout, retry
             policy) the engine wraps every invocation with.
Root Cause:  Spec §4.4: "a node is a pure function of ExecutionState
             returning a NodeResult ... must not mutate state directly;
             the engine applies the merge ... must respect
             state.deadline." Retry policy is "a node-level declaration,
             not a graph edge."
Context:     Adapted from other_examples' langgraph-go Node[S] interface
             (Run(ctx, state) NodeResult[S]), dropping the generic state
             parameter since this engine is scoped to one concrete
             execstate.ExecutionState rather than an arbitrary S, which
             matches tokenhub's own preference for concrete interfaces
             over generics throughout its provider/routing packages.
*/
package graph

import (
	"context"
	"time"

	"github.com/vantage-ai/orchestrator/execstate"
	"github.com/vantage-ai/orchestrator/orcherr"
)

// Node is a pure function of ExecutionState returning a NodeResult. It
// must never mutate state directly — the engine applies NodeResult.Data
// to state.Intermediate itself.
type Node interface {
	Run(ctx context.Context, state *execstate.ExecutionState) execstate.NodeResult
}

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc func(ctx context.Context, state *execstate.ExecutionState) execstate.NodeResult

func (f NodeFunc) Run(ctx context.Context, state *execstate.ExecutionState) execstate.NodeResult {
	return f(ctx, state)
}

// RetryPolicy is a node-level declaration of how many attempts to make
// and on which error kinds to retry, applied transparently within step 1
// of execution — only the final attempt's NodeResult is merged (§4.4).
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	RetryOn     map[orcherr.Kind]struct{}
}

func (p RetryPolicy) shouldRetry(kind orcherr.Kind) bool {
	if p.MaxAttempts <= 1 {
		return false
	}
	if len(p.RetryOn) == 0 {
		return false
	}
	_, ok := p.RetryOn[kind]
	return ok
}

// NodeSpec is a registered node: its name, implementation, and the
// per-node timeout/retry declarations the engine enforces around it.
type NodeSpec struct {
	Name        string
	Node        Node
	Timeout     time.Duration // 0 means DefaultPerNodeTimeout
	Retry       RetryPolicy
	IsTerminal  bool
}
