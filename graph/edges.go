/*
Logic:       The two edge shapes a graph may declare between nodes, and
             the predicate contract a conditional edge routes through.
Root Cause:  Spec §4.4: "E contains either unconditional edges (u, v) or
             conditional edges (u, predicate, mapping: label → v)."
*/
package graph

import (
	"context"

	"github.com/vantage-ai/orchestrator/execstate"
)

// Predicate inspects post-merge state and returns a routing label. The
// label set it can return must be declared via Labels so the graph can
// validate every label has a mapping entry at registration time (§4.4).
type Predicate func(ctx context.Context, state *execstate.ExecutionState) string

// Edge is the outgoing routing rule for one node.
type Edge struct {
	From string

	// Unconditional successor; empty if this is a conditional edge.
	To string

	// Conditional routing: Predicate decides a label, Mapping resolves
	// it to a successor node name. Labels is the predicate's full
	// declared label set, checked against Mapping's keys at Validate
	// time (§4.4: "every label returned by the predicate on any
	// possible state must be a key in mapping").
	Predicate Predicate
	Mapping   map[string]string
	Labels    []string
}

func (e Edge) isConditional() bool { return e.Predicate != nil }
