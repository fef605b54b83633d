/*
Logic:       The Graph definition and its registration-time validator:
             exactly one start node, at least one terminal, every
             non-terminal node has outgoing edges with full label
             coverage, every node reachable from start and able to reach
             a terminal, and the graph is acyclic.
Root Cause:  Spec §4.4 "The graph is validated at registration" — the
             five bullet invariants.
Context:     Adapted from other_examples' langgraph-go Engine's
             Add/StartAt registration pattern (a builder that accumulates
             nodes/edges before Run), with the validation checks written
             directly from the spec's bullets since neither the
             langgraph-go reference nor tokenhub's provider/routing
             packages validate topology this exhaustively.
*/
package graph

import (
	"fmt"
)

// Graph is a named, validated node/edge topology.
type Graph struct {
	Name         string
	nodes        map[string]*NodeSpec
	edges        map[string]Edge // keyed by From
	start        string
	terminals    map[string]struct{}
	errorHandler string
}

// NewGraph constructs an empty, unvalidated Graph builder.
func NewGraph(name string) *Graph {
	return &Graph{
		Name:      name,
		nodes:     make(map[string]*NodeSpec),
		edges:     make(map[string]Edge),
		terminals: make(map[string]struct{}),
	}
}

// AddNode registers a node. Call StartAt/AddEdge/AddTerminal/
// SetErrorHandler to complete the topology before Validate.
func (g *Graph) AddNode(spec NodeSpec) *Graph {
	g.nodes[spec.Name] = &spec
	if spec.IsTerminal {
		g.terminals[spec.Name] = struct{}{}
	}
	return g
}

// StartAt designates the single entry node.
func (g *Graph) StartAt(name string) *Graph {
	g.start = name
	return g
}

// AddEdge registers node's outgoing edge (unconditional or conditional).
func (g *Graph) AddEdge(edge Edge) *Graph {
	g.edges[edge.From] = edge
	return g
}

// SetErrorHandler designates the node every unhandled error routes to.
func (g *Graph) SetErrorHandler(name string) *Graph {
	g.errorHandler = name
	return g
}

// Validate checks the five registration invariants from §4.4 and
// returns a descriptive error for the first violation found.
func (g *Graph) Validate() error {
	if g.start == "" {
		return fmt.Errorf("graph %s: no start node designated", g.Name)
	}
	if _, ok := g.nodes[g.start]; !ok {
		return fmt.Errorf("graph %s: start node %q not registered", g.Name, g.start)
	}
	if len(g.terminals) == 0 {
		return fmt.Errorf("graph %s: no terminal node declared", g.Name)
	}

	// in-degree 0 for start from within the graph.
	for from, e := range g.edges {
		if from == g.start {
			continue
		}
		if e.To == g.start {
			return fmt.Errorf("graph %s: start node %q has nonzero in-degree (edge from %s)", g.Name, g.start, from)
		}
		for _, to := range e.Mapping {
			if to == g.start {
				return fmt.Errorf("graph %s: start node %q has nonzero in-degree (conditional edge from %s)", g.Name, g.start, from)
			}
		}
	}

	for name, spec := range g.nodes {
		if spec.IsTerminal {
			if _, hasEdge := g.edges[name]; hasEdge {
				return fmt.Errorf("graph %s: terminal node %q has an outgoing edge", g.Name, name)
			}
			continue
		}
		e, ok := g.edges[name]
		if !ok {
			return fmt.Errorf("graph %s: non-terminal node %q has no outgoing edge", g.Name, name)
		}
		if e.isConditional() {
			for _, label := range e.Labels {
				if _, ok := e.Mapping[label]; !ok {
					return fmt.Errorf("graph %s: node %q predicate label %q has no mapping entry", g.Name, name, label)
				}
			}
			for _, to := range e.Mapping {
				if _, ok := g.nodes[to]; !ok {
					return fmt.Errorf("graph %s: node %q maps to unregistered node %q", g.Name, name, to)
				}
			}
		} else if _, ok := g.nodes[e.To]; !ok {
			return fmt.Errorf("graph %s: node %q points to unregistered node %q", g.Name, name, e.To)
		}
	}

	if err := g.checkReachability(); err != nil {
		return err
	}
	if err := g.checkAcyclic(); err != nil {
		return err
	}
	return nil
}

func (g *Graph) successors(name string) []string {
	e, ok := g.edges[name]
	if !ok {
		return nil
	}
	if e.isConditional() {
		out := make([]string, 0, len(e.Mapping))
		for _, to := range e.Mapping {
			out = append(out, to)
		}
		return out
	}
	return []string{e.To}
}

func (g *Graph) checkReachability() error {
	reachable := make(map[string]struct{})
	queue := []string{g.start}
	// The error handler is entered from any node on an unhandled error,
	// so it counts as reachable without an incoming edge.
	if g.errorHandler != "" {
		queue = append(queue, g.errorHandler)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if _, seen := reachable[n]; seen {
			continue
		}
		reachable[n] = struct{}{}
		queue = append(queue, g.successors(n)...)
	}
	for name := range g.nodes {
		if _, ok := reachable[name]; !ok {
			return fmt.Errorf("graph %s: node %q is not reachable from start", g.Name, name)
		}
	}

	canReachTerminal := make(map[string]bool)
	var dfs func(string, map[string]bool) bool
	dfs = func(name string, visiting map[string]bool) bool {
		if v, ok := canReachTerminal[name]; ok {
			return v
		}
		if _, isTerm := g.terminals[name]; isTerm {
			canReachTerminal[name] = true
			return true
		}
		if visiting[name] {
			return false
		}
		visiting[name] = true
		for _, to := range g.successors(name) {
			if dfs(to, visiting) {
				canReachTerminal[name] = true
				return true
			}
		}
		canReachTerminal[name] = false
		return false
	}
	for name := range g.nodes {
		if !dfs(name, map[string]bool{}) {
			return fmt.Errorf("graph %s: node %q cannot reach any terminal", g.Name, name)
		}
	}
	return nil
}

func (g *Graph) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var visit func(string) error
	visit = func(name string) error {
		color[name] = gray
		for _, to := range g.successors(name) {
			switch color[to] {
			case gray:
				return fmt.Errorf("graph %s: cycle detected involving node %q", g.Name, to)
			case white:
				if err := visit(to); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}
	for name := range g.nodes {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}
