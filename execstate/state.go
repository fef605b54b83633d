/*
Logic:       The ExecutionState and NodeResult shapes shared by the graph
             engine, model manager, and workflows — the data model every
             node reads from and writes back into.
Root Cause:  Spec §3 DATA MODEL: ExecutionState is "owned by a single
             in-flight request; mutated only by the engine's active
             node"; NodeResult is "returned by every node. The engine
             merges data into state.intermediate keyed by node name; it
             accumulates cost, execution_time, confidence."
Context:     No single example repo owns an equivalent single-request-
             scoped state struct; built directly from the data model
             above, using the same struct-of-maps shape tokenhub's own
             request-scoped bookkeeping uses elsewhere (apikey.
             BudgetChecker's cachedSpend, router.RewardLog).
*/
package execstate

import (
	"time"
)

// QualityTier is the requested response-quality tier.
type QualityTier string

const (
	QualityMinimal  QualityTier = "minimal"
	QualityBalanced QualityTier = "balanced"
	QualityHigh     QualityTier = "high"
	QualityPremium  QualityTier = "premium"
)

// Turn is one message in the conversation history.
type Turn struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// ErrorRecord is a structured error entry appended to ExecutionState.Errors
// or .Warnings (§3).
type ErrorRecord struct {
	Kind      string
	Message   string
	Node      string
	Timestamp time.Time
}

// ExecutionState is the single-request-scoped state threaded through the
// graph engine. It is never shared across requests and is mutated only
// by the currently executing node (§3 Ownership).
type ExecutionState struct {
	QueryID       string
	CorrelationID string
	PrincipalID   string
	SessionID     string

	OriginalQuery       string
	ConversationHistory []Turn

	Intermediate map[string]any

	BudgetRemaining float64
	StartingBudget  float64
	Deadline        time.Time
	QualityTier     QualityTier

	ExecutionPath []string

	Confidences map[string]float64
	Costs       map[string]float64

	Errors   []ErrorRecord
	Warnings []ErrorRecord

	FinalResponse string
	ResponseMeta  map[string]any
}

// New constructs an ExecutionState with a deadline strictly in the future
// and all maps initialised (§3 invariant: "deadline is monotonic and
// strictly in the future at construction").
func New(queryID, correlationID, principalID, sessionID, query string, startingBudget float64, deadline time.Time, tier QualityTier) *ExecutionState {
	return &ExecutionState{
		QueryID:         queryID,
		CorrelationID:   correlationID,
		PrincipalID:     principalID,
		SessionID:       sessionID,
		OriginalQuery:   query,
		Intermediate:    make(map[string]any),
		BudgetRemaining: startingBudget,
		StartingBudget:  startingBudget,
		Deadline:        deadline,
		QualityTier:     tier,
		Confidences:     make(map[string]float64),
		Costs:           make(map[string]float64),
		ResponseMeta:    make(map[string]any),
	}
}

// AppendPath records a node as having run, unless it is the same node
// that just ran (§3 invariant: "every name in execution_path appears at
// most once consecutively").
func (s *ExecutionState) AppendPath(node string) {
	if n := len(s.ExecutionPath); n > 0 && s.ExecutionPath[n-1] == node {
		return
	}
	s.ExecutionPath = append(s.ExecutionPath, node)
}

// Merge folds a NodeResult for the given node name into the state:
// intermediate data, cost/confidence accounting, and path tracking.
func (s *ExecutionState) Merge(node string, result NodeResult) {
	s.AppendPath(node)
	if result.Data != nil {
		s.Intermediate[node] = result.Data
	}
	s.Costs[node] += result.Cost
	s.Confidences[node] = result.Confidence
	if result.Error != nil {
		s.Errors = append(s.Errors, ErrorRecord{
			Kind:      string(result.Error.Kind),
			Message:   result.Error.Message,
			Node:      node,
			Timestamp: time.Now(),
		})
	}
}

// TotalCost sums every node's recorded cost (§8: sum(NodeResult.cost)).
func (s *ExecutionState) TotalCost() float64 {
	total := 0.0
	for _, c := range s.Costs {
		total += c
	}
	return total
}

// LastNode returns the most recently executed node name, or "" if none
// has run yet.
func (s *ExecutionState) LastNode() string {
	if n := len(s.ExecutionPath); n > 0 {
		return s.ExecutionPath[n-1]
	}
	return ""
}

// CloneForShadow builds an independent ExecutionState for a shadow
// execution of the same request: same identifiers and query, but its
// own budget and deadline so it cannot starve the production request's
// accounting (§4.6 Shadow execution).
func (s *ExecutionState) CloneForShadow(budget float64, deadline time.Time) *ExecutionState {
	return New(s.QueryID, s.CorrelationID, s.PrincipalID, s.SessionID, s.OriginalQuery, budget, deadline, s.QualityTier)
}

// NodeResult is the uniform return value of every graph node (§3).
type NodeResult struct {
	Success       bool
	Confidence    float64
	Data          any
	Cost          float64
	ExecutionTime time.Duration
	WorkerUsed    string
	Error         *NodeError
	// Handled tells the engine the node already resolved its own error
	// (e.g. produced a degraded-but-usable result) so routing should
	// proceed normally instead of diverting to error_handler (§4.4 step
	// 3: "if the node does not declare handled").
	Handled  bool
	Metadata map[string]any
}

// NodeError is the {kind, message} error shape a NodeResult carries
// instead of a raised Go error.
type NodeError struct {
	Kind    string
	Message string
}
