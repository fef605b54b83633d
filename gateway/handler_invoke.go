/*
Logic:       HTTP handlers mapping requests to a workflow invocation: a
             bandit-routed general query endpoint, two direct endpoints
             that bypass arm selection for a named workflow, and an arm
             snapshot endpoint for observability.
Root Cause:  Spec §2 C7 Request Gateway, §8 data flow: "Gateway ->
             (optional) Adaptive Router selects an arm -> the arm names a
             workflow -> Graph Engine runs that workflow -> nodes call
             Model Manager and Cache -> final state is projected to the
             gateway response -> router observes outcome and updates
             bandit posterior."
Context:     Grounded on tokenhub's handlers_chat.go ChatCompletions
             handler shape (decode request, build context, invoke,
             encode response) generalised from a single provider call to
             a full graph run.
*/
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vantage-ai/orchestrator/analytics"
	"github.com/vantage-ai/orchestrator/bandit"
	"github.com/vantage-ai/orchestrator/execstate"
	"github.com/vantage-ai/orchestrator/orcherr"
)

const budgetWindow = "daily"

// estimatedCostHeuristic is the flat pre-flight reservation held before a
// workflow runs; the real cost is only known after Model Manager selects
// a worker, so this is trued up via Ledger.Settle once the graph
// finishes (§3 BudgetLedger reserve/settle flow).
const estimatedCostHeuristic = 0.02

type queryRequest struct {
	SessionID   string `json:"session_id"`
	Query       string `json:"query"`
	QualityTier string `json:"quality_tier"`
}

type queryResponse struct {
	QueryID       string         `json:"query_id"`
	Response      string         `json:"response"`
	ArmID         string         `json:"arm_id,omitempty"`
	WorkflowID    string         `json:"workflow_id"`
	ExecutionPath []string       `json:"execution_path"`
	Cost          float64        `json:"cost"`
	Degraded      bool           `json:"degraded,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// handleQuery is the bandit-routed general entrypoint: the Adaptive
// Router picks an arm, the arm names a workflow, and a shadow execution
// may run alongside it purely to update the shadow arm's posterior.
func (g *Gateway) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQueryRequest(w, r)
	if !ok {
		return
	}

	arm, err := g.banditRouter.Select(false)
	if err != nil {
		writeOrchError(w, err)
		return
	}

	state, reservationID, ok := g.prepareState(w, r, req, arm.ID)
	if !ok {
		return
	}

	start := time.Now()
	out, err := g.runWorkflow(r.Context(), arm.WorkflowID, state)
	elapsed := time.Since(start)

	reward := g.finishExecution(r.Context(), reservationID, arm.ID, out, err, elapsed)
	g.banditRouter.UpdateWithLatency(arm.ID, reward, elapsed)
	g.shadow.MaybeRun(r.Context(), arm.ID, state)

	g.writeWorkflowResult(w, arm.ID, arm.WorkflowID, out, err)
}

// handleChatCompletions bypasses the bandit and always runs the "chat"
// workflow directly (an OpenAI-compatible surface for callers that
// already know they want a direct conversational answer).
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	g.handleDirectWorkflow(w, r, "chat")
}

// handleSearch bypasses the bandit and always runs the "search" workflow.
func (g *Gateway) handleSearch(w http.ResponseWriter, r *http.Request) {
	g.handleDirectWorkflow(w, r, "search")
}

func (g *Gateway) handleDirectWorkflow(w http.ResponseWriter, r *http.Request, workflowID string) {
	req, ok := decodeQueryRequest(w, r)
	if !ok {
		return
	}

	state, reservationID, ok := g.prepareState(w, r, req, "")
	if !ok {
		return
	}

	start := time.Now()
	out, err := g.runWorkflow(r.Context(), workflowID, state)
	elapsed := time.Since(start)

	g.finishExecution(r.Context(), reservationID, "", out, err, elapsed)
	g.writeWorkflowResult(w, "", workflowID, out, err)
}

// handleBanditArms reports the current posterior of every declared arm,
// for dashboards and alerting on quarantine state.
func (g *Gateway) handleBanditArms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.banditRouter.Snapshot())
}

func decodeQueryRequest(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOrchError(w, orcherr.New(orcherr.Unknown, "malformed request body"))
		return queryRequest{}, false
	}
	if req.Query == "" {
		writeOrchError(w, orcherr.New(orcherr.Unknown, "query must not be empty"))
		return queryRequest{}, false
	}
	return req, true
}

// prepareState resolves the principal, funds/reserves its budget window,
// and constructs a fresh ExecutionState for one workflow invocation.
func (g *Gateway) prepareState(w http.ResponseWriter, r *http.Request, req queryRequest, armID string) (*execstate.ExecutionState, string, bool) {
	ctx := r.Context()
	principalID := resolvePrincipalID(r)
	tier := resolveTier(r)
	limits := g.cfg.TierLimitsFor(tier)

	if err := g.ledger.EnsureFunded(ctx, principalID, budgetWindow, limits.BudgetMonetary, limits.BudgetWindow); err != nil {
		writeOrchError(w, orcherr.Wrap(orcherr.BudgetUnknown, err))
		return nil, "", false
	}

	reservationID := newQueryID()
	if _, err := g.ledger.Reserve(ctx, reservationID, principalID, budgetWindow, estimatedCostHeuristic); err != nil {
		writeOrchError(w, err)
		return nil, "", false
	}

	tierValue := execstate.QualityTier(req.QualityTier)
	if tierValue == "" {
		tierValue = execstate.QualityBalanced
	}

	deadline := time.Now().Add(g.cfg.RequestDeadlineDefault)
	state := execstate.New(newQueryID(), chiRequestID(r), principalID, req.SessionID, req.Query, limits.BudgetMonetary, deadline, tierValue)
	if armID != "" {
		state.ResponseMeta["arm_id"] = armID
	}
	return state, reservationID, true
}

// finishExecution settles or refunds the reservation, records analytics
// and metrics, and returns the reward computed from the terminal state
// for the caller to feed back into the bandit posterior.
func (g *Gateway) finishExecution(ctx context.Context, reservationID, armID string, out *execstate.ExecutionState, err error, elapsed time.Duration) float64 {
	return g.finishStreamedExecution(ctx, reservationID, armID, out, err, elapsed, false, 0)
}

// finishStreamedExecution is finishExecution plus the streaming reward
// term: ttft is the time from dispatch to the first chunk written to the
// stream sink, zero when nothing streamed before the workflow finished.
func (g *Gateway) finishStreamedExecution(ctx context.Context, reservationID, armID string, out *execstate.ExecutionState, err error, elapsed time.Duration, streaming bool, ttft time.Duration) float64 {
	if err != nil || out == nil {
		g.ledger.Refund(ctx, reservationID)
		if armID != "" {
			g.pipeline.Track(analytics.Event{Kind: analytics.EventReward, ArmID: armID, Reward: 0, RecordedAt: time.Now()})
		}
		return 0
	}

	cost := out.TotalCost()
	g.ledger.Settle(ctx, reservationID, cost)

	reward := bandit.ComputeReward(bandit.RewardInputs{
		ExecutionTime:     elapsed,
		Terminal:          out.LastNode(),
		FinalResponse:     out.FinalResponse,
		Cost:              cost,
		CostTarget:        out.StartingBudget,
		Streaming:         streaming,
		TimeToFirstToken:  ttft,
	})

	g.metrics.TrackRequest("", out.LastNode(), "/v1/query", http.StatusOK, float64(elapsed.Milliseconds()), 0, false)
	if armID != "" {
		g.pipeline.Track(analytics.Event{Kind: analytics.EventReward, ArmID: armID, Reward: reward, RecordedAt: time.Now()})
		g.reportQuarantineTransitions(g.banditRouter.Snapshot())
	}
	g.pipeline.Track(analytics.Event{
		Kind:       analytics.EventExecution,
		WorkflowID: out.LastNode(),
		Success:    out.LastNode() != "error_handler",
		DurationMs: elapsed.Milliseconds(),
		Confidence: out.Confidences[out.LastNode()],
		Cost:       cost,
		RecordedAt: time.Now(),
	})

	return reward
}

func (g *Gateway) writeWorkflowResult(w http.ResponseWriter, armID, workflowID string, out *execstate.ExecutionState, err error) {
	if err != nil {
		writeOrchError(w, err)
		return
	}

	degraded, _ := out.ResponseMeta["degraded"].(bool)
	resp := queryResponse{
		QueryID:       out.QueryID,
		Response:      out.FinalResponse,
		ArmID:         armID,
		WorkflowID:    workflowID,
		ExecutionPath: out.ExecutionPath,
		Cost:          out.TotalCost(),
		Degraded:      degraded,
		Meta:          out.ResponseMeta,
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOrchError renders an *orcherr.Error (or any error) as the
// gateway's structured error envelope, withholding content for the
// kinds §7 marks as user-facing-only (no partial generation leaked).
func writeOrchError(w http.ResponseWriter, err error) {
	kind := orcherr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case orcherr.BudgetExceeded:
		status = http.StatusPaymentRequired
	case orcherr.RateLimited:
		status = http.StatusTooManyRequests
	case orcherr.DeadlineExceeded, orcherr.WorkerTimeout:
		status = http.StatusGatewayTimeout
	case orcherr.NoEligibleWorker, orcherr.GraphRoutingError:
		status = http.StatusServiceUnavailable
	case orcherr.ContentPolicyReject:
		status = http.StatusUnprocessableEntity
	case orcherr.Unknown:
		status = http.StatusBadRequest
	}

	message := err.Error()
	if oe, ok := err.(*orcherr.Error); ok {
		message = oe.Message
	}

	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"kind":    kind,
			"message": message,
		},
	})
}

func orcherrRateLimited() error {
	return orcherr.RateLimitedWithRetry("60")
}

func chiRequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return newQueryID()
}
