/*
Logic:       Shadow-mode execution: after a production arm answers a
             request, occasionally re-run the same request on an
             independently-selected arm purely to observe its reward,
             never surfacing its output to the caller.
Root Cause:  Spec §4.6: "Shadow execution — with probability shadow_rate
             (default 0.3), after the production arm's result is
             returned, execute a second, independently selected arm over
             the same request... bounded by a hard deadline no greater
             than 2x the production request's deadline... its result is
             used only to update that arm's posterior, never surfaced to
             the caller... shadow executions are metered against a
             separate budget so they cannot starve production traffic."
Context:     Grounded on workflows/chat.go and workflows/search.go's
             graph.Engine.Run invocation shape, replayed a second time
             against a cloned execstate.ExecutionState with its own
             budget ledger, the way budget/ledger.go's per-call Reserve
             already isolates concurrent callers from each other.
*/
package bandit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantage-ai/orchestrator/execstate"
)

// Executor runs a request through a named workflow/graph and returns the
// resulting terminal state. The bandit package has no notion of a graph
// or workflow itself; the caller (the gateway) supplies this.
type Executor func(ctx context.Context, workflowID string, state *execstate.ExecutionState) (*execstate.ExecutionState, error)

// ShadowRunner drives occasional shadow executions against a separate
// budget so they never compete with production traffic (§4.6).
type ShadowRunner struct {
	bandit       *Bandit
	exec         Executor
	shadowBudget float64
	logger       zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewShadowRunner constructs a ShadowRunner. shadowBudget is the fixed
// per-call budget handed to every shadow execution's cloned state,
// independent of the production request's remaining budget.
func NewShadowRunner(b *Bandit, exec Executor, shadowBudget float64, logger zerolog.Logger, seed int64) *ShadowRunner {
	return &ShadowRunner{
		bandit:       b,
		exec:         exec,
		shadowBudget: shadowBudget,
		logger:       logger.With().Str("component", "bandit_shadow").Logger(),
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// MaybeRun probabilistically launches a shadow execution for the given
// production arm and original request, in its own goroutine so the
// caller's response path is never blocked on it (§4.6: "never surfaced
// to the caller").
func (s *ShadowRunner) MaybeRun(ctx context.Context, productionArmID string, productionState *execstate.ExecutionState) {
	s.rngMu.Lock()
	roll := s.rng.Float64()
	s.rngMu.Unlock()
	if roll >= s.bandit.cfg.ShadowRate {
		return
	}

	shadowArm, err := s.bandit.SelectShadow(productionArmID)
	if err != nil {
		return
	}

	go s.run(shadowArm, productionState)
}

func (s *ShadowRunner) run(arm *Arm, productionState *execstate.ExecutionState) {
	// A hard deadline no greater than 2x the production request's budget
	// of time-to-deadline, measured from now rather than inherited,
	// since the production request may already be close to its own
	// deadline by the time shadow execution starts.
	productionWindow := time.Until(productionState.Deadline)
	if productionWindow <= 0 {
		productionWindow = time.Second
	}
	deadline := time.Now().Add(2 * productionWindow)

	shadowCtx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	shadowState := productionState.CloneForShadow(s.shadowBudget, deadline)

	start := time.Now()
	out, err := s.exec(shadowCtx, arm.WorkflowID, shadowState)
	elapsed := time.Since(start)

	if err != nil {
		s.bandit.UpdateWithLatency(arm.ID, 0, elapsed)
		return
	}

	reward := ComputeReward(RewardInputs{
		ExecutionTime: elapsed,
		Terminal:      out.LastNode(),
		FinalResponse: out.FinalResponse,
		Cost:          out.TotalCost(),
		CostTarget:    s.shadowBudget,
	})
	s.bandit.UpdateWithLatency(arm.ID, reward, elapsed)
}
