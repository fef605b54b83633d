/*
Logic:       An Arm is one pre-declared execution strategy (a workflow or
             workflow variant) with a Beta-distributed posterior over a
             scalar [0,1] reward, plus the rolling-window bookkeeping the
             safety rails need.
Root Cause:  Spec §4.6 Adaptive Router (C6): "Each arm holds a
             Beta-distributed posterior over a scalar reward in [0,1]...
             Cold start: every new arm begins at (alpha=1, beta=1)...
             an arm whose empirical success rate over the last W=100
             selections falls below min_success is quarantined."
Context:     Grounded on tokenhub's internal/router/thompson.go armParams
             (Alpha/Beta pair keyed by arm) for the posterior shape, and
             rewards.go's RewardLog for the rolling-window outcome
             bookkeeping, generalised from a per-model-and-token-bucket
             key to this orchestrator's declared arm id.
*/
package bandit

import "time"

// successWindow is W from §4.6's safety rails.
const successWindow = 100

// Arm is one declared execution strategy with its Beta posterior.
type Arm struct {
	ID         string
	WorkflowID string

	Alpha float64
	Beta  float64

	NSelections int64

	// recentSuccess is a fixed-size ring of the last successWindow
	// observed outcomes (production and shadow both count, per the
	// quarantine-clears-via-shadow rule).
	recentSuccess []bool
	ringPos       int

	Quarantined       bool
	QuarantinedAt      time.Time
}

// NewArm cold-starts an arm at (alpha=1, beta=1), a uniform posterior
// (§4.6 Cold start).
func NewArm(id, workflowID string) *Arm {
	return &Arm{ID: id, WorkflowID: workflowID, Alpha: 1, Beta: 1}
}

// observe records a reward's pass/fail classification into the rolling
// window and re-evaluates quarantine status.
func (a *Arm) observe(success bool, minSuccess, quarantineClearThreshold float64) {
	if a.recentSuccess == nil {
		a.recentSuccess = make([]bool, 0, successWindow)
	}
	if len(a.recentSuccess) < successWindow {
		a.recentSuccess = append(a.recentSuccess, success)
	} else {
		a.recentSuccess[a.ringPos] = success
		a.ringPos = (a.ringPos + 1) % successWindow
	}

	rate := a.successRate()
	if !a.Quarantined && len(a.recentSuccess) >= successWindow && rate < minSuccess {
		a.Quarantined = true
		a.QuarantinedAt = time.Now()
	} else if a.Quarantined && len(a.recentSuccess) >= successWindow && rate > quarantineClearThreshold {
		a.Quarantined = false
	}
}

func (a *Arm) successRate() float64 {
	if len(a.recentSuccess) == 0 {
		return 1
	}
	hits := 0
	for _, ok := range a.recentSuccess {
		if ok {
			hits++
		}
	}
	return float64(hits) / float64(len(a.recentSuccess))
}

// SuccessRate exposes the rolling-window success rate backing the
// quarantine decision, for callers reporting on why an arm tripped.
func (a *Arm) SuccessRate() float64 { return a.successRate() }

// snapshot is the JSON-serialisable checkpoint form of an Arm (§4.6
// Persistence).
type snapshot struct {
	ID            string  `json:"id"`
	WorkflowID    string  `json:"workflow_id"`
	Alpha         float64 `json:"alpha"`
	Beta          float64 `json:"beta"`
	NSelections   int64   `json:"n_selections"`
	RecentSuccess []bool  `json:"recent_success"`
	RingPos       int     `json:"ring_pos"`
	Quarantined   bool    `json:"quarantined"`
}

func (a *Arm) toSnapshot() snapshot {
	return snapshot{
		ID:            a.ID,
		WorkflowID:    a.WorkflowID,
		Alpha:         a.Alpha,
		Beta:          a.Beta,
		NSelections:   a.NSelections,
		RecentSuccess: a.recentSuccess,
		RingPos:       a.ringPos,
		Quarantined:   a.Quarantined,
	}
}

func fromSnapshot(s snapshot) *Arm {
	return &Arm{
		ID:            s.ID,
		WorkflowID:    s.WorkflowID,
		Alpha:         s.Alpha,
		Beta:          s.Beta,
		NSelections:   s.NSelections,
		recentSuccess: s.RecentSuccess,
		ringPos:       s.RingPos,
		Quarantined:   s.Quarantined,
	}
}
