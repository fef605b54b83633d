/*
Logic:       Candidate bandit-arm bring-up: accumulate incumbent/
             candidate outcome counts, and once both sides have enough
             samples, run a two-proportion z-test on error rate to
             decide whether the candidate should be promoted to a
             first-class bandit arm.
Root Cause:  SPEC_FULL.md §11 "A/B experiment engine, repurposed as
             bandit arm bring-up": traffic-split experiments with z-test
             significance adapted into the tooling that promotes a
             candidate workflow variant into a bandit arm once it beats
             the incumbent with statistical confidence, separate from
             and upstream of the Adaptive Router's own Thompson sampling.
Context:     No example repo in the pack implements an experiment/
             variant traffic splitter or a two-proportion z-test; the
             PromotionMetrics/PromotionGate shape is written directly
             from the bring-up requirement above, narrowed to a fixed
             incumbent-vs-candidate pair (the bandit itself already owns
             online allocation once an arm is live; this tool only gates
             promotion). The z-test and its normal-CDF approximation are
             textbook statistics on stdlib math, by necessity rather than
             choice — see DESIGN.md.
*/
package routing

import (
	"math"
	"sync"
)

// PromotionMetrics accumulates one side's (incumbent or candidate)
// observed outcomes during bring-up.
type PromotionMetrics struct {
	Requests int64
	Errors   int64
}

func (m *PromotionMetrics) errorRate() float64 {
	if m.Requests == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.Requests)
}

// PromotionGate tracks one candidate's bring-up against its incumbent
// and decides, once both sides have enough samples, whether the
// candidate should be promoted to a first-class bandit arm.
type PromotionGate struct {
	mu          sync.Mutex
	CandidateID string
	IncumbentID string

	MinSampleSize         int
	SignificanceThreshold float64 // e.g. 0.95

	incumbent PromotionMetrics
	candidate PromotionMetrics
}

// NewPromotionGate constructs a gate with this module's defaults
// (min_sample_size=100, significance_threshold=0.95) unless overridden.
func NewPromotionGate(candidateID, incumbentID string, minSampleSize int, significanceThreshold float64) *PromotionGate {
	if minSampleSize <= 0 {
		minSampleSize = 100
	}
	if significanceThreshold <= 0 {
		significanceThreshold = 0.95
	}
	return &PromotionGate{
		CandidateID:           candidateID,
		IncumbentID:           incumbentID,
		MinSampleSize:         minSampleSize,
		SignificanceThreshold: significanceThreshold,
	}
}

// RecordIncumbent records one incumbent outcome.
func (g *PromotionGate) RecordIncumbent(isError bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.incumbent.Requests++
	if isError {
		g.incumbent.Errors++
	}
}

// RecordCandidate records one candidate outcome.
func (g *PromotionGate) RecordCandidate(isError bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.candidate.Requests++
	if isError {
		g.candidate.Errors++
	}
}

// PromotionVerdict is the result of evaluating a gate.
type PromotionVerdict struct {
	Ready     bool // both sides have enough samples to evaluate
	Promote   bool // candidate beats incumbent with statistical confidence
	ZScore    float64
	PValue    float64
}

// Evaluate runs the two-proportion z-test on error rate. Promote is true
// only when the difference is significant at SignificanceThreshold AND
// the candidate's error rate is the lower of the two.
func (g *PromotionGate) Evaluate() PromotionVerdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.incumbent.Requests < int64(g.MinSampleSize) || g.candidate.Requests < int64(g.MinSampleSize) {
		return PromotionVerdict{Ready: false}
	}

	p1, p2 := g.incumbent.errorRate(), g.candidate.errorRate()
	n1, n2 := float64(g.incumbent.Requests), float64(g.candidate.Requests)

	pPool := float64(g.incumbent.Errors+g.candidate.Errors) / (n1 + n2)
	if pPool == 0 || pPool == 1 {
		return PromotionVerdict{Ready: true, Promote: p2 < p1}
	}

	se := math.Sqrt(pPool * (1 - pPool) * (1/n1 + 1/n2))
	if se == 0 {
		return PromotionVerdict{Ready: true, Promote: p2 < p1}
	}

	z := (p1 - p2) / se
	pValue := 2 * normalCDF(-math.Abs(z))
	significant := pValue < (1 - g.SignificanceThreshold)

	return PromotionVerdict{
		Ready:   true,
		Promote: significant && p2 < p1,
		ZScore:  z,
		PValue:  pValue,
	}
}

// normalCDF approximates the standard normal CDF via the Abramowitz &
// Stegun formula.
func normalCDF(x float64) float64 {
	if x < -8 {
		return 0
	}
	if x > 8 {
		return 1
	}
	t := 1.0 / (1.0 + 0.2316419*math.Abs(x))
	d := 0.3989422804014327 // 1/sqrt(2*pi)
	prob := d * math.Exp(-x*x/2.0) *
		(t * (0.3193815 + t*(-0.3565638+t*(1.781478+t*(-1.821256+t*1.330274)))))
	if x > 0 {
		return 1 - prob
	}
	return prob
}
