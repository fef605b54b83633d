/*
Logic:       Z-score anomaly detector over a rolling per-arm latency
             window, used as an early-warning signal alongside the
             Beta-posterior quarantine rule: a latency spike can
             precede a success-rate collapse by several selections.
Root Cause:  SPEC_FULL.md §11 "Anomaly-aware quarantine": the adaptive
             router's quarantine rule (§4.6) reacts to a sustained
             success-rate drop, which lags a true outage by however
             many selections it takes the rolling window to turn over;
             a statistical latency-anomaly check gives an earlier
             signal an operator can alert on.
Context:     No example repo implements a rolling mean/stddev Z-score
             detector; built directly from the anomaly-aware-quarantine
             supplement above, on stdlib math only, scoped to bandit arm
             latency and wired as an observability signal only — it
             never quarantines an arm itself, that stays Arm.observe's
             job (§4.6).
*/
package bandit

import (
	"math"
	"sync"
	"time"
)

// AnomalyResult reports whether a new latency sample deviates sharply
// from an arm's recent history.
type AnomalyResult struct {
	IsAnomaly bool
	ZScore    float64
	Value     float64
	Mean      float64
	StdDev    float64
	Direction string // "spike" or "drop"
}

// AnomalyDetector tracks a rolling per-arm latency window and flags
// samples more than Threshold standard deviations from the mean. A
// history with zero standard deviation yields no verdict.
type AnomalyDetector struct {
	mu         sync.Mutex
	windowSize int
	threshold  float64
	history    map[string][]float64
}

// NewAnomalyDetector constructs a detector with the given rolling
// window size and Z-score threshold (defaults: 24 samples, 2.0σ).
func NewAnomalyDetector(windowSize int, threshold float64) *AnomalyDetector {
	if windowSize <= 0 {
		windowSize = 24
	}
	if threshold <= 0 {
		threshold = 2.0
	}
	return &AnomalyDetector{
		windowSize: windowSize,
		threshold:  threshold,
		history:    make(map[string][]float64),
	}
}

// CheckLatency folds latency into an arm's rolling window and reports
// whether it is anomalous relative to the arm's own recent history.
func (d *AnomalyDetector) CheckLatency(armID string, latency time.Duration) AnomalyResult {
	return d.check(armID, float64(latency.Milliseconds()))
}

func (d *AnomalyDetector) check(key string, value float64) AnomalyResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := append(d.history[key], value)
	if len(h) > d.windowSize {
		h = h[len(h)-d.windowSize:]
	}
	d.history[key] = h

	if len(h) < 5 {
		return AnomalyResult{Value: value}
	}

	n := float64(len(h) - 1)
	var sum float64
	for _, v := range h[:len(h)-1] {
		sum += v
	}
	mean := sum / n

	var variance float64
	for _, v := range h[:len(h)-1] {
		diff := v - mean
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / n)

	if stdDev == 0 {
		return AnomalyResult{Value: value, Mean: mean}
	}

	zScore := (value - mean) / stdDev
	direction := "spike"
	if zScore < 0 {
		direction = "drop"
	}

	return AnomalyResult{
		IsAnomaly: math.Abs(zScore) > d.threshold,
		ZScore:    zScore,
		Value:     value,
		Mean:      mean,
		StdDev:    stdDev,
		Direction: direction,
	}
}
