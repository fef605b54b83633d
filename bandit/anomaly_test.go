package bandit

import (
	"testing"
	"time"
)

func TestAnomalyDetectorFlagsLatencySpike(t *testing.T) {
	d := NewAnomalyDetector(24, 2.0)
	// History alternates 90ms/110ms (mean 100ms, stddev 10ms); a history
	// with zero variance yields no verdict at all.
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			d.CheckLatency("arm-a", 90*time.Millisecond)
		} else {
			d.CheckLatency("arm-a", 110*time.Millisecond)
		}
	}
	result := d.CheckLatency("arm-a", 5*time.Second)
	if !result.IsAnomaly {
		t.Fatalf("expected latency spike flagged as anomaly, got %+v", result)
	}
	if result.Direction != "spike" {
		t.Fatalf("expected spike direction, got %s", result.Direction)
	}
}

func TestAnomalyDetectorIgnoresStableLatency(t *testing.T) {
	d := NewAnomalyDetector(24, 2.0)
	for i := 0; i < 20; i++ {
		d.CheckLatency("arm-a", 100*time.Millisecond)
	}
	result := d.CheckLatency("arm-a", 105*time.Millisecond)
	if result.IsAnomaly {
		t.Fatalf("expected stable latency not flagged, got %+v", result)
	}
}

func TestAnomalyDetectorRequiresMinimumSamples(t *testing.T) {
	d := NewAnomalyDetector(24, 2.0)
	result := d.CheckLatency("arm-a", 10*time.Second)
	if result.IsAnomaly {
		t.Fatal("expected no anomaly verdict before minimum sample count")
	}
}
