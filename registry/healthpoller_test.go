package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeProber struct {
	mu   sync.Mutex
	fail map[string]bool
}

func (p *fakeProber) Probe(_ context.Context, id string) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[id] {
		return 0, errors.New("probe failed")
	}
	return time.Millisecond, nil
}

func (p *fakeProber) setFail(id string, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail == nil {
		p.fail = make(map[string]bool)
	}
	p.fail[id] = fail
}

func TestHealthPollerRecordsProbeOutcomes(t *testing.T) {
	r := New(zerolog.Nop())
	r.Register(newTestDescriptor("w1"))

	prober := &fakeProber{}
	hp := NewHealthPoller(r, prober, zerolog.Nop(), 5*time.Second)
	hp.poll(context.Background())

	d, _ := r.Get("w1")
	if d.Stats.LastProbe.IsZero() || d.Stats.EMASuccess == 0 {
		t.Fatalf("expected successful probe recorded, got stats %+v", d.Stats)
	}
}

func TestHealthPollerFiresTransitionCallback(t *testing.T) {
	r := New(zerolog.Nop())
	r.Register(newTestDescriptor("w1"))

	prober := &fakeProber{}
	hp := NewHealthPoller(r, prober, zerolog.Nop(), 5*time.Second)

	var transitions []bool
	hp.OnStatusChange(func(workerID string, ready bool) {
		transitions = append(transitions, ready)
	})

	hp.poll(context.Background())
	prober.setFail("w1", true)
	for i := 0; i < 5; i++ {
		hp.poll(context.Background())
	}

	if len(transitions) == 0 {
		t.Fatal("expected at least one transition callback after probe failures")
	}
}
