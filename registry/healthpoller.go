/*
Logic:       Background goroutine that probes every registered worker on
             a fixed interval, feeding outcomes into the registry's EMA
             and health-derivation machinery, and logging/notifying on
             ready↔non-ready transitions.
Root Cause:  Spec §4.2: "A periodic probe task (see §5) drives
             [health] transitions."
Context:     Adapted from tokenhub's internal/health.Prober almost
             verbatim in structure (ticker loop, per-poll timeout,
             bounded-concurrency fan-out via sync.WaitGroup), retargeted
             from a fixed Probeable interface feeding a Tracker to the
             registry's own Prober interface and RecordProbe.
*/
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Prober is implemented by whatever can cheaply verify a worker is
// reachable (a model manager's worker client, typically).
type Prober interface {
	Probe(ctx context.Context, id string) (latency time.Duration, err error)
}

// HealthPoller drives the registry's derived health state by probing
// every registered worker on a fixed interval.
type HealthPoller struct {
	registry *Registry
	prober   Prober
	logger   zerolog.Logger
	interval time.Duration

	mu             sync.RWMutex
	lastReady      map[string]bool
	statusChangeCB func(workerID string, ready bool)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthPoller creates a poller over registry's workers at the given
// interval (minimum 5 seconds).
func NewHealthPoller(registry *Registry, prober Prober, logger zerolog.Logger, interval time.Duration) *HealthPoller {
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	return &HealthPoller{
		registry:  registry,
		prober:    prober,
		logger:    logger.With().Str("component", "health_poller").Logger(),
		interval:  interval,
		lastReady: make(map[string]bool),
		done:      make(chan struct{}),
	}
}

// OnStatusChange registers a callback fired when a worker transitions
// between ready and non-ready.
func (hp *HealthPoller) OnStatusChange(cb func(workerID string, ready bool)) {
	hp.statusChangeCB = cb
}

// Start begins the background polling loop.
func (hp *HealthPoller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	hp.cancel = cancel

	hp.logger.Info().Dur("interval", hp.interval).Msg("starting worker health poller")
	go hp.pollLoop(ctx)
}

// Stop gracefully shuts down the poller and waits for it to finish.
func (hp *HealthPoller) Stop() {
	if hp.cancel != nil {
		hp.cancel()
	}
	<-hp.done
	hp.logger.Info().Msg("health poller stopped")
}

func (hp *HealthPoller) pollLoop(ctx context.Context) {
	defer close(hp.done)

	hp.poll(ctx)

	ticker := time.NewTicker(hp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hp.poll(ctx)
		}
	}
}

func (hp *HealthPoller) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, hp.interval/2)
	defer cancel()

	workers := hp.registry.List("", "")

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			start := time.Now()
			_, err := hp.prober.Probe(pollCtx, id)
			latency := time.Since(start)
			success := err == nil
			hp.registry.RecordProbe(id, success, latency)
			hp.noteTransition(id, success)
		}(w.ID)
	}
	wg.Wait()
}

func (hp *HealthPoller) noteTransition(id string, ready bool) {
	hp.mu.Lock()
	prev, known := hp.lastReady[id]
	hp.lastReady[id] = ready
	hp.mu.Unlock()

	if known && prev != ready {
		transition := "recovered"
		if !ready {
			transition = "degraded"
		}
		hp.logger.Warn().Str("worker", id).Str("transition", transition).Msg("worker health transition")
		if hp.statusChangeCB != nil {
			hp.statusChangeCB(id, ready)
		}
	}
}
