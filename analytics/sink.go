/*
Logic:       The cold analytics sink: an async, buffered pipeline that
             fans the Graph Engine's per-node execution records and the
             Adaptive Router's reward records out to a pluggable Sink,
             off the request's critical path.
Root Cause:  Spec §9 names "a cold analytics sink" as an explicit
             collaborator that is out of scope for this orchestrator's
             own correctness; SPEC_FULL.md §11 supplements it as "a
             narrow analytics.Sink interface with a log-based default
             implementation, fed asynchronously by the Graph Engine's
             per-node observability records and the Adaptive Router's
             reward records."
Context:     Adapted from tokenhub's internal/events.Bus: narrowed from a
             typed pub/sub bus with multiple subscriber channels to one
             generic buffered-channel/flush-interval/drain-on-stop
             pipeline over a single Event union, matching its
             backpressure (drop-and-count on a full channel rather than
             block the caller) and graceful-shutdown discipline. No
             ClickHouse or other analytics-warehouse driver exists
             anywhere in the retrieved corpus, so the Sink this pipeline
             feeds stays a narrow, pluggable interface with a log-based
             default rather than any specific warehouse client.
*/
package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// EventKind classifies an analytics event.
type EventKind string

const (
	EventExecution EventKind = "execution"
	EventReward    EventKind = "reward"
)

// Event is one record handed to the sink. Only the fields matching Kind
// are populated.
type Event struct {
	Kind EventKind

	// Execution fields (Kind == EventExecution).
	WorkflowID    string
	NodeName      string
	Success       bool
	DurationMs    int64
	Confidence    float64
	Cost          float64

	// Reward fields (Kind == EventReward).
	ArmID  string
	Reward float64

	RecordedAt time.Time
}

// Sink is the narrow write contract a cold analytics store implements.
type Sink interface {
	Write(ctx context.Context, events []Event) error
	Close() error
}

// Config controls batching/backpressure behavior.
type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig mirrors tokenhub's event-bus buffering defaults.
func DefaultConfig() Config {
	return Config{BufferSize: 10_000, BatchSize: 500, FlushInterval: 5 * time.Second}
}

// Pipeline buffers Events in a channel and flushes batches to a Sink on
// a timer or when a batch fills, never blocking the caller beyond the
// channel send (dropping and counting on a full buffer).
type Pipeline struct {
	cfg    Config
	sink   Sink
	logger zerolog.Logger

	events chan Event

	wg     sync.WaitGroup
	cancel context.CancelFunc

	received int64
	written  int64
	dropped  int64
	flushErrors int64
}

// NewPipeline constructs a Pipeline. Call Start to begin the flush loop.
func NewPipeline(logger zerolog.Logger, sink Sink, cfg ...Config) *Pipeline {
	c := DefaultConfig()
	if len(cfg) > 0 {
		c = cfg[0]
	}
	return &Pipeline{
		cfg:    c,
		sink:   sink,
		logger: logger.With().Str("component", "analytics_sink").Logger(),
		events: make(chan Event, c.BufferSize),
	}
}

// Start launches the flush worker.
func (p *Pipeline) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.worker(runCtx)
}

// Stop drains remaining buffered events and stops the worker.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Track enqueues an event, dropping it (and counting the drop) if the
// buffer is full rather than blocking the caller's request path.
func (p *Pipeline) Track(e Event) {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	atomic.AddInt64(&p.received, 1)
	select {
	case p.events <- e:
	default:
		atomic.AddInt64(&p.dropped, 1)
		p.logger.Warn().Msg("analytics buffer full, dropping event")
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, p.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.sink.Write(ctx, batch); err != nil {
			atomic.AddInt64(&p.flushErrors, 1)
			p.logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("analytics flush failed")
		} else {
			atomic.AddInt64(&p.written, int64(len(batch)))
		}
		batch = make([]Event, 0, p.cfg.BatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			p.drain(&batch, flush)
			return
		case e := <-p.events:
			batch = append(batch, e)
			if len(batch) >= p.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (p *Pipeline) drain(batch *[]Event, flush func()) {
	for {
		select {
		case e := <-p.events:
			*batch = append(*batch, e)
			if len(*batch) >= p.cfg.BatchSize {
				flush()
			}
		default:
			flush()
			return
		}
	}
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Received    int64
	Written     int64
	Dropped     int64
	FlushErrors int64
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:    atomic.LoadInt64(&p.received),
		Written:     atomic.LoadInt64(&p.written),
		Dropped:     atomic.LoadInt64(&p.dropped),
		FlushErrors: atomic.LoadInt64(&p.flushErrors),
	}
}

// LogSink is the default Sink: structured log lines, no external store.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink constructs the default log-based sink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "analytics_log_sink").Logger()}
}

func (s *LogSink) Write(_ context.Context, events []Event) error {
	for _, e := range events {
		s.logger.Info().
			Str("kind", string(e.Kind)).
			Str("workflow_id", e.WorkflowID).
			Str("node", e.NodeName).
			Str("arm_id", e.ArmID).
			Bool("success", e.Success).
			Float64("reward", e.Reward).
			Float64("confidence", e.Confidence).
			Float64("cost", e.Cost).
			Int64("duration_ms", e.DurationMs).
			Time("recorded_at", e.RecordedAt).
			Msg("analytics event")
	}
	return nil
}

func (s *LogSink) Close() error { return nil }
