package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSink struct {
	mu     sync.Mutex
	writes [][]Event
	closed bool
}

func (f *fakeSink) Write(_ context.Context, events []Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]Event, len(events))
	copy(batch, events)
	f.writes = append(f.writes, batch)
	return nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.writes {
		n += len(b)
	}
	return n
}

func TestPipelineFlushesOnBatchSize(t *testing.T) {
	sink := &fakeSink{}
	p := NewPipeline(zerolog.Nop(), sink, Config{BufferSize: 100, BatchSize: 5, FlushInterval: time.Minute})
	p.Start(context.Background())
	defer p.Stop()

	for i := 0; i < 5; i++ {
		p.Track(Event{Kind: EventExecution, WorkflowID: "wf-1", NodeName: "classify"})
	}

	deadline := time.Now().Add(time.Second)
	for sink.count() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := sink.count(); got != 5 {
		t.Fatalf("expected 5 events flushed by batch size, got %d", got)
	}
}

func TestPipelineFlushesOnInterval(t *testing.T) {
	sink := &fakeSink{}
	p := NewPipeline(zerolog.Nop(), sink, Config{BufferSize: 100, BatchSize: 1000, FlushInterval: 10 * time.Millisecond})
	p.Start(context.Background())
	defer p.Stop()

	p.Track(Event{Kind: EventReward, ArmID: "arm-a", Reward: 0.8})

	deadline := time.Now().Add(time.Second)
	for sink.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := sink.count(); got != 1 {
		t.Fatalf("expected event flushed by timer, got %d", got)
	}
}

func TestPipelineDrainsOnStop(t *testing.T) {
	sink := &fakeSink{}
	p := NewPipeline(zerolog.Nop(), sink, Config{BufferSize: 100, BatchSize: 1000, FlushInterval: time.Hour})
	p.Start(context.Background())

	for i := 0; i < 3; i++ {
		p.Track(Event{Kind: EventExecution, WorkflowID: "wf-1"})
	}
	p.Stop()

	if got := sink.count(); got != 3 {
		t.Fatalf("expected all 3 buffered events drained on stop, got %d", got)
	}
}

func TestPipelineDropsWhenBufferFull(t *testing.T) {
	sink := &fakeSink{}
	p := NewPipeline(zerolog.Nop(), sink, Config{BufferSize: 1, BatchSize: 1000, FlushInterval: time.Hour})
	// Not started: nothing drains the channel, so the second Track must drop.
	p.Track(Event{Kind: EventExecution, WorkflowID: "wf-1"})
	p.Track(Event{Kind: EventExecution, WorkflowID: "wf-2"})

	stats := p.Stats()
	if stats.Dropped != 1 {
		t.Fatalf("expected 1 dropped event, got %d", stats.Dropped)
	}
	if stats.Received != 2 {
		t.Fatalf("expected 2 received events, got %d", stats.Received)
	}
}

func TestLogSinkWriteNeverErrors(t *testing.T) {
	s := NewLogSink(zerolog.Nop())
	err := s.Write(context.Background(), []Event{
		{Kind: EventExecution, WorkflowID: "wf-1", NodeName: "respond", Success: true},
		{Kind: EventReward, ArmID: "arm-a", Reward: 0.75},
	})
	if err != nil {
		t.Fatalf("expected no error from log sink, got %v", err)
	}
}
