package workflows

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantage-ai/orchestrator/cache"
	"github.com/vantage-ai/orchestrator/execstate"
	"github.com/vantage-ai/orchestrator/graph"
	"github.com/vantage-ai/orchestrator/modelmanager"
	"github.com/vantage-ai/orchestrator/registry"
	"github.com/vantage-ai/orchestrator/workers"
)

type fakeSearchClient struct {
	searchResults []workers.SearchResult
	searchErr     error
	scrapeText    string
	synthText     string
}

func (f *fakeSearchClient) Generate(ctx context.Context, worker registry.Descriptor, prompt string, params modelmanager.GenerateParams) (execstate.NodeResult, error) {
	switch worker.Kind {
	case registry.KindWebSearch:
		if f.searchErr != nil {
			return execstate.NodeResult{}, f.searchErr
		}
		return execstate.NodeResult{Success: true, Confidence: 0.8, Data: f.searchResults}, nil
	case registry.KindScraper:
		return execstate.NodeResult{Success: true, Confidence: 0.7, Data: f.scrapeText}, nil
	default:
		return execstate.NodeResult{Success: true, Confidence: 0.9, Cost: 0.01, Data: f.synthText}, nil
	}
}
func (f *fakeSearchClient) Load(ctx context.Context, worker registry.Descriptor) error   { return nil }
func (f *fakeSearchClient) Unload(ctx context.Context, worker registry.Descriptor) error { return nil }

func newTestSearchWorkflow(t *testing.T, client *fakeSearchClient) *SearchWorkflow {
	t.Helper()
	reg := registry.New(zerolog.Nop())
	reg.Register(&registry.Descriptor{ID: "searcher", Kind: registry.KindWebSearch, Warmth: registry.T0, Health: registry.HealthReady, Capabilities: map[string]struct{}{"web_search": {}}})
	reg.Register(&registry.Descriptor{ID: "scraper", Kind: registry.KindScraper, Warmth: registry.T0, Health: registry.HealthReady, Capabilities: map[string]struct{}{}})
	reg.Register(&registry.Descriptor{ID: "synth", Kind: registry.KindRemoteInference, Warmth: registry.T0, Health: registry.HealthReady, Capabilities: map[string]struct{}{"synthesis": {}}})

	c := cache.New(zerolog.Nop(), nil, cache.NewMemoryBackend(100))
	m := modelmanager.New(reg, c, client, zerolog.Nop(), modelmanager.Config{ResidentBudgetBytes: 1 << 30, RetryBudget: 2})
	return NewSearchWorkflow(c, m, reg, []string{"searcher"}, "scraper", zerolog.Nop())
}

func runSearch(t *testing.T, w *SearchWorkflow, query string) *execstate.ExecutionState {
	t.Helper()
	g, err := w.Build(graph.NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		s.FinalResponse = "handled-fallback"
		return execstate.NodeResult{Success: true}
	}))
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	e, err := graph.New(g, zerolog.Nop())
	if err != nil {
		t.Fatalf("engine error: %v", err)
	}
	state := execstate.New("q1", "c1", "principal1", "session1", query, 10.0, time.Now().Add(time.Minute), execstate.QualityBalanced)
	out, err := e.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	return out
}

func TestSearchWorkflowHappyPathProducesCitations(t *testing.T) {
	client := &fakeSearchClient{
		searchResults: []workers.SearchResult{
			{Title: "Result A", URL: "https://a.example", Snippet: "snippet a", RelevanceScore: 0.9},
			{Title: "Result B", URL: "https://b.example", Snippet: "snippet b", RelevanceScore: 0.1},
		},
		scrapeText: "full page content",
		synthText:  "synthesized answer",
	}
	w := newTestSearchWorkflow(t, client)
	out := runSearch(t, w, "what happened today")
	if out.FinalResponse != "synthesized answer" {
		t.Fatalf("expected synthesised answer as final response, got %q", out.FinalResponse)
	}
	citations, ok := out.ResponseMeta["citations"].([]Citation)
	if !ok || len(citations) != 2 {
		t.Fatalf("expected 2 citations recorded, got %v", out.ResponseMeta["citations"])
	}
}

func TestSearchWorkflowAbsorbsProviderFailureWithEmptyResults(t *testing.T) {
	client := &fakeSearchClient{searchErr: nil, searchResults: nil, synthText: "no sources answer"}
	w := newTestSearchWorkflow(t, client)
	out := runSearch(t, w, "obscure query")
	if out.FinalResponse != "no sources answer" {
		t.Fatalf("expected synthesiser to still run on empty result set, got %q", out.FinalResponse)
	}
}
