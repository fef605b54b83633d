/*
Logic:       The Search workflow: a five-node graph (router →
             provider_search → content_enhancer → synthesiser →
             finalise) that picks a provider order, falls back across
             providers on failure, enhances top results via the scraper
             with bounded concurrency, fuses results into a cited
             answer, and writes the final response.
Root Cause:  Spec §4.5 Search workflow (C5) — node list and the C5
             failure semantics ("provider failures are absorbed by
             provider_search's internal fallback... a synthesiser
             failure routes to error_handler, which composes a terminal
             response from the best available intermediate"), plus §5's
             per-node concurrency bound for scraper fan-out.
Context:     Grounded on tokenhub's internal/router/engine.go ranked-
             fallback-list idiom (a top pick plus ordered fallback
             models tried in turn on error) for provider_search's
             failover, and handlers_chat.go's result-assembly pattern
             for finalise. content_enhancer's bounded-concurrency
             fan-out follows tokenhub's internal/health.Prober's
             per-endpoint sync.WaitGroup pattern.
*/
package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vantage-ai/orchestrator/cache"
	"github.com/vantage-ai/orchestrator/execstate"
	"github.com/vantage-ai/orchestrator/graph"
	"github.com/vantage-ai/orchestrator/modelmanager"
	"github.com/vantage-ai/orchestrator/orcherr"
	"github.com/vantage-ai/orchestrator/registry"
	"github.com/vantage-ai/orchestrator/workers"
)

// relevanceThreshold is τ from §4.5: "for each top result above a
// relevance threshold τ (design: τ = 0.5), schedules a scraper call".
const relevanceThreshold = 0.5

// enhancerConcurrency bounds concurrent scraper calls per content_enhancer
// invocation (§5: "bounded by per-node concurrency limits").
const enhancerConcurrency = 4

// EnhancedResult is a search hit plus whatever the scraper could add.
type EnhancedResult struct {
	workers.SearchResult
	Enhanced bool
	Excerpt  string
}

// Citation is one entry in finalise's structured citation list.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SearchWorkflow wires the five Search nodes to their graph.Graph.
type SearchWorkflow struct {
	cache          *cache.Cache
	manager        *modelmanager.Manager
	reg            *registry.Registry
	providerOrder  []string
	scraperWorker  string
	logger         zerolog.Logger
}

// NewSearchWorkflow constructs the workflow's node dependencies.
// providerOrder is the ordered fallback chain router defaults to;
// scraperWorker names the registered scraper-kind worker to enhance with.
func NewSearchWorkflow(c *cache.Cache, m *modelmanager.Manager, reg *registry.Registry, providerOrder []string, scraperWorker string, logger zerolog.Logger) *SearchWorkflow {
	return &SearchWorkflow{
		cache:         c,
		manager:       m,
		reg:           reg,
		providerOrder: providerOrder,
		scraperWorker: scraperWorker,
		logger:        logger.With().Str("component", "search_workflow").Logger(),
	}
}

// Build assembles the validated Search graph (§4.5 edges plus the
// BudgetExceeded short-circuit and synthesiser-failure fallback).
func (w *SearchWorkflow) Build(errorHandler graph.Node) (*graph.Graph, error) {
	g := graph.NewGraph("search")
	g.AddNode(graph.NodeSpec{Name: "router", Node: graph.NodeFunc(w.router)})
	g.AddNode(graph.NodeSpec{Name: "provider_search", Node: graph.NodeFunc(w.providerSearch)})
	g.AddNode(graph.NodeSpec{Name: "content_enhancer", Node: graph.NodeFunc(w.contentEnhancer)})
	g.AddNode(graph.NodeSpec{Name: "synthesiser", Node: graph.NodeFunc(w.synthesiser)})
	g.AddNode(graph.NodeSpec{Name: "finalise", Node: graph.NodeFunc(w.finalise), IsTerminal: true})
	g.AddNode(graph.NodeSpec{Name: "error_handler", Node: errorHandler, IsTerminal: true})

	g.StartAt("router")
	g.AddEdge(graph.Edge{From: "router", To: "provider_search"})
	g.AddEdge(graph.Edge{From: "provider_search", To: "content_enhancer"})
	g.AddEdge(graph.Edge{From: "content_enhancer", To: "synthesiser"})
	g.AddEdge(graph.Edge{
		From: "synthesiser",
		Predicate: func(ctx context.Context, s *execstate.ExecutionState) string {
			for _, e := range s.Errors {
				if e.Node == "synthesiser" {
					return "failed"
				}
			}
			return "ok"
		},
		Mapping: map[string]string{"ok": "finalise", "failed": "error_handler"},
		Labels:  []string{"ok", "failed"},
	})
	g.SetErrorHandler("error_handler")

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// router is node 1: marks search as needed when the query is not blank,
// takes the provider order from the configured list (or every registered
// web-search worker when none is configured), and caps results at 10. It
// does not consult a classifier.
func (w *SearchWorkflow) router(ctx context.Context, state *execstate.ExecutionState) execstate.NodeResult {
	maxResults := 10
	searchNeeded := strings.TrimSpace(state.OriginalQuery) != ""

	providers := w.providerOrder
	if len(providers) == 0 {
		for _, d := range w.reg.List(registry.KindWebSearch, "") {
			providers = append(providers, d.ID)
		}
	}

	return execstate.NodeResult{
		Success:    true,
		Confidence: 1,
		Data: map[string]any{
			"search_needed": searchNeeded,
			"providers":     providers,
			"max_results":   maxResults,
		},
	}
}

// providerSearch is node 2: queries providers in order, falling back to
// the next on provider-level failure or an empty result set, caching the
// raw response per (provider, canonicalised query).
func (w *SearchWorkflow) providerSearch(ctx context.Context, state *execstate.ExecutionState) execstate.NodeResult {
	routeData, _ := state.Intermediate["router"].(map[string]any)
	providers, _ := routeData["providers"].([]string)
	maxResults, _ := routeData["max_results"].(int)
	if maxResults == 0 {
		maxResults = 10
	}

	canonical := cache.CanonicalizePrompt(state.OriginalQuery)

	var lastErr error
	for _, providerID := range providers {
		cacheKey := cache.ContentKey(providerID + "|" + canonical)
		if raw, found := w.cache.Get(ctx, cache.NamespaceResponse, cacheKey); found {
			results := decodeSearchResults(raw)
			if len(results) > 0 {
				return searchNodeResult(results, 1.0)
			}
		}

		worker, ok := w.reg.Get(providerID)
		if !ok || (worker.Health != registry.HealthReady && worker.Health != registry.HealthDegraded) {
			continue
		}
		result, err := w.manager.Generate(ctx, worker, state.OriginalQuery, modelmanager.GenerateParams{MaxTokens: maxResults})
		if err != nil {
			lastErr = err
			continue
		}
		results, ok := result.Data.([]workers.SearchResult)
		if !ok || len(results) == 0 {
			continue
		}

		encoded := encodeSearchResults(results)
		w.cache.Set(ctx, cache.NamespaceResponse, cacheKey, encoded, cache.DefaultTTL(cache.NamespaceResponse))
		return searchNodeResult(results, result.Confidence)
	}

	if lastErr != nil && orcherr.KindOf(lastErr) == orcherr.BudgetExceeded {
		return execstate.NodeResult{Error: &execstate.NodeError{Kind: string(orcherr.BudgetExceeded), Message: lastErr.Error()}}
	}
	// All providers exhausted: absorbed locally per §4.5, proceed with
	// an empty result set rather than routing to error_handler.
	return execstate.NodeResult{Success: true, Confidence: 0, Data: []workers.SearchResult{}, Handled: true}
}

func searchNodeResult(results []workers.SearchResult, confidence float64) execstate.NodeResult {
	return execstate.NodeResult{Success: true, Confidence: confidence, Data: results}
}

// contentEnhancer is node 3: schedules a bounded-concurrency scraper call
// per result above τ; timeouts/failures keep the un-enhanced snippet.
func (w *SearchWorkflow) contentEnhancer(ctx context.Context, state *execstate.ExecutionState) execstate.NodeResult {
	results, _ := state.Intermediate["provider_search"].([]workers.SearchResult)
	enhanced := make([]EnhancedResult, len(results))
	for i, r := range results {
		enhanced[i] = EnhancedResult{SearchResult: r}
	}

	scraperDesc, haveScraper := w.reg.Get(w.scraperWorker)

	sem := make(chan struct{}, enhancerConcurrency)
	var wg sync.WaitGroup
	for i := range enhanced {
		if enhanced[i].RelevanceScore < relevanceThreshold || !haveScraper {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			result, err := w.manager.Generate(ctx, scraperDesc, enhanced[idx].URL, modelmanager.GenerateParams{})
			if err != nil {
				return
			}
			if excerpt, ok := result.Data.(string); ok {
				enhanced[idx].Enhanced = true
				enhanced[idx].Excerpt = excerpt
			}
		}(i)
	}
	wg.Wait()

	enhancedCount := 0
	for _, e := range enhanced {
		if e.Enhanced {
			enhancedCount++
		}
	}

	return execstate.NodeResult{
		Success:    true,
		Confidence: 1,
		Data: map[string]any{
			"results":        enhanced,
			"enhanced_count": enhancedCount,
		},
	}
}

// synthesiser is node 4: fuses results into a cited answer via the
// Model Manager; confidence is a weighted product of provider confidence,
// enhanced-result count, and model confidence, clamped to [0,1].
func (w *SearchWorkflow) synthesiser(ctx context.Context, state *execstate.ExecutionState) execstate.NodeResult {
	enhancedData, _ := state.Intermediate["content_enhancer"].(map[string]any)
	results, _ := enhancedData["results"].([]EnhancedResult)
	enhancedCount, _ := enhancedData["enhanced_count"].(int)
	providerConfidence := state.Confidences["provider_search"]

	worker, err := w.manager.Select(ctx, "synthesis", state.QualityTier, modelmanager.Constraints{Deadline: state.Deadline})
	if err != nil {
		return execstate.NodeResult{Error: &execstate.NodeError{Kind: string(orcherr.KindOf(err)), Message: err.Error()}}
	}

	genResult, err := w.manager.Generate(ctx, worker, buildSynthesisPrompt(state.OriginalQuery, results), modelmanager.GenerateParams{MaxTokens: defaultMaxTokens(state.QualityTier)})
	if err != nil {
		return execstate.NodeResult{Error: &execstate.NodeError{Kind: string(orcherr.KindOf(err)), Message: err.Error()}}
	}
	text, _ := genResult.Data.(string)

	enhancedFactor := 1.0
	if len(results) > 0 {
		enhancedFactor = float64(enhancedCount) / float64(len(results))
	}
	confidence := clamp01(providerConfidence * clamp01(0.5+0.5*enhancedFactor) * clamp01(genResult.Confidence))

	citations := make([]Citation, 0, len(results))
	for _, r := range results {
		citations = append(citations, Citation{Title: r.Title, URL: r.URL})
	}

	return execstate.NodeResult{
		Success:    true,
		Confidence: confidence,
		Cost:       genResult.Cost,
		Data: map[string]any{
			"text":      text,
			"citations": citations,
		},
	}
}

func buildSynthesisPrompt(query string, results []EnhancedResult) string {
	var b strings.Builder
	b.WriteString("Answer the query using the sources below, citing each by number.\n\nQuery: ")
	b.WriteString(query)
	b.WriteString("\n\n")
	for i, r := range results {
		content := r.Snippet
		if r.Enhanced {
			content = r.Excerpt
		}
		b.WriteString(fmt.Sprintf("[%d] %s (%s): %s\n", i+1, r.Title, r.URL, content))
	}
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// finalise is node 5 (terminal): writes final_response and the
// structured citation list into state.
func (w *SearchWorkflow) finalise(ctx context.Context, state *execstate.ExecutionState) execstate.NodeResult {
	synthData, _ := state.Intermediate["synthesiser"].(map[string]any)
	text, _ := synthData["text"].(string)
	citations, _ := synthData["citations"].([]Citation)

	state.FinalResponse = text
	state.ResponseMeta["citations"] = citations
	return execstate.NodeResult{Success: true, Confidence: 1}
}

func decodeSearchResults(raw []byte) []workers.SearchResult {
	var out []workers.SearchResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func encodeSearchResults(results []workers.SearchResult) []byte {
	b, _ := json.Marshal(results)
	return b
}
