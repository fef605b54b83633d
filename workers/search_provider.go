/*
Logic:       Web-search worker: POST a query to a configurable search
             API, normalise the result list into a single structured
             NodeResult payload.
Root Cause:  Spec §3 WorkerDescriptor kind web-search, used by the
             Workflows (C5) search/research workflows as a planning step
             ahead of scraping or synthesis.
Context:     No search connector exists in the pack (tokenhub is an LLM
             gateway only); grounded on the same request/response and
             error-classification idiom as tokenhub's openai adapter's
             ChatCompletion, generalised from a chat payload to a search
             query/results payload against whatever endpoint the worker
             declares.
*/
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vantage-ai/orchestrator/execstate"
	"github.com/vantage-ai/orchestrator/modelmanager"
	"github.com/vantage-ai/orchestrator/orcherr"
)

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// SearchResult is one normalised hit from a search worker (§6 Outbound:
// "ordered list of {title, url, snippet, relevance_score}").
type SearchResult struct {
	Title           string  `json:"title"`
	URL             string  `json:"url"`
	Snippet         string  `json:"snippet"`
	RelevanceScore  float64 `json:"relevance_score"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

// SearchProvider calls a web-search API and returns normalised results.
type SearchProvider struct {
	endpoints *EndpointBook
	transport *TransportPool
}

// NewSearchProvider constructs a SearchProvider worker kind.
func NewSearchProvider(endpoints *EndpointBook, transport *TransportPool) *SearchProvider {
	return &SearchProvider{endpoints: endpoints, transport: transport}
}

func (sp *SearchProvider) Generate(ctx context.Context, workerID, query string, params modelmanager.GenerateParams) (execstate.NodeResult, error) {
	ep, ok := sp.endpoints.Get(workerID)
	if !ok {
		return execstate.NodeResult{}, orcherr.New(orcherr.NoEligibleWorker, "no endpoint configured for worker "+workerID)
	}

	maxResults := params.MaxTokens
	if maxResults <= 0 {
		maxResults = 10
	}
	body, err := json.Marshal(searchRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		return execstate.NodeResult{}, orcherr.Wrap(orcherr.Unknown, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return execstate.NodeResult{}, orcherr.Wrap(orcherr.Unknown, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}

	cfg := DefaultPoolConfig()
	cfg.Timeout = 15 * time.Second
	client := sp.transport.ClientFor(workerID, cfg)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return execstate.NodeResult{}, orcherr.Wrap(orcherr.WorkerTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return execstate.NodeResult{}, orcherr.New(orcherr.WorkerTimeout, "search worker returned 5xx")
	}
	if resp.StatusCode >= 400 {
		return execstate.NodeResult{}, orcherr.New(orcherr.Unknown, "search worker returned 4xx")
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return execstate.NodeResult{}, orcherr.Wrap(orcherr.Unknown, err)
	}

	return execstate.NodeResult{
		Success:       true,
		Confidence:    confidenceFromResultCount(len(parsed.Results)),
		Data:          parsed.Results,
		ExecutionTime: time.Since(start),
	}, nil
}

func confidenceFromResultCount(n int) float64 {
	if n == 0 {
		return 0
	}
	if n >= 5 {
		return 1.0
	}
	return float64(n) / 5.0
}
