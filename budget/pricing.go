/*
Logic:       Per-worker USD pricing table and cost calculation from token
             counts. Falls back to a model-only lookup when the
             provider-qualified key is absent, and treats an unrecognised
             worker as zero-cost rather than rejecting the request.
Root Cause:  Spec §4.6 C_target / cost_score needs an actual dollar cost
             per call, and §6's budget.<tier>.monetary caps are only
             meaningful against a real cost calculation.
Context:     Adapted from tokenhub's models.Model.CostPer1K field and its
             use in cost calculation, generalised from a single
             per-1K-token rate to a pricing table keyed by worker family,
             with the table trimmed to the families the registry actually
             exposes (local inference carries no per-token price; its
             cost is modelled by the registry instead, see
             registry.Descriptor.CostPerUnit).
*/
package budget

import "sync"

// WorkerPrice holds the USD-per-million-token rates for one worker.
type WorkerPrice struct {
	Provider    string
	Model       string
	InputPer1M  float64
	OutputPer1M float64
	Free        bool
}

// PricingTable calculates request cost from token counts, looking prices
// up by provider/model with a model-only fallback.
type PricingTable struct {
	mu     sync.RWMutex
	prices map[string]WorkerPrice
}

// NewPricingTable builds a table pre-loaded with the orchestrator's known
// hosted-model rates. Local/self-hosted workers are zero-cost here; their
// amortised cost is attributed by the registry's CostPerUnit instead.
func NewPricingTable() *PricingTable {
	return &PricingTable{prices: defaultPrices()}
}

// Calculate returns the USD cost of inputTokens/outputTokens against
// provider/model. An unrecognised pair costs 0 rather than erroring —
// the caller's own estimated cost gate is what protects the budget.
// When provider/model is absent, an entry whose Model equals model under
// any provider is used; if several providers list it, which one is used
// is not defined.
func (pt *PricingTable) Calculate(provider, model string, inputTokens, outputTokens int) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	p, ok := pt.prices[provider+"/"+model]
	if !ok {
		for _, candidate := range pt.prices {
			if candidate.Model == model {
				p, ok = candidate, true
				break
			}
		}
	}
	if !ok || p.Free {
		return 0
	}
	return float64(inputTokens)/1_000_000*p.InputPer1M + float64(outputTokens)/1_000_000*p.OutputPer1M
}

// Upsert sets or replaces the price for provider/model.
func (pt *PricingTable) Upsert(provider, model string, price WorkerPrice) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.prices[provider+"/"+model] = price
}

func defaultPrices() map[string]WorkerPrice {
	return map[string]WorkerPrice{
		"openai/gpt-4o":              {Provider: "openai", Model: "gpt-4o", InputPer1M: 2.50, OutputPer1M: 10.00},
		"openai/gpt-4o-mini":         {Provider: "openai", Model: "gpt-4o-mini", InputPer1M: 0.15, OutputPer1M: 0.60},
		"anthropic/claude-3-opus":    {Provider: "anthropic", Model: "claude-3-opus", InputPer1M: 15.00, OutputPer1M: 75.00},
		"anthropic/claude-3-sonnet":  {Provider: "anthropic", Model: "claude-3-sonnet", InputPer1M: 3.00, OutputPer1M: 15.00},
		"anthropic/claude-3-haiku":   {Provider: "anthropic", Model: "claude-3-haiku", InputPer1M: 0.25, OutputPer1M: 1.25},
		"google/gemini-1.5-flash":    {Provider: "google", Model: "gemini-1.5-flash", InputPer1M: 0.075, OutputPer1M: 0.30},
		"groq/llama-3.1-70b":         {Provider: "groq", Model: "llama-3.1-70b", Free: true},
		"local/ollama":               {Provider: "local", Model: "ollama", Free: true},
		"search/default":             {Provider: "search", Model: "default", InputPer1M: 0, OutputPer1M: 0},
	}
}
