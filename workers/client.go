/*
Logic:       The modelmanager.WorkerClient implementation: dispatches
             Generate/Load/Unload to the right worker-kind implementation
             based on the descriptor's Kind.
Root Cause:  Spec §4.3 generate/ensure_resident operate uniformly over
             whatever kind of worker was selected; the model manager
             itself stays kind-agnostic (§3: WorkerDescriptor.kind ∈
             {local-inference, remote-inference, web-search, scraper}).
Context:     Adapted from tokenhub's internal/router.Engine dispatch
             over its Sender/StreamSender adapter map (keyed by provider
             ID, resolved once per call), generalised to dispatch-by-kind
             across the four worker families this package implements.
*/
package workers

import (
	"context"

	"github.com/vantage-ai/orchestrator/execstate"
	"github.com/vantage-ai/orchestrator/modelmanager"
	"github.com/vantage-ai/orchestrator/registry"
)

// Client implements modelmanager.WorkerClient by fanning out to the
// per-kind worker implementations in this package.
type Client struct {
	remote *RemoteInference
	local  *LocalInference
	search *SearchProvider
	scrape *Scraper
}

// NewClient constructs a Client sharing one EndpointBook and
// TransportPool across all worker kinds.
func NewClient(endpoints *EndpointBook, transport *TransportPool) *Client {
	return &Client{
		remote: NewRemoteInference(endpoints, transport),
		local:  NewLocalInference(endpoints, transport),
		search: NewSearchProvider(endpoints, transport),
		scrape: NewScraper(transport),
	}
}

func (c *Client) Generate(ctx context.Context, worker registry.Descriptor, prompt string, params modelmanager.GenerateParams) (execstate.NodeResult, error) {
	switch worker.Kind {
	case registry.KindLocalInference:
		return c.local.Generate(ctx, worker.ID, prompt, params)
	case registry.KindRemoteInference:
		return c.remote.Generate(ctx, worker.ID, prompt, params)
	case registry.KindWebSearch:
		return c.search.Generate(ctx, worker.ID, prompt, params)
	case registry.KindScraper:
		return c.scrape.Generate(ctx, worker.ID, prompt, params)
	default:
		return execstate.NodeResult{}, nil
	}
}

func (c *Client) Load(ctx context.Context, worker registry.Descriptor) error {
	if worker.Kind == registry.KindLocalInference {
		return c.local.Load(ctx, worker.ID)
	}
	return nil
}

func (c *Client) Unload(ctx context.Context, worker registry.Descriptor) error {
	if worker.Kind == registry.KindLocalInference {
		return c.local.Unload(ctx, worker.ID)
	}
	return nil
}
