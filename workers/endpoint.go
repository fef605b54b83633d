/*
Logic:       Per-worker connection configuration (base URL, auth, model
             name) keyed by worker id, looked up by every worker-kind
             implementation before making a call.
Root Cause:  registry.Descriptor carries only the spec's data model
             fields (§3); the transport details needed to actually reach
             a worker are operational configuration, not routing state.
Context:     Adapted from tokenhub's models.Model record (provider,
             base config, per-model fields resolved by ID), generalised
             from "one config per named model" to "one config per worker
             id" to match the registry's per-worker addressing.
*/
package workers

import "time"

// Endpoint holds the transport-level details for reaching one worker.
type Endpoint struct {
	WorkerID string
	BaseURL  string
	APIKey   string
	Model    string
	Headers  map[string]string
	Timeout  time.Duration
}

// EndpointBook is a lookup table from worker id to Endpoint.
type EndpointBook struct {
	endpoints map[string]Endpoint
}

// NewEndpointBook builds an EndpointBook from a slice of Endpoints.
func NewEndpointBook(endpoints []Endpoint) *EndpointBook {
	book := &EndpointBook{endpoints: make(map[string]Endpoint, len(endpoints))}
	for _, e := range endpoints {
		book.endpoints[e.WorkerID] = e
	}
	return book
}

// Get returns the Endpoint for workerID.
func (b *EndpointBook) Get(workerID string) (Endpoint, bool) {
	e, ok := b.endpoints[workerID]
	return e, ok
}

// Set adds or replaces an Endpoint.
func (b *EndpointBook) Set(e Endpoint) {
	b.endpoints[e.WorkerID] = e
}
