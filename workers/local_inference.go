/*
Logic:       Self-hosted inference worker pointed at an OpenAI-compatible
             local server (Ollama, vLLM). Generation reuses
             RemoteInference's wire format since both speak the same
             chat-completions shape; Load/Unload drive the server's
             model (un)load endpoints so residency actually reflects
             whether the model weights are in memory.
Root Cause:  Spec §3 WorkerDescriptor kind local-inference; §4.3
             ensure_resident must make a real difference for local
             workers (loading a model into memory), unlike remote
             workers where residency is a no-op.
Context:     Adapted from tokenhub's internal/providers/vllm adapter
             (OpenAI-compatible local endpoint, generous timeout default
             for cold local decoding).
*/
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vantage-ai/orchestrator/orcherr"
)

// LocalInference wraps RemoteInference's wire format with local-specific
// defaults and a model load/unload lifecycle.
type LocalInference struct {
	*RemoteInference
	endpoints *EndpointBook
	transport *TransportPool
}

// NewLocalInference constructs a LocalInference worker kind.
func NewLocalInference(endpoints *EndpointBook, transport *TransportPool) *LocalInference {
	return &LocalInference{
		RemoteInference: NewRemoteInference(endpoints, transport),
		endpoints:        endpoints,
		transport:        transport,
	}
}

type localLoadRequest struct {
	Model    string `json:"model"`
	KeepAlive string `json:"keep_alive,omitempty"`
}

// Load asks the local server to load the model into memory and keep it
// resident (Ollama's keep_alive: -1 idiom).
func (li *LocalInference) Load(ctx context.Context, workerID string) error {
	ep, ok := li.endpoints.Get(workerID)
	if !ok {
		return orcherr.New(orcherr.LoadFailed, "no endpoint configured for worker "+workerID)
	}
	body, _ := json.Marshal(localLoadRequest{Model: ep.Model, KeepAlive: "-1"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return orcherr.Wrap(orcherr.LoadFailed, err)
	}
	cfg := DefaultPoolConfig()
	cfg.Timeout = 300 * time.Second
	client := li.transport.ClientFor(workerID, cfg)
	resp, err := client.Do(req)
	if err != nil {
		return orcherr.Wrap(orcherr.LoadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return orcherr.New(orcherr.LoadFailed, "local worker load returned non-2xx")
	}
	return nil
}

// Unload asks the local server to evict the model from memory
// immediately (keep_alive: 0).
func (li *LocalInference) Unload(ctx context.Context, workerID string) error {
	ep, ok := li.endpoints.Get(workerID)
	if !ok {
		return nil
	}
	body, _ := json.Marshal(localLoadRequest{Model: ep.Model, KeepAlive: "0"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil
	}
	client := li.transport.ClientFor(workerID, DefaultPoolConfig())
	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	return nil
}
