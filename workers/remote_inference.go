/*
Logic:       OpenAI-compatible chat-completion call for a remote
             inference worker: marshal messages, POST, decode usage, and
             — for a stream_sink caller — relay server-sent chunks as
             they arrive.
Root Cause:  Spec §4.3 generate(worker_id, prompt, params) → NodeResult;
             §4.5's streaming workflows need token-by-token relay via
             params.stream_sink.
Context:     Adapted from tokenhub's internal/providers/openai adapter
             (request/response shapes, SSE body reading), generalised
             from a single named provider to any OpenAI-compatible
             endpoint addressed by workers.Endpoint.
*/
package workers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vantage-ai/orchestrator/execstate"
	"github.com/vantage-ai/orchestrator/modelmanager"
	"github.com/vantage-ai/orchestrator/orcherr"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// RemoteInference calls an OpenAI-compatible chat completion endpoint.
type RemoteInference struct {
	endpoints *EndpointBook
	transport *TransportPool
}

// NewRemoteInference constructs a RemoteInference worker kind.
func NewRemoteInference(endpoints *EndpointBook, transport *TransportPool) *RemoteInference {
	return &RemoteInference{endpoints: endpoints, transport: transport}
}

func (ri *RemoteInference) Generate(ctx context.Context, workerID, prompt string, params modelmanager.GenerateParams) (execstate.NodeResult, error) {
	ep, ok := ri.endpoints.Get(workerID)
	if !ok {
		return execstate.NodeResult{}, orcherr.New(orcherr.NoEligibleWorker, "no endpoint configured for worker "+workerID)
	}

	stream := params.StreamSink != nil
	reqBody := chatRequest{
		Model:       ep.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		Stop:        params.Stop,
		Stream:      stream,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return execstate.NodeResult{}, orcherr.Wrap(orcherr.Unknown, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return execstate.NodeResult{}, orcherr.Wrap(orcherr.Unknown, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}
	for k, v := range ep.Headers {
		httpReq.Header.Set(k, v)
	}

	client := ri.transport.ClientFor(workerID, poolConfigFor(ep))
	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return execstate.NodeResult{}, orcherr.Wrap(orcherr.WorkerTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return execstate.NodeResult{}, orcherr.New(orcherr.WorkerTimeout, fmt.Sprintf("worker %s returned %d", workerID, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return execstate.NodeResult{}, orcherr.New(orcherr.Unknown, fmt.Sprintf("worker %s returned %d: %s", workerID, resp.StatusCode, string(data)))
	}

	if stream {
		return ri.readStream(resp.Body, params, start)
	}
	return ri.readComplete(resp.Body, start)
}

func (ri *RemoteInference) readComplete(body io.Reader, start time.Time) (execstate.NodeResult, error) {
	var parsed chatResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return execstate.NodeResult{}, orcherr.Wrap(orcherr.Unknown, err)
	}
	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}
	return execstate.NodeResult{
		Success:       true,
		Confidence:    1.0,
		Data:          content,
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"prompt_tokens":     parsed.Usage.PromptTokens,
			"completion_tokens": parsed.Usage.CompletionTokens,
		},
	}, nil
}

func (ri *RemoteInference) readStream(body io.Reader, params modelmanager.GenerateParams, start time.Time) (execstate.NodeResult, error) {
	scanner := bufio.NewScanner(body)
	var full strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		params.StreamSink(delta)
	}
	if err := scanner.Err(); err != nil {
		return execstate.NodeResult{}, orcherr.Wrap(orcherr.WorkerTimeout, err)
	}
	return execstate.NodeResult{
		Success:       true,
		Confidence:    1.0,
		Data:          full.String(),
		ExecutionTime: time.Since(start),
	}, nil
}

func poolConfigFor(ep Endpoint) PoolConfig {
	cfg := DefaultPoolConfig()
	if ep.Timeout > 0 {
		cfg.Timeout = ep.Timeout
	}
	return cfg
}
