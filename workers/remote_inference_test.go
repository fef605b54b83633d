package workers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vantage-ai/orchestrator/modelmanager"
)

func TestRemoteInferenceGenerateNonStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "hello there"}, FinishReason: "stop"}},
			Usage:   chatUsage{PromptTokens: 5, CompletionTokens: 2},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	endpoints := NewEndpointBook([]Endpoint{{WorkerID: "w1", BaseURL: server.URL, Model: "test-model"}})
	ri := NewRemoteInference(endpoints, NewTransportPool())

	result, err := ri.Generate(context.Background(), "w1", "hi", modelmanager.GenerateParams{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Data.(string) != "hello there" {
		t.Fatalf("unexpected content: %v", result.Data)
	}
}

func TestRemoteInferenceGenerateServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	endpoints := NewEndpointBook([]Endpoint{{WorkerID: "w1", BaseURL: server.URL, Model: "test-model"}})
	ri := NewRemoteInference(endpoints, NewTransportPool())

	_, err := ri.Generate(context.Background(), "w1", "hi", modelmanager.GenerateParams{})
	if err == nil {
		t.Fatal("expected error on 5xx response")
	}
}

func TestExtractTextStripsTagsAndCollapsesWhitespace(t *testing.T) {
	html := "<html><body>  <p>Hello   <b>world</b></p>  </body></html>"
	got := extractText(html)
	if got != "Hello world" {
		t.Fatalf("expected 'Hello world', got %q", got)
	}
}
