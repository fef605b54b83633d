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
	"github.com/vantage-ai/orchestrator/policy"
	"github.com/vantage-ai/orchestrator/registry"
)

type fakeChatClient struct {
	classifyLabel string
	replyText     string
}

func (f *fakeChatClient) Generate(ctx context.Context, worker registry.Descriptor, prompt string, params modelmanager.GenerateParams) (execstate.NodeResult, error) {
	if worker.ID == "classifier-worker" {
		return execstate.NodeResult{Success: true, Confidence: 1, Data: f.classifyLabel}, nil
	}
	return execstate.NodeResult{Success: true, Confidence: 0.9, Cost: 0.002, WorkerUsed: worker.ID, Data: f.replyText}, nil
}
func (f *fakeChatClient) Load(ctx context.Context, worker registry.Descriptor) error   { return nil }
func (f *fakeChatClient) Unload(ctx context.Context, worker registry.Descriptor) error { return nil }

func newTestChatWorkflow(t *testing.T, client *fakeChatClient) (*ChatWorkflow, *cache.Cache) {
	t.Helper()
	reg := registry.New(zerolog.Nop())
	reg.Register(&registry.Descriptor{ID: "classifier-worker", Kind: registry.KindRemoteInference, Warmth: registry.T0, Health: registry.HealthReady, Capabilities: map[string]struct{}{"classification": {}}})
	reg.Register(&registry.Descriptor{ID: "chat-worker", Kind: registry.KindRemoteInference, Warmth: registry.T0, Health: registry.HealthReady, Capabilities: map[string]struct{}{"chat": {}, "qa": {}, "code_generation": {}, "instruction_following": {}}})

	c := cache.New(zerolog.Nop(), nil, cache.NewMemoryBackend(100))
	m := modelmanager.New(reg, c, client, zerolog.Nop(), modelmanager.Config{
		ResidentBudgetBytes: 1 << 30,
		RetryBudget:         3,
		DefaultWorkerByTask: map[string]string{"classification": "classifier-worker"},
	})
	checker := policy.NewContentChecker([]string{"forbidden-term"})
	return NewChatWorkflow(c, m, checker, zerolog.Nop()), c
}

func runChat(t *testing.T, w *ChatWorkflow, query, session string) *execstate.ExecutionState {
	t.Helper()
	g, err := w.Build(graph.NodeFunc(func(ctx context.Context, s *execstate.ExecutionState) execstate.NodeResult {
		s.FinalResponse = "fallback"
		return execstate.NodeResult{Success: true}
	}))
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	e, err := graph.New(g, zerolog.Nop())
	if err != nil {
		t.Fatalf("engine error: %v", err)
	}
	state := execstate.New("q1", "c1", "principal1", session, query, 10.0, time.Now().Add(time.Minute), execstate.QualityBalanced)
	out, err := e.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	return out
}

func TestChatWorkflowHappyPath(t *testing.T) {
	client := &fakeChatClient{classifyLabel: "question", replyText: "here is your answer"}
	w, _ := newTestChatWorkflow(t, client)
	out := runChat(t, w, "what is the weather", "session-a")
	if out.FinalResponse != "here is your answer" {
		t.Fatalf("expected generated reply as final response, got %q", out.FinalResponse)
	}
	intentData, _ := out.Intermediate["intent_classifier"].(map[string]any)
	if intentData["intent"] != "question" {
		t.Fatalf("expected classified intent question, got %v", intentData["intent"])
	}
}

func TestChatWorkflowFallsBackToKeywordClassifierOffSet(t *testing.T) {
	client := &fakeChatClient{classifyLabel: "not-a-real-label", replyText: "hi there"}
	w, _ := newTestChatWorkflow(t, client)
	out := runChat(t, w, "hello there, how are you", "session-b")
	intentData, _ := out.Intermediate["intent_classifier"].(map[string]any)
	if intentData["intent"] != string(IntentChitchat) {
		t.Fatalf("expected keyword fallback to classify chitchat, got %v", intentData["intent"])
	}
}

func TestChatWorkflowRoutesToErrorHandlerOnEmptyResponse(t *testing.T) {
	client := &fakeChatClient{classifyLabel: "question", replyText: ""}
	w, _ := newTestChatWorkflow(t, client)
	out := runChat(t, w, "what is up", "session-c")
	if out.FinalResponse != "fallback" {
		t.Fatalf("expected error_handler fallback response on empty text, got %q", out.FinalResponse)
	}
}

func TestChatWorkflowPersistsConversationAcrossTurns(t *testing.T) {
	client := &fakeChatClient{classifyLabel: "question", replyText: "answer one"}
	w, c := newTestChatWorkflow(t, client)
	runChat(t, w, "first question", "session-d")

	raw, found := c.Get(context.Background(), cache.NamespaceConversation, []byte("session-d"))
	if !found {
		t.Fatalf("expected conversation entry persisted under session id")
	}
	if len(raw) == 0 {
		t.Fatalf("expected non-empty persisted conversation payload")
	}
}
