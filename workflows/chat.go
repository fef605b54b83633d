/*
Logic:       The Chat workflow: a four-node graph (context_loader →
             intent_classifier → response_generator → cache_writer) that
             loads bounded conversation history, classifies intent,
             generates a reply via the Model Manager, and persists the
             exchange plus routing stats.
Root Cause:  Spec §4.5 Chat workflow (C5) — node list, data each
             produces, the conditional edge to error_handler, and the
             per-session serialisation rule from §5 ("conversation
             appends are serialised by a per-session lock held across
             context_loader read and cache_writer write").
Context:     The rule-based intent fallback follows tokenhub's
             router.ParseDirectives scanning idiom (bounded look-ahead
             into the first user message, keyword/field extraction),
             repurposed from directive parsing to intent-keyword
             weighting. handlers_chat.go's request-shaping/response-
             assembly idiom grounds how a workflow node calls out to a
             model and shapes its NodeResult. Conversation persistence
             follows cache/cache.go's namespace convention
             (NamespaceConversation, NamespacePattern).
*/
package workflows

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantage-ai/orchestrator/cache"
	"github.com/vantage-ai/orchestrator/execstate"
	"github.com/vantage-ai/orchestrator/graph"
	"github.com/vantage-ai/orchestrator/modelmanager"
	"github.com/vantage-ai/orchestrator/orcherr"
	"github.com/vantage-ai/orchestrator/policy"
)

// historyWindow is K from §4.5: "truncates to last K exchanges (K = 10)".
const historyWindow = 10

// Intent is a closed-set chat intent label (§4.5: "a single label from a
// closed set").
type Intent string

const (
	IntentQuestion  Intent = "question"
	IntentCodeHelp  Intent = "code_help"
	IntentCommand   Intent = "command"
	IntentChitchat  Intent = "chitchat"
	IntentUnknown   Intent = "unknown"
)

// taskTypeByIntent is the "fixed mapping" §4.5 names for resolving
// response_generator's task_type from the classified intent.
var taskTypeByIntent = map[Intent]string{
	IntentQuestion: "qa",
	IntentCodeHelp: "code_generation",
	IntentCommand:  "instruction_following",
	IntentChitchat: "chat",
	IntentUnknown:  "chat",
}

type intentRule struct {
	intent   Intent
	keywords []string
}

var defaultIntentRules = []intentRule{
	{IntentCodeHelp, []string{"code", "function", "bug", "error", "compile", "stack trace", "refactor", "syntax"}},
	{IntentCommand, []string{"please", "can you", "do this", "execute", "run ", "set ", "change "}},
	{IntentQuestion, []string{"what", "why", "how", "when", "where", "who", "?"}},
	{IntentChitchat, []string{"hello", "hi ", "thanks", "how are you", "good morning"}},
}

// classifyByKeyword is the rule-based fallback §4.5 requires "if the
// model returns anything off-set"; on total failure it returns unknown.
func classifyByKeyword(prompt string) Intent {
	lower := strings.ToLower(prompt)
	scores := make(map[Intent]int)
	for _, rule := range defaultIntentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				scores[rule.intent]++
			}
		}
	}
	best := IntentUnknown
	bestScore := 0
	for intent, score := range scores {
		if score > bestScore {
			bestScore = score
			best = intent
		}
	}
	return best
}

func validIntent(label string) (Intent, bool) {
	switch Intent(label) {
	case IntentQuestion, IntentCodeHelp, IntentCommand, IntentChitchat:
		return Intent(label), true
	default:
		return "", false
	}
}

// Exchange is one persisted conversation turn pair.
type Exchange struct {
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	Intent    string    `json:"intent"`
	Timestamp time.Time `json:"timestamp"`
}

// conversationLog is the value stored under NamespaceConversation,
// bounded with older entries collapsed into a synthetic summary (§6
// "entries older than the retention window are summarised into a single
// synthetic entry at the head").
type conversationLog struct {
	Summary   string     `json:"summary"`
	Exchanges []Exchange `json:"exchanges"`
}

// ChatWorkflow wires the four Chat nodes to their graph.Graph.
type ChatWorkflow struct {
	cache      *cache.Cache
	manager    *modelmanager.Manager
	checker    *policy.ContentChecker
	logger     zerolog.Logger
	sessionMu  sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

// NewChatWorkflow constructs the workflow's node dependencies.
func NewChatWorkflow(c *cache.Cache, m *modelmanager.Manager, checker *policy.ContentChecker, logger zerolog.Logger) *ChatWorkflow {
	return &ChatWorkflow{
		cache:        c,
		manager:      m,
		checker:      checker,
		logger:       logger.With().Str("component", "chat_workflow").Logger(),
		sessionLocks: make(map[string]*sync.Mutex),
	}
}

func (w *ChatWorkflow) sessionLock(sessionID string) *sync.Mutex {
	w.sessionMu.Lock()
	defer w.sessionMu.Unlock()
	l, ok := w.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		w.sessionLocks[sessionID] = l
	}
	return l
}

// Build assembles the validated Chat graph (§4.5 edges: context_loader →
// intent_classifier → response_generator → cache_writer, with a
// conditional edge from response_generator to error_handler).
func (w *ChatWorkflow) Build(errorHandler graph.Node) (*graph.Graph, error) {
	g := graph.NewGraph("chat")
	g.AddNode(graph.NodeSpec{Name: "context_loader", Node: graph.NodeFunc(w.contextLoader)})
	g.AddNode(graph.NodeSpec{Name: "intent_classifier", Node: graph.NodeFunc(w.intentClassifier)})
	g.AddNode(graph.NodeSpec{Name: "response_generator", Node: graph.NodeFunc(w.responseGenerator)})
	g.AddNode(graph.NodeSpec{Name: "cache_writer", Node: graph.NodeFunc(w.cacheWriter), IsTerminal: true})
	g.AddNode(graph.NodeSpec{Name: "error_handler", Node: errorHandler, IsTerminal: true})

	g.StartAt("context_loader")
	g.AddEdge(graph.Edge{From: "context_loader", To: "intent_classifier"})
	g.AddEdge(graph.Edge{From: "intent_classifier", To: "response_generator"})
	g.AddEdge(graph.Edge{
		From: "response_generator",
		Predicate: func(ctx context.Context, s *execstate.ExecutionState) string {
			var text string
			if data, ok := s.Intermediate["response_generator"].(map[string]any); ok {
				text, _ = data["text"].(string)
			}
			if !w.checker.Check(text).Allowed {
				return "rejected"
			}
			return "ok"
		},
		Mapping: map[string]string{"ok": "cache_writer", "rejected": "error_handler"},
		Labels:  []string{"ok", "rejected"},
	})
	g.SetErrorHandler("error_handler")

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// contextLoader is node 1 of §4.5: loads and truncates session history.
func (w *ChatWorkflow) contextLoader(ctx context.Context, state *execstate.ExecutionState) execstate.NodeResult {
	lock := w.sessionLock(state.SessionID)
	lock.Lock()
	defer lock.Unlock()

	raw, found := w.cache.Get(ctx, cache.NamespaceConversation, []byte(state.SessionID))
	var log conversationLog
	if found {
		_ = json.Unmarshal(raw, &log)
	}

	history := log.Exchanges
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	turns := make([]execstate.Turn, 0, len(history)*2)
	for _, ex := range history {
		turns = append(turns,
			execstate.Turn{Role: "user", Content: ex.Query, Timestamp: ex.Timestamp},
			execstate.Turn{Role: "assistant", Content: ex.Response, Timestamp: ex.Timestamp},
		)
	}
	state.ConversationHistory = turns

	return execstate.NodeResult{
		Success:    true,
		Confidence: 1,
		Data: map[string]any{
			"history": turns,
			"summary": log.Summary,
		},
	}
}

// intentClassifier is node 2: demotes quality to minimal, asks the
// Model Manager for a label, and falls back to keyword rules off-set.
func (w *ChatWorkflow) intentClassifier(ctx context.Context, state *execstate.ExecutionState) execstate.NodeResult {
	worker, err := w.manager.Select(ctx, "classification", execstate.QualityMinimal, modelmanager.Constraints{Deadline: state.Deadline})
	var label string
	if err == nil {
		result, genErr := w.manager.Generate(ctx, worker, classificationPrompt(state.OriginalQuery), modelmanager.GenerateParams{MaxTokens: 16})
		if genErr == nil {
			if text, ok := result.Data.(string); ok {
				label = strings.TrimSpace(strings.ToLower(text))
			}
		}
	}

	intent, ok := validIntent(label)
	if !ok {
		intent = classifyByKeyword(state.OriginalQuery)
	}

	complexity := complexityScore(state.OriginalQuery)
	return execstate.NodeResult{
		Success:    true,
		Confidence: 1,
		Data: map[string]any{
			"intent":           string(intent),
			"complexity_score": complexity,
		},
	}
}

func classificationPrompt(query string) string {
	return "Classify the following message as exactly one of: question, code_help, command, chitchat.\n\n" + query
}

// complexityScore is a cheap proxy used to inform downstream quality
// decisions: the word count divided by 50, capped at 1.
func complexityScore(query string) float64 {
	words := len(strings.Fields(query))
	score := float64(words) / 50.0
	if score > 1 {
		score = 1
	}
	return score
}

// responseGenerator is node 3: resolves task_type from intent, calls the
// Model Manager with truncated history as context, and may stream.
func (w *ChatWorkflow) responseGenerator(ctx context.Context, state *execstate.ExecutionState) execstate.NodeResult {
	intentData, _ := state.Intermediate["intent_classifier"].(map[string]any)
	intent, _ := intentData["intent"].(string)
	taskType, ok := taskTypeByIntent[Intent(intent)]
	if !ok {
		taskType = "chat"
	}

	worker, err := w.manager.Select(ctx, taskType, state.QualityTier, modelmanager.Constraints{Deadline: state.Deadline})
	if err != nil {
		return execstate.NodeResult{Error: &execstate.NodeError{Kind: string(orcherr.KindOf(err)), Message: err.Error()}}
	}

	var streamSink func(string)
	if sink, ok := state.ResponseMeta["stream_sink"].(func(string)); ok {
		streamSink = sink
	}

	result, err := w.manager.Generate(ctx, worker, buildChatPrompt(state), modelmanager.GenerateParams{
		MaxTokens:   defaultMaxTokens(state.QualityTier),
		StreamSink:  streamSink,
	})
	if err != nil {
		return execstate.NodeResult{Error: &execstate.NodeError{Kind: string(orcherr.KindOf(err)), Message: err.Error()}}
	}

	text, _ := result.Data.(string)
	return execstate.NodeResult{
		Success:    true,
		Confidence: result.Confidence,
		Cost:       result.Cost,
		WorkerUsed: result.WorkerUsed,
		Data: map[string]any{
			"text":        text,
			"tokens_in":   result.Metadata["tokens_in"],
			"tokens_out":  result.Metadata["tokens_out"],
			"worker_used": result.WorkerUsed,
		},
	}
}

func defaultMaxTokens(tier execstate.QualityTier) int {
	switch tier {
	case execstate.QualityPremium:
		return 2048
	case execstate.QualityHigh:
		return 1024
	case execstate.QualityMinimal:
		return 256
	default:
		return 512
	}
}

func buildChatPrompt(state *execstate.ExecutionState) string {
	var b strings.Builder
	for _, turn := range state.ConversationHistory {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	b.WriteString("user: ")
	b.WriteString(state.OriginalQuery)
	return b.String()
}

// cacheWriter is node 4 (terminal): appends the new exchange to the
// conversation cache and updates the pattern namespace with routing
// stats, both under the same per-session lock context_loader took.
func (w *ChatWorkflow) cacheWriter(ctx context.Context, state *execstate.ExecutionState) execstate.NodeResult {
	lock := w.sessionLock(state.SessionID)
	lock.Lock()
	defer lock.Unlock()

	genData, _ := state.Intermediate["response_generator"].(map[string]any)
	text, _ := genData["text"].(string)
	workerUsed, _ := genData["worker_used"].(string)
	intentData, _ := state.Intermediate["intent_classifier"].(map[string]any)
	intent, _ := intentData["intent"].(string)

	raw, found := w.cache.Get(ctx, cache.NamespaceConversation, []byte(state.SessionID))
	var log conversationLog
	if found {
		_ = json.Unmarshal(raw, &log)
	}
	log.Exchanges = append(log.Exchanges, Exchange{
		Query:     state.OriginalQuery,
		Response:  text,
		Intent:    intent,
		Timestamp: time.Now(),
	})
	if len(log.Exchanges) > historyWindow*4 {
		overflow := log.Exchanges[:len(log.Exchanges)-historyWindow*2]
		log.Summary = summarizeExchanges(log.Summary, overflow)
		log.Exchanges = log.Exchanges[len(log.Exchanges)-historyWindow*2:]
	}

	encoded, _ := json.Marshal(log)
	w.cache.Set(ctx, cache.NamespaceConversation, []byte(state.SessionID), encoded, cache.DefaultTTL(cache.NamespaceConversation))

	patternKey := []byte("stats:" + workerUsed)
	statEntry := map[string]any{
		"intent":      intent,
		"worker_used": workerUsed,
		"success":     state.Errors == nil,
		"latency_ms":  genData["latency_ms"],
	}
	statEncoded, _ := json.Marshal(statEntry)
	w.cache.Set(ctx, cache.NamespacePattern, patternKey, statEncoded, cache.DefaultTTL(cache.NamespacePattern))

	state.FinalResponse = text
	return execstate.NodeResult{Success: true, Confidence: 1}
}

func summarizeExchanges(previous string, exchanges []Exchange) string {
	var b strings.Builder
	b.WriteString(previous)
	for _, ex := range exchanges {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(ex.Query)
	}
	summary := b.String()
	const maxSummaryChars = 2000
	if len(summary) > maxSummaryChars {
		summary = summary[len(summary)-maxSummaryChars:]
	}
	return summary
}
