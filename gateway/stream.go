/*
Logic:       SSE variant of the bandit-routed query endpoint: streams
             response chunks as the Model Manager produces them instead
             of waiting for the full generation, and folds
             time-to-first-token into the reward's streaming term.
Root Cause:  Spec §2 C7 Request Gateway: "returns structured result or
             SSE"; §4.6 Reward function's streaming term exists
             specifically for this path (non-streaming calls leave it at
             zero rather than undefined).
Context:     Grounded on workflows/chat.go's responseGenerator reading
             state.ResponseMeta["stream_sink"] and modelmanager.
             GenerateParams.StreamSink, generalised here into the
             producer side: a chi handler that supplies the sink and
             flushes each chunk as an SSE "message" event.
*/
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vantage-ai/orchestrator/orcherr"
)

// handleQueryStream behaves like handleQuery but streams generation
// chunks over SSE as they arrive, then emits a final "done" or "error"
// event once the workflow completes.
func (g *Gateway) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQueryRequest(w, r)
	if !ok {
		return
	}

	arm, err := g.banditRouter.Select(false)
	if err != nil {
		writeOrchError(w, err)
		return
	}

	state, reservationID, ok := g.prepareState(w, r, req, arm.ID)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeOrchError(w, orcherr.New(orcherr.Unknown, "streaming not supported by this transport"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	start := time.Now()
	var firstChunkOnce sync.Once
	var ttft time.Duration
	state.ResponseMeta["stream_sink"] = func(chunk string) {
		firstChunkOnce.Do(func() { ttft = time.Since(start) })
		writeSSEEvent(w, "chunk", map[string]string{"text": chunk})
		flusher.Flush()
	}

	out, runErr := g.runWorkflow(r.Context(), arm.WorkflowID, state)
	elapsed := time.Since(start)

	reward := g.finishStreamedExecution(r.Context(), reservationID, arm.ID, out, runErr, elapsed, true, ttft)
	g.banditRouter.UpdateWithLatency(arm.ID, reward, elapsed)
	g.shadow.MaybeRun(r.Context(), arm.ID, state)

	if runErr != nil {
		writeSSEEvent(w, "error", map[string]string{"message": runErr.Error()})
	} else {
		writeSSEEvent(w, "done", map[string]any{
			"query_id":       out.QueryID,
			"cost":           out.TotalCost(),
			"execution_path": out.ExecutionPath,
		})
	}
	flusher.Flush()
}

func writeSSEEvent(w http.ResponseWriter, event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
}
