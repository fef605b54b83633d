package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantage-ai/orchestrator/config"
)

// newTestGateway builds a Gateway against an unreachable Redis URL so it
// falls back to the in-process cache, matching how this deployment
// degrades when Redis is down (§4.1 Fallback).
func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	os.Setenv("REDIS_URL", "redis://127.0.0.1:1")
	defer os.Unsetenv("REDIS_URL")

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, err := New(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("gateway.New failed: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		g.Shutdown(shutdownCtx)
	})
	return g
}

func TestHealthzAndReadyAreUnauthenticated(t *testing.T) {
	g := newTestGateway(t)
	r := g.Router()

	for _, path := range []string{"/healthz", "/ready"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		r.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestMetricsEndpointServesWithoutAuth(t *testing.T) {
	g := newTestGateway(t)
	r := g.Router()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestV1RoutesRejectMissingAuth(t *testing.T) {
	g := newTestGateway(t)
	r := g.Router()

	rr := httptest.NewRecorder()
	body := strings.NewReader(`{"query":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/query", body)
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without auth header, got %d", rr.Code)
	}
}

func TestHandleQueryRejectsEmptyQuery(t *testing.T) {
	g := newTestGateway(t)
	r := g.Router()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":""}`))
	req.Header.Set("Authorization", "Bearer test-key")
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty query, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected valid JSON error envelope, got error: %v", err)
	}
	if _, ok := body["error"]; !ok {
		t.Fatalf("expected top-level error key, got %v", body)
	}
}

func TestHandleQueryDegradesGracefullyWhenWorkerUnreachable(t *testing.T) {
	g := newTestGateway(t)
	r := g.Router()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"what is the weather"}`))
	req.Header.Set("Authorization", "Bearer test-key")
	r.ServeHTTP(rr, req)

	// No worker endpoints are configured in this test environment, so the
	// underlying node call fails and the graph falls through to
	// error_handler, which composes a terminal response rather than
	// propagating an error (§4.4 edge case).
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with a degraded terminal response, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected valid JSON body, got error: %v", err)
	}
	meta, _ := body["meta"].(map[string]any)
	if degraded, _ := meta["degraded"].(bool); !degraded {
		t.Fatalf("expected degraded:true in response meta, got %v", body)
	}
}

func TestBanditArmsSnapshotListsDeclaredArms(t *testing.T) {
	g := newTestGateway(t)
	r := g.Router()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/bandit/arms", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var arms []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &arms); err != nil {
		t.Fatalf("expected JSON array of arms, got error: %v", err)
	}
	if len(arms) != 2 {
		t.Fatalf("expected 2 declared arms (direct, researched), got %d", len(arms))
	}
}

func TestMaxBodySizeRejectsOversizedRequest(t *testing.T) {
	g := newTestGateway(t)
	g.cfg.MaxBodyBytes = 16
	r := g.Router()

	rr := httptest.NewRecorder()
	oversized := strings.Repeat("a", 1024)
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"`+oversized+`"}`))
	req.Header.Set("Authorization", "Bearer test-key")
	req.ContentLength = int64(len(oversized) + 11)
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d", rr.Code)
	}
}
