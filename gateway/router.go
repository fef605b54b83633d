/*
Logic:       Builds the chi router and middleware chain in front of the
             Gateway's handlers: CORS -> security headers -> request ID ->
             panic recovery -> request logging -> body size limit, then an
             authenticated /v1 group with rate limiting, header
             normalization, per-request timeout and per-principal
             concurrency limiting.
Root Cause:  Spec §2 C7 Request Gateway "maps HTTP requests to a workflow
             invocation"; SPEC_FULL.md §11 carries this middleware chain
             forward unchanged in shape.
Context:     Grounded on tokenhub's internal/httpapi/routes.go router
             assembly (go-chi/chi/v5 mux, middleware mounted in sequence
             ahead of an authenticated handler group), mounting this
             orchestrator's own handlers in place of the chat-completions
             handler set.
*/
package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/vantage-ai/orchestrator/middleware"
	"github.com/vantage-ai/orchestrator/observability"
)

// Router builds the full HTTP handler for this Gateway.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.CORSMiddleware([]string{"*"}))
	r.Use(middleware.SecurityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(observability.TracingMiddleware(g.tracer))
	r.Use(g.requestLogger)
	r.Use(g.maxBodySize(g.cfg.MaxBodyBytes))

	r.Get("/healthz", g.healthz)
	r.Get("/ready", g.ready)
	r.Get("/metrics", g.metrics.Handler())

	authMW := middleware.NewAuthMiddleware(g.logger, g.cfg.APIKeyHeader)
	headerNorm := middleware.NewHeaderNormalization(g.logger)
	timeoutMW := middleware.NewTimeoutMiddleware(g.logger, g.cfg)
	concurrency := middleware.NewConcurrencyGuard(64, 5*time.Second, g.logger)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMW.Handler)
		r.Use(g.rateLimit)
		r.Use(headerNorm.Handler)
		r.Use(timeoutMW.Handler)
		r.Use(concurrency.Middleware)

		r.Post("/query", g.handleQuery)
		r.Post("/query/stream", g.handleQueryStream)
		r.Post("/chat/completions", g.handleChatCompletions)
		r.Post("/search", g.handleSearch)
		r.Get("/bandit/arms", g.handleBanditArms)
	})

	return r
}

func (g *Gateway) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (g *Gateway) ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// rateLimit enforces the principal's tier RPM limit against the shared
// budget.RateLimiter before any workflow runs (§6 rate_limit.<tier>.rpm).
func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principalID := resolvePrincipalID(r)
		tier := resolveTier(r)
		limits := g.cfg.TierLimitsFor(tier)

		allowed, err := g.limiter.Allow(r.Context(), principalID, limits.RateLimitRPM, time.Minute)
		if err != nil {
			g.logger.Warn().Err(err).Msg("rate limiter store error, failing open")
		}
		if !allowed {
			writeOrchError(w, orcherrRateLimited())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(rw, r)
		dur := time.Since(start)
		g.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("req_id", chimw.GetReqID(r.Context())).
			Int("status", rw.Status()).
			Dur("duration", dur).
			Msg("request completed")
	})
}

func (g *Gateway) maxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				http.Error(w, `{"error":{"type":"request_too_large","message":"request body too large"}}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func resolvePrincipalID(r *http.Request) string {
	if id := r.Header.Get("X-Principal-ID"); id != "" {
		return id
	}
	if key := middleware.GetAPIKey(r.Context()); key != "" {
		return key
	}
	return "anonymous"
}

func resolveTier(r *http.Request) string {
	if tier := r.Header.Get("X-Quality-Tier"); tier != "" {
		return tier
	}
	return "free"
}
