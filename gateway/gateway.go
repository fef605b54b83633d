/*
Logic:       Wires every core collaborator (Cache, Registry, Model
             Manager, Graph Engine instances, Adaptive Router, Budget
             Ledger) into one long-lived Gateway, and maps incoming HTTP
             requests to a workflow invocation the way C7 is specified:
             "Maps HTTP requests to a workflow invocation, injects
             correlation id, principal, budget; returns structured
             result or SSE."
Root Cause:  Spec §2 C7 Request Gateway, §8 data flow: "Gateway →
             (optional) Adaptive Router selects an arm → the arm names a
             workflow → Graph Engine runs that workflow → nodes call
             Model Manager and Cache → final state is projected to the
             gateway response → router observes outcome and updates
             bandit posterior."
Context:     Grounded on tokenhub's internal/httpapi/routes.go Dependencies
             struct (one collaborator field per subsystem, assembled once
             at startup and closed over by every handler) and
             cmd/tokenhub/main.go's config→server→listen sequence,
             generalised from a single provider-proxy surface to the
             full orchestration substrate.
*/
package gateway

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vantage-ai/orchestrator/analytics"
	"github.com/vantage-ai/orchestrator/bandit"
	"github.com/vantage-ai/orchestrator/budget"
	"github.com/vantage-ai/orchestrator/cache"
	"github.com/vantage-ai/orchestrator/config"
	"github.com/vantage-ai/orchestrator/execstate"
	"github.com/vantage-ai/orchestrator/graph"
	"github.com/vantage-ai/orchestrator/modelmanager"
	"github.com/vantage-ai/orchestrator/observability"
	"github.com/vantage-ai/orchestrator/orcherr"
	"github.com/vantage-ai/orchestrator/policy"
	"github.com/vantage-ai/orchestrator/registry"
	"github.com/vantage-ai/orchestrator/workers"
	"github.com/vantage-ai/orchestrator/workflows"
)

// arm IDs declared at startup (§4.6 Cold start: every new arm begins at
// alpha=1, beta=1). "direct" answers from conversational memory alone;
// "researched" augments the answer with a web-search/scrape pass before
// replying — two interchangeable strategies for the same incoming query.
const (
	ArmDirect     = "direct"
	ArmResearched = "researched"
)

// Gateway holds every wired collaborator for the lifetime of the process.
type Gateway struct {
	cfg    *config.Config
	logger zerolog.Logger

	cache    *cache.Cache
	registry *registry.Registry
	manager  *modelmanager.Manager
	ledger   *budget.Ledger
	limiter  *budget.RateLimiter
	checker  *policy.ContentChecker

	banditRouter *bandit.Bandit
	shadow       *bandit.ShadowRunner

	engines map[string]*graph.Engine

	metrics   *observability.Metrics
	tracer    *observability.Tracer
	pagerduty *observability.PagerDutyClient

	pipeline *analytics.Pipeline

	redisBackend  *cache.RedisBackend
	stopRedisPing chan struct{}

	quarantineMu    sync.Mutex
	quarantineState map[string]bool
}

// New assembles every collaborator and validates both declared workflow
// graphs, returning an error if either fails registration (§4.4 "the
// graph is validated at registration").
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Gateway, error) {
	reg := registry.New(logger)
	registerDeclaredWorkers(reg)

	var primary cache.Backend
	var redisBackend *cache.RedisBackend
	if rb, err := cache.NewRedisBackend(cfg.RedisURL); err == nil {
		redisBackend = rb
		primary = rb
		if pingErr := rb.Ping(ctx); pingErr != nil {
			logger.Warn().Err(pingErr).Msg("redis unreachable at startup, starting on in-process cache only")
		}
	} else {
		logger.Warn().Err(err).Msg("redis backend unavailable at startup, falling back to in-process cache only")
	}
	c := cache.New(logger, primary, cache.NewMemoryBackend(cfg.CacheFallbackSize))

	endpoints := workers.NewEndpointBook(nil)
	transport := workers.NewTransportPool()
	client := workers.NewClient(endpoints, transport)

	manager := modelmanager.New(reg, c, client, logger, modelmanager.Config{
		ResidentBudgetBytes: cfg.ResidentBudgetBytes,
		IdleThreshold:       10 * time.Minute,
		RetryBudget:         cfg.RetryBudget,
	})

	ledger := budget.New(c)
	limiter := budget.NewRateLimiter(c)
	checker := policy.NewContentChecker(nil)

	banditCfg := bandit.Config{
		MinSuccess:         cfg.BanditMinSuccess,
		CheckpointInterval: cfg.BanditCheckpointInterval,
		ShadowRate:         cfg.ShadowRate,
	}
	declaredArms := []bandit.Arm{
		{ID: ArmDirect, WorkflowID: "chat"},
		{ID: ArmResearched, WorkflowID: "search"},
	}
	banditRouter := bandit.New(ctx, c, logger, banditCfg, declaredArms, time.Now().UnixNano())
	banditRouter.StartCheckpointing(ctx)

	tracer := observability.NewTracer(logger, observability.NewLogExporter(logger), 1.0)
	pdCfg := observability.DefaultPagerDutyConfig()
	if key := os.Getenv("PAGERDUTY_ROUTING_KEY"); key != "" {
		pdCfg.RoutingKey = key
		pdCfg.Enabled = true
	}

	g := &Gateway{
		cfg:           cfg,
		logger:        logger,
		cache:         c,
		registry:      reg,
		manager:       manager,
		ledger:        ledger,
		limiter:       limiter,
		checker:       checker,
		banditRouter:  banditRouter,
		engines:       make(map[string]*graph.Engine),
		metrics:       observability.NewMetrics(logger),
		tracer:        tracer,
		pagerduty:     observability.NewPagerDutyClient(pdCfg, logger),
		pipeline:      analytics.NewPipeline(logger, analytics.NewLogSink(logger)),
		redisBackend:    redisBackend,
		stopRedisPing:   make(chan struct{}),
		quarantineState: make(map[string]bool),
	}
	g.pipeline.Start(ctx)
	g.startRedisHealthCheck()

	g.shadow = bandit.NewShadowRunner(banditRouter, g.runWorkflow, cfg.ShadowBudgetPerWindow, logger, time.Now().UnixNano()+1)

	errorHandler := graph.NodeFunc(g.errorHandlerNode)

	chatWF := workflows.NewChatWorkflow(c, manager, checker, logger)
	chatGraph, err := chatWF.Build(errorHandler)
	if err != nil {
		return nil, fmt.Errorf("build chat graph: %w", err)
	}
	chatEngine, err := graph.New(chatGraph, logger)
	if err != nil {
		return nil, fmt.Errorf("register chat engine: %w", err)
	}
	g.engines["chat"] = chatEngine

	searchWF := workflows.NewSearchWorkflow(c, manager, reg, nil, "scraper-default", logger)
	searchGraph, err := searchWF.Build(errorHandler)
	if err != nil {
		return nil, fmt.Errorf("build search graph: %w", err)
	}
	searchEngine, err := graph.New(searchGraph, logger)
	if err != nil {
		return nil, fmt.Errorf("register search engine: %w", err)
	}
	g.engines["search"] = searchEngine

	return g, nil
}

// errorHandlerNode ends a failed run: it keeps any final response the
// workflow already wrote, otherwise sets a fixed "could not be completed"
// message, and marks the response degraded. It does not read node
// intermediates such as search snippets (§4.4 edge case: "both the
// primary path and error_handler fail" falls back to a synthetic
// terminal result one level up, in the engine itself).
func (g *Gateway) errorHandlerNode(ctx context.Context, state *execstate.ExecutionState) execstate.NodeResult {
	if state.FinalResponse == "" {
		state.FinalResponse = "the request could not be completed"
	}
	state.ResponseMeta["degraded"] = true
	return execstate.NodeResult{Success: true, Confidence: 0}
}

// reportQuarantineTransitions pages on newly quarantined arms and
// resolves the page once an arm's rolling success rate recovers, so
// on-call only hears about the edges, not every request against an
// already-known-bad arm.
func (g *Gateway) reportQuarantineTransitions(arms []bandit.Arm) {
	g.quarantineMu.Lock()
	defer g.quarantineMu.Unlock()
	for _, a := range arms {
		was := g.quarantineState[a.ID]
		if a.Quarantined && !was {
			if err := g.pagerduty.AlertArmQuarantined(a.ID, a.SuccessRate()); err != nil {
				g.logger.Warn().Err(err).Str("arm_id", a.ID).Msg("failed to page on arm quarantine")
			}
		} else if !a.Quarantined && was {
			if err := g.pagerduty.AlertArmCleared(a.ID); err != nil {
				g.logger.Warn().Err(err).Str("arm_id", a.ID).Msg("failed to resolve arm quarantine page")
			}
		}
		g.quarantineState[a.ID] = a.Quarantined
	}
}

// runWorkflow satisfies bandit.Executor: resolves the engine for
// workflowID and runs it against state.
func (g *Gateway) runWorkflow(ctx context.Context, workflowID string, state *execstate.ExecutionState) (*execstate.ExecutionState, error) {
	engine, ok := g.engines[workflowID]
	if !ok {
		return state, orcherr.New(orcherr.GraphRoutingError, "no engine registered for workflow: "+workflowID)
	}
	return engine.Run(ctx, state)
}

// startRedisHealthCheck re-pings the Redis backend on an interval so
// cache.Cache.active() can fail over and recover as reachability
// changes, rather than being pinned to whatever Ping returned at
// startup.
func (g *Gateway) startRedisHealthCheck() {
	if g.redisBackend == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				wasAvailable := g.redisBackend.Available()
				err := g.redisBackend.Ping(context.Background())
				if err != nil && wasAvailable {
					g.logger.Warn().Err(err).Msg("redis health check failed, degrading to in-process cache")
				} else if err == nil && !wasAvailable {
					g.logger.Info().Msg("redis reachable again, resuming shared cache")
				}
			case <-g.stopRedisPing:
				return
			}
		}
	}()
}

// Shutdown stops the Redis health ping and the bandit checkpoint loop,
// writes a final bandit checkpoint under ctx, drains the analytics
// pipeline, and flushes the tracer. Only the checkpoint write is bounded
// by ctx; the other steps have no time limit of their own.
func (g *Gateway) Shutdown(ctx context.Context) {
	close(g.stopRedisPing)
	g.banditRouter.Stop()
	g.banditRouter.CheckpointAll(ctx)
	g.pipeline.Stop()
	g.tracer.Stop()
}

func newQueryID() string { return uuid.NewString() }
