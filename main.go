/*
Logic:       Orchestrator entry point: load config, build a logger, wire
             the Gateway (cache, registry, model manager, adaptive
             router, both workflow graphs), serve HTTP with graceful
             shutdown on SIGINT/SIGTERM.
Root Cause:  Spec §2 "the request gateway maps HTTP requests to a
             workflow invocation"; every other module is reachable only
             through the Gateway this entry point assembles.
Context:     Adapted from tokenhub's cmd/tokenhub/main.go startup
             sequence (config -> logger -> registry -> router ->
             http.Server with signal-driven graceful shutdown),
             re-targeted from a provider-proxy registry to gateway.New's
             full wiring.
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vantage-ai/orchestrator/config"
	"github.com/vantage-ai/orchestrator/gateway"
	"github.com/vantage-ai/orchestrator/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("orchestrator gateway starting")

	ctx, cancelStartup := context.WithCancel(context.Background())
	defer cancelStartup()

	gw, err := gateway.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("gateway initialization failed")
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      gw.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestDeadlineDefault + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	gw.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("gateway stopped gracefully")
	}
}
