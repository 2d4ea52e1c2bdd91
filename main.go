package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/colinzhu/limit-monitoring-sub001/config"
	"github.com/colinzhu/limit-monitoring-sub001/fx"
	"github.com/colinzhu/limit-monitoring-sub001/ingest"
	"github.com/colinzhu/limit-monitoring-sub001/logging"
	"github.com/colinzhu/limit-monitoring-sub001/notify"
	"github.com/colinzhu/limit-monitoring-sub001/rules"
	"github.com/colinzhu/limit-monitoring-sub001/server"
	"github.com/colinzhu/limit-monitoring-sub001/status"
	"github.com/colinzhu/limit-monitoring-sub001/store"
	"github.com/colinzhu/limit-monitoring-sub001/totals"
	"github.com/colinzhu/limit-monitoring-sub001/workflow"
)

const (
	serviceName    = "limit-monitor"
	serviceVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.SetLevel(cfg.LogLevel)
	log := logging.NewComponentLogger(serviceName, serviceVersion)
	log.Info().Str("config", cfg.String()).Msg("Starting limit monitor")

	st, err := store.Open(cfg.DSN(), logging.NewComponentLogger("store", serviceVersion))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := st.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize schema")
	}

	converter := fx.NewConverter(logging.NewComponentLogger("fx", serviceVersion))
	rateRefresher := fx.NewRefresher(converter, st, cfg.RateSourceURL, cfg.RateRefreshInterval,
		logging.NewComponentLogger("fx-refresher", serviceVersion))

	registry := rules.NewRegistry(cfg.DefaultExposureLimitUSD,
		logging.NewComponentLogger("rules", serviceVersion))
	ruleRefresher := rules.NewRefresher(registry, cfg.RuleSourceURL, cfg.RuleRefreshInterval,
		logging.NewComponentLogger("rules-refresher", serviceVersion))

	engine := totals.NewEngine(st, registry, converter, cfg.EventWorkers,
		logging.NewComponentLogger("totals", serviceVersion))
	coordinator := ingest.NewCoordinator(st, converter, engine.Kick,
		logging.NewComponentLogger("ingest", serviceVersion))
	resolver := status.NewResolver(st, registry, converter)
	approvals := workflow.NewService(st, resolver,
		logging.NewComponentLogger("workflow", serviceVersion))
	dispatcher := notify.NewDispatcher(st, cfg.NotifyURL, cfg.NotificationMaxRetries,
		logging.NewComponentLogger("notify", serviceVersion))

	api := server.New(coordinator, approvals, engine, resolver, st,
		logging.NewComponentLogger("http", serviceVersion))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rateRefresher.Run(gctx) })
	g.Go(func() error { return ruleRefresher.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-gctx.Done():
		log.Error().Msg("A background worker failed, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker exited with error")
		os.Exit(1)
	}
	log.Info().Msg("Limit monitor stopped")
}
