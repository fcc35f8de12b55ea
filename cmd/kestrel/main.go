// Kestrel - Payment validation that deploys in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/dispatch"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/hooks"
	"github.com/opensource-finance/kestrel/internal/orchestrator"
	"github.com/opensource-finance/kestrel/internal/publisher"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/store"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	// Load configuration
	cfg := domain.LoadFromEnv()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Store
	resultStore, err := store.New(cfg.Store)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer resultStore.Close()
	slog.Info("store initialized", "driver", cfg.Store.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize compliance screener
	screener, err := hooks.New(cfg.Hooks, busImpl)
	if err != nil {
		slog.Error("failed to initialize screener", "error", err)
		os.Exit(1)
	}
	slog.Info("compliance screener initialized", "type", cfg.Hooks.Type)

	// Initialize velocity tracker over the cache
	tracker := velocity.NewTracker(cacheImpl)

	// Initialize rule registry; tenant overrides load from the store
	policy := cfg.Rules.Policy()
	reg := registry.New(policy, resultStore.ListRuleDefinitions, cacheImpl)
	defer reg.Close()
	slog.Info("rule registry initialized", "builtin_rules", reg.BuiltinCount())

	// Initialize CEL evaluator for custom rules
	eval, err := rules.NewEvaluator()
	if err != nil {
		slog.Error("failed to initialize rule evaluator", "error", err)
		os.Exit(1)
	}
	defer eval.Close()

	// Initialize the four family engines and the dispatcher
	dispatcher := dispatch.New(policy,
		rules.NewBusinessEngine(reg, eval),
		rules.NewComplianceEngine(reg, eval, screener),
		rules.NewFraudEngine(reg, eval, tracker.GetCountFunc()),
		rules.NewRiskEngine(reg, eval),
	)
	slog.Info("rule family engines initialized",
		"parallel", policy.Parallel,
		"budget_ms", policy.PerValidationBudgetMs,
	)

	// Initialize outcome publisher and pipeline orchestrator
	pub := publisher.New(cfg.Publisher, busImpl)
	orch := orchestrator.New(dispatcher, aggregate.New(), resultStore, pub)

	// Start the payment event consumer
	consumer := orchestrator.NewConsumer(busImpl, orch)
	tenantIDs := parseTenants(os.Getenv("KESTREL_TENANTS"))
	if err := consumer.Start(orchestrator.ConsumerConfig{TenantIDs: tenantIDs}); err != nil {
		slog.Error("failed to start consumer", "error", err)
		os.Exit(1)
	}
	slog.Info("payment consumer started", "tenant_count", len(tenantIDs))

	// Start the republish and retention sweepers
	republishSweeper := publisher.NewSweeper(cfg.Publisher, resultStore, pub)
	republishSweeper.Start()

	retentionSweeper := orchestrator.NewRetentionSweeper(cfg.Retention, resultStore)
	retentionSweeper.Start()
	slog.Info("background sweepers started",
		"republish_interval_s", cfg.Publisher.SweepIntervalSeconds,
		"retention_cutoff_days", cfg.Retention.CutoffDays,
	)

	// Initialize Server
	srv := api.NewServer(cfg.Server, resultStore, cacheImpl, busImpl, orch, reg, eval, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop intake first so in-flight validations can finish
	if err := consumer.Stop(); err != nil {
		slog.Error("failed to stop consumer", "error", err)
	}
	republishSweeper.Stop()
	retentionSweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseTenants splits the comma-separated KESTREL_TENANTS list. An empty
// list means one global subscription.
func parseTenants(env string) []string {
	if env == "" {
		return nil
	}
	var tenants []string
	for _, t := range strings.Split(env, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tenants = append(tenants, t)
		}
	}
	return tenants
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |               KESTREL                     |")
	fmt.Println("  |      Payment Validation Engine            |")
	fmt.Println("  |      Hovering over every payment.         |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /validate                  - Validate a payment")
	fmt.Println("    GET  /results                   - List validation results")
	fmt.Println("    GET  /results/{id}              - Get result by validation ID")
	fmt.Println("    GET  /payments/{id}/results     - Results for one payment")
	fmt.Println("    GET  /correlations/{id}/results - Results by correlation ID")
	fmt.Println("    GET  /statistics                - Outcome statistics")
	fmt.Println("    POST /retention/cleanup         - Delete expired results")
	fmt.Println("    GET  /rules                     - List effective rules")
	fmt.Println("    POST /rules                     - Create a tenant rule")
	fmt.Println("    POST /rules/reload              - Reload rules from store")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println()
}
