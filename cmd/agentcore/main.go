package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tradewire/agentcore/internal/agents"
	"github.com/tradewire/agentcore/internal/engine"
	"github.com/tradewire/agentcore/internal/events"
	"github.com/tradewire/agentcore/internal/logging"
	"github.com/tradewire/agentcore/internal/policy"
	"github.com/tradewire/agentcore/internal/retention"
	"github.com/tradewire/agentcore/internal/server"
	"github.com/tradewire/agentcore/internal/store"
	"github.com/tradewire/agentcore/internal/streaming"
	"github.com/tradewire/agentcore/internal/tools"
	"github.com/tradewire/agentcore/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		slog.Error("agentcore exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	resolver := policy.NewResolver(st)
	hub := streaming.NewMemoryHub()

	// Breakers are keyed by tool process-wide, so their settings come
	// from the default tenant's effective policy at startup.
	bootPolicy, err := resolver.ForTenant(ctx, "default")
	if err != nil {
		return err
	}
	breakers := tools.NewCircuitBreakerRegistry(tools.BreakerConfigFromPolicy(bootPolicy.CircuitBreaker))
	toolExec, err := tools.NewExecutor(st, breakers, nil, logger)
	if err != nil {
		return err
	}

	registry := engine.NewStepRegistry()
	registerSteps(registry)

	dispatcher := webhook.NewDispatcher(st, resolver, nil, logger)
	bus := events.NewBus(st, hub, dispatcher, logger)
	orchestrator := engine.NewOrchestrator(st, resolver, toolExec, registry, bus, logger)

	worker := webhook.NewWorker(st, dispatcher, cfg.workerInterval(), logger)
	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer worker.Stop()

	sweeper, err := retention.NewSweeper(st, cfg.RetentionSchedule, cfg.retentionWindow(), logger)
	if err != nil {
		return err
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	apiServer, err := server.NewServer(server.Deps{
		Store:        st,
		Orchestrator: orchestrator,
		Policies:     resolver,
		Hub:          hub,
		Events:       bus,
		Retrier:      worker,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: apiServer.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("agentcore listening", slog.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// registerSteps binds the canonical new_partner_implementation step
// functions.
func registerSteps(registry *engine.StepRegistry) {
	wf := engine.WorkflowNewPartnerImplementation
	registry.Register(wf, "integration_program", agents.IntegrationProgram)
	registry.Register(wf, "onboarding", agents.Onboarding)
	registry.Register(wf, "spec_analysis", agents.SpecAnalysis)
	registry.Register(wf, "mapping_engineer", agents.MappingEngineer)
	registry.Register(wf, "test_certification", agents.TestCertification)
	registry.Register(wf, "deployment_readiness", agents.DeploymentReadiness)
	registry.Register(wf, "standards_architecture", agents.StandardsArchitecture)
	registry.Register(wf, "post_production_escalation", agents.PostProductionEscalation)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(handler))
}
