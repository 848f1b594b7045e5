// Command engine runs the autonomic engine: the event store, the local and
// distributed event bus, the registered agents, the projection engine, and
// the HTTP/SSE API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autonomic-systems/engine/pkg/agentrt"
	"github.com/autonomic-systems/engine/pkg/api"
	"github.com/autonomic-systems/engine/pkg/bus"
	"github.com/autonomic-systems/engine/pkg/config"
	"github.com/autonomic-systems/engine/pkg/database"
	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/autonomic-systems/engine/pkg/projection"
	"github.com/autonomic-systems/engine/pkg/sop"
	"github.com/autonomic-systems/engine/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configFile := flag.String("config", getEnv("CONFIG_FILE", ""), "Path to an optional YAML config overlay")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to database", "database", dbCfg.Database)

	clock := eventing.Clock(time.Now)
	eventStore := store.NewWithClock(dbClient.DB(), clock)

	eventBus := bus.New()
	if cfg.DistributedBusEnabled {
		if err := eventBus.EnableDistributed(ctx, cfg.DatabaseURL, eventStore.GetByEventID); err != nil {
			log.Fatalf("failed to enable distributed bus: %v", err)
		}
		slog.Info("distributed bus plane enabled")
	}

	registry, err := sop.LoadRegistry(cfg.SOPDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("sop directory does not exist, starting with an empty registry", "dir", cfg.SOPDir)
			registry = sop.NewRegistry(nil)
		} else {
			log.Fatalf("failed to load sop registry from %s: %v", cfg.SOPDir, err)
		}
	}
	sopManager := sop.NewManager(registry, eventStore, eventBus)

	runtime := agentrt.New(eventBus, eventStore, clock, cfg.ApprovalTimeout)
	runtime.Register(agentrt.NewIntakeAgent(agentrt.HeuristicQualifier{}, cfg.ConfidenceThreshold, clock))
	runtime.Register(agentrt.NewOversightAgent(cfg.ConfidenceThreshold, cfg.FinancialLimit, cfg.AutoApprovalEnabled, clock))
	runtime.Register(agentrt.NewSOPAgent(sopManager.Registry(), clock))

	projectionEngine := projection.New(eventStore, eventBus)
	projectionEngine.Register(projection.NewClientHealthProjection())
	projectionEngine.Register(projection.NewAutonomyDashboardProjection())
	if err := projectionEngine.InitializeAll(ctx); err != nil {
		log.Fatalf("failed to initialize projections: %v", err)
	}

	go eventStore.RunApprovalSweep(ctx, 1*time.Minute, func(sweepCtx context.Context, a store.Approval) {
		env, err := eventing.New(clock, eventing.EventAutonomicDecisionExecuted, "approval", a.ApprovalID,
			map[string]any{"approval_id": a.ApprovalID, "agent_id": a.AgentID, "outcome": "timeout"},
			"approval-sweep", a.Confidence, false)
		if err != nil {
			slog.Error("failed to build approval timeout event", "approval_id", a.ApprovalID, "error", err)
			return
		}
		appended, err := eventStore.Append(sweepCtx, env)
		if err != nil {
			slog.Error("failed to record approval timeout event", "approval_id", a.ApprovalID, "error", err)
			return
		}
		eventBus.Publish(sweepCtx, appended)
	})

	server := api.New(eventStore, eventBus, projectionEngine, clock, sopManager)

	addr := fmt.Sprintf(":%d", cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := server.Start(addr); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during http server shutdown", "error", err)
	}
}
