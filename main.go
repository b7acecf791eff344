package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/api"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/chainadapter"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/circuitbreaker"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/config"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/engine"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/health"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/planner"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/signer"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/store"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/trigger"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores: SQLite when a database path is configured, in-memory otherwise
	var executionStore store.ExecutionStore
	var triggerStore store.TriggerStore
	if cfg.DatabasePath != "" {
		sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer func() {
			if err := sqliteStore.Close(); err != nil {
				appLogger.Error("Failed to close database: %v", err)
			}
		}()
		executionStore = sqliteStore
		triggerStore = sqliteStore
	} else {
		memStore := store.NewMemoryStore()
		executionStore = memStore
		triggerStore = memStore
	}

	// Chain adapters and per-chain circuit breakers
	registry := chainadapter.NewRegistry()
	evmAdapters := make(map[string]*chainadapter.EVMAdapter, len(cfg.Chains))
	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(cfg.Chains))
	for name, chainCfg := range cfg.Chains {
		adapter := chainadapter.NewEVMAdapter(chainadapter.EVMConfig{
			ChainName:      name,
			RPCURL:         chainCfg.RPCURL,
			RouterAddress:  chainCfg.RouterAddress,
			TokenAddresses: chainCfg.TokenAddresses,
		}, appLogger)
		if err := adapter.Connect(cfg.PrivateKey); err != nil {
			// Leave the adapter registered so /ready reports the gap.
			appLogger.ErrorWithChain(name, "Failed to connect: %v", err)
		}
		registry.Register(adapter)
		evmAdapters[name] = adapter
		breakers[name] = circuitbreaker.NewCircuitBreaker(
			name,
			cfg.CircuitBreaker.Enabled,
			cfg.CircuitBreaker.Threshold,
			cfg.CircuitBreaker.WindowDuration,
			cfg.CircuitBreaker.ResetTimeout,
			appLogger,
		)
	}

	// Execution coordinator
	signerClient := signer.New(cfg.SignerEndpoint, appLogger)
	engineService := engine.NewService(engine.Config{
		Workers:          cfg.WorkerCount,
		QueueSize:        cfg.QueueSize,
		SignMaxAttempts:  cfg.Signing.MaxAttempts,
		SignPollInterval: cfg.Signing.PollInterval,
	}, signerClient, registry, executionStore, breakers, nil, appLogger)
	engineService.Start(ctx)

	// Trigger monitor over the planning service
	plannerClient := planner.New(cfg.PlannerEndpoint, appLogger)
	positions := planner.NewCachingPositionSource(plannerClient, cfg.PositionCacheTTL)
	monitor := trigger.NewMonitor(triggerStore, engineService, positions, plannerClient, cfg.TriggerInterval, appLogger)
	if err := monitor.Start(); err != nil {
		log.Fatalf("Failed to start trigger monitor: %v", err)
	}

	// Health and metrics server
	healthServer := health.NewServer(cfg.MetricsPort, evmAdapters, breakers)
	go healthServer.Start()

	// HTTP API server
	apiServer := api.NewServer(cfg.APIPort, engineService, triggerStore, appLogger)
	go func() {
		if err := apiServer.Start(); err != nil {
			appLogger.Error("API server error: %v", err)
			cancel()
		}
	}()

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-signalCh:
		appLogger.Notice("Received termination signal, shutting down gracefully...")
	case <-ctx.Done():
	}

	monitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("API server shutdown error: %v", err)
	}

	// Let in-flight executions reach a terminal state before exiting
	engineService.Drain()
	cancel()
}
