// Package main implements the entry point for the auto-optimizer daemon.
// The optimizer ingests LLM telemetry, scores candidate model
// configurations per workload, and serves the resulting recommendations
// over HTTP and NATS while supervising its own services.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/LLM-Dev-Ops/auto-optimizer/apiserver"
	"github.com/LLM-Dev-Ops/auto-optimizer/collector"
	"github.com/LLM-Dev-Ops/auto-optimizer/config"
	"github.com/LLM-Dev-Ops/auto-optimizer/integration"
	"github.com/LLM-Dev-Ops/auto-optimizer/lifecycle"
	"github.com/LLM-Dev-Ops/auto-optimizer/metric"
	"github.com/LLM-Dev-Ops/auto-optimizer/natsclient"
	"github.com/LLM-Dev-Ops/auto-optimizer/prober"
	"github.com/LLM-Dev-Ops/auto-optimizer/processor"
	"github.com/LLM-Dev-Ops/auto-optimizer/service"
	"github.com/LLM-Dev-Ops/auto-optimizer/store"
	"github.com/LLM-Dev-Ops/auto-optimizer/types"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "auto-optimizer"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	natsClient, metricsRegistry, err := setupInfrastructure(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = natsClient.Close(ctx) }()

	configManager, err := config.NewManager(cliCfg.ConfigPath, cfg, logger)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}

	manager, err := buildServices(cfg, natsClient, metricsRegistry, logger)
	if err != nil {
		return err
	}

	return runWithLifecycle(ctx, manager, configManager, logger, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting auto-optimizer",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig loads and validates configuration from the given path.
// An empty path yields the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupInfrastructure creates the metrics registry and the NATS client.
// A failed NATS connection is tolerated: the collector then receives no
// stream telemetry and the store falls back to its in-memory backend,
// which keeps the HTTP surface available for debugging.
func setupInfrastructure(ctx context.Context, cfg *config.Config) (*natsclient.Client, *metric.MetricsRegistry, error) {
	metricsRegistry := metric.NewMetricsRegistry()

	opts := []natsclient.ClientOption{
		natsclient.WithClientName(appName),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
		natsclient.WithConnectTimeout(cfg.NATS.ConnectTimeout.Std()),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}

	natsClient, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := natsClient.Connect(ctx); err != nil {
		slog.Warn("NATS unavailable, continuing with in-memory backends", "error", err)
	}

	return natsClient, metricsRegistry, nil
}

// buildServices wires every service into the supervisor in dependency order
func buildServices(
	cfg *config.Config,
	natsClient *natsclient.Client,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*service.Manager, error) {
	manager := service.NewManager(cfg.Supervisor,
		service.WithManagerLogger(logger),
		service.WithManagerMetrics(metricsRegistry))

	coll := collector.New(collector.Config{
		Subject:    cfg.NATS.TelemetrySubject,
		WindowSize: cfg.Optimizer.WindowSize,
	},
		service.WithLogger(logger),
		service.WithNATS(natsClient),
		service.WithMetrics(metricsRegistry))

	st := store.New(store.Config{
		Bucket: cfg.NATS.DecisionBucket,
	},
		service.WithLogger(logger),
		service.WithNATS(natsClient),
		service.WithMetrics(metricsRegistry))

	candidates := candidateCatalog()

	var prb *prober.Prober
	procDeps := []string{collector.Name, store.Name}
	if cfg.Prober.Enabled {
		models := make([]string, 0, len(candidates))
		for _, c := range candidates {
			models = append(models, c.Config.Model)
		}
		prb = prober.New(prober.Config{
			Endpoint: cfg.Prober.Endpoint,
			APIKey:   cfg.Prober.APIKey,
			Interval: cfg.Prober.Interval.Std(),
			Timeout:  cfg.Prober.Timeout.Std(),
			Prompt:   cfg.Prober.Prompt,
			Models:   models,
		},
			service.WithLogger(logger),
			service.WithMetrics(metricsRegistry))
		procDeps = append(procDeps, prober.Name)
	}

	procCfg := processor.Config{
		Candidates:    candidates,
		Interval:      cfg.Optimizer.DecisionInterval.Std(),
		MinSamples:    cfg.Optimizer.MinSamples,
		CostWeight:    cfg.Optimizer.CostWeight,
		LatencyWeight: cfg.Optimizer.LatencyWeight,
		QualityWeight: cfg.Optimizer.QualityWeight,
		Subject:       cfg.NATS.DecisionSubject,
	}
	if prb != nil {
		procCfg.Available = prb.Available
	}
	proc := processor.New(procCfg, coll, st,
		service.WithDependencies(procDeps...),
		service.WithLogger(logger),
		service.WithNATS(natsClient),
		service.WithMetrics(metricsRegistry))

	api := apiserver.New(apiserver.Config{
		Host:            cfg.API.Host,
		Port:            cfg.API.Port,
		ReadTimeout:     cfg.API.ReadTimeout.Std(),
		WriteTimeout:    cfg.API.WriteTimeout.Std(),
		ShutdownTimeout: cfg.API.ShutdownTimeout.Std(),
	}, manager, st,
		service.WithDependencies(store.Name),
		service.WithLogger(logger),
		service.WithMetrics(metricsRegistry))

	services := []service.Service{coll, st, proc, api}
	if prb != nil {
		services = append(services, prb)
	}

	if cfg.Integration.Enabled {
		integ := integration.New(integration.Config{
			Endpoint:     cfg.Integration.Endpoint,
			WriteTimeout: cfg.Integration.WriteTimeout.Std(),
			PingInterval: cfg.Integration.PingInterval.Std(),
		}, proc,
			service.WithDependencies(processor.Name),
			service.WithLogger(logger))
		services = append(services, integ)
	}

	for _, svc := range services {
		if err := manager.AddService(svc); err != nil {
			return nil, fmt.Errorf("register service %s: %w", svc.Name(), err)
		}
	}

	return manager, nil
}

// candidateCatalog returns the model configurations the processor scores.
// TODO: move the catalog into OptimizerConfig so deployments can tune it
// without a rebuild.
func candidateCatalog() []types.Candidate {
	return []types.Candidate{
		{
			Config:         types.ModelConfig{Model: "gpt-4o-mini", Temperature: 0.7, MaxTokens: 4096, TopP: 1.0},
			CostPer1KUSD:   0.0006,
			QualityScore:   0.62,
			BaseLatencyMs:  400,
			MaxContextSize: 128000,
		},
		{
			Config:         types.ModelConfig{Model: "claude-haiku", Temperature: 0.7, MaxTokens: 4096, TopP: 1.0},
			CostPer1KUSD:   0.001,
			QualityScore:   0.68,
			BaseLatencyMs:  500,
			MaxContextSize: 200000,
		},
		{
			Config:         types.ModelConfig{Model: "gpt-4o", Temperature: 0.7, MaxTokens: 8192, TopP: 1.0},
			CostPer1KUSD:   0.0075,
			QualityScore:   0.85,
			BaseLatencyMs:  900,
			MaxContextSize: 128000,
		},
		{
			Config:         types.ModelConfig{Model: "claude-sonnet", Temperature: 0.7, MaxTokens: 8192, TopP: 1.0},
			CostPer1KUSD:   0.009,
			QualityScore:   0.88,
			BaseLatencyMs:  1000,
			MaxContextSize: 200000,
		},
		{
			Config:         types.ModelConfig{Model: "claude-opus", Temperature: 0.7, MaxTokens: 8192, TopP: 1.0},
			CostPer1KUSD:   0.045,
			QualityScore:   0.96,
			BaseLatencyMs:  1800,
			MaxContextSize: 200000,
		},
	}
}

// runWithLifecycle starts everything and blocks until a shutdown signal
func runWithLifecycle(
	ctx context.Context,
	manager *service.Manager,
	configManager *config.Manager,
	logger *slog.Logger,
	shutdownTimeout time.Duration,
) error {
	coordinator := lifecycle.NewCoordinator(logger)
	coordinator.Watch()
	defer coordinator.Stop()

	// SIGHUP re-reads the config file and notifies section subscribers
	go func() {
		for range coordinator.OnReload() {
			if err := configManager.Reload(); err != nil {
				slog.Error("Config reload failed", "error", err)
			}
		}
	}()

	if err := manager.StartAll(ctx); err != nil {
		// Tear down whatever part of the pipeline did come up.
		if stopErr := manager.StopAll(); stopErr != nil {
			slog.Warn("Cleanup after failed start reported errors", "error", stopErr)
		}
		return fmt.Errorf("start services: %w", err)
	}
	slog.Info("All services started", "order", manager.StartOrder())

	monCtx, cancelMonitoring := context.WithCancel(ctx)
	defer cancelMonitoring()
	go func() {
		_ = manager.RunHealthMonitoring(monCtx)
	}()

	// Block until a signal arrives, then give cleanup a bounded window.
	<-coordinator.ShutdownChan()
	cancelMonitoring()

	stopped := make(chan struct{})
	var stopErr error
	go func() {
		stopErr = manager.StopAll()
		close(stopped)
	}()

	select {
	case <-stopped:
		if stopErr != nil {
			slog.Warn("Some services reported errors while stopping", "error", stopErr)
		}
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("graceful shutdown failed: cleanup exceeded %s", shutdownTimeout)
	}

	slog.Info("Shutdown complete", "reason", coordinator.ShutdownReason())
	return nil
}
