package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/shawkym/agentpipe-orchestrator/pkg/client"
	"github.com/shawkym/agentpipe-orchestrator/pkg/config"
	"github.com/shawkym/agentpipe-orchestrator/pkg/health"
	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
	"github.com/shawkym/agentpipe-orchestrator/pkg/metrics"
	"github.com/shawkym/agentpipe-orchestrator/pkg/orchestrator"
	"github.com/shawkym/agentpipe-orchestrator/pkg/persistence"
	"github.com/shawkym/agentpipe-orchestrator/pkg/registry"
	"github.com/shawkym/agentpipe-orchestrator/pkg/resilience"
	"github.com/shawkym/agentpipe-orchestrator/pkg/tracing"
)

// loadConfigFromFlag resolves the --config flag (or viper's discovered
// config file) into a Config. It returns an error when neither names a file.
func loadConfigFromFlag() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}
	if path == "" {
		return nil, fmt.Errorf("no config file found; pass --config or create ~/.agentpipe-orchestrator.yaml")
	}
	return config.LoadConfig(path)
}

// App bundles the orchestrator with the collaborators a CLI command needs
// alongside it (the metrics registry for the "serve" command's /metrics
// endpoint) and a cleanup func releasing background goroutines and the
// tracer's exporter connection.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	// Resilience is the fallback chain conversation turns actually run
	// through: the primary orchestrator variant, plus a second variant on a
	// fallback provider when the config names one.
	Resilience *resilience.Chain
	MetricsReg *prometheus.Registry
	Metrics    *metrics.Metrics
	Config     *config.Config
	Cleanup    func()
}

// buildOrchestrator wires every component New needs from cfg, following the
// same construction order the orchestrator package itself documents: agent
// registry, persistence, metrics, tracing, then the orchestrator.
func buildOrchestrator(ctx context.Context, cfg *config.Config) (*App, error) {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildPersistence(ctx, cfg)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	m := metrics.NewMetrics(promReg)

	tracer, shutdownTracer, err := buildTracer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	apiKey := os.Getenv(cfg.Provider.APIKeyEnv)
	modelClient := client.NewOpenAICompatClient(cfg.Provider.BaseURL, apiKey)

	healthMon := health.NewMonitor(cfg.HealthMonitor.Interval, cfg.HealthMonitor.ProbeTimeout, m)
	healthMon.Register("model_provider", func(ctx context.Context) (bool, error) {
		return true, nil
	})

	orch, err := orchestrator.New(cfg, orchestrator.Deps{
		Registry:    reg,
		ModelClient: modelClient,
		Persistence: store,
		Tracer:      tracer,
		Metrics:     m,
		HealthMon:   healthMon,
	})
	if err != nil {
		return nil, err
	}

	orch.Start(ctx)

	chain := resilience.Wrap("primary", orch)
	var fallbackOrch *orchestrator.Orchestrator
	if cfg.Provider.FallbackBaseURL != "" {
		fallbackOrch, err = buildFallbackVariant(cfg, reg, store, tracer, m)
		if err != nil {
			return nil, err
		}
		fallbackOrch.Start(ctx)
		chain.AddFallback("fallback", fallbackOrch)
	}

	cleanup := func() {
		orch.Stop()
		if fallbackOrch != nil {
			fallbackOrch.Stop()
		}
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}

	return &App{Orchestrator: orch, Resilience: chain, MetricsReg: promReg, Metrics: m, Config: cfg, Cleanup: cleanup}, nil
}

// buildFallbackVariant constructs the secondary orchestrator variant the
// resilience chain falls through to whenever the primary returns an error
// Result, including while the primary's circuit breaker is open. It shares the primary's agent registry and persistence store but
// talks to a distinct provider endpoint.
func buildFallbackVariant(cfg *config.Config, reg *registry.Registry, store persistence.Store, tracer tracing.Tracer, m *metrics.Metrics) (*orchestrator.Orchestrator, error) {
	apiKey := os.Getenv(cfg.Provider.FallbackAPIKeyEnv)
	modelClient := client.NewOpenAICompatClient(cfg.Provider.FallbackBaseURL, apiKey)

	return orchestrator.New(cfg, orchestrator.Deps{
		Registry:    reg,
		ModelClient: modelClient,
		Persistence: store,
		Tracer:      tracer,
		Metrics:     m,
	})
}

func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	if cfg.AgentsDir != "" {
		reg, err := registry.Load(cfg.AgentsDir)
		if err != nil {
			return nil, fmt.Errorf("loading agents from %s: %w", cfg.AgentsDir, err)
		}
		return reg, nil
	}
	reg, err := registry.LoadDefinitions(cfg.Agents)
	if err != nil {
		return nil, fmt.Errorf("loading inline agents: %w", err)
	}
	return reg, nil
}

func buildPersistence(ctx context.Context, cfg *config.Config) (persistence.Store, error) {
	switch cfg.Persistence.Backend {
	case "redis":
		return persistence.NewRedisStore(ctx, persistence.RedisConfig{
			Addr:     cfg.Persistence.RedisAddr,
			Password: cfg.Persistence.RedisPassword,
			DB:       cfg.Persistence.RedisDB,
		})
	default:
		return persistence.NewMemoryStore(), nil
	}
}

func buildTracer(ctx context.Context, cfg *config.Config) (tracing.Tracer, func(context.Context) error, error) {
	if cfg.Tracing.Backend != "otel" {
		return tracing.NewNoop(), nil, nil
	}
	return tracing.Setup(ctx, tracing.Config{
		Enabled:     true,
		Endpoint:    cfg.Tracing.OTLPEndpoint,
		ServiceName: cfg.Tracing.ServiceName,
	})
}

func logFatal(err error) {
	log.WithError(err).Error("fatal error")
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
