package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/feedsync/feedsync/config"
	"github.com/feedsync/feedsync/internal/adapters/scheduler"
	"github.com/feedsync/feedsync/internal/data"
	"github.com/feedsync/feedsync/internal/domain/model"
	"github.com/feedsync/feedsync/internal/observability/statsd"
	"github.com/feedsync/feedsync/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Runner        *service.JobRunner
	Health        *service.HealthService
	Runs          *data.RunRepo
	Registry      *model.Registry
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "feedsync",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// NewServices wires repositories, the sync engine, the integrations, and the
// health aggregator.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil || deps.DB == nil {
		return ServiceContainer{}, errors.New("config and database are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := loadRegistry(deps.Config, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	observability := buildObservability(logger, deps.Config.Observability)

	runtime, err := buildSyncRuntime(syncRuntimeDeps{
		Config:   deps.Config,
		DB:       deps.DB,
		Registry: registry,
		Logger:   logger,
		Metrics:  observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, err
	}

	health, err := service.NewHealthService(service.HealthServiceOptions{
		Runs:     runtime.Runs,
		Registry: registry,
		Logger:   logger,
		Cache:    deps.RedisClient,
		CacheTTL: deps.Config.Sync.HealthCacheTTL,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build health service: %w", err)
	}

	return ServiceContainer{
		Runner:        runtime.Runner,
		Health:        health,
		Runs:          runtime.Runs,
		Registry:      registry,
		Observability: observability,
	}, nil
}

func loadRegistry(cfg *config.AppConfig, logger *slog.Logger) (*model.Registry, error) {
	if cfg.Sync.RegistryPath == "" {
		logger.Warn("no job registry path configured, starting with an empty registry")
		return &model.Registry{}, nil
	}
	registry, err := config.LoadRegistry(cfg.Sync.RegistryPath)
	if err != nil {
		return nil, err
	}
	logger.Info("job registry loaded",
		"path", cfg.Sync.RegistryPath,
		"jobs", len(registry.Jobs),
		"denylist", len(registry.Denylist),
	)
	return registry, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a shutdown signal arrives or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	if enabled[config.ServiceModeHTTP] {
		group.Go(func() error {
			return runHTTPServer(groupCtx, cfg, logger)
		})
	}

	if enabled[config.ServiceModeScheduler] {
		runner, schedErr := scheduler.NewRunner(scheduler.RunnerOptions{
			Runner:   cfg.Services.Runner,
			Registry: cfg.Services.Registry,
			Timezone: cfg.Config.Scheduler.Timezone,
			Jitter:   cfg.Config.Scheduler.StartupJitter,
			Logger:   logger,
		})
		if schedErr != nil {
			return fmt.Errorf("build scheduler: %w", schedErr)
		}
		group.Go(func() error {
			logger.Info("scheduler started")
			if runErr := runner.Run(groupCtx); runErr != nil && !errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("scheduler failed: %w", runErr)
			}
			return nil
		})
	}

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("service error", "error", err)
		return err
	}
	logger.Info("all services stopped")
	return nil
}
