package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/feedsync/feedsync/config"
	"github.com/feedsync/feedsync/internal/data"
	"github.com/feedsync/feedsync/internal/domain/job"
	"github.com/feedsync/feedsync/internal/domain/model"
	"github.com/feedsync/feedsync/internal/integrations/adspend"
	"github.com/feedsync/feedsync/internal/integrations/netsuite"
	"github.com/feedsync/feedsync/internal/observability/statsd"
	"github.com/feedsync/feedsync/internal/retry"
	"github.com/feedsync/feedsync/internal/service"
)

type syncRuntimeDeps struct {
	Config   *config.AppConfig
	DB       *sql.DB
	Registry *model.Registry
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

type syncRuntime struct {
	Runner *service.JobRunner
	Runs   *data.RunRepo
}

// buildSyncRuntime wires the shared engine (lease, checkpoint, run log,
// committer) and registers every integration feed with it.
func buildSyncRuntime(deps syncRuntimeDeps) (*syncRuntime, error) {
	syncCfg := deps.Config.Sync

	policy, err := job.NewLeasePolicy(syncCfg.Budget, syncCfg.LeaseMargin)
	if err != nil {
		return nil, fmt.Errorf("build lease policy: %w", err)
	}

	clock := &data.RealTimeProvider{}
	runs := data.NewRunRepo(deps.DB)
	syncer, err := service.NewSyncer(service.SyncerOptions{
		Leases:      data.NewLeaseRepo(deps.DB, clock),
		Checkpoints: data.NewCheckpointRepo(deps.DB, clock),
		Runs:        runs,
		Committer:   data.NewBatchWriter(deps.DB, syncCfg.BatchSize, deps.Logger),
		Policy:      policy,
		Retry: retry.Policy{
			MaxRetries:     syncCfg.MaxRetries,
			BaseDelay:      syncCfg.RetryBaseDelay,
			AttemptTimeout: syncCfg.AttemptTimeout,
		},
		Logger:      deps.Logger,
		Metrics:     deps.Metrics,
		RecordSkips: syncCfg.RecordSkips,
	})
	if err != nil {
		return nil, fmt.Errorf("build syncer: %w", err)
	}

	runner, err := service.NewJobRunner(syncer)
	if err != nil {
		return nil, fmt.Errorf("build job runner: %w", err)
	}

	if err := registerNetSuiteFeeds(runner, deps); err != nil {
		return nil, err
	}
	if err := registerAdSpendFeed(runner, deps); err != nil {
		return nil, err
	}

	deps.Logger.Info("sync jobs registered", "jobs", runner.Names())
	return &syncRuntime{Runner: runner, Runs: runs}, nil
}

func registerNetSuiteFeeds(runner *service.JobRunner, deps syncRuntimeDeps) error {
	nsCfg := deps.Config.NetSuite
	if !nsCfg.Configured() {
		deps.Logger.Warn("netsuite credentials incomplete, feeds will fail preflight")
		return registerAll(runner,
			misconfiguredJob(netsuite.JobTransactions, "netsuite credentials are not configured"),
			misconfiguredJob(netsuite.JobTransactionLines, "netsuite credentials are not configured"),
		)
	}

	client, err := netsuite.NewClient(netsuite.ClientOptions{
		AccountID:      nsCfg.AccountID,
		ConsumerKey:    nsCfg.ConsumerKey,
		ConsumerSecret: nsCfg.ConsumerSecret,
		TokenID:        nsCfg.TokenID,
		TokenSecret:    nsCfg.TokenSecret,
		BaseURL:        nsCfg.BaseURL,
		Logger:         deps.Logger,
	})
	if err != nil {
		return fmt.Errorf("build netsuite client: %w", err)
	}

	feeds := netsuite.NewFeeds(client, deps.DB)
	return registerAll(runner,
		feeds.Transactions(jobSpecFor(deps.Registry, netsuite.JobTransactions)),
		feeds.TransactionLines(jobSpecFor(deps.Registry, netsuite.JobTransactionLines)),
	)
}

func registerAdSpendFeed(runner *service.JobRunner, deps syncRuntimeDeps) error {
	adCfg := deps.Config.AdSpend
	if !adCfg.Configured() {
		deps.Logger.Warn("ad spend credentials incomplete, feed will fail preflight")
		return registerAll(runner,
			misconfiguredJob(adspend.JobDailySpend, "ad spend credentials are not configured"))
	}

	client, err := adspend.NewClient(adspend.ClientOptions{
		ClientID:     adCfg.ClientID,
		ClientSecret: adCfg.ClientSecret,
		TokenURL:     adCfg.TokenURL,
		BaseURL:      adCfg.BaseURL,
		Scopes:       adCfg.ScopeList(),
		Logger:       deps.Logger,
	})
	if err != nil {
		return fmt.Errorf("build ad spend client: %w", err)
	}

	return registerAll(runner, client.DailySpend(jobSpecFor(deps.Registry, adspend.JobDailySpend)))
}

func registerAll(runner *service.JobRunner, defs ...service.JobDefinition) error {
	for _, def := range defs {
		if err := runner.Register(def); err != nil {
			return fmt.Errorf("register job: %w", err)
		}
	}
	return nil
}

// jobSpecFor returns the registry entry for a job, or a usable default when
// operators have not listed it.
func jobSpecFor(registry *model.Registry, name string) model.JobSpec {
	if spec, ok := registry.Lookup(name); ok {
		return spec
	}
	return model.JobSpec{Name: name, ExpectedIntervalHours: 24, PageSize: 1000}
}

// misconfiguredJob keeps an unconfigured feed addressable: triggering it
// reports a configuration error instead of a misleading 404.
func misconfiguredJob(name, reason string) service.JobDefinition {
	return service.JobDefinition{
		Name: name,
		Fetch: func(context.Context, int64, int) ([]service.SourceRecord, error) {
			return nil, nil
		},
		Transform: func(any) (data.Row, error) { return nil, nil },
		Upsert: data.UpsertSpec{
			Table:        "unused",
			Columns:      []string{"id"},
			ConflictCols: []string{"id"},
		},
		Preflight: func(context.Context) error {
			return fmt.Errorf("%s", reason)
		},
	}
}
