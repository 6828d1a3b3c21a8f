// Package scheduler provides the cron adapter that fires registered sync jobs
// on their schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/feedsync/feedsync/internal/domain/model"
	"github.com/feedsync/feedsync/internal/service"
)

// JobRunner is the slice of the sync runner the scheduler needs.
type JobRunner interface {
	RunJob(ctx context.Context, name string) (service.RunOutcome, error)
	Has(name string) bool
}

// Runner owns a cron instance with one entry per scheduled job. Jobs without
// a schedule expression are trigger-only and never enter the cron table.
type Runner struct {
	runner   JobRunner
	registry *model.Registry
	cron     *cron.Cron
	logger   *slog.Logger
	jitter   time.Duration
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Runner   JobRunner
	Registry *model.Registry
	Timezone string
	Jitter   time.Duration
	Logger   *slog.Logger
}

// NewRunner creates a scheduler runner and registers every job with a
// schedule. Invalid cron expressions fail construction rather than being
// silently skipped.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Runner == nil {
		return nil, errors.New("job runner is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("job registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	loc := time.UTC
	if opts.Timezone != "" {
		parsed, err := time.LoadLocation(opts.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load scheduler timezone %s: %w", opts.Timezone, err)
		}
		loc = parsed
	}

	r := &Runner{
		runner:   opts.Runner,
		registry: opts.Registry,
		cron:     cron.New(cron.WithLocation(loc)),
		logger:   opts.Logger,
		jitter:   opts.Jitter,
	}

	scheduled := 0
	for _, spec := range opts.Registry.Jobs {
		if spec.Schedule == "" {
			continue
		}
		if !opts.Runner.Has(spec.Name) {
			return nil, fmt.Errorf("scheduled job %s is not registered with the runner", spec.Name)
		}
		if err := r.addEntry(spec); err != nil {
			return nil, err
		}
		scheduled++
	}

	opts.Logger.Info("scheduler configured",
		"scheduled_jobs", scheduled, "timezone", loc.String())
	return r, nil
}

func (r *Runner) addEntry(spec model.JobSpec) error {
	name := spec.Name
	_, err := r.cron.AddFunc(spec.Schedule, func() {
		ctx := context.Background()
		r.logger.Info("scheduled sync firing", "job", name)

		outcome, runErr := r.runner.RunJob(ctx, name)
		if runErr != nil {
			r.logger.Error("scheduled sync failed to start", "job", name, "error", runErr)
			return
		}
		logRun := r.logger.Info
		if outcome.Status == model.RunStatusFailed {
			logRun = r.logger.Error
		}
		logRun("scheduled sync finished",
			"job", name,
			"status", outcome.Status,
			"fetched", outcome.Fetched,
			"upserted", outcome.Upserted,
			"elapsed", outcome.Elapsed,
		)
	})
	if err != nil {
		return fmt.Errorf("schedule job %s (%q): %w", name, spec.Schedule, err)
	}
	return nil
}

// Run starts the cron loop and blocks until the context is canceled. Runs in
// flight when shutdown begins are allowed to finish.
func (r *Runner) Run(ctx context.Context) error {
	if r.jitter > 0 {
		select {
		case <-time.After(r.jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.cron.Start()
	<-ctx.Done()

	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		r.logger.Warn("timed out waiting for in-flight scheduled syncs")
	}
	return ctx.Err()
}

// Entries returns the scheduled job count. Mostly for tests and startup logs.
func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}
