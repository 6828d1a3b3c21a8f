package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedsync/feedsync/internal/data"
	"github.com/feedsync/feedsync/internal/domain/job"
	"github.com/feedsync/feedsync/internal/domain/model"
	obserrors "github.com/feedsync/feedsync/internal/observability/errors"
	"github.com/feedsync/feedsync/internal/observability/metrics"
	"github.com/feedsync/feedsync/internal/observability/statsd"
	"github.com/feedsync/feedsync/internal/retry"
)

// LeaseStore grants and releases named mutual-exclusion leases.
type LeaseStore interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*model.Lease, bool, error)
	Release(ctx context.Context, name, token string) (bool, error)
}

// CheckpointStore loads and saves per-job pagination cursors.
type CheckpointStore interface {
	Load(ctx context.Context, jobName string) (int64, error)
	Save(ctx context.Context, jobName string, cursor int64) error
}

// RunLog appends immutable run records.
type RunLog interface {
	Append(ctx context.Context, rec *model.RunRecord) error
}

// Committer applies transformed rows to storage in bounded batches.
type Committer interface {
	Apply(ctx context.Context, spec data.UpsertSpec, rows []data.Row) (data.CommitResult, error)
}

// SourceRecord is one raw record from an external feed page. Key is the
// source-side natural ordering key driving keyset pagination; Raw is the
// opaque payload handed to the job's transform.
type SourceRecord struct {
	Key int64
	Raw any
}

// FetchPageFunc returns the next page of records strictly after cursor.
// It is the only fetch contract the runtime requires from an integration.
type FetchPageFunc func(ctx context.Context, cursor int64, pageSize int) ([]SourceRecord, error)

// TransformFunc turns one raw source record into a storage row.
type TransformFunc func(raw any) (data.Row, error)

// CoverageFunc computes the fraction of expected related records present in
// the store (e.g. parents with at least one child row). Optional per job.
type CoverageFunc func(ctx context.Context) (float64, error)

// PreflightFunc verifies an integration is usable (credentials, connectivity)
// before any lease is acquired. A failure here is a configuration error.
type PreflightFunc func(ctx context.Context) error

// JobDefinition wires one feed into the shared runtime. Integrations supply
// the callables; everything else is generic.
type JobDefinition struct {
	Name              string
	Fetch             FetchPageFunc
	Transform         TransformFunc
	Upsert            data.UpsertSpec
	PageSize          int
	Preflight         PreflightFunc
	Coverage          CoverageFunc
	CoverageThreshold float64
}

func (d *JobDefinition) validate() error {
	if d.Name == "" {
		return errors.New("job name is required")
	}
	if d.Fetch == nil {
		return fmt.Errorf("job %s: fetch func is required", d.Name)
	}
	if d.Transform == nil {
		return fmt.Errorf("job %s: transform func is required", d.Name)
	}
	return d.Upsert.Validate()
}

// RunOutcome summarizes one invocation for the trigger response and run log.
type RunOutcome struct {
	Status       model.RunStatus
	Skipped      bool
	Fetched      int
	Upserted     int
	Dropped      int
	Batches      int
	Elapsed      time.Duration
	StoppedEarly bool
	LastCursor   int64
	Coverage     float64 // negative when the job has no coverage check
	Err          error
}

// SyncerOptions holds the dependencies for constructing a Syncer.
type SyncerOptions struct {
	Leases      LeaseStore
	Checkpoints CheckpointStore
	Runs        RunLog
	Committer   Committer
	Policy      *job.LeasePolicy
	Retry       retry.Policy
	Clock       data.TimeProvider
	Logger      *slog.Logger
	Metrics     statsd.Sink
	// RecordSkips also appends run records for lock-contention skips, trading
	// audit density for log volume.
	RecordSkips bool
}

// Syncer is the generic synchronization engine shared by every job: lease,
// cursor resume, bounded-retry fetches, batched upserts, budget-governed early
// exit, and exactly one run record per invocation.
type Syncer struct {
	leases      LeaseStore
	checkpoints CheckpointStore
	runs        RunLog
	committer   Committer
	policy      *job.LeasePolicy
	retryPolicy retry.Policy
	clock       data.TimeProvider
	logger      *slog.Logger
	metrics     statsd.Sink
	recordSkips bool
}

// NewSyncer constructs a Syncer after validating its required dependencies.
func NewSyncer(opts SyncerOptions) (*Syncer, error) {
	if opts.Leases == nil || opts.Checkpoints == nil || opts.Runs == nil || opts.Committer == nil {
		return nil, errors.New("leases, checkpoints, runs and committer are required")
	}
	if opts.Policy == nil {
		return nil, errors.New("lease policy is required")
	}
	if opts.Clock == nil {
		opts.Clock = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Syncer{
		leases:      opts.Leases,
		checkpoints: opts.Checkpoints,
		runs:        opts.Runs,
		committer:   opts.Committer,
		policy:      opts.Policy,
		retryPolicy: opts.Retry,
		clock:       opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		recordSkips: opts.RecordSkips,
	}, nil
}

// ErrConfiguration wraps failures detected before any lease is acquired
// (missing credentials, unreachable source). The HTTP boundary maps it to 500.
var ErrConfiguration = errors.New("sync configuration error")

// Run executes one invocation of the job. Exactly one run record is appended
// on every exit path except lock-contention skips (optional via RecordSkips).
func (s *Syncer) Run(ctx context.Context, def JobDefinition) RunOutcome {
	outcome := RunOutcome{Coverage: -1}

	if err := def.validate(); err != nil {
		outcome.Status = model.RunStatusFailed
		outcome.Err = fmt.Errorf("%w: %v", ErrConfiguration, err)
		s.record(ctx, def, StartBudget(0, s.clock), &outcome)
		return outcome
	}

	if def.Preflight != nil {
		if err := def.Preflight(ctx); err != nil {
			outcome.Status = model.RunStatusFailed
			outcome.Err = fmt.Errorf("%w: %v", ErrConfiguration, err)
			s.record(ctx, def, StartBudget(0, s.clock), &outcome)
			return outcome
		}
	}

	lease, acquired, err := s.leases.Acquire(ctx, def.Name, s.policy.TTL())
	if err != nil {
		outcome.Status = model.RunStatusFailed
		outcome.Err = fmt.Errorf("acquire lease: %w", err)
		s.record(ctx, def, StartBudget(0, s.clock), &outcome)
		return outcome
	}
	if !acquired {
		outcome.Status = model.RunStatusSkipped
		outcome.Skipped = true
		if s.recordSkips {
			s.record(ctx, def, StartBudget(0, s.clock), &outcome)
		}
		return outcome
	}
	// Release must run even when the job body fails; a held lease would
	// otherwise block reruns until TTL expiry.
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		if _, relErr := s.leases.Release(releaseCtx, lease.Name, lease.HolderToken); relErr != nil {
			s.logger.ErrorContext(releaseCtx, "release lease failed",
				"job", def.Name, "error", relErr)
		}
	}()

	budget := StartBudget(s.policy.Budget(), s.clock)
	s.runLoop(ctx, def, budget, &outcome)
	s.applyCoverage(ctx, def, &outcome)
	s.record(ctx, def, budget, &outcome)
	return outcome
}

// runLoop drives sequential pagination: budget check, retried fetch,
// transform, batched commit, cursor save. Iterations never run in parallel;
// the saved cursor must stay consistent with committed data.
func (s *Syncer) runLoop(ctx context.Context, def JobDefinition, budget *Budget, outcome *RunOutcome) {
	cursor, err := s.checkpoints.Load(ctx, def.Name)
	if err != nil {
		outcome.Status = model.RunStatusFailed
		outcome.Err = fmt.Errorf("load checkpoint: %w", err)
		return
	}
	outcome.LastCursor = cursor

	pageSize := def.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	for {
		if budget.Exceeded() {
			outcome.StoppedEarly = true
			outcome.Status = model.RunStatusPartial
			s.logger.InfoContext(ctx, "time budget exceeded, stopping early",
				"job", def.Name, "cursor", cursor, "fetched", outcome.Fetched)
			return
		}

		records, fetchErr := retry.Do(ctx, s.retryPolicy, def.Name+".fetch",
			func(ctx context.Context) ([]SourceRecord, error) {
				return def.Fetch(ctx, cursor, pageSize)
			})
		if fetchErr != nil {
			outcome.Status = model.RunStatusFailed
			outcome.Err = fetchErr
			return
		}
		if len(records) == 0 {
			outcome.Status = model.RunStatusSuccess
			return
		}

		rows := make([]data.Row, 0, len(records))
		maxKey := cursor
		for _, rec := range records {
			row, tErr := def.Transform(rec.Raw)
			if tErr != nil {
				// Malformed source data is a configuration-class failure:
				// retrying cannot fix it.
				outcome.Status = model.RunStatusFailed
				outcome.Err = fmt.Errorf("transform record %d: %w", rec.Key, tErr)
				return
			}
			rows = append(rows, row)
			if rec.Key > maxKey {
				maxKey = rec.Key
			}
		}
		if maxKey == cursor {
			// A non-empty page whose keys never pass the cursor would repeat
			// forever: keyset pagination requires strictly increasing keys.
			outcome.Status = model.RunStatusFailed
			outcome.Err = fmt.Errorf("job %s: cursor stuck at %d on a non-empty page of %d records",
				def.Name, cursor, len(records))
			return
		}

		result, commitErr := s.committer.Apply(ctx, def.Upsert, rows)
		outcome.Batches += result.Batches
		outcome.Upserted += result.Committed
		outcome.Dropped += result.Dropped
		if commitErr != nil {
			outcome.Status = model.RunStatusFailed
			outcome.Err = fmt.Errorf("commit batch: %w", commitErr)
			return
		}
		outcome.Fetched += len(records)

		// The new cursor is the max natural key in the batch just committed,
		// never an offset: offsets skip or duplicate rows when the source
		// mutates between pages.
		cursor = maxKey
		outcome.LastCursor = cursor
		if saveErr := s.checkpoints.Save(ctx, def.Name, cursor); saveErr != nil {
			outcome.Status = model.RunStatusFailed
			outcome.Err = fmt.Errorf("save checkpoint: %w", saveErr)
			return
		}

		if len(records) < pageSize {
			outcome.Status = model.RunStatusSuccess
			return
		}
	}
}

// applyCoverage downgrades an error-free run to partial when the feed's
// related-record coverage is below its threshold: "no errors" does not imply
// "complete data".
func (s *Syncer) applyCoverage(ctx context.Context, def JobDefinition, outcome *RunOutcome) {
	if def.Coverage == nil || outcome.Status != model.RunStatusSuccess {
		return
	}
	cov, err := def.Coverage(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "coverage check failed",
			"job", def.Name, "error", err)
		return
	}
	outcome.Coverage = cov
	if def.CoverageThreshold > 0 && cov < def.CoverageThreshold {
		outcome.Status = model.RunStatusPartial
		s.logger.WarnContext(ctx, "coverage below threshold, marking run partial",
			"job", def.Name, "coverage", cov, "threshold", def.CoverageThreshold)
	}
}

// record appends the run record and emits lifecycle metrics. Append failures
// are logged, not propagated: the job's outcome stands regardless.
func (s *Syncer) record(ctx context.Context, def JobDefinition, budget *Budget, outcome *RunOutcome) {
	outcome.Elapsed = budget.Elapsed()

	details := map[string]any{
		"cursor":  outcome.LastCursor,
		"batches": outcome.Batches,
		"dropped": outcome.Dropped,
	}
	if outcome.Coverage >= 0 {
		details["coverage"] = outcome.Coverage
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		detailsJSON = []byte(`{}`)
	}

	rec := &model.RunRecord{
		JobName:       def.Name,
		Status:        outcome.Status,
		StartedAt:     budget.StartedAt(),
		CompletedAt:   s.clock.Now(),
		RecordsSynced: outcome.Upserted,
		DurationMS:    outcome.Elapsed.Milliseconds(),
		Details:       detailsJSON,
	}
	if outcome.Err != nil && outcome.Status == model.RunStatusFailed {
		msg := outcome.Err.Error()
		rec.ErrorMessage = &msg
	}

	appendCtx := context.WithoutCancel(ctx)
	if appendErr := s.runs.Append(appendCtx, rec); appendErr != nil {
		s.logger.ErrorContext(appendCtx, "append run record failed",
			"job", def.Name, "status", outcome.Status, "error", appendErr)
	}

	var errType string
	if outcome.Status == model.RunStatusFailed {
		errType = obserrors.Classify(outcome.Err)
	}
	metrics.EmitSyncRun(s.metrics, metrics.SyncMetric{
		JobName:   def.Name,
		Status:    string(outcome.Status),
		ErrorType: errType,
		Duration:  outcome.Elapsed,
		Fetched:   outcome.Fetched,
		Upserted:  outcome.Upserted,
		Dropped:   outcome.Dropped,
	})
}
