package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedsync/feedsync/internal/data"
	"github.com/feedsync/feedsync/internal/domain/job"
	"github.com/feedsync/feedsync/internal/domain/model"
	"github.com/feedsync/feedsync/internal/retry"
)

type fakeLeases struct {
	held     bool
	err      error
	acquires int
	releases int
}

func (f *fakeLeases) Acquire(_ context.Context, name string, _ time.Duration) (*model.Lease, bool, error) {
	f.acquires++
	if f.err != nil {
		return nil, false, f.err
	}
	if f.held {
		return nil, false, nil
	}
	return &model.Lease{Name: name, HolderToken: "token-1"}, true, nil
}

func (f *fakeLeases) Release(_ context.Context, _, _ string) (bool, error) {
	f.releases++
	return true, nil
}

type fakeCheckpoints struct {
	cursors map[string]int64
	loadErr error
	saveErr error
	saves   []int64
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{cursors: make(map[string]int64)}
}

func (f *fakeCheckpoints) Load(_ context.Context, jobName string) (int64, error) {
	if f.loadErr != nil {
		return 0, f.loadErr
	}
	return f.cursors[jobName], nil
}

func (f *fakeCheckpoints) Save(_ context.Context, jobName string, cursor int64) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.cursors[jobName] = cursor
	f.saves = append(f.saves, cursor)
	return nil
}

type fakeRunLog struct {
	records []model.RunRecord
	err     error
}

func (f *fakeRunLog) Append(_ context.Context, rec *model.RunRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, *rec)
	return nil
}

type fakeCommitter struct {
	err     error
	dropped int
	applied [][]data.Row
}

func (f *fakeCommitter) Apply(_ context.Context, _ data.UpsertSpec, rows []data.Row) (data.CommitResult, error) {
	f.applied = append(f.applied, rows)
	if f.err != nil {
		return data.CommitResult{Batches: 1}, f.err
	}
	return data.CommitResult{
		Committed: len(rows) - f.dropped,
		Dropped:   f.dropped,
		Batches:   1,
	}, nil
}

type syncerFixture struct {
	syncer      *Syncer
	leases      *fakeLeases
	checkpoints *fakeCheckpoints
	runs        *fakeRunLog
	committer   *fakeCommitter
	clock       *data.FixedTimeProvider
}

func newSyncerFixture(t *testing.T, budget time.Duration) *syncerFixture {
	t.Helper()

	policy, err := job.NewLeasePolicy(budget, time.Minute)
	require.NoError(t, err)

	f := &syncerFixture{
		leases:      &fakeLeases{},
		checkpoints: newFakeCheckpoints(),
		runs:        &fakeRunLog{},
		committer:   &fakeCommitter{},
		clock:       data.NewFixedTimeProvider(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.syncer, err = NewSyncer(SyncerOptions{
		Leases:      f.leases,
		Checkpoints: f.checkpoints,
		Runs:        f.runs,
		Committer:   f.committer,
		Policy:      policy,
		Retry:       retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond},
		Clock:       f.clock,
	})
	require.NoError(t, err)
	return f
}

func testUpsertSpec() data.UpsertSpec {
	return data.UpsertSpec{
		Table:        "widgets",
		Columns:      []string{"id", "name"},
		ConflictCols: []string{"id"},
	}
}

// pagedFetch serves pages of sequential keys starting after the cursor, with
// total records overall.
func pagedFetch(total int) FetchPageFunc {
	return func(_ context.Context, cursor int64, pageSize int) ([]SourceRecord, error) {
		var records []SourceRecord
		for key := cursor + 1; key <= int64(total) && len(records) < pageSize; key++ {
			records = append(records, SourceRecord{Key: key, Raw: key})
		}
		return records, nil
	}
}

func identityTransform(raw any) (data.Row, error) {
	return data.Row{"id": raw, "name": fmt.Sprintf("row-%v", raw)}, nil
}

func TestSyncer_Run_DrainsAllPages(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)
	def := JobDefinition{
		Name:      "widgets",
		Fetch:     pagedFetch(25),
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
		PageSize:  10,
	}

	outcome := f.syncer.Run(context.Background(), def)

	assert.Equal(t, model.RunStatusSuccess, outcome.Status)
	assert.Equal(t, 25, outcome.Fetched)
	assert.Equal(t, 25, outcome.Upserted)
	assert.Equal(t, int64(25), outcome.LastCursor)
	assert.False(t, outcome.StoppedEarly)
	assert.Equal(t, float64(-1), outcome.Coverage)

	// Cursor saved after every committed page: 10, 20, 25.
	assert.Equal(t, []int64{10, 20, 25}, f.checkpoints.saves)
	assert.Equal(t, 1, f.leases.releases)

	require.Len(t, f.runs.records, 1)
	rec := f.runs.records[0]
	assert.Equal(t, "widgets", rec.JobName)
	assert.Equal(t, model.RunStatusSuccess, rec.Status)
	assert.Equal(t, 25, rec.RecordsSynced)
}

func TestSyncer_Run_ResumesFromSavedCursor(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)
	f.checkpoints.cursors["widgets"] = 20

	var firstCursor int64 = -1
	def := JobDefinition{
		Name: "widgets",
		Fetch: func(ctx context.Context, cursor int64, pageSize int) ([]SourceRecord, error) {
			if firstCursor < 0 {
				firstCursor = cursor
			}
			return pagedFetch(25)(ctx, cursor, pageSize)
		},
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
		PageSize:  10,
	}

	outcome := f.syncer.Run(context.Background(), def)

	assert.Equal(t, model.RunStatusSuccess, outcome.Status)
	assert.Equal(t, int64(20), firstCursor)
	assert.Equal(t, 5, outcome.Fetched)
	assert.Equal(t, int64(25), outcome.LastCursor)
}

func TestSyncer_Run_SkipsWhenLeaseHeld(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)
	f.leases.held = true

	outcome := f.syncer.Run(context.Background(), JobDefinition{
		Name:      "widgets",
		Fetch:     pagedFetch(5),
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
	})

	assert.Equal(t, model.RunStatusSkipped, outcome.Status)
	assert.True(t, outcome.Skipped)
	assert.Zero(t, outcome.Fetched)
	// Contention skips stay out of the audit log by default.
	assert.Empty(t, f.runs.records)
	assert.Zero(t, f.leases.releases)
}

func TestSyncer_Run_RecordSkipsOptIn(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)
	f.leases.held = true
	f.syncer.recordSkips = true

	outcome := f.syncer.Run(context.Background(), JobDefinition{
		Name:      "widgets",
		Fetch:     pagedFetch(5),
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
	})

	assert.True(t, outcome.Skipped)
	require.Len(t, f.runs.records, 1)
	assert.Equal(t, model.RunStatusSkipped, f.runs.records[0].Status)
}

func TestSyncer_Run_BudgetExceededStopsEarly(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)

	def := JobDefinition{
		Name: "widgets",
		Fetch: func(ctx context.Context, cursor int64, pageSize int) ([]SourceRecord, error) {
			// Each page costs three minutes of wall clock.
			f.clock.AddTime(3 * time.Minute)
			return pagedFetch(100)(ctx, cursor, pageSize)
		},
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
		PageSize:  10,
	}

	outcome := f.syncer.Run(context.Background(), def)

	assert.Equal(t, model.RunStatusPartial, outcome.Status)
	assert.True(t, outcome.StoppedEarly)
	// Two pages fit inside the four-minute budget; the cursor survives for resume.
	assert.Equal(t, 20, outcome.Fetched)
	assert.Equal(t, int64(20), outcome.LastCursor)
	assert.Equal(t, int64(20), f.checkpoints.cursors["widgets"])

	require.Len(t, f.runs.records, 1)
	assert.Equal(t, model.RunStatusPartial, f.runs.records[0].Status)
	assert.Equal(t, 1, f.leases.releases)
}

func TestSyncer_Run_FetchFailureRecordsFailedRun(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)

	fetchErr := errors.New("upstream 500")
	outcome := f.syncer.Run(context.Background(), JobDefinition{
		Name: "widgets",
		Fetch: func(context.Context, int64, int) ([]SourceRecord, error) {
			return nil, fetchErr
		},
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
	})

	assert.Equal(t, model.RunStatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Err, fetchErr)

	require.Len(t, f.runs.records, 1)
	rec := f.runs.records[0]
	assert.Equal(t, model.RunStatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "upstream 500")
	assert.Equal(t, 1, f.leases.releases)
}

func TestSyncer_Run_TransformFailureAborts(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)

	outcome := f.syncer.Run(context.Background(), JobDefinition{
		Name:  "widgets",
		Fetch: pagedFetch(5),
		Transform: func(any) (data.Row, error) {
			return nil, errors.New("missing id field")
		},
		Upsert: testUpsertSpec(),
	})

	assert.Equal(t, model.RunStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Err.Error(), "transform record")
	assert.Empty(t, f.committer.applied)
	// Nothing committed, so the cursor must not advance.
	assert.Empty(t, f.checkpoints.saves)
}

func TestSyncer_Run_CommitFailureAborts(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)
	f.committer.err = errors.New("connection refused")

	outcome := f.syncer.Run(context.Background(), JobDefinition{
		Name:      "widgets",
		Fetch:     pagedFetch(5),
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
	})

	assert.Equal(t, model.RunStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Err.Error(), "commit batch")
	assert.Empty(t, f.checkpoints.saves)
}

func TestSyncer_Run_DroppedRowsCounted(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)
	f.committer.dropped = 2

	outcome := f.syncer.Run(context.Background(), JobDefinition{
		Name:      "widgets",
		Fetch:     pagedFetch(5),
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
		PageSize:  10,
	})

	assert.Equal(t, model.RunStatusSuccess, outcome.Status)
	assert.Equal(t, 5, outcome.Fetched)
	assert.Equal(t, 3, outcome.Upserted)
	assert.Equal(t, 2, outcome.Dropped)
}

func TestSyncer_Run_PreflightFailureIsConfigurationError(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)

	outcome := f.syncer.Run(context.Background(), JobDefinition{
		Name:      "widgets",
		Fetch:     pagedFetch(5),
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
		Preflight: func(context.Context) error {
			return errors.New("credentials are not configured")
		},
	})

	assert.Equal(t, model.RunStatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Err, ErrConfiguration)
	// Preflight fails before the lease is touched, but the failure still
	// lands in the audit log.
	assert.Zero(t, f.leases.acquires)
	require.Len(t, f.runs.records, 1)
	rec := f.runs.records[0]
	assert.Equal(t, model.RunStatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "credentials are not configured")
}

func TestSyncer_Run_InvalidDefinitionIsConfigurationError(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)

	outcome := f.syncer.Run(context.Background(), JobDefinition{Name: "widgets"})

	assert.Equal(t, model.RunStatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Err, ErrConfiguration)
	require.Len(t, f.runs.records, 1)
	assert.Equal(t, model.RunStatusFailed, f.runs.records[0].Status)
}

func TestSyncer_Run_StuckCursorFails(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)
	f.checkpoints.cursors["widgets"] = 40

	outcome := f.syncer.Run(context.Background(), JobDefinition{
		Name: "widgets",
		Fetch: func(_ context.Context, cursor int64, pageSize int) ([]SourceRecord, error) {
			// A full page whose keys never pass the cursor.
			records := make([]SourceRecord, pageSize)
			for i := range records {
				records[i] = SourceRecord{Key: cursor, Raw: cursor}
			}
			return records, nil
		},
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
		PageSize:  10,
	})

	assert.Equal(t, model.RunStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Err.Error(), "cursor stuck at 40")
	assert.Empty(t, f.committer.applied)
	assert.Empty(t, f.checkpoints.saves)
	require.Len(t, f.runs.records, 1)
	assert.Equal(t, model.RunStatusFailed, f.runs.records[0].Status)
}

func TestSyncer_Run_LeaseErrorFails(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)
	f.leases.err = errors.New("database unavailable")

	outcome := f.syncer.Run(context.Background(), JobDefinition{
		Name:      "widgets",
		Fetch:     pagedFetch(5),
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
	})

	assert.Equal(t, model.RunStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Err.Error(), "acquire lease")
	require.Len(t, f.runs.records, 1)
}

func TestSyncer_Run_CoverageDowngradesToPartial(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)

	def := JobDefinition{
		Name:      "widgets",
		Fetch:     pagedFetch(5),
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
		PageSize:  10,
		Coverage: func(context.Context) (float64, error) {
			return 0.62, nil
		},
		CoverageThreshold: 0.8,
	}

	outcome := f.syncer.Run(context.Background(), def)

	assert.Equal(t, model.RunStatusPartial, outcome.Status)
	assert.InDelta(t, 0.62, outcome.Coverage, 0.001)
}

func TestSyncer_Run_CoverageAboveThresholdStaysSuccess(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)

	outcome := f.syncer.Run(context.Background(), JobDefinition{
		Name:      "widgets",
		Fetch:     pagedFetch(5),
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
		PageSize:  10,
		Coverage: func(context.Context) (float64, error) {
			return 0.95, nil
		},
		CoverageThreshold: 0.8,
	})

	assert.Equal(t, model.RunStatusSuccess, outcome.Status)
	assert.InDelta(t, 0.95, outcome.Coverage, 0.001)
}

func TestSyncer_Run_CoverageCheckErrorIsNonFatal(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)

	outcome := f.syncer.Run(context.Background(), JobDefinition{
		Name:      "widgets",
		Fetch:     pagedFetch(5),
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
		PageSize:  10,
		Coverage: func(context.Context) (float64, error) {
			return 0, errors.New("query failed")
		},
		CoverageThreshold: 0.8,
	})

	assert.Equal(t, model.RunStatusSuccess, outcome.Status)
	assert.Equal(t, float64(-1), outcome.Coverage)
}

func TestSyncer_Run_RetriesTransientFetch(t *testing.T) {
	f := newSyncerFixture(t, 4*time.Minute)

	attempts := 0
	outcome := f.syncer.Run(context.Background(), JobDefinition{
		Name: "widgets",
		Fetch: func(ctx context.Context, cursor int64, pageSize int) ([]SourceRecord, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("rate limited")
			}
			return pagedFetch(3)(ctx, cursor, pageSize)
		},
		Transform: identityTransform,
		Upsert:    testUpsertSpec(),
		PageSize:  10,
	})

	assert.Equal(t, model.RunStatusSuccess, outcome.Status)
	assert.Equal(t, 3, outcome.Fetched)
	assert.Equal(t, 2, attempts)
}

func TestNewSyncer_RequiresDependencies(t *testing.T) {
	policy, err := job.NewLeasePolicy(time.Minute, time.Minute)
	require.NoError(t, err)

	_, err = NewSyncer(SyncerOptions{Policy: policy})
	require.Error(t, err)

	_, err = NewSyncer(SyncerOptions{
		Leases:      &fakeLeases{},
		Checkpoints: newFakeCheckpoints(),
		Runs:        &fakeRunLog{},
		Committer:   &fakeCommitter{},
	})
	require.Error(t, err)
}
