package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/feedsync/feedsync/internal/data/pgxutil"
	"github.com/feedsync/feedsync/internal/domain/model"
	apperrors "github.com/feedsync/feedsync/internal/errors"
)

// RunRepo appends immutable run records to the sync_runs audit log and serves
// the read queries the health aggregator and audit endpoints need. Rows are
// never updated after insert.
type RunRepo struct {
	DB *sql.DB
}

// NewRunRepo constructs a RunRepo.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{DB: db}
}

const runColumns = `
  id,
  job_name,
  status,
  started_at,
  completed_at,
  records_expected,
  records_synced,
  duration_ms,
  error_message,
  details
`

// Append inserts one run record. The record's ID is generated when empty and
// Details defaults to an empty JSON object so the column stays queryable.
func (r *RunRepo) Append(ctx context.Context, rec *model.RunRecord) error {
	if r == nil || r.DB == nil {
		return ErrRunLogUnavailable
	}
	if rec == nil || rec.JobName == "" {
		return ErrJobNameRequired
	}
	if !rec.Status.Valid() {
		return ErrInvalidRunStatus
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	details := rec.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO sync_runs (id, job_name, status, started_at, completed_at,
		                       records_expected, records_synced, duration_ms,
		                       error_message, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rec.ID,
		rec.JobName,
		rec.Status,
		rec.StartedAt.UTC(),
		rec.CompletedAt.UTC(),
		rec.RecordsExpected,
		rec.RecordsSynced,
		rec.DurationMS,
		rec.ErrorMessage,
		details,
	)
	if err != nil {
		return fmt.Errorf("append run record for %s: %w", rec.JobName, apperrors.MapDBError(err))
	}
	return nil
}

// LatestPerJob returns the most recent run record for every job that has ever
// run, regardless of status.
func (r *RunRepo) LatestPerJob(ctx context.Context) ([]model.RunRecord, error) {
	return r.collectRuns(ctx, `
		SELECT DISTINCT ON (job_name) `+runColumns+`
		FROM sync_runs
		ORDER BY job_name, started_at DESC
	`)
}

// LatestSuccessPerJob returns the most recent successful run per job. Partial
// runs do not count: only a full success resets the staleness clock.
func (r *RunRepo) LatestSuccessPerJob(ctx context.Context) ([]model.RunRecord, error) {
	return r.collectRuns(ctx, `
		SELECT DISTINCT ON (job_name) `+runColumns+`
		FROM sync_runs
		WHERE status = 'success'
		ORDER BY job_name, started_at DESC
	`)
}

// ListByJob returns the most recent run records for one job, newest first.
func (r *RunRepo) ListByJob(ctx context.Context, jobName string, limit int) ([]model.RunRecord, error) {
	if jobName == "" {
		return nil, ErrJobNameRequired
	}
	if limit <= 0 {
		limit = 50
	}
	return r.collectRuns(ctx, `
		SELECT `+runColumns+`
		FROM sync_runs
		WHERE job_name = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, jobName, limit)
}

func (r *RunRepo) collectRuns(ctx context.Context, query string, args ...any) ([]model.RunRecord, error) {
	if r == nil || r.DB == nil {
		return nil, ErrRunLogUnavailable
	}

	var records []model.RunRecord
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.RunRecord])
		if err != nil {
			return err
		}
		records = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query run log: %w", apperrors.MapDBError(err))
	}
	return records, nil
}
