package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/feedsync/feedsync/internal/domain/model"
	apperrors "github.com/feedsync/feedsync/internal/errors"
)

// CheckpointRepo persists the last successfully committed pagination position
// per job. One logical current value per job; saves replace, never append.
//
// The cursor is the maximum natural ordering key (source-side id) observed in
// the last committed batch. Offsets are deliberately not supported: they skip
// or duplicate rows whenever the upstream result set mutates between pages.
type CheckpointRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewCheckpointRepo constructs a CheckpointRepo.
func NewCheckpointRepo(db *sql.DB, tp TimeProvider) *CheckpointRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &CheckpointRepo{DB: db, timeProvider: tp}
}

// Load returns the saved cursor for the job, or 0 when none exists so the
// first-ever run performs a full sync.
func (r *CheckpointRepo) Load(ctx context.Context, jobName string) (int64, error) {
	if jobName == "" {
		return 0, ErrJobNameRequired
	}

	var cursor int64
	err := r.DB.QueryRowContext(ctx, `
		SELECT cursor_value FROM sync_checkpoints WHERE job_name = $1
	`, jobName).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint %s: %w", jobName, apperrors.MapDBError(err))
	}
	return cursor, nil
}

// Save upserts the cursor for the job. Safe to call after every committed
// batch: a crash between commit and save only causes the next run to reapply
// that batch, which the upsert conflict keys make a no-op.
func (r *CheckpointRepo) Save(ctx context.Context, jobName string, cursor int64) error {
	if jobName == "" {
		return ErrJobNameRequired
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (job_name, cursor_value, saved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_name) DO UPDATE
		SET cursor_value = EXCLUDED.cursor_value,
		    saved_at = EXCLUDED.saved_at
	`, jobName, cursor, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", jobName, apperrors.MapDBError(err))
	}
	return nil
}

// Get returns the full checkpoint row for diagnostics.
func (r *CheckpointRepo) Get(ctx context.Context, jobName string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := r.DB.QueryRowContext(ctx, `
		SELECT job_name, cursor_value, saved_at
		FROM sync_checkpoints
		WHERE job_name = $1
	`, jobName).Scan(&cp.JobName, &cp.CursorValue, &cp.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", jobName, apperrors.MapDBError(err))
	}
	return &cp, nil
}

// Reset removes the checkpoint so the next run starts from scratch.
func (r *CheckpointRepo) Reset(ctx context.Context, jobName string) error {
	if _, err := r.DB.ExecContext(ctx, `
		DELETE FROM sync_checkpoints WHERE job_name = $1
	`, jobName); err != nil {
		return fmt.Errorf("reset checkpoint %s: %w", jobName, apperrors.MapDBError(err))
	}
	return nil
}
