package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feedsync/feedsync/internal/domain/model"
	apperrors "github.com/feedsync/feedsync/internal/errors"
)

// LeaseRepo provides named, time-bounded mutual-exclusion leases backed by the
// sync_leases table. At most one live lease exists per name; expired rows are
// reclaimed atomically on the next acquire so an explicit release is never
// required for liveness.
type LeaseRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewLeaseRepo constructs a LeaseRepo. A nil TimeProvider falls back to real time.
func NewLeaseRepo(db *sql.DB, tp TimeProvider) *LeaseRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &LeaseRepo{DB: db, timeProvider: tp}
}

// acquireSQL is a single conditional write: the insert wins when no row exists,
// and the conflict update wins only when the existing lease has expired. Two
// callers racing on the same name resolve inside the store; exactly one sees a
// returned row.
const acquireSQL = `
	INSERT INTO sync_leases (name, holder_token, expires_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (name) DO UPDATE
	SET holder_token = EXCLUDED.holder_token,
	    expires_at = EXCLUDED.expires_at
	WHERE sync_leases.expires_at <= $4
	RETURNING name, holder_token, expires_at
`

// Acquire attempts to take the lease for name with the given TTL. It never
// blocks or retries: if another run holds a live lease, acquired is false and
// the caller must exit immediately.
func (r *LeaseRepo) Acquire(ctx context.Context, name string, ttl time.Duration) (*model.Lease, bool, error) {
	if name == "" {
		return nil, false, ErrJobNameRequired
	}
	if ttl <= 0 {
		return nil, false, fmt.Errorf("lease ttl must be positive, got %s", ttl)
	}

	now := r.timeProvider.Now().UTC()
	token := uuid.NewString()

	var lease model.Lease
	err := r.DB.QueryRowContext(ctx, acquireSQL, name, token, now.Add(ttl), now).
		Scan(&lease.Name, &lease.HolderToken, &lease.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict with a live lease: another run is in progress.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", name, apperrors.MapDBError(err))
	}
	return &lease, true, nil
}

// Release deletes the lease only if the holder token still matches, so a slow
// caller cannot release a lease reacquired by a newer holder after TTL expiry.
// Returns false when the lease was already expired-and-taken or gone.
func (r *LeaseRepo) Release(ctx context.Context, name, token string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM sync_leases
		WHERE name = $1 AND holder_token = $2
	`, name, token)
	if err != nil {
		return false, fmt.Errorf("release lease %s: %w", name, apperrors.MapDBError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release lease %s: rows affected: %w", name, err)
	}
	return affected > 0, nil
}

// Get returns the current lease row for name regardless of liveness.
func (r *LeaseRepo) Get(ctx context.Context, name string) (*model.Lease, error) {
	var lease model.Lease
	err := r.DB.QueryRowContext(ctx, `
		SELECT name, holder_token, expires_at
		FROM sync_leases
		WHERE name = $1
	`, name).Scan(&lease.Name, &lease.HolderToken, &lease.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLeaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lease %s: %w", name, apperrors.MapDBError(err))
	}
	return &lease, nil
}
