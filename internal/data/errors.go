package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// Lease repository sentinels.
	ErrLeaseHeld     = errors.New("lease is held by another run")
	ErrLeaseNotFound = errors.New("lease not found")

	// Checkpoint repository sentinels.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// Run log repository sentinels.
	ErrRunNotFound       = errors.New("run record not found")
	ErrJobNameRequired   = errors.New("job_name is required")
	ErrInvalidRunStatus  = errors.New("invalid run status")
	ErrRunLogUnavailable = errors.New("run log repository not configured")
)
