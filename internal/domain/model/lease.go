package model

import "time"

// Lease is a named, time-bounded mutual-exclusion token backed by a row in the
// shared store. At most one live (non-expired) lease exists per name.
type Lease struct {
	Name        string    `json:"name"         db:"name"`
	HolderToken string    `json:"holder_token" db:"holder_token"`
	ExpiresAt   time.Time `json:"expires_at"   db:"expires_at"`
}

// Live reports whether the lease is still in force at the given instant.
func (l *Lease) Live(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// Checkpoint is the persisted pagination position for one job. A new save
// replaces the prior value; there is exactly one logical current value per job.
type Checkpoint struct {
	JobName     string    `json:"job_name"     db:"job_name"`
	CursorValue int64     `json:"cursor_value" db:"cursor_value"`
	SavedAt     time.Time `json:"saved_at"     db:"saved_at"`
}
