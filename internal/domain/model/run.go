// Package model defines the core data types shared across the feedsync runtime.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RunStatus represents the terminal status of a single sync invocation.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type RunStatus string

const (
	// RunStatusSuccess indicates the job drained its source completely with no errors.
	RunStatusSuccess RunStatus = "success"
	// RunStatusPartial indicates a deliberate early exit (time budget, coverage gap);
	// the saved cursor lets the next invocation continue.
	RunStatusPartial RunStatus = "partial"
	// RunStatusFailed indicates the run aborted on a non-recoverable error.
	RunStatusFailed RunStatus = "failed"
	// RunStatusSkipped indicates the run exited immediately because another
	// invocation held the lease.
	RunStatusSkipped RunStatus = "skipped"
)

// Valid returns true if the RunStatus is one of the known terminal states.
func (s RunStatus) Valid() bool {
	return s == RunStatusSuccess || s == RunStatusPartial || s == RunStatusFailed || s == RunStatusSkipped
}

// UnmarshalText implements encoding.TextUnmarshaler so statuses parse from env and SQL scans.
func (s *RunStatus) UnmarshalText(text []byte) error {
	v := RunStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid RunStatus: %q", v)
	}
	*s = v
	return nil
}

// RunRecord is one immutable entry in the sync audit log. Rows are inserted once
// per invocation and never updated.
type RunRecord struct {
	ID              string          `json:"id"                         db:"id"`
	JobName         string          `json:"job_name"                   db:"job_name"`
	Status          RunStatus       `json:"status"                     db:"status"`
	StartedAt       time.Time       `json:"started_at"                 db:"started_at"`
	CompletedAt     time.Time       `json:"completed_at"               db:"completed_at"`
	RecordsExpected *int            `json:"records_expected,omitempty" db:"records_expected"`
	RecordsSynced   int             `json:"records_synced"             db:"records_synced"`
	DurationMS      int64           `json:"duration_ms"                db:"duration_ms"`
	ErrorMessage    *string         `json:"error_message,omitempty"    db:"error_message"`
	Details         json.RawMessage `json:"details"                    db:"details"`
}

// Duration returns the recorded wall-clock duration of the run.
func (r *RunRecord) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}
