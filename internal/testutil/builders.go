// Package testutil provides testing utilities and helpers for the feedsync runtime.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/feedsync/feedsync/internal/domain/model"
)

// RunRecordBuilder provides a fluent interface for building RunRecord objects for testing.
type RunRecordBuilder struct {
	rec *model.RunRecord
}

// NewRunRecord creates a new RunRecordBuilder with sensible defaults.
func NewRunRecord() *RunRecordBuilder {
	started := TestTime()
	return &RunRecordBuilder{
		rec: &model.RunRecord{
			JobName:       "netsuite_transactions",
			Status:        model.RunStatusSuccess,
			StartedAt:     started,
			CompletedAt:   started.Add(30 * time.Second),
			RecordsSynced: 100,
			DurationMS:    30_000,
			Details:       json.RawMessage(`{"cursor":100,"batches":1,"dropped":0}`),
		},
	}
}

// WithJob sets the job name.
func (b *RunRecordBuilder) WithJob(name string) *RunRecordBuilder {
	b.rec.JobName = name
	return b
}

// WithStatus sets the terminal status.
func (b *RunRecordBuilder) WithStatus(status model.RunStatus) *RunRecordBuilder {
	b.rec.Status = status
	return b
}

// WithStartedAt sets the start time and keeps the completion time consistent
// with the recorded duration.
func (b *RunRecordBuilder) WithStartedAt(t time.Time) *RunRecordBuilder {
	b.rec.StartedAt = t
	b.rec.CompletedAt = t.Add(time.Duration(b.rec.DurationMS) * time.Millisecond)
	return b
}

// WithDuration sets the elapsed run duration.
func (b *RunRecordBuilder) WithDuration(d time.Duration) *RunRecordBuilder {
	b.rec.DurationMS = d.Milliseconds()
	b.rec.CompletedAt = b.rec.StartedAt.Add(d)
	return b
}

// WithRecordsSynced sets the upserted record count.
func (b *RunRecordBuilder) WithRecordsSynced(n int) *RunRecordBuilder {
	b.rec.RecordsSynced = n
	return b
}

// WithError sets the error message and flips the status to failed.
func (b *RunRecordBuilder) WithError(msg string) *RunRecordBuilder {
	b.rec.Status = model.RunStatusFailed
	b.rec.ErrorMessage = &msg
	return b
}

// WithDetails sets the details JSON payload.
func (b *RunRecordBuilder) WithDetails(details json.RawMessage) *RunRecordBuilder {
	b.rec.Details = details
	return b
}

// Build returns the constructed RunRecord.
func (b *RunRecordBuilder) Build() *model.RunRecord {
	rec := *b.rec
	return &rec
}
