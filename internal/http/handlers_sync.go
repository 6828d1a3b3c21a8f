// Package httpx provides the HTTP surface of the sync runtime: trigger
// endpoints, the health view, and the run log.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/feedsync/feedsync/internal/domain/model"
	"github.com/feedsync/feedsync/internal/service"
)

// SyncRunner runs a registered job by name.
type SyncRunner interface {
	RunJob(ctx context.Context, name string) (service.RunOutcome, error)
}

// SyncHandlers provides HTTP handlers for the sync trigger endpoints.
type SyncHandlers struct {
	Runner SyncRunner
}

// syncResponse is the trigger response body for completed runs.
type syncResponse struct {
	Success      bool    `json:"success"`
	Job          string  `json:"job"`
	Status       string  `json:"status"`
	Fetched      int     `json:"fetched"`
	Upserted     int     `json:"upserted"`
	Dropped      int     `json:"dropped,omitempty"`
	Batches      int     `json:"batches"`
	ElapsedMS    int64   `json:"elapsedMs"`
	Partial      bool    `json:"partial,omitempty"`
	StoppedEarly bool    `json:"stoppedEarly,omitempty"`
	LastCursor   int64   `json:"lastCursor"`
	Coverage     float64 `json:"coverage,omitempty"`
}

// TriggerSync handles POST /api/sync/{job}: it runs the named job to
// completion and reports the outcome. Concurrent triggers of the same job get
// 409 from the lease, not a queued run.
func (h *SyncHandlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	jobName := r.PathValue("job")
	if jobName == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("job name is required"),
		})
		return
	}

	outcome, err := h.Runner.RunJob(r.Context(), jobName)
	if err != nil {
		if errors.Is(err, service.ErrUnknownJob) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "unknown_job", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "sync_failed", Err: err})
		return
	}

	if outcome.Skipped {
		WriteJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"skipped": true,
			"job":     jobName,
			"message": "sync already running",
		})
		return
	}

	if outcome.Status == model.RunStatusFailed {
		code := http.StatusInternalServerError
		errCode := "sync_failed"
		if errors.Is(outcome.Err, service.ErrConfiguration) {
			errCode = "configuration_error"
		}
		WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: outcome.Err})
		return
	}

	resp := syncResponse{
		Success:      true,
		Job:          jobName,
		Status:       string(outcome.Status),
		Fetched:      outcome.Fetched,
		Upserted:     outcome.Upserted,
		Dropped:      outcome.Dropped,
		Batches:      outcome.Batches,
		ElapsedMS:    outcome.Elapsed.Milliseconds(),
		Partial:      outcome.Status == model.RunStatusPartial,
		StoppedEarly: outcome.StoppedEarly,
		LastCursor:   outcome.LastCursor,
	}
	if outcome.Coverage >= 0 {
		resp.Coverage = outcome.Coverage
	}
	WriteJSON(w, http.StatusOK, resp)
}
