package httpx

import (
	"context"
	"net/http"
	"strconv"

	"github.com/feedsync/feedsync/internal/domain/model"
)

// RunHistoryReader exposes the run log queries the API serves.
type RunHistoryReader interface {
	LatestPerJob(ctx context.Context) ([]model.RunRecord, error)
	ListByJob(ctx context.Context, jobName string, limit int) ([]model.RunRecord, error)
}

// RunHandlers serves the append-only run log.
type RunHandlers struct {
	Runs RunHistoryReader
}

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// ListRuns handles GET /api/runs. With ?job= it returns that job's recent
// runs newest first; without it, the latest run of every job.
func (h *RunHandlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	jobName := r.URL.Query().Get("job")

	var (
		runs []model.RunRecord
		err  error
	)
	if jobName == "" {
		runs, err = h.Runs.LatestPerJob(r.Context())
	} else {
		runs, err = h.Runs.ListByJob(r.Context(), jobName, parseLimit(r))
	}
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_runs_failed", Err: err})
		return
	}

	if runs == nil {
		runs = []model.RunRecord{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultRunLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultRunLimit
	}
	if limit > maxRunLimit {
		return maxRunLimit
	}
	return limit
}
