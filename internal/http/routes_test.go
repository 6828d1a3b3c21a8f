package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedsync/feedsync/internal/domain/model"
	"github.com/feedsync/feedsync/internal/service"
)

type fakeRunner struct {
	outcome service.RunOutcome
	err     error
	lastJob string
}

func (f *fakeRunner) RunJob(_ context.Context, name string) (service.RunOutcome, error) {
	f.lastJob = name
	if f.err != nil {
		return service.RunOutcome{}, f.err
	}
	return f.outcome, nil
}

type fakeRunHistory struct {
	latest []model.RunRecord
	byJob  map[string][]model.RunRecord
	err    error
}

func (f *fakeRunHistory) LatestPerJob(context.Context) ([]model.RunRecord, error) {
	return f.latest, f.err
}

func (f *fakeRunHistory) LatestSuccessPerJob(context.Context) ([]model.RunRecord, error) {
	return f.latest, f.err
}

func (f *fakeRunHistory) ListByJob(_ context.Context, jobName string, limit int) ([]model.RunRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	runs := f.byJob[jobName]
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

const testToken = "test-token"

func newTestRouter(t *testing.T, runner *fakeRunner, history *fakeRunHistory) http.Handler {
	t.Helper()
	if history == nil {
		history = &fakeRunHistory{}
	}
	health, err := service.NewHealthService(service.HealthServiceOptions{
		Runs:     history,
		Registry: &model.Registry{},
	})
	require.NoError(t, err)

	return NewRouter(RouterServices{
		Runner:      runner,
		Health:      health,
		Runs:        history,
		BearerToken: testToken,
	})
}

func doRequest(router http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestTriggerSyncRequiresToken(t *testing.T) {
	router := newTestRouter(t, &fakeRunner{}, nil)

	rec := doRequest(router, http.MethodPost, "/api/sync/netsuite_transactions", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(router, http.MethodPost, "/api/sync/netsuite_transactions", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEmptyConfiguredTokenRejectsEverything(t *testing.T) {
	runner := &fakeRunner{}
	health, err := service.NewHealthService(service.HealthServiceOptions{
		Runs:     &fakeRunHistory{},
		Registry: &model.Registry{},
	})
	require.NoError(t, err)
	router := NewRouter(RouterServices{
		Runner: runner,
		Health: health,
		Runs:   &fakeRunHistory{},
	})

	rec := doRequest(router, http.MethodPost, "/api/sync/anything", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTriggerSyncSuccess(t *testing.T) {
	runner := &fakeRunner{outcome: service.RunOutcome{
		Status:     model.RunStatusSuccess,
		Fetched:    2500,
		Upserted:   2480,
		Dropped:    20,
		Batches:    5,
		Elapsed:    90 * time.Second,
		LastCursor: 7700,
		Coverage:   -1,
	}}
	router := newTestRouter(t, runner, nil)

	rec := doRequest(router, http.MethodPost, "/api/sync/netsuite_transactions", testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "netsuite_transactions", runner.lastJob)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, float64(2500), resp["fetched"])
	assert.Equal(t, float64(2480), resp["upserted"])
	assert.Equal(t, float64(90000), resp["elapsedMs"])
	assert.Equal(t, float64(7700), resp["lastCursor"])
	_, hasCoverage := resp["coverage"]
	assert.False(t, hasCoverage)
	_, hasPartial := resp["partial"]
	assert.False(t, hasPartial)
}

func TestTriggerSyncPartial(t *testing.T) {
	runner := &fakeRunner{outcome: service.RunOutcome{
		Status:       model.RunStatusPartial,
		Fetched:      1000,
		Upserted:     1000,
		StoppedEarly: true,
		LastCursor:   4100,
		Coverage:     0.62,
	}}
	router := newTestRouter(t, runner, nil)

	rec := doRequest(router, http.MethodPost, "/api/sync/netsuite_transaction_lines", testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "partial", resp["status"])
	assert.Equal(t, true, resp["partial"])
	assert.Equal(t, true, resp["stoppedEarly"])
	assert.InDelta(t, 0.62, resp["coverage"].(float64), 1e-9)
}

func TestTriggerSyncConflictWhenLeaseHeld(t *testing.T) {
	runner := &fakeRunner{outcome: service.RunOutcome{
		Status:  model.RunStatusSkipped,
		Skipped: true,
	}}
	router := newTestRouter(t, runner, nil)

	rec := doRequest(router, http.MethodPost, "/api/sync/netsuite_transactions", testToken)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, true, resp["skipped"])
}

func TestTriggerSyncUnknownJob(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("%w: nope", service.ErrUnknownJob)}
	router := newTestRouter(t, runner, nil)

	rec := doRequest(router, http.MethodPost, "/api/sync/nope", testToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerSyncConfigurationError(t *testing.T) {
	runner := &fakeRunner{outcome: service.RunOutcome{
		Status: model.RunStatusFailed,
		Err:    fmt.Errorf("%w: missing credentials", service.ErrConfiguration),
	}}
	router := newTestRouter(t, runner, nil)

	rec := doRequest(router, http.MethodPost, "/api/sync/netsuite_transactions", testToken)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "configuration_error", resp["error"])
}

func TestTriggerSyncFailedRun(t *testing.T) {
	runner := &fakeRunner{outcome: service.RunOutcome{
		Status: model.RunStatusFailed,
		Err:    fmt.Errorf("fetch page: connection reset"),
	}}
	router := newTestRouter(t, runner, nil)

	rec := doRequest(router, http.MethodPost, "/api/sync/netsuite_transactions", testToken)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sync_failed", resp["error"])
}

func TestListRunsByJob(t *testing.T) {
	now := time.Now().UTC()
	history := &fakeRunHistory{byJob: map[string][]model.RunRecord{
		"netsuite_transactions": {
			{JobName: "netsuite_transactions", Status: model.RunStatusSuccess, StartedAt: now},
			{JobName: "netsuite_transactions", Status: model.RunStatusFailed, StartedAt: now.Add(-time.Hour)},
		},
	}}
	router := newTestRouter(t, &fakeRunner{}, history)

	rec := doRequest(router, http.MethodGet, "/api/runs?job=netsuite_transactions&limit=1", testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []model.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, model.RunStatusSuccess, resp.Runs[0].Status)
}

func TestListRunsLatestPerJob(t *testing.T) {
	history := &fakeRunHistory{latest: []model.RunRecord{
		{JobName: "a", Status: model.RunStatusSuccess},
		{JobName: "b", Status: model.RunStatusPartial},
	}}
	router := newTestRouter(t, &fakeRunner{}, history)

	rec := doRequest(router, http.MethodGet, "/api/runs", testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []model.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Runs, 2)
}

func TestListRunsRequiresToken(t *testing.T) {
	router := newTestRouter(t, &fakeRunner{}, nil)
	rec := doRequest(router, http.MethodGet, "/api/runs", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetHealthOpenAndAlways200(t *testing.T) {
	history := &fakeRunHistory{latest: []model.RunRecord{
		{JobName: "a", Status: model.RunStatusFailed, CompletedAt: time.Now()},
	}}
	router := newTestRouter(t, &fakeRunner{}, history)

	// No token required for health.
	rec := doRequest(router, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view model.HealthView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, model.StatusCritical, view.Status)
	require.Len(t, view.Syncs, 1)
	assert.Equal(t, model.HealthFailed, view.Syncs[0].State)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, &fakeRunner{}, nil)
	rec := doRequest(router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", defaultRunLimit},
		{"limit=10", 10},
		{"limit=0", defaultRunLimit},
		{"limit=-5", defaultRunLimit},
		{"limit=junk", defaultRunLimit},
		{"limit=9999", maxRunLimit},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/runs?"+tt.query, nil)
		assert.Equal(t, tt.want, parseLimit(req), "query %q", tt.query)
	}
}
