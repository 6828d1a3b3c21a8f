package httpx

import (
	"log/slog"
	"net/http"

	"github.com/feedsync/feedsync/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Runner SyncRunner
	Health *service.HealthService
	Runs   RunHistoryReader

	// BearerToken protects the trigger and run log endpoints. Empty rejects
	// every request to them.
	BearerToken string
	Logger      *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	auth := RequireBearer(services.BearerToken)

	syncHandlers := &SyncHandlers{Runner: services.Runner}
	mux.Handle("POST /api/sync/{job}", auth(http.HandlerFunc(syncHandlers.TriggerSync)))

	runHandlers := &RunHandlers{Runs: services.Runs}
	mux.Handle("GET /api/runs", auth(http.HandlerFunc(runHandlers.ListRuns)))

	healthHandlers := &HealthHandlers{Svc: services.Health}
	mux.Handle("GET /api/health", http.HandlerFunc(healthHandlers.GetHealth))

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	return Chain(mux, Recover(logger), Logging(logger))
}
