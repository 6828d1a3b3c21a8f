package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	httpx "github.com/feedsync/feedsync/internal/http"
)

// runHTTPServer serves the trigger and health API until the context is
// cancelled, then drains connections within the configured shutdown window.
func runHTTPServer(ctx context.Context, cfg *ServiceOrchestrationConfig, logger *slog.Logger) error {
	router := httpx.NewRouter(httpx.RouterServices{
		Runner:      cfg.Services.Runner,
		Health:      cfg.Services.Health,
		Runs:        cfg.Services.Runs,
		BearerToken: cfg.Config.HTTP.BearerToken,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:              cfg.Config.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Config.HTTP.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Config.HTTP.ShutdownTimeout)
	defer cancel()

	logger.Info("http server shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return ctx.Err()
}
