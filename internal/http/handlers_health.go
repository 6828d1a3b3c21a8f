package httpx

import (
	"io"
	"net/http"

	"github.com/feedsync/feedsync/internal/service"
)

const healthResponse = `{"status":"ok"}`

// healthHandler returns a simple 200 OK status for readiness/liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// HealthHandlers serves the aggregated sync health view.
type HealthHandlers struct {
	Svc *service.HealthService
}

// GetHealth handles GET /api/health. The response is always 200 with the
// overall status in the body: monitors read the field, not the HTTP code,
// so a degraded feed does not trip load balancer health checks.
func (h *HealthHandlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.View(r.Context())
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "health_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, view)
}
