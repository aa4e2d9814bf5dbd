package http

import (
	"net/http"

	"github.com/go-chi/render"

	"stitch/internal/middleware"
)

// MetricsHandler serves the Prometheus exposition, or 404 when metrics
// are disabled.
type MetricsHandler struct {
	prom http.Handler
}

// NewMetricsHandler wraps prom, which may be nil.
func NewMetricsHandler(prom http.Handler) *MetricsHandler {
	return &MetricsHandler{prom: prom}
}

// GetMetrics handles GET /metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.prom == nil {
		_ = render.Render(w, r, middleware.Problem{
			Type:      "/errors/metrics-disabled",
			Title:     "Not Found",
			Status:    http.StatusNotFound,
			Detail:    "metrics are disabled",
			RequestID: middleware.GetReqID(r.Context()),
		})
		return
	}
	h.prom.ServeHTTP(w, r)
}
