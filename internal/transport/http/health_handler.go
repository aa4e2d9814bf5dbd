package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"stitch/internal/infrastructure"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string                      `json:"status"`
	Version string                      `json:"version"`
	RunID   string                      `json:"run_id,omitempty"`
	Uptime  string                      `json:"uptime"`
	Memory  *infrastructure.MemoryStats `json:"memory,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	runID   string
	started time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(runID string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		runID:   runID,
		started: time.Now(),
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: infrastructure.ServiceVersion,
		RunID:   h.runID,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}
	if mem, err := infrastructure.ReadMemoryStats(); err == nil {
		resp.Memory = &mem
	} else {
		h.logger.DebugContext(r.Context(), "Memory stats unavailable",
			slog.String("error", err.Error()))
	}
	render.JSON(w, r, resp)
}
