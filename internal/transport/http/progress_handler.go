package http

import (
	"net/http"

	"github.com/go-chi/render"

	"stitch/internal/middleware"
	"stitch/internal/progress"
)

// ProgressSource exposes the tracker of the running step. *progress.Board
// implements it.
type ProgressSource interface {
	Current() (runID string, snap progress.Snapshot, ok bool)
}

// ProgressResponse is the body of GET /progress.
type ProgressResponse struct {
	RunID string `json:"run_id"`
	progress.Snapshot
}

// ProgressHandler serves the current progress snapshot.
type ProgressHandler struct {
	source ProgressSource
}

// NewProgressHandler creates a new progress handler
func NewProgressHandler(source ProgressSource) *ProgressHandler {
	return &ProgressHandler{source: source}
}

// GetProgress handles GET /progress
func (h *ProgressHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	runID, snap, ok := h.source.Current()
	if !ok {
		_ = render.Render(w, r, middleware.Problem{
			Type:      "/errors/no-progress",
			Title:     "Not Found",
			Status:    http.StatusNotFound,
			Detail:    "no step has started yet",
			RequestID: middleware.GetReqID(r.Context()),
		})
		return
	}
	render.JSON(w, r, ProgressResponse{RunID: runID, Snapshot: snap})
}
