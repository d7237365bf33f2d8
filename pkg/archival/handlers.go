package archival

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/audittrail/pkg/httputil"
	"github.com/platinummonkey/audittrail/pkg/observability"
)

// Runner runs one archival pass
type Runner interface {
	Archive(ctx context.Context, cutoff *time.Time) (Result, error)
}

// Handlers provides the manual archival trigger
type Handlers struct {
	runner Runner
}

// NewHandlers creates archival handlers
func NewHandlers(runner Runner) *Handlers {
	return &Handlers{runner: runner}
}

// RegisterRoutes registers archival routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/auditlogs/archive", h.archive).Methods("POST")
}

type archiveRequest struct {
	OlderThan *time.Time `json:"olderThan"`
}

type archiveResponse struct {
	ArchivedCount int `json:"archived_count"`
}

// archive handles POST /api/auditlogs/archive
func (h *Handlers) archive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.OlderThan == nil || req.OlderThan.IsZero() {
		httputil.WriteBadRequest(w, "olderThan is required")
		return
	}

	res, err := h.runner.Archive(r.Context(), req.OlderThan)
	if errors.Is(err, ErrArchiveInProgress) {
		httputil.WriteConflict(w, "archival already in progress")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("manual archival failed")
		httputil.WriteInternalError(w, "archival failed")
		return
	}

	_ = httputil.WriteJSON(w, http.StatusOK, archiveResponse{ArchivedCount: res.Moved})
}
