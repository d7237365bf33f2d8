package audit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/audittrail/pkg/httputil"
	"github.com/platinummonkey/audittrail/pkg/observability"
)

const defaultPageSize = 100

// Handlers provides HTTP handlers for the audit log read API
type Handlers struct {
	store Store
}

// NewHandlers creates new audit handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{
		store: store,
	}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/auditlogs", h.listRecords).Methods("GET")
	router.HandleFunc("/api/auditlogs/export", h.exportRecords).Methods("GET")
	router.HandleFunc("/api/auditlogs/stats", h.getStats).Methods("GET")
	router.HandleFunc("/api/auditlogs/{id:[0-9]+}", h.getRecord).Methods("GET")
}

// listRecords handles GET /api/auditlogs
func (h *Handlers) listRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	records, err := h.store.Search(r.Context(), filter)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	total, err := h.store.Count(r.Context(), filter)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	_ = httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
		"scope":   filter.Scope,
	})
}

// getRecord handles GET /api/auditlogs/{id}
func (h *Handlers) getRecord(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid audit record ID")
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "audit record not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	_ = httputil.WriteJSON(w, http.StatusOK, rec)
}

// exportRecords handles GET /api/auditlogs/export
func (h *Handlers) exportRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.json")
	}

	_, _ = w.Write(data)
}

// getStats handles GET /api/auditlogs/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	startTime, err := httputil.ParseQueryTime(r, "start_time")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	endTime, err := httputil.ParseQueryTime(r, "end_time")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.store.GetStats(r.Context(), startTime, endTime)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	_ = httputil.WriteJSON(w, http.StatusOK, stats)
}

// parseFilter parses a search filter from query parameters
func parseFilter(r *http.Request) (SearchFilter, error) {
	query := r.URL.Query()
	filter := SearchFilter{
		Scope:     ScopeHot,
		TableName: query.Get("table_name"),
		UserID:    query.Get("user_id"),
		Limit:     defaultPageSize,
		SortOrder: "desc",
	}

	switch scope := Scope(query.Get("scope")); scope {
	case "", ScopeHot:
	case ScopeArchive:
		filter.Scope = ScopeArchive
	default:
		return filter, fmt.Errorf("invalid scope: %s", scope)
	}

	var err error
	if filter.StartTime, err = httputil.ParseQueryTime(r, "start_time"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = httputil.ParseQueryTime(r, "end_time"); err != nil {
		return filter, err
	}

	for _, a := range strings.Split(query.Get("actions"), ",") {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		switch action := Action(a); action {
		case ActionCreated, ActionModified, ActionDeleted:
			filter.Actions = append(filter.Actions, action)
		default:
			return filter, fmt.Errorf("invalid action: %s", a)
		}
	}

	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", defaultPageSize); err != nil || filter.Limit < 0 {
		return filter, errors.New("invalid limit")
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil || filter.Offset < 0 {
		return filter, errors.New("invalid offset")
	}
	if s := query.Get("sort_order"); s != "" {
		filter.SortOrder = strings.ToLower(s)
	}

	return filter, nil
}

// internalError logs err and replies without exposing database details
func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, err error) {
	observability.FromContext(r.Context()).WithError(err).Error("audit log query failed")
	httputil.WriteInternalError(w, "failed to read audit logs")
}
