package archival

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/audittrail/pkg/audit"
	"github.com/platinummonkey/audittrail/pkg/lock"
	"github.com/platinummonkey/audittrail/pkg/storage"
)

type mockRunner struct {
	result Result
	err    error
	cutoff *time.Time
	calls  int
}

func (m *mockRunner) Archive(_ context.Context, cutoff *time.Time) (Result, error) {
	m.calls++
	m.cutoff = cutoff
	return m.result, m.err
}

func serve(h *Handlers, body string) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/api/auditlogs/archive", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_Archive(t *testing.T) {
	olderThan := time.Date(2024, 5, 9, 12, 0, 0, 0, time.UTC)
	body := fmt.Sprintf(`{"olderThan":%q}`, olderThan.Format(time.RFC3339))

	tests := []struct {
		name       string
		body       string
		runner     *mockRunner
		wantStatus int
		wantCalls  int
	}{
		{
			name:       "archives records",
			body:       body,
			runner:     &mockRunner{result: Result{Moved: 7}},
			wantStatus: http.StatusOK,
			wantCalls:  1,
		},
		{
			name:       "nothing to archive",
			body:       body,
			runner:     &mockRunner{},
			wantStatus: http.StatusOK,
			wantCalls:  1,
		},
		{
			name:       "missing olderThan",
			body:       `{}`,
			runner:     &mockRunner{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid timestamp",
			body:       `{"olderThan":"yesterday"}`,
			runner:     &mockRunner{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{`,
			runner:     &mockRunner{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "archival in progress",
			body:       body,
			runner:     &mockRunner{err: fmt.Errorf("%w: %w", ErrArchiveInProgress, lock.ErrNotAcquired)},
			wantStatus: http.StatusConflict,
			wantCalls:  1,
		},
		{
			name:       "archival failure",
			body:       body,
			runner:     &mockRunner{err: errors.New("database unavailable")},
			wantStatus: http.StatusInternalServerError,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(NewHandlers(tt.runner), tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCalls, tt.runner.calls)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp map[string]int
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.runner.result.Moved, resp["archived_count"])
			require.NotNil(t, tt.runner.cutoff)
			assert.True(t, tt.runner.cutoff.Equal(olderThan))
		})
	}
}

func TestHandlers_ArchiveEndToEnd(t *testing.T) {
	db := setupSQLiteDB(t)
	insertRecord(t, db, audit.LogTableName, 1, now.Add(-48*time.Hour))
	insertRecord(t, db, audit.LogTableName, 2, now.Add(-10*time.Hour))

	a := newTestArchiver(t, db, storage.SQLite, nil)
	rec := serve(NewHandlers(a), fmt.Sprintf(`{"olderThan":%q}`, now.Add(-24*time.Hour).Format(time.RFC3339)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"archived_count":1}`, rec.Body.String())
	assert.Equal(t, []int64{2}, ids(t, db, audit.LogTableName))
}

func TestHandlers_MethodNotAllowed(t *testing.T) {
	router := mux.NewRouter()
	NewHandlers(&mockRunner{}).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auditlogs/archive", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
