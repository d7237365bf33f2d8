package audit

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/audittrail/pkg/observability"
)

func TestActorMiddleware(t *testing.T) {
	logger := observability.NewLogger(observability.InfoLevel, &bytes.Buffer{})
	mw := NewActorMiddleware(logger)

	t.Run("propagates headers", func(t *testing.T) {
		var userID, requestID string
		var gotLogger *observability.Logger
		handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID = observability.GetUserID(r.Context())
			requestID = observability.GetRequestID(r.Context())
			gotLogger = observability.GetLogger(r.Context())
			actor, ok := ContextActor(r.Context())
			assert.True(t, ok)
			assert.Equal(t, "user-9", actor)
		}))

		req := httptest.NewRequest("POST", "/api/auditlogs/archive", nil)
		req.Header.Set(UserIDHeader, "user-9")
		req.Header.Set(RequestIDHeader, "req-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "user-9", userID)
		assert.Equal(t, "req-1", requestID)
		assert.Same(t, logger, gotLogger)
		assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	})

	t.Run("system request", func(t *testing.T) {
		handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, ok := ContextActor(r.Context())
			assert.False(t, ok)
		}))

		req := httptest.NewRequest("GET", "/api/auditlogs", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
		assert.NoError(t, err)
	})
}
