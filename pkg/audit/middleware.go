package audit

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/audittrail/pkg/observability"
)

const (
	// UserIDHeader carries the authenticated user set by the fronting gateway
	UserIDHeader = "X-User-ID"
	// RequestIDHeader carries the request correlation id
	RequestIDHeader = "X-Request-ID"
)

// ActorMiddleware places the acting user and a request id into the request
// context so that audit records written while serving the request carry them.
// Authentication happens upstream; the header is trusted as given.
type ActorMiddleware struct {
	logger *observability.Logger
}

// NewActorMiddleware creates the middleware. logger is attached to every request context.
func NewActorMiddleware(logger *observability.Logger) *ActorMiddleware {
	return &ActorMiddleware{logger: logger}
}

// Handler wraps next
func (m *ActorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = observability.WithRequestID(ctx, requestID)
		w.Header().Set(RequestIDHeader, requestID)

		if userID := r.Header.Get(UserIDHeader); userID != "" {
			ctx = observability.WithUserID(ctx, userID)
		}

		if m.logger != nil {
			ctx = observability.WithLogger(ctx, m.logger)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
