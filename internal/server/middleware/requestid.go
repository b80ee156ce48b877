package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/xwander/tablewright/internal/core"
)

// RequestIDHeader carries the request id in both directions, and on calls
// made upstream while serving the request.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// RequestID assigns every request an id: chi's when present, else a usable
// caller-supplied header, else a fresh UUID. The id is echoed in the response
// and stored with core.WithRequestID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := usableRequestID(middleware.GetReqID(r.Context()))
		if id == "" {
			id = usableRequestID(r.Header.Get(RequestIDHeader))
		}
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(core.WithRequestID(r.Context(), id)))
	})
}

// GetRequestID returns the id assigned by RequestID, falling back to chi's.
func GetRequestID(ctx context.Context) string {
	if id := core.RequestIDFrom(ctx); id != "" {
		return id
	}
	if ctx == nil {
		return ""
	}
	return middleware.GetReqID(ctx)
}

// usableRequestID rejects ids that are empty, oversized or contain anything
// beyond letters, digits and ".-_:". Caller ids end up in logs and upstream
// headers verbatim.
func usableRequestID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxRequestIDLength {
		return ""
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '_', r == ':':
		default:
			return ""
		}
	}
	return id
}
