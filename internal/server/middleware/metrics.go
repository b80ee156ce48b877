package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/observability"
)

// Request metric names.
const (
	RequestsTotal        = "http_requests_total"
	RequestDurationMs    = "http_request_duration_ms"
	RequestSizeBytes     = "http_request_size_bytes"
	ResponseSizeBytes    = "http_response_size_bytes"
	ErrorsTotal          = "http_errors_total"
	BatchRequestsTotal   = "http_batch_requests_total"
	unknownEndpointLabel = "/unknown"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// getEndpointPattern returns the chi route pattern of r. Base ids and table
// names never become labels: unmatched /v1 paths collapse to "/v1/*".
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/version", path == "/metrics", path == "/":
		return path
	case strings.HasPrefix(path, "/v1/"):
		return "/v1/*"
	default:
		return unknownEndpointLabel
	}
}

// batchOperation returns the validated operation of a batch route, or "".
func batchOperation(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	op, err := core.ParseOperation(rctx.URLParam("operation"))
	if err != nil {
		return ""
	}
	return string(op)
}

// RequestMetrics emits Prometheus request metrics and one log line per request.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start)

		requestSize := r.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		endpoint := getEndpointPattern(r)
		status := strconv.Itoa(wrapped.statusCode)
		labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status": status}
		sizeLabels := map[string]string{"method": r.Method, "endpoint": endpoint}

		sys := observability.TelemetrySystem
		_ = sys.Counter(RequestsTotal, 1, labels)
		_ = sys.Histogram(RequestDurationMs, duration, labels)
		_ = sys.Gauge(RequestSizeBytes, float64(requestSize), sizeLabels)
		_ = sys.Gauge(ResponseSizeBytes, float64(wrapped.bytesWritten), sizeLabels)

		if op := batchOperation(r); op != "" {
			_ = sys.Counter(BatchRequestsTotal, 1, map[string]string{"operation": op, "status": status})
		}

		if wrapped.statusCode >= http.StatusBadRequest {
			errorType := "client_error"
			if wrapped.statusCode >= http.StatusInternalServerError {
				errorType = "server_error"
			}
			_ = sys.Counter(ErrorsTotal, 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": errorType,
			})
		}

		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", duration),
				zap.Int64("request_size", requestSize),
				zap.Int64("response_size", wrapped.bytesWritten),
				zap.String("request_id", GetRequestID(r.Context())))
		}
	})
}
