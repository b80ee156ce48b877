package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/xwander/tablewright/internal/core"
)

func TestFromDomain(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"validation", &core.ValidationError{Field: "table", Detail: "table is required"}, "VALIDATION_FAILED", http.StatusBadRequest},
		{"formula", &core.FormulaError{Message: "unbalanced"}, "INVALID_FORMULA", http.StatusBadRequest},
		{"not found", &core.NotFoundError{ResourceType: "table", ResourceID: "Tasks"}, "NOT_FOUND", http.StatusNotFound},
		{"rate limited", &core.RateLimitError{}, "RATE_LIMITED", http.StatusTooManyRequests},
		{"authentication", &core.AuthenticationError{StatusCode: 401}, "UPSTREAM_AUTH_FAILED", http.StatusBadGateway},
		{"service", &core.ServiceError{StatusCode: 503, Message: "down"}, "EXTERNAL_SERVICE_ERROR", http.StatusBadGateway},
		{"canceled", context.DeadlineExceeded, "TIMEOUT", http.StatusGatewayTimeout},
		{"wrapped", fmt.Errorf("list: %w", &core.NotFoundError{}), "NOT_FOUND", http.StatusNotFound},
		{"unknown", fmt.Errorf("boom"), "INTERNAL_ERROR", http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			envelope := FromDomain(context.Background(), tc.err)
			require.NotNil(t, envelope)
			require.Equal(t, tc.code, envelope.Code)
			require.Equal(t, tc.status, HTTPStatusFromEnvelope(envelope))
			require.NotEmpty(t, envelope.CorrelationID)
		})
	}

	require.Nil(t, FromDomain(context.Background(), nil))
}

func TestFromDomainKeepsEnvelope(t *testing.T) {
	original := NewInvalidInputError("bad body")
	require.Same(t, original, FromDomain(context.Background(), original))
}

func TestRespondWithErrorUsesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/bases/appA/schema", nil)
	req = req.WithContext(core.WithRequestID(req.Context(), "req-123"))
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, &core.NotFoundError{ResourceType: "base", ResourceID: "appA"})

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "NOT_FOUND", body.Error.Code)
	require.Equal(t, "req-123", body.Error.RequestID)
	require.Equal(t, "not_found", body.Error.Details["kind"])
}

func TestEnsureEnvelope(t *testing.T) {
	env := EnsureEnvelope(fmt.Errorf("plain"))
	require.Equal(t, "INTERNAL_ERROR", env.Code)
	require.Equal(t, gferrors.SeverityHigh, env.Severity)

	env = EnsureEnvelope(nil)
	require.Equal(t, gferrors.SeverityCritical, env.Severity)
}

func TestRateLimitedResponseCarriesRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/bases/appA/tables/Tasks/records/query", nil)

	RespondWithError(rec, req, fmt.Errorf("list: %w", &core.RateLimitError{RetryAfter: 30 * time.Second}))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestFromBatchAbort(t *testing.T) {
	result := core.NewBatchResult(core.OperationCreate, core.Target{BaseID: "appA", Table: "Tasks"}, 25)
	result.Successful = 10
	result.Aborted = true

	ctx := core.WithRequestID(context.Background(), "req-9")
	cases := []struct {
		err  error
		code string
	}{
		{&core.AuthenticationError{StatusCode: 401}, CodeUpstreamAuth},
		{&core.RateLimitError{}, CodeRateLimited},
		{context.Canceled, CodeTimeout},
		{fmt.Errorf("boom"), CodeExternalService},
	}
	for _, tc := range cases {
		envelope := FromBatchAbort(ctx, tc.err, result)
		require.Equal(t, tc.code, envelope.Code, tc.err.Error())
		require.Equal(t, "req-9", envelope.CorrelationID)
		require.Contains(t, envelope.Details, "result")
	}
}

func TestErrorMetricsUseRoutePattern(t *testing.T) {
	var pattern string
	r := chi.NewRouter()
	r.Get("/v1/bases/{base}/schema", func(w http.ResponseWriter, req *http.Request) {
		pattern = routePattern(req)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/bases/appSecret/schema", nil))
	require.Equal(t, "/v1/bases/{base}/schema", pattern)

	require.Equal(t, "unmatched", routePattern(httptest.NewRequest(http.MethodGet, "/nowhere", nil)))
}

func TestHTTPStatusFromCodeDefaultsToInternal(t *testing.T) {
	require.Equal(t, http.StatusInternalServerError, HTTPStatusFromCode("SOMETHING_NEW"))
	require.Equal(t, http.StatusBadGateway, HTTPStatusFromCode(CodeUpstreamAuth))
}
