package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/client"
	"github.com/xwander/tablewright/internal/core/formula"
	apperrors "github.com/xwander/tablewright/internal/errors"
	"github.com/xwander/tablewright/internal/server/handlers"
	servermw "github.com/xwander/tablewright/internal/server/middleware"
)

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
}

type stubBackend struct{}

func (stubBackend) GetSchema(ctx context.Context, baseID string, useCache bool) (*core.SchemaEntry, error) {
	return nil, &core.NotFoundError{ResourceType: "base", ResourceID: baseID}
}

func (stubBackend) InvalidateCache(string) {}

func (stubBackend) ListRecords(ctx context.Context, target core.Target, q core.ListQuery) ([]core.Record, error) {
	return nil, nil
}

func (stubBackend) FindRecords(ctx context.Context, target core.Target, where formula.Formula, q core.ListQuery) ([]core.Record, error) {
	return nil, nil
}

func (stubBackend) Run(ctx context.Context, op core.Operation, target core.Target, items []core.BatchItem, opts client.BatchOptions) (*core.BatchResult, error) {
	return core.NewBatchResult(op, target, len(items)), nil
}

func (stubBackend) BatchUpsert(ctx context.Context, target core.Target, candidates []core.Fields, mergeOn []string, opts client.BatchOptions) (*core.BatchResult, error) {
	return core.NewBatchResult(core.OperationUpsert, target, len(candidates)), nil
}

func (stubBackend) RateLimits() []core.BucketState {
	return nil
}

func TestServerMountsAPIRoutes(t *testing.T) {
	srv := New("127.0.0.1", 0, WithAPI(&handlers.API{Backend: stubBackend{}}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rate-limits", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/v1/bases/appZ/schema", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotEmpty(t, rec.Header().Get(servermw.RequestIDHeader))

	req = httptest.NewRequest(http.MethodPost, "/v1/bases/appA/tables/Tasks/batch/create",
		strings.NewReader(`{"records":[{"fields":{"Name":"a"}}]}`))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerWithoutAPIHasNoV1Routes(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/v1/rate-limits", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerMethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodPost, "/version", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWithTimeoutsKeepsDefaultsForZero(t *testing.T) {
	srv := New("127.0.0.1", 0, WithTimeouts(Timeouts{Read: time.Second}))
	require.Equal(t, time.Second, srv.timeouts.Read)
	require.Equal(t, 5*time.Minute, srv.timeouts.Write)
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := New("127.0.0.1", 0)
	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestHealthProbesAreRouted(t *testing.T) {
	hm := handlers.InitHealthManager("test")
	hm.MarkStarted()
	srv := New("127.0.0.1", 0)

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}
