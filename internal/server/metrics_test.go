package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/require"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/metrics"
	"github.com/xwander/tablewright/internal/observability"
	"github.com/xwander/tablewright/internal/server/handlers"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

type limitedBackend struct {
	stubBackend
}

func (limitedBackend) RateLimits() []core.BucketState {
	return []core.BucketState{{BaseID: "appA", Capacity: 5, RefillRate: 5, Tokens: 3, LastRefill: time.Now()}}
}

func fakeExporter(t *testing.T, body string) *string {
	t.Helper()
	var requested string

	originalClient := metricsProxyClient
	metricsProxyClient = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			requested = req.URL.String()
			resp := &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(body)),
				Header:     make(http.Header),
			}
			resp.Header.Set("Content-Type", "text/plain; version=0.0.4")
			resp.Header.Set("Connection", "close")
			return resp, nil
		}),
	}
	observability.PrometheusExporter = exporters.NewPrometheusExporter("test", ":9090")

	t.Cleanup(func() {
		metricsProxyClient = originalClient
		observability.PrometheusExporter = nil
	})
	return &requested
}

func TestMetricsRelaysExporterOutput(t *testing.T) {
	requested := fakeExporter(t, "# HELP tablewright_batch_runs_total Bulk runs\ntablewright_batch_runs_total 4\n")

	srv := New("127.0.0.1", 0)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	require.Empty(t, rec.Header().Get("Connection"))
	require.Contains(t, rec.Body.String(), "tablewright_batch_runs_total 4")
	require.True(t, strings.HasPrefix(*requested, "http://127.0.0.1:"))
	require.True(t, strings.HasSuffix(*requested, "/metrics"))
}

func TestMetricsRefreshesLimiterGauges(t *testing.T) {
	fakeExporter(t, "")

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)
	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	srv := New("127.0.0.1", 0, WithAPI(&handlers.API{Backend: limitedBackend{}}))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Greater(t, collector.CountMetricsByName(metrics.RateLimitTokens), 0)
	require.Greater(t, collector.CountMetricsByName(metrics.ServerUptime), 0)
}

func TestMetricsUnavailableWithoutExporter(t *testing.T) {
	observability.PrometheusExporter = nil

	srv := New("127.0.0.1", 0)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
}
