package integration

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	tw "github.com/xwander/tablewright/internal/core/client"
	"github.com/xwander/tablewright/internal/observability"
	"github.com/xwander/tablewright/internal/server"
)

const testToken = "pat-integration"

// isPermissionError reports sandboxes that refuse loopback sockets.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// initMetricsOrSkip starts the exporter on a free port and stops it after the test.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()
	if err := observability.InitMetrics("test", 0, "test"); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = observability.StopMetrics() })
}

// newTestServer serves the automation router on an IPv4 loopback listener.
func newTestServer(t *testing.T, opts ...server.Option) (*httptest.Server, *http.Client) {
	t.Helper()
	srv := server.New("127.0.0.1", 0, opts...)

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping server setup: %v", err)
		}
		require.NoError(t, err)
	}

	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: srv.Handler()},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts, ts.Client()
}

// fakeUpstream accepts record creates for appA/Tasks and echoes them back
// with generated ids. calls counts upstream requests.
func fakeUpstream(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		if r.Method != http.MethodPost || r.URL.Path != "/v0/appA/Tasks" || r.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"NOT_FOUND"}}`))
			return
		}

		var body struct {
			Records []struct {
				Fields map[string]any `json:"fields"`
			} `json:"records"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Records) > 10 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":{"type":"INVALID_REQUEST_UNKNOWN"}}`))
			return
		}

		out := make([]map[string]any, 0, len(body.Records))
		for i, rec := range body.Records {
			out = append(out, map[string]any{
				"id":     fmt.Sprintf("rec%d_%d", n, i),
				"fields": rec.Fields,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"records": out})
	}))
	t.Cleanup(upstream.Close)
	return upstream
}

// newBackend builds a client against upstream with a limiter loose enough
// that tests never wait on it.
func newBackend(upstream *httptest.Server) *tw.Client {
	return tw.New(tw.Config{
		BaseURL:           upstream.URL,
		Token:             testToken,
		Timeout:           5 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             100,
		SchemaTTL:         time.Minute,
	}, tw.WithHTTPClient(upstream.Client()))
}
