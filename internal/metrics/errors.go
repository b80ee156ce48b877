package metrics

import (
	"strconv"

	"github.com/xwander/tablewright/internal/observability"
)

// Error and upstream metric names
const (
	ErrorsTotalName       = "errors_total"
	PanicsTotalName       = "panics_total"
	ErrorsByEndpointName  = "errors_by_endpoint"
	UpstreamRequestsTotal = "tablewright_upstream_requests_total"
)

// RecordError counts an error response by envelope code and HTTP status
func RecordError(errorCode string, httpStatus int) {
	counter(ErrorsTotalName, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
}

// RecordPanic counts a recovered handler panic
func RecordPanic() {
	counter(PanicsTotalName, nil)
}

// RecordErrorByEndpoint counts an error response by route pattern
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	counter(ErrorsByEndpointName, map[string]string{
		"endpoint":   endpoint,
		"error_code": errorCode,
	})
}

// RecordUpstreamRequest counts one call to the records service. status is 0
// when no response arrived.
func RecordUpstreamRequest(method string, status int) {
	class := "transport_error"
	if status > 0 {
		class = strconv.Itoa(status/100) + "xx"
	}
	counter(UpstreamRequestsTotal, map[string]string{
		"method": method,
		"status": class,
	})
}

func counter(name string, tags map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, 1, tags)
	}
}
