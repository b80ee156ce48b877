package metrics

import (
	"time"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/observability"
)

// Batch and cache metrics following Prometheus conventions
var (
	// Batch metrics
	BatchRunsTotal     = "tablewright_batch_runs_total"
	BatchChunksTotal   = "tablewright_batch_chunks_total"
	BatchItemsTotal    = "tablewright_batch_items_total"
	BatchRetriesTotal  = "tablewright_batch_retries_total"
	BatchAbortsTotal   = "tablewright_batch_aborts_total"
	BatchDurationName  = "tablewright_batch_duration_ms"
	TransformRunsTotal = "tablewright_transform_runs_total"

	// Schema cache metrics
	SchemaLookupsTotal = "tablewright_schema_lookups_total"

	// Rate limiter metrics
	RateLimitTokens = "tablewright_rate_limit_tokens"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordBatch records the outcome of one finished bulk operation
func RecordBatch(result *core.BatchResult) {
	if observability.TelemetrySystem == nil || result == nil {
		return
	}

	tags := map[string]string{
		"operation": string(result.Operation),
		"status":    string(result.Status()),
	}
	_ = observability.TelemetrySystem.Counter(BatchRunsTotal, 1, tags)
	_ = observability.TelemetrySystem.Counter(BatchChunksTotal, float64(result.ChunksIssued),
		map[string]string{"operation": string(result.Operation)})
	_ = observability.TelemetrySystem.Counter(BatchItemsTotal, float64(result.Successful),
		map[string]string{"operation": string(result.Operation), "outcome": "success"})
	_ = observability.TelemetrySystem.Counter(BatchItemsTotal, float64(len(result.Failed)),
		map[string]string{"operation": string(result.Operation), "outcome": "failure"})

	if result.Retries > 0 {
		_ = observability.TelemetrySystem.Counter(BatchRetriesTotal, float64(result.Retries),
			map[string]string{"operation": string(result.Operation)})
	}
	if result.Aborted {
		_ = observability.TelemetrySystem.Counter(BatchAbortsTotal, 1,
			map[string]string{"operation": string(result.Operation)})
	}

	_ = observability.TelemetrySystem.Histogram(BatchDurationName, result.Duration,
		map[string]string{"operation": string(result.Operation)})
}

// RecordTransform records a transform run with the strategy it used
func RecordTransform(strategy string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			TransformRunsTotal,
			1,
			map[string]string{
				"strategy": strategy,
				"status":   status,
			},
		)
	}
}

// RecordSchemaLookup records a schema cache hit or miss
func RecordSchemaLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SchemaLookupsTotal,
			1,
			map[string]string{"result": result},
		)
	}
}

// RecordRateLimits publishes the remaining tokens of every per-base bucket
func RecordRateLimits(states []core.BucketState) {
	if observability.TelemetrySystem == nil {
		return
	}
	for _, state := range states {
		_ = observability.TelemetrySystem.Gauge(RateLimitTokens, state.Tokens,
			map[string]string{"base": state.BaseID})
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// SetServerUptime records the server uptime since start
func SetServerUptime(since time.Time) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerUptime,
			time.Since(since).Seconds(),
			nil,
		)
	}
}
