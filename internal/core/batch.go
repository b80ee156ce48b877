package core

import (
	"fmt"
	"time"
)

// MaxChunkSize is the service limit for records per create, update or delete call.
const MaxChunkSize = 10

// Operation names a bulk operation.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationUpsert Operation = "upsert"
)

// ParseOperation validates an operation name.
func ParseOperation(value string) (Operation, error) {
	switch Operation(value) {
	case OperationCreate, OperationUpdate, OperationDelete, OperationUpsert:
		return Operation(value), nil
	default:
		return "", fmt.Errorf("unsupported batch operation: %s", value)
	}
}

// BatchItem is one input of a bulk operation. Create uses Fields, delete uses ID, update uses both.
type BatchItem struct {
	ID     string `json:"id,omitempty"`
	Fields Fields `json:"fields,omitempty"`
}

// ItemOutcome is the service's verdict on one item of a chunk.
type ItemOutcome struct {
	Record *Record
	Err    error
}

// Failure records why one input item did not succeed.
type Failure struct {
	Index    int       `json:"index"`
	RecordID string    `json:"record_id,omitempty"`
	Kind     ErrorKind `json:"kind"`
	Detail   string    `json:"detail"`
}

// BatchStatus summarizes how a bulk operation ended.
type BatchStatus string

const (
	BatchSucceeded BatchStatus = "succeeded"
	BatchPartial   BatchStatus = "partial"
	BatchFailed    BatchStatus = "failed"
	BatchAborted   BatchStatus = "aborted"
)

// BatchResult aggregates the outcome of one logical bulk operation.
type BatchResult struct {
	Operation    Operation     `json:"operation"`
	Target       Target        `json:"target"`
	Total        int           `json:"total"`
	Successful   int           `json:"successful"`
	Failed       []Failure     `json:"failed"`
	ChunksIssued int           `json:"chunks_issued"`
	Retries      int           `json:"retries"`
	Records      []Record      `json:"records,omitempty"`
	Aborted      bool          `json:"aborted"`
	AbortReason  string        `json:"abort_reason,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// NewBatchResult returns an empty result for the given operation.
func NewBatchResult(op Operation, target Target, total int) *BatchResult {
	return &BatchResult{
		Operation: op,
		Target:    target,
		Total:     total,
		Failed:    make([]Failure, 0),
	}
}

// Status reports whether the operation fully succeeded, partially succeeded, failed or was aborted.
func (r *BatchResult) Status() BatchStatus {
	if r == nil {
		return BatchFailed
	}
	switch {
	case r.Aborted:
		return BatchAborted
	case len(r.Failed) == 0:
		return BatchSucceeded
	case r.Successful > 0:
		return BatchPartial
	default:
		return BatchFailed
	}
}

// Processed is the number of items that reached a verdict.
func (r *BatchResult) Processed() int {
	if r == nil {
		return 0
	}
	return r.Successful + len(r.Failed)
}

// SuccessRate is the percentage of successful items over the requested total.
func (r *BatchResult) SuccessRate() float64 {
	if r == nil || r.Total == 0 {
		return 100
	}
	return float64(r.Successful) / float64(r.Total) * 100
}

// RecordIDs lists the ids of successfully written records.
func (r *BatchResult) RecordIDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.Records))
	for _, record := range r.Records {
		ids = append(ids, record.ID)
	}
	return ids
}

func (r *BatchResult) String() string {
	if r == nil {
		return "BatchResult(<nil>)"
	}
	return fmt.Sprintf("BatchResult(%s %d/%d, failed=%d, chunks=%d, status=%s)",
		r.Operation, r.Successful, r.Total, len(r.Failed), r.ChunksIssued, r.Status())
}
