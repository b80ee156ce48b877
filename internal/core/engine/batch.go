package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/core"
)

// ChunkSender issues the single network call carrying one chunk of a bulk operation.
//
// A nil error means the service answered with per-item results, returned in chunk order.
// A non-nil error is a whole-call failure.
type ChunkSender interface {
	SendChunk(ctx context.Context, op core.Operation, target core.Target, chunk []core.BatchItem, typecast bool) ([]core.ItemOutcome, error)
}

// ProgressFunc is called after each chunk with the number of items processed so far.
type ProgressFunc func(completed, total int)

// Job describes one bulk operation.
type Job struct {
	Operation core.Operation
	Target    core.Target
	Items     []core.BatchItem
	ChunkSize int
	Typecast  bool
	Progress  ProgressFunc
}

// Executor splits bulk payloads into service-sized chunks and sends them one at a time.
type Executor struct {
	Sender  ChunkSender
	Limiter Acquirer
	Sleep   SleepFunc
	Clock   func() time.Time
	Logger  *logging.Logger
}

// Run executes job chunk by chunk, in input order.
//
// The returned result is never nil. A non-nil error means the operation did not
// complete: either it was rejected before the first chunk, or a systemic failure
// (authentication, a second consecutive 429, cancellation) stopped it. Results of
// chunks that finished before the failure are kept.
func (e *Executor) Run(ctx context.Context, job Job) (*core.BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := core.NewBatchResult(job.Operation, job.Target, len(job.Items))
	result.StartedAt = e.now()
	defer func() { result.Duration = e.now().Sub(result.StartedAt) }()

	if e == nil || e.Sender == nil {
		return result, errors.New("batch executor is not configured")
	}
	if err := validateJob(job); err != nil {
		return result, err
	}

	size := ChunkSize(job.ChunkSize)
	total := len(job.Items)

	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		chunk := job.Items[start:end]

		outcomes, err := e.send(ctx, job, chunk, result)
		if err != nil {
			if core.IsSystemic(err) || core.Kind(err) == core.KindRateLimited {
				result.Aborted = true
				result.AbortReason = err.Error()
				e.warn("batch aborted",
					zap.String("operation", string(job.Operation)),
					zap.String("base", job.Target.BaseID),
					zap.Int("completed", start),
					zap.Int("total", total),
					zap.Error(err))
				return result, fmt.Errorf("%s batch stopped after %d of %d items: %w", job.Operation, start, total, err)
			}
			recordChunkFailure(result, start, chunk, err)
		} else {
			applyOutcomes(result, job.Operation, start, chunk, outcomes)
		}

		e.debug("batch chunk completed",
			zap.String("operation", string(job.Operation)),
			zap.Int("chunk", result.ChunksIssued),
			zap.Int("completed", end),
			zap.Int("total", total))

		if job.Progress != nil {
			job.Progress(end, total)
		}
	}

	return result, nil
}

// send issues one chunk, retrying exactly once after a 429.
func (e *Executor) send(ctx context.Context, job Job, chunk []core.BatchItem, result *core.BatchResult) ([]core.ItemOutcome, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	result.ChunksIssued++

	outcomes, err := e.Sender.SendChunk(ctx, job.Operation, job.Target, chunk, job.Typecast)

	var rateErr *core.RateLimitError
	if !errors.As(err, &rateErr) {
		return outcomes, err
	}

	result.Retries++
	wait := rateErr.Wait()
	e.warn("batch chunk rate limited, retrying once",
		zap.String("operation", string(job.Operation)),
		zap.String("base", job.Target.BaseID),
		zap.Int("chunk", result.ChunksIssued),
		zap.Duration("retry_after", wait))

	if err := e.sleep(ctx, wait); err != nil {
		return nil, err
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	return e.Sender.SendChunk(ctx, job.Operation, job.Target, chunk, job.Typecast)
}

func applyOutcomes(result *core.BatchResult, op core.Operation, offset int, chunk []core.BatchItem, outcomes []core.ItemOutcome) {
	for i, item := range chunk {
		if i >= len(outcomes) {
			result.Failed = append(result.Failed, core.Failure{
				Index:    offset + i,
				RecordID: item.ID,
				Kind:     core.KindService,
				Detail:   "item missing from service response",
			})
			continue
		}

		outcome := outcomes[i]
		if outcome.Err != nil {
			result.Failed = append(result.Failed, core.Failure{
				Index:    offset + i,
				RecordID: item.ID,
				Kind:     core.Kind(outcome.Err),
				Detail:   outcome.Err.Error(),
			})
			continue
		}

		result.Successful++
		switch {
		case outcome.Record != nil:
			result.Records = append(result.Records, *outcome.Record)
		case op == core.OperationDelete:
			result.Records = append(result.Records, core.Record{ID: item.ID})
		}
	}
}

func recordChunkFailure(result *core.BatchResult, offset int, chunk []core.BatchItem, err error) {
	kind := core.Kind(err)
	for i, item := range chunk {
		result.Failed = append(result.Failed, core.Failure{
			Index:    offset + i,
			RecordID: item.ID,
			Kind:     kind,
			Detail:   err.Error(),
		})
	}
}

func validateJob(job Job) error {
	if err := job.Target.Validate(); err != nil {
		return err
	}

	switch job.Operation {
	case core.OperationCreate, core.OperationUpdate, core.OperationDelete:
	case core.OperationUpsert:
		return errors.New("upsert must be planned with PartitionUpsert and run with Executor.Upsert")
	default:
		return fmt.Errorf("unsupported batch operation: %q", job.Operation)
	}

	for i, item := range job.Items {
		switch job.Operation {
		case core.OperationCreate:
			if len(item.Fields) == 0 {
				return &core.ValidationError{Field: "fields", Detail: fmt.Sprintf("item %d has no fields to create", i)}
			}
		case core.OperationUpdate:
			if item.ID == "" {
				return &core.ValidationError{Field: "id", Detail: fmt.Sprintf("item %d has no record id to update", i)}
			}
		case core.OperationDelete:
			if item.ID == "" {
				return &core.ValidationError{Field: "id", Detail: fmt.Sprintf("item %d has no record id to delete", i)}
			}
		}
	}
	return nil
}

// ChunkSize clamps a requested chunk size to (0, core.MaxChunkSize].
func ChunkSize(requested int) int {
	if requested <= 0 || requested > core.MaxChunkSize {
		return core.MaxChunkSize
	}
	return requested
}

// ChunkCount is the number of calls needed for n items.
func ChunkCount(n, chunkSize int) int {
	size := ChunkSize(chunkSize)
	return (n + size - 1) / size
}

func (e *Executor) acquire(ctx context.Context) error {
	if e.Limiter == nil {
		return ctx.Err()
	}
	return e.Limiter.Acquire(ctx)
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

func (e *Executor) now() time.Time {
	if e != nil && e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

func (e *Executor) warn(msg string, fields ...zap.Field) {
	if e.Logger != nil {
		e.Logger.Warn(msg, fields...)
	}
}

func (e *Executor) debug(msg string, fields ...zap.Field) {
	if e.Logger != nil {
		e.Logger.Debug(msg, fields...)
	}
}
