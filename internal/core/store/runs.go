package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xwander/tablewright/internal/core"
)

// Run is one journaled bulk operation.
type Run struct {
	ID          string         `json:"id"`
	Operation   core.Operation `json:"operation"`
	Target      core.Target    `json:"target"`
	Total       int            `json:"total"`
	Successful  int            `json:"successful"`
	FailedCount int            `json:"failed"`
	Chunks      int            `json:"chunks"`
	Retries     int            `json:"retries"`
	Aborted     bool           `json:"aborted"`
	AbortReason string         `json:"abort_reason,omitempty"`
	Status      string         `json:"status"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
	RecordIDs   []string       `json:"record_ids,omitempty"`
	Failures    []core.Failure `json:"failures,omitempty"`
}

// BatchResult rebuilds the summary of the journaled run. Records are not
// journaled, only their ids.
func (r *Run) BatchResult() *core.BatchResult {
	if r == nil {
		return nil
	}
	return &core.BatchResult{
		Operation:    r.Operation,
		Target:       r.Target,
		Total:        r.Total,
		Successful:   r.Successful,
		Failed:       r.Failures,
		ChunksIssued: r.Chunks,
		Retries:      r.Retries,
		Aborted:      r.Aborted,
		AbortReason:  r.AbortReason,
		StartedAt:    r.StartedAt,
		Duration:     r.Duration,
	}
}

// RunQuery filters journaled runs. Empty fields match everything.
type RunQuery struct {
	BaseID    string
	Table     string
	Operation core.Operation
	Since     time.Time
	Limit     int
}

func (q RunQuery) whereClause() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if base := strings.TrimSpace(q.BaseID); base != "" {
		clauses = append(clauses, "base_id = ?")
		args = append(args, base)
	}
	if table := strings.TrimSpace(q.Table); table != "" {
		clauses = append(clauses, "table_name = ?")
		args = append(args, table)
	}
	if q.Operation != "" {
		clauses = append(clauses, "operation = ?")
		args = append(args, string(q.Operation))
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, q.Since.UTC().UnixMilli())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// RecordRun journals a finished bulk operation and its failures, returning the run id.
func (s *Store) RecordRun(ctx context.Context, result *core.BatchResult, runErr error) (string, error) {
	if s == nil || s.DB == nil {
		return "", errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if result == nil {
		return "", errors.New("batch result is required")
	}

	id := uuid.NewString()
	startedAt := result.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	recordIDs, err := json.Marshal(result.RecordIDs())
	if err != nil {
		return "", fmt.Errorf("encode record ids: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin journal transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batch_runs (id, operation, base_id, table_name, total, successful, failed, chunks, retries,
			aborted, abort_reason, status, error, started_at, duration_ms, record_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, string(result.Operation), result.Target.BaseID, result.Target.Table, result.Total, result.Successful,
		len(result.Failed), result.ChunksIssued, result.Retries, boolToInt(result.Aborted), result.AbortReason,
		string(result.Status()), errText, startedAt.UTC().UnixMilli(), result.Duration.Milliseconds(), string(recordIDs))
	if err != nil {
		return "", fmt.Errorf("store batch run: %w", err)
	}

	for _, failure := range result.Failed {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO batch_failures (run_id, item_index, record_id, kind, detail)
			VALUES (?, ?, ?, ?, ?)
		`, id, failure.Index, failure.RecordID, string(failure.Kind), failure.Detail)
		if err != nil {
			return "", fmt.Errorf("store batch failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit batch run: %w", err)
	}
	return id, nil
}

const runColumns = `id, operation, base_id, table_name, total, successful, failed, chunks, retries,
	aborted, abort_reason, status, error, started_at, duration_ms, record_ids`

// ListRuns returns journaled runs, newest first, without their failures.
func (s *Store) ListRuns(ctx context.Context, q RunQuery) ([]Run, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args := q.whereClause()
	query := "SELECT " + runColumns + " FROM batch_runs " + where + " ORDER BY started_at DESC, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batch runs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list batch runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run with its failures, or nil when id is unknown.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("run id is required")
	}

	row := s.DB.QueryRowContext(ctx, "SELECT "+runColumns+" FROM batch_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT item_index, record_id, kind, detail
		FROM batch_failures
		WHERE run_id = ?
		ORDER BY item_index
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list batch failures: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var (
			failure  core.Failure
			recordID sql.NullString
			kind     string
			detail   sql.NullString
		)
		if err := rows.Scan(&failure.Index, &recordID, &kind, &detail); err != nil {
			return nil, fmt.Errorf("scan batch failure: %w", err)
		}
		failure.RecordID = recordID.String
		failure.Kind = core.ErrorKind(kind)
		failure.Detail = detail.String
		run.Failures = append(run.Failures, failure)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list batch failures: %w", err)
	}
	return run, nil
}

// PruneRuns deletes runs started before cutoff along with their failures.
func (s *Store) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ms := cutoff.UTC().UnixMilli()
	if _, err := s.DB.ExecContext(ctx, `
		DELETE FROM batch_failures
		WHERE run_id IN (SELECT id FROM batch_runs WHERE started_at < ?)
	`, ms); err != nil {
		return 0, fmt.Errorf("prune batch failures: %w", err)
	}

	res, err := s.DB.ExecContext(ctx, "DELETE FROM batch_runs WHERE started_at < ?", ms)
	if err != nil {
		return 0, fmt.Errorf("prune batch runs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune batch runs: %w", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run         Run
		operation   string
		aborted     int
		abortReason sql.NullString
		errText     sql.NullString
		startedAt   int64
		durationMS  int64
		recordIDs   sql.NullString
	)
	err := row.Scan(&run.ID, &operation, &run.Target.BaseID, &run.Target.Table, &run.Total, &run.Successful,
		&run.FailedCount, &run.Chunks, &run.Retries, &aborted, &abortReason, &run.Status, &errText,
		&startedAt, &durationMS, &recordIDs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan batch run: %w", err)
	}

	run.Operation = core.Operation(operation)
	run.Aborted = aborted != 0
	run.AbortReason = abortReason.String
	run.Error = errText.String
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	run.Duration = time.Duration(durationMS) * time.Millisecond
	if recordIDs.Valid && recordIDs.String != "" {
		if err := json.Unmarshal([]byte(recordIDs.String), &run.RecordIDs); err != nil {
			return nil, fmt.Errorf("decode record ids: %w", err)
		}
	}
	return &run, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
