package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/client"
	"github.com/xwander/tablewright/internal/core/formula"
	"github.com/xwander/tablewright/internal/core/store"
	apperrors "github.com/xwander/tablewright/internal/errors"
	"github.com/xwander/tablewright/internal/observability"
)

// Backend is the records client surface driven by the automation API.
type Backend interface {
	GetSchema(ctx context.Context, baseID string, useCache bool) (*core.SchemaEntry, error)
	InvalidateCache(baseID string)
	ListRecords(ctx context.Context, target core.Target, q core.ListQuery) ([]core.Record, error)
	FindRecords(ctx context.Context, target core.Target, where formula.Formula, q core.ListQuery) ([]core.Record, error)
	Run(ctx context.Context, op core.Operation, target core.Target, items []core.BatchItem, opts client.BatchOptions) (*core.BatchResult, error)
	BatchUpsert(ctx context.Context, target core.Target, candidates []core.Fields, mergeOn []string, opts client.BatchOptions) (*core.BatchResult, error)
	RateLimits() []core.BucketState
}

// RunJournal reads journaled batch runs.
type RunJournal interface {
	ListRuns(ctx context.Context, q store.RunQuery) ([]store.Run, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
}

// API serves the /v1 automation endpoints.
type API struct {
	Backend Backend
	Runs    RunJournal
	// MergeOn is the default upsert key when a request names none.
	MergeOn []string
}

// FormulaResponse is the rendered form of a predicate.
type FormulaResponse struct {
	Formula string `json:"formula"`
	Encoded string `json:"encoded"`
}

// QueryRequest filters a record listing.
type QueryRequest struct {
	Where      *formula.Predicate `json:"where,omitempty"`
	Fields     []string           `json:"fields,omitempty"`
	Sort       []core.SortSpec    `json:"sort,omitempty"`
	View       string             `json:"view,omitempty"`
	MaxRecords int                `json:"max_records,omitempty"`
}

// RecordsResponse lists records.
type RecordsResponse struct {
	Records []core.Record `json:"records"`
	Count   int           `json:"count"`
}

// BatchRequest is the body of a bulk operation.
type BatchRequest struct {
	Records   []core.BatchItem `json:"records"`
	IDs       []string         `json:"ids,omitempty"`
	MergeOn   []string         `json:"merge_on,omitempty"`
	Typecast  bool             `json:"typecast,omitempty"`
	ChunkSize int              `json:"chunk_size,omitempty"`
}

// RunsResponse lists journaled runs.
type RunsResponse struct {
	Runs  []store.Run `json:"runs"`
	Count int         `json:"count"`
}

// RenderFormula compiles a JSON predicate into formula text.
func (a *API) RenderFormula(w http.ResponseWriter, r *http.Request) {
	var predicate formula.Predicate
	if !decodeBody(w, r, &predicate) {
		return
	}

	f := predicate.Compile()
	text, err := f.Build()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	encoded, err := f.Encode()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FormulaResponse{Formula: text, Encoded: encoded})
}

// GetSchema returns a base schema; ?refresh=true bypasses the cache.
func (a *API) GetSchema(w http.ResponseWriter, r *http.Request) {
	baseID := chi.URLParam(r, "base")
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	entry, err := a.Backend.GetSchema(r.Context(), baseID, !refresh)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// InvalidateSchema drops the cached schema of a base.
func (a *API) InvalidateSchema(w http.ResponseWriter, r *http.Request) {
	a.Backend.InvalidateCache(chi.URLParam(r, "base"))
	w.WriteHeader(http.StatusNoContent)
}

// QueryRecords lists records matching an optional predicate.
func (a *API) QueryRecords(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	q := core.ListQuery{
		Fields:     req.Fields,
		Sort:       req.Sort,
		View:       req.View,
		MaxRecords: req.MaxRecords,
	}

	var (
		records []core.Record
		err     error
	)
	if req.Where != nil {
		records, err = a.Backend.FindRecords(r.Context(), target(r), req.Where.Compile(), q)
	} else {
		records, err = a.Backend.ListRecords(r.Context(), target(r), q)
	}
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if records == nil {
		records = []core.Record{}
	}
	writeJSON(w, http.StatusOK, RecordsResponse{Records: records, Count: len(records)})
}

// RunBatch executes create, update, delete or upsert over the request body.
// A systemic abort responds with the error envelope and carries the partial
// result in its details.
func (a *API) RunBatch(w http.ResponseWriter, r *http.Request) {
	op, err := core.ParseOperation(chi.URLParam(r, "operation"))
	if err != nil {
		respondWithError(w, r, &core.ValidationError{Field: "operation", Detail: err.Error()})
		return
	}

	var req BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	items := req.Records
	for _, id := range req.IDs {
		items = append(items, core.BatchItem{ID: id})
	}

	opts := client.BatchOptions{ChunkSize: req.ChunkSize, Typecast: req.Typecast}
	tgt := target(r)

	var result *core.BatchResult
	if op == core.OperationUpsert {
		mergeOn := req.MergeOn
		if len(mergeOn) == 0 {
			mergeOn = a.MergeOn
		}
		candidates := make([]core.Fields, 0, len(items))
		for _, item := range items {
			candidates = append(candidates, item.Fields)
		}
		result, err = a.Backend.BatchUpsert(r.Context(), tgt, candidates, mergeOn, opts)
	} else {
		result, err = a.Backend.Run(r.Context(), op, tgt, items, opts)
	}

	if err != nil {
		if result == nil {
			respondWithError(w, r, err)
			return
		}
		respondWithError(w, r, apperrors.FromBatchAbort(r.Context(), err, result))
		return
	}

	if logger := observability.Logger(); logger != nil {
		logger.Info("batch request completed", observability.BatchFields(result)...)
	}
	writeJSON(w, http.StatusOK, result)
}

// RateLimits reports per-base bucket state.
func (a *API) RateLimits(w http.ResponseWriter, r *http.Request) {
	states := a.Backend.RateLimits()
	if states == nil {
		states = []core.BucketState{}
	}
	writeJSON(w, http.StatusOK, states)
}

// ListRuns returns journaled runs filtered by base, table, operation, since and limit.
func (a *API) ListRuns(w http.ResponseWriter, r *http.Request) {
	if a.Runs == nil {
		respondWithError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "run journal is disabled"))
		return
	}

	q, err := runQuery(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	runs, err := a.Runs.ListRuns(r.Context(), q)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// GetRun returns one journaled run with its failures.
func (a *API) GetRun(w http.ResponseWriter, r *http.Request) {
	if a.Runs == nil {
		respondWithError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "run journal is disabled"))
		return
	}

	id := chi.URLParam(r, "id")
	run, err := a.Runs.GetRun(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if run == nil {
		respondWithError(w, r, &core.NotFoundError{ResourceType: "run", ResourceID: id})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func runQuery(r *http.Request) (store.RunQuery, error) {
	values := r.URL.Query()
	q := store.RunQuery{
		BaseID: values.Get("base"),
		Table:  values.Get("table"),
	}
	if op := values.Get("operation"); op != "" {
		parsed, err := core.ParseOperation(op)
		if err != nil {
			return q, &core.ValidationError{Field: "operation", Detail: err.Error()}
		}
		q.Operation = parsed
	}
	if since := values.Get("since"); since != "" {
		parsed, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return q, &core.ValidationError{Field: "since", Detail: "expected RFC 3339 timestamp"}
		}
		q.Since = parsed
	}
	if limit := values.Get("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil || parsed < 0 {
			return q, &core.ValidationError{Field: "limit", Detail: "expected a non-negative integer"}
		}
		q.Limit = parsed
	}
	return q, nil
}

func target(r *http.Request) core.Target {
	return core.Target{
		BaseID: strings.TrimSpace(chi.URLParam(r, "base")),
		Table:  strings.TrimSpace(chi.URLParam(r, "table")),
	}
}
