// Package client is the application-facing facade: it wires the transport,
// per-base rate limiters, the schema cache, the batch executor, select-option
// edits and transforms behind one value.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/api"
	"github.com/xwander/tablewright/internal/core/engine"
	"github.com/xwander/tablewright/internal/core/fieldops"
	"github.com/xwander/tablewright/internal/core/formula"
	"github.com/xwander/tablewright/internal/core/schema"
	"github.com/xwander/tablewright/internal/core/transform"
	"github.com/xwander/tablewright/internal/metrics"
	"github.com/xwander/tablewright/internal/observability"
)

// Config carries the client settings resolved from configuration.
type Config struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	ChunkSize         int
	Typecast          bool
	SchemaTTL         time.Duration
}

// Journal persists finished bulk operations.
type Journal interface {
	RecordRun(ctx context.Context, result *core.BatchResult, runErr error) (string, error)
}

// BatchOptions tunes a single bulk call. Zero values fall back to the client config.
type BatchOptions struct {
	ChunkSize int
	Typecast  bool
	Progress  engine.ProgressFunc
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used by the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.API.HTTPClient = hc }
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) { c.Logger = logger }
}

// WithJournal records every finished bulk operation.
func WithJournal(journal Journal) Option {
	return func(c *Client) { c.Journal = journal }
}

// WithClock replaces the clock and sleeper of limiters, executor and cache.
func WithClock(clock func() time.Time, sleep engine.SleepFunc) Option {
	return func(c *Client) {
		c.Limiters.Clock = clock
		c.Limiters.Sleep = sleep
		c.Schema.Clock = clock
		c.API.Clock = clock
		c.clock = clock
		c.sleep = sleep
	}
}

// Client is safe for concurrent use; bulk operations on one base still share
// that base's limiter.
type Client struct {
	API      *api.Client
	Limiters *engine.Limiters
	Schema   *schema.Cache
	Journal  Journal
	Logger   *logging.Logger

	cfg        Config
	clock      func() time.Time
	sleep      engine.SleepFunc
	options    *fieldops.Service
	transforms *transform.Transformer
}

// New builds a client from cfg.
func New(cfg Config, opts ...Option) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = engine.DefaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = engine.DefaultBurst
	}
	cfg.ChunkSize = engine.ChunkSize(cfg.ChunkSize)
	if cfg.SchemaTTL <= 0 {
		cfg.SchemaTTL = schema.DefaultTTL
	}

	limiters := engine.NewLimiters(cfg.RequestsPerSecond, cfg.Burst)
	transport := api.New(cfg.BaseURL, cfg.Token, limiters)
	if cfg.Timeout > 0 {
		transport.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.UserAgent != "" {
		transport.UserAgent = cfg.UserAgent
	}

	c := &Client{
		API:      transport,
		Limiters: limiters,
		Schema:   schema.NewCache(transport.GetBaseSchema, cfg.SchemaTTL),
		cfg:      cfg,
	}
	c.Schema.OnLookup = func(_ string, hit bool) { metrics.RecordSchemaLookup(hit) }

	for _, opt := range opts {
		opt(c)
	}
	c.API.Logger = c.Logger

	c.options = &fieldops.Service{Schema: c.Schema, Updater: c.API, Logger: c.Logger}
	c.transforms = &transform.Transformer{
		Schema:  c.Schema,
		Records: recordsAdapter{client: c},
		Options: c.options,
		Logger:  c.Logger,
	}
	c.transforms.OnResult = func(strategy transform.Strategy, err error) {
		metrics.RecordTransform(string(strategy), err == nil)
	}
	return c
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Options exposes select-option edits.
func (c *Client) Options() *fieldops.Service {
	return c.options
}

// Transforms exposes bulk value transforms.
func (c *Client) Transforms() *transform.Transformer {
	return c.transforms
}

// ListBases lists the bases visible to the token.
func (c *Client) ListBases(ctx context.Context) ([]core.Base, error) {
	return c.API.ListBases(ctx)
}

// ListRecords lists the records of a table, following pagination.
func (c *Client) ListRecords(ctx context.Context, target core.Target, q core.ListQuery) ([]core.Record, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return c.API.ListRecords(ctx, target, q)
}

// FindRecords lists the records matching where. The formula is rendered and
// validated before any request is made.
func (c *Client) FindRecords(ctx context.Context, target core.Target, where formula.Formula, q core.ListQuery) ([]core.Record, error) {
	expr, err := where.Build()
	if err != nil {
		return nil, err
	}
	q.Formula = expr
	return c.ListRecords(ctx, target, q)
}

// GetRecord fetches one record.
func (c *Client) GetRecord(ctx context.Context, target core.Target, recordID string) (*core.Record, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return c.API.GetRecord(ctx, target, recordID)
}

// BatchCreate creates one record per entry of fields.
func (c *Client) BatchCreate(ctx context.Context, target core.Target, fields []core.Fields, opts BatchOptions) (*core.BatchResult, error) {
	items := make([]core.BatchItem, 0, len(fields))
	for _, f := range fields {
		items = append(items, core.BatchItem{Fields: f})
	}
	return c.Run(ctx, core.OperationCreate, target, items, opts)
}

// BatchUpdate patches the given records.
func (c *Client) BatchUpdate(ctx context.Context, target core.Target, items []core.BatchItem, opts BatchOptions) (*core.BatchResult, error) {
	return c.Run(ctx, core.OperationUpdate, target, items, opts)
}

// BatchDelete deletes the given record ids.
func (c *Client) BatchDelete(ctx context.Context, target core.Target, ids []string, opts BatchOptions) (*core.BatchResult, error) {
	items := make([]core.BatchItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, core.BatchItem{ID: id})
	}
	return c.Run(ctx, core.OperationDelete, target, items, opts)
}

// Run executes a create, update or delete over items. The returned result is
// never nil once validation passes, even alongside a systemic error.
func (c *Client) Run(ctx context.Context, op core.Operation, target core.Target, items []core.BatchItem, opts BatchOptions) (*core.BatchResult, error) {
	if op == core.OperationUpsert {
		return nil, errors.New("use BatchUpsert for upserts")
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}

	result, err := c.executor(target.BaseID).Run(ctx, engine.Job{
		Operation: op,
		Target:    target,
		Items:     items,
		ChunkSize: c.chunkSize(opts),
		Typecast:  opts.Typecast || c.cfg.Typecast,
		Progress:  opts.Progress,
	})
	return c.finish(ctx, result, err)
}

// BatchUpsert updates candidates that match an existing record on every mergeOn
// field and creates the rest. Failure indexes refer to candidates.
func (c *Client) BatchUpsert(ctx context.Context, target core.Target, candidates []core.Fields, mergeOn []string, opts BatchOptions) (*core.BatchResult, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if len(mergeOn) == 0 {
		return nil, &core.ValidationError{Field: "merge_on", Detail: "at least one merge field is required"}
	}

	existing, err := c.API.ListRecords(ctx, target, core.ListQuery{Fields: mergeOn})
	if err != nil {
		return nil, fmt.Errorf("list existing records: %w", err)
	}

	plan, err := engine.PartitionUpsert(candidates, existing, mergeOn)
	if err != nil {
		return nil, err
	}

	c.debug("upsert partitioned",
		zap.String("base", target.BaseID),
		zap.String("table", target.Table),
		zap.Int("updates", len(plan.Updates)),
		zap.Int("creates", len(plan.Creates)))

	result, err := c.executor(target.BaseID).Upsert(ctx, target, plan, c.chunkSize(opts), opts.Typecast || c.cfg.Typecast, opts.Progress)
	return c.finish(ctx, result, err)
}

// GetSchema returns the schema of baseID, bypassing the cache when useCache is false.
func (c *Client) GetSchema(ctx context.Context, baseID string, useCache bool) (*core.SchemaEntry, error) {
	if useCache {
		return c.Schema.Get(ctx, baseID)
	}
	return c.Schema.Get(ctx, baseID, schema.ForceRefresh())
}

// InvalidateCache drops the cached schema of baseID, or every cached schema when baseID is empty.
func (c *Client) InvalidateCache(baseID string) {
	if strings.TrimSpace(baseID) == "" {
		c.Schema.InvalidateAll()
		return
	}
	c.Schema.Invalidate(baseID)
}

// RateLimits reports the state of every per-base bucket handed out so far.
func (c *Client) RateLimits() []core.BucketState {
	return c.Limiters.States()
}

func (c *Client) executor(baseID string) *engine.Executor {
	return &engine.Executor{
		Sender:  c.API,
		Limiter: c.Limiters.For(baseID),
		Sleep:   c.sleep,
		Clock:   c.clock,
		Logger:  c.Logger,
	}
}

func (c *Client) chunkSize(opts BatchOptions) int {
	if opts.ChunkSize > 0 {
		return engine.ChunkSize(opts.ChunkSize)
	}
	return c.cfg.ChunkSize
}

// finish records metrics and the journal entry for a completed bulk call.
func (c *Client) finish(ctx context.Context, result *core.BatchResult, runErr error) (*core.BatchResult, error) {
	if result == nil {
		return nil, runErr
	}

	metrics.RecordBatch(result)

	if c.Logger != nil {
		fields := observability.BatchFields(result)
		if runErr != nil {
			c.Logger.Warn("batch finished with error", append(fields, zap.Error(runErr))...)
		} else {
			c.Logger.Info("batch finished", fields...)
		}
	}

	if c.Journal != nil {
		// Canceled runs are journaled too.
		journalCtx := context.WithoutCancel(ctx)
		if _, err := c.Journal.RecordRun(journalCtx, result, runErr); err != nil && c.Logger != nil {
			c.Logger.Warn("failed to journal batch run", zap.Error(err))
		}
	}

	return result, runErr
}

func (c *Client) debug(msg string, fields ...zap.Field) {
	if c.Logger != nil {
		c.Logger.Debug(msg, fields...)
	}
}

// recordsAdapter lets transforms list and update through the facade, so their
// batches are rate limited, measured and journaled like any other.
type recordsAdapter struct {
	client *Client
}

func (a recordsAdapter) ListRecords(ctx context.Context, target core.Target, q core.ListQuery) ([]core.Record, error) {
	return a.client.ListRecords(ctx, target, q)
}

func (a recordsAdapter) UpdateRecords(ctx context.Context, target core.Target, items []core.BatchItem, opts transform.UpdateOptions) (*core.BatchResult, error) {
	return a.client.BatchUpdate(ctx, target, items, BatchOptions{Typecast: opts.Typecast, Progress: opts.Progress})
}
