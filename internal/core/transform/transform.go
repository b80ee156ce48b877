// Package transform implements bulk value edits that pick the cheapest way to
// apply themselves from the field type.
package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/engine"
	"github.com/xwander/tablewright/internal/core/fieldops"
	"github.com/xwander/tablewright/internal/core/formula"
	"github.com/xwander/tablewright/internal/core/schema"
)

// UpdateOptions tunes the batch update issued by a transform.
type UpdateOptions struct {
	Typecast bool
	Progress engine.ProgressFunc
}

// Records lists and batch-updates records of a table.
type Records interface {
	ListRecords(ctx context.Context, target core.Target, q core.ListQuery) ([]core.Record, error)
	UpdateRecords(ctx context.Context, target core.Target, items []core.BatchItem, opts UpdateOptions) (*core.BatchResult, error)
}

// OptionRenamer relabels one choice of a select field.
type OptionRenamer interface {
	Rename(ctx context.Context, baseID, table, field, oldName, newName string) (*core.FieldSchema, error)
}

// Result reports what a transform did.
type Result struct {
	Strategy        Strategy          `json:"strategy"`
	RecordsAffected int               `json:"records_affected"`
	FieldUpdated    bool              `json:"field_updated"`
	Field           *core.FieldSchema `json:"field,omitempty"`
	Batch           *core.BatchResult `json:"batch,omitempty"`
}

// Transformer runs transforms against one service.
type Transformer struct {
	Schema  *schema.Cache
	Records Records
	Options OptionRenamer
	Logger  *logging.Logger
	// OnResult, when set, sees the strategy and outcome of every transform
	// that reached the service.
	OnResult func(strategy Strategy, err error)
}

// RenameValues replaces oldValue with newValue in field. Select fields are
// renamed at the schema level; every other type is rewritten record by record.
func (t *Transformer) RenameValues(ctx context.Context, target core.Target, field, oldValue, newValue string, opts UpdateOptions) (*Result, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if oldValue == newValue {
		return nil, &core.ValidationError{Field: field, Detail: "old and new values are identical"}
	}

	fieldSchema, err := t.Schema.Field(ctx, target.BaseID, target.Table, field)
	if err != nil {
		return nil, err
	}

	strategy := ChooseRenameStrategy(fieldSchema.Type)
	t.debug("rename strategy selected",
		zap.String("field", fieldSchema.Name),
		zap.String("type", fieldSchema.Type),
		zap.String("strategy", string(strategy)))

	if strategy == StrategyOptionRename {
		result, err := t.renameOption(ctx, target, fieldSchema, oldValue, newValue)
		t.observe(StrategyOptionRename, err)
		return result, err
	}

	return t.rewrite(ctx, target, fieldSchema.Name, formula.Equals(fieldSchema.Name, oldValue), StrategyRecordRewrite, opts,
		func(core.Record) (any, bool) { return newValue, true })
}

func (t *Transformer) renameOption(ctx context.Context, target core.Target, field core.FieldSchema, oldValue, newValue string) (*Result, error) {
	if t.Options == nil {
		return nil, errors.New("option renames are not configured")
	}
	updated, err := t.Options.Rename(ctx, target.BaseID, target.Table, field.Name, oldValue, newValue)
	if err != nil {
		return nil, err
	}

	result := &Result{Strategy: StrategyOptionRename, FieldUpdated: true, Field: updated}

	match := formula.Equals(field.Name, newValue)
	if field.Type == fieldops.TypeMultipleSelects {
		match = formula.HasOption(field.Name, newValue)
	}
	expr, err := match.Build()
	if err != nil {
		return result, nil
	}
	records, err := t.Records.ListRecords(ctx, target, core.ListQuery{Formula: expr, Fields: []string{field.Name}})
	if err != nil {
		// The rename already happened; the count is informational.
		t.warn("count renamed records failed", zap.Error(err))
		return result, nil
	}
	result.RecordsAffected = len(records)
	return result, nil
}

// SetValuesWhere sets field to value on every record matching where.
func (t *Transformer) SetValuesWhere(ctx context.Context, target core.Target, field string, value any, where formula.Formula, opts UpdateOptions) (*Result, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if where.IsZero() {
		return nil, &core.FormulaError{Message: "a filter formula is required"}
	}
	if strings.TrimSpace(field) == "" {
		return nil, &core.ValidationError{Field: "field", Detail: "field is required"}
	}
	return t.rewrite(ctx, target, field, where, StrategyRecordRewrite, opts,
		func(core.Record) (any, bool) { return value, true })
}

// ClearFieldWhere empties field on every record matching where.
func (t *Transformer) ClearFieldWhere(ctx context.Context, target core.Target, field string, where formula.Formula, opts UpdateOptions) (*Result, error) {
	return t.SetValuesWhere(ctx, target, field, nil, where, opts)
}

// CopyField copies from into to on every record matching where (all records
// when where is empty), passing each value through fn when given. Records with
// no source value are skipped.
func (t *Transformer) CopyField(ctx context.Context, target core.Target, from, to string, where formula.Formula, fn func(any) any, opts UpdateOptions) (*Result, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return nil, &core.ValidationError{Field: "field", Detail: "source and destination fields are required"}
	}
	if from == to {
		return nil, &core.ValidationError{Field: to, Detail: "source and destination are the same field"}
	}

	return t.rewrite(ctx, target, to, where, StrategyRecordRewrite, opts, func(record core.Record) (any, bool) {
		value, ok := record.Fields[from]
		if !ok || value == nil {
			return nil, false
		}
		if fn != nil {
			value = fn(value)
		}
		return value, true
	}, from)
}

// rewrite lists the records matching where and batch-updates field with the value
// produced by next. An empty where selects every record.
func (t *Transformer) rewrite(ctx context.Context, target core.Target, field string, where formula.Formula, strategy Strategy, opts UpdateOptions, next func(core.Record) (any, bool), extraFields ...string) (*Result, error) {
	query := core.ListQuery{Fields: append([]string{field}, extraFields...)}
	if !where.IsZero() {
		expr, err := where.Build()
		if err != nil {
			return nil, err
		}
		query.Formula = expr
	}

	records, err := t.Records.ListRecords(ctx, target, query)
	if err != nil {
		t.observe(strategy, err)
		return nil, fmt.Errorf("list records to update: %w", err)
	}

	items := make([]core.BatchItem, 0, len(records))
	for _, record := range records {
		value, ok := next(record)
		if !ok {
			continue
		}
		items = append(items, core.BatchItem{ID: record.ID, Fields: core.Fields{field: value}})
	}

	result := &Result{Strategy: strategy}
	if len(items) == 0 {
		t.observe(strategy, nil)
		return result, nil
	}

	t.debug("rewriting records",
		zap.String("base", target.BaseID),
		zap.String("table", target.Table),
		zap.String("field", field),
		zap.Int("records", len(items)))

	batch, err := t.Records.UpdateRecords(ctx, target, items, opts)
	result.Batch = batch
	if batch != nil {
		result.RecordsAffected = batch.Successful
	}
	t.observe(strategy, err)
	return result, err
}

func (t *Transformer) ready() error {
	if t == nil || t.Schema == nil || t.Records == nil {
		return errors.New("transformer is not configured")
	}
	return nil
}

func (t *Transformer) observe(strategy Strategy, err error) {
	if t.OnResult != nil {
		t.OnResult(strategy, err)
	}
}

func (t *Transformer) debug(msg string, fields ...zap.Field) {
	if t.Logger != nil {
		t.Logger.Debug(msg, fields...)
	}
}

func (t *Transformer) warn(msg string, fields ...zap.Field) {
	if t.Logger != nil {
		t.Logger.Warn(msg, fields...)
	}
}
