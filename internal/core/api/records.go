package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xwander/tablewright/internal/core"
)

// MaxPageSize is the largest page the list endpoint returns.
const MaxPageSize = 100

type recordEntry struct {
	ID          string          `json:"id"`
	CreatedTime string          `json:"createdTime,omitempty"`
	Fields      core.Fields     `json:"fields,omitempty"`
	Deleted     bool            `json:"deleted,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
}

func (e recordEntry) record() core.Record {
	record := core.Record{ID: e.ID, Fields: e.Fields}
	if e.CreatedTime != "" {
		if parsed, err := time.Parse(time.RFC3339, e.CreatedTime); err == nil {
			record.CreatedTime = parsed.UTC()
		}
	}
	if record.Fields == nil {
		record.Fields = core.Fields{}
	}
	return record
}

type recordPage struct {
	Records []recordEntry `json:"records"`
	Offset  string        `json:"offset,omitempty"`
}

// ListRecords pages through a table until the service stops returning an
// offset or MaxRecords is reached.
func (c *Client) ListRecords(ctx context.Context, target core.Target, q core.ListQuery) ([]core.Record, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	params := listParams(q)
	records := make([]core.Record, 0)

	for {
		var page recordPage
		err := c.do(ctx, request{
			method:       http.MethodGet,
			path:         tablePath(target.BaseID, target.Table),
			query:        params,
			baseID:       target.BaseID,
			acquire:      true,
			resourceType: "table",
			resourceID:   target.Table,
		}, &page)
		if err != nil {
			return records, err
		}

		for _, entry := range page.Records {
			records = append(records, entry.record())
		}

		if q.MaxRecords > 0 && len(records) >= q.MaxRecords {
			return records[:q.MaxRecords], nil
		}
		if page.Offset == "" {
			return records, nil
		}
		params.Set("offset", page.Offset)
	}
}

func listParams(q core.ListQuery) url.Values {
	params := url.Values{}

	pageSize := q.PageSize
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	params.Set("pageSize", strconv.Itoa(pageSize))

	if q.MaxRecords > 0 {
		params.Set("maxRecords", strconv.Itoa(q.MaxRecords))
	}
	if formula := strings.TrimSpace(q.Formula); formula != "" {
		params.Set("filterByFormula", formula)
	}
	for _, field := range q.Fields {
		if field = strings.TrimSpace(field); field != "" {
			params.Add("fields[]", field)
		}
	}
	for i, sort := range q.Sort {
		direction := strings.ToLower(strings.TrimSpace(sort.Direction))
		if direction != "desc" {
			direction = "asc"
		}
		params.Set(fmt.Sprintf("sort[%d][field]", i), sort.Field)
		params.Set(fmt.Sprintf("sort[%d][direction]", i), direction)
	}
	if view := strings.TrimSpace(q.View); view != "" {
		params.Set("view", view)
	}
	return params
}

// GetRecord fetches a single record.
func (c *Client) GetRecord(ctx context.Context, target core.Target, recordID string) (*core.Record, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(recordID)
	if id == "" {
		return nil, &core.ValidationError{Field: "id", Detail: "record id is required"}
	}

	var entry recordEntry
	err := c.do(ctx, request{
		method:       http.MethodGet,
		path:         tablePath(target.BaseID, target.Table) + "/" + url.PathEscape(id),
		baseID:       target.BaseID,
		acquire:      true,
		resourceType: "record",
		resourceID:   id,
	}, &entry)
	if err != nil {
		return nil, err
	}
	record := entry.record()
	return &record, nil
}

type chunkPayload struct {
	Records  []core.BatchItem `json:"records"`
	Typecast bool             `json:"typecast,omitempty"`
}

// SendChunk issues one create, update or delete call for at most core.MaxChunkSize items.
func (c *Client) SendChunk(ctx context.Context, op core.Operation, target core.Target, chunk []core.BatchItem, typecast bool) ([]core.ItemOutcome, error) {
	if len(chunk) > core.MaxChunkSize {
		return nil, &core.ValidationError{Field: "records", Detail: fmt.Sprintf("at most %d records per call, got %d", core.MaxChunkSize, len(chunk))}
	}

	r := request{
		path:         tablePath(target.BaseID, target.Table),
		baseID:       target.BaseID,
		resourceType: "table",
		resourceID:   target.Table,
	}

	switch op {
	case core.OperationCreate:
		items := make([]core.BatchItem, 0, len(chunk))
		for _, item := range chunk {
			items = append(items, core.BatchItem{Fields: item.Fields})
		}
		r.method = http.MethodPost
		r.body = chunkPayload{Records: items, Typecast: typecast}
	case core.OperationUpdate:
		r.method = http.MethodPatch
		r.body = chunkPayload{Records: chunk, Typecast: typecast}
	case core.OperationDelete:
		r.method = http.MethodDelete
		r.query = url.Values{}
		for _, item := range chunk {
			r.query.Add("records[]", item.ID)
		}
	default:
		return nil, fmt.Errorf("unsupported chunk operation: %q", op)
	}

	var page recordPage
	if err := c.do(ctx, r, &page); err != nil {
		return nil, err
	}

	outcomes := make([]core.ItemOutcome, 0, len(page.Records))
	for _, entry := range page.Records {
		if len(entry.Error) > 0 && string(entry.Error) != "null" {
			outcomes = append(outcomes, core.ItemOutcome{Err: itemError(entry.Error)})
			continue
		}
		if op == core.OperationDelete && !entry.Deleted {
			outcomes = append(outcomes, core.ItemOutcome{Err: &core.ServiceError{
				Type:    "NOT_DELETED",
				Message: fmt.Sprintf("record %s was not deleted", entry.ID),
			}})
			continue
		}
		record := entry.record()
		outcomes = append(outcomes, core.ItemOutcome{Record: &record})
	}
	return outcomes, nil
}
