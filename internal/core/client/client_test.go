package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/formula"
	"github.com/xwander/tablewright/internal/core/transform"
)

// fakeService is an in-memory stand-in for the records API.
type fakeService struct {
	mu          sync.Mutex
	records     []core.Record
	nextID      int
	schemaCalls int
	writeCalls  int
	failStatus  int
	fieldPatch  map[string]any
	lastFormula string
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/v0/meta/bases/appA/tables":
		s.schemaCalls++
		_, _ = w.Write([]byte(`{"tables":[{"id":"tblTasks","name":"Tasks","fields":[
			{"id":"fldName","name":"Name","type":"singleLineText"},
			{"id":"fldStatus","name":"Status","type":"singleSelect","options":{"choices":[{"id":"sel1","name":"Todo","color":"blueLight2"},{"id":"sel2","name":"Done","color":"greenLight2"}]}}
		]}]}`))
	case strings.HasPrefix(r.URL.Path, "/v0/meta/bases/appA/tables/tblTasks/fields/"):
		s.fieldPatch = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&s.fieldPatch)
		_, _ = w.Write([]byte(`{"id":"fldStatus","name":"Status","type":"singleSelect","options":{"choices":[{"id":"sel1","name":"Backlog"},{"id":"sel2","name":"Done"}]}}`))
	case r.URL.Path == "/v0/appA/Tasks":
		s.serveRecords(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"NOT_FOUND"}`))
	}
}

func (s *fakeService) serveRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.lastFormula = r.URL.Query().Get("filterByFormula")
		entries := make([]map[string]any, 0, len(s.records))
		for _, record := range s.records {
			if s.lastFormula != "" && !matches(record, s.lastFormula) {
				continue
			}
			entries = append(entries, map[string]any{"id": record.ID, "fields": record.Fields})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"records": entries})
		return
	}

	s.writeCalls++
	if s.failStatus != 0 {
		w.WriteHeader(s.failStatus)
		_, _ = w.Write([]byte(`{"error":{"type":"AUTHENTICATION_REQUIRED","message":"bad token"}}`))
		return
	}

	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Records []core.BatchItem `json:"records"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		out := make([]map[string]any, 0, len(payload.Records))
		for _, item := range payload.Records {
			s.nextID++
			id := fmt.Sprintf("rec%03d", s.nextID)
			s.records = append(s.records, core.Record{ID: id, Fields: item.Fields})
			out = append(out, map[string]any{"id": id, "fields": item.Fields})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"records": out})
	case http.MethodPatch:
		var payload struct {
			Records []core.BatchItem `json:"records"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		out := make([]map[string]any, 0, len(payload.Records))
		for _, item := range payload.Records {
			for i := range s.records {
				if s.records[i].ID == item.ID {
					for k, v := range item.Fields {
						s.records[i].Fields[k] = v
					}
				}
			}
			out = append(out, map[string]any{"id": item.ID, "fields": item.Fields})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"records": out})
	case http.MethodDelete:
		ids := r.URL.Query()["records[]"]
		out := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			out = append(out, map[string]any{"id": id, "deleted": true})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"records": out})
	}
}

// matches understands the single equality formulas used in these tests.
func matches(record core.Record, expr string) bool {
	var field, value string
	if _, err := fmt.Sscanf(expr, "{%s = %q", &field, &value); err != nil {
		return true
	}
	field = strings.TrimSuffix(field, "}")
	return fmt.Sprint(record.Fields[field]) == value
}

type recordingJournal struct {
	results []*core.BatchResult
	errs    []error
}

func (j *recordingJournal) RecordRun(ctx context.Context, result *core.BatchResult, runErr error) (string, error) {
	j.results = append(j.results, result)
	j.errs = append(j.errs, runErr)
	return fmt.Sprintf("run-%d", len(j.results)), nil
}

func newTestClient(t *testing.T, service *fakeService, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(service)
	t.Cleanup(server.Close)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	sleep := func(ctx context.Context, d time.Duration) error {
		now = now.Add(d)
		return ctx.Err()
	}

	base := []Option{WithHTTPClient(server.Client()), WithClock(clock, sleep)}
	return New(Config{BaseURL: server.URL, Token: "pat-test"}, append(base, opts...)...)
}

var tasks = core.Target{BaseID: "appA", Table: "Tasks"}

func TestNewAppliesDefaults(t *testing.T) {
	c := New(Config{Token: "x"})
	cfg := c.Config()
	require.Equal(t, 5.0, cfg.RequestsPerSecond)
	require.Equal(t, 5, cfg.Burst)
	require.Equal(t, core.MaxChunkSize, cfg.ChunkSize)
	require.Equal(t, 300*time.Second, cfg.SchemaTTL)
	require.NotNil(t, c.Options())
	require.NotNil(t, c.Transforms())

	c = New(Config{ChunkSize: 50})
	require.Equal(t, core.MaxChunkSize, c.Config().ChunkSize)
}

func TestBatchCreateChunksAndJournals(t *testing.T) {
	service := &fakeService{}
	journal := &recordingJournal{}
	c := newTestClient(t, service, WithJournal(journal))

	fields := make([]core.Fields, 23)
	for i := range fields {
		fields[i] = core.Fields{"Name": fmt.Sprintf("task %d", i)}
	}

	var progress []int
	result, err := c.BatchCreate(context.Background(), tasks, fields, BatchOptions{
		Progress: func(done, total int) { progress = append(progress, done) },
	})
	require.NoError(t, err)
	require.Equal(t, 23, result.Successful)
	require.Equal(t, 3, result.ChunksIssued)
	require.Equal(t, 3, service.writeCalls)
	require.Equal(t, []int{10, 20, 23}, progress)
	require.Len(t, result.Records, 23)

	require.Len(t, journal.results, 1)
	require.Same(t, result, journal.results[0])
	require.NoError(t, journal.errs[0])

	states := c.RateLimits()
	require.Len(t, states, 1)
	require.Equal(t, "appA", states[0].BaseID)
}

func TestBatchUpdateAndDelete(t *testing.T) {
	service := &fakeService{records: []core.Record{
		{ID: "rec1", Fields: core.Fields{"Name": "a"}},
		{ID: "rec2", Fields: core.Fields{"Name": "b"}},
	}}
	c := newTestClient(t, service)

	result, err := c.BatchUpdate(context.Background(), tasks, []core.BatchItem{
		{ID: "rec1", Fields: core.Fields{"Name": "A"}},
	}, BatchOptions{})
	require.NoError(t, err)
	require.Equal(t, core.BatchSucceeded, result.Status())
	require.Equal(t, "A", service.records[0].Fields["Name"])

	result, err = c.BatchDelete(context.Background(), tasks, []string{"rec1", "rec2"}, BatchOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"rec1", "rec2"}, result.RecordIDs())
}

func TestBatchAbortIsJournaledWithError(t *testing.T) {
	service := &fakeService{failStatus: http.StatusUnauthorized}
	journal := &recordingJournal{}
	c := newTestClient(t, service, WithJournal(journal))

	result, err := c.BatchDelete(context.Background(), tasks, []string{"rec1", "rec2"}, BatchOptions{})
	require.Error(t, err)
	require.Equal(t, core.KindAuthentication, core.Kind(err))
	require.NotNil(t, result)
	require.True(t, result.Aborted)
	require.Equal(t, 1, service.writeCalls)
	require.Len(t, journal.results, 1)
	require.Error(t, journal.errs[0])
}

func TestRunRejectsUpsertAndInvalidTarget(t *testing.T) {
	c := newTestClient(t, &fakeService{})

	_, err := c.Run(context.Background(), core.OperationUpsert, tasks, nil, BatchOptions{})
	require.Error(t, err)

	_, err = c.BatchCreate(context.Background(), core.Target{BaseID: "appA"}, []core.Fields{{"a": 1}}, BatchOptions{})
	require.Equal(t, core.KindValidation, core.Kind(err))
}

func TestBatchUpsertPartitions(t *testing.T) {
	service := &fakeService{records: []core.Record{
		{ID: "rec1", Fields: core.Fields{"Email": "a@example.com", "Name": "A"}},
	}}
	c := newTestClient(t, service)

	result, err := c.BatchUpsert(context.Background(), tasks, []core.Fields{
		{"Email": "a@example.com", "Name": "Alice"},
		{"Email": "b@example.com", "Name": "Bob"},
	}, []string{"Email"}, BatchOptions{})
	require.NoError(t, err)
	require.Equal(t, core.OperationUpsert, result.Operation)
	require.Equal(t, 2, result.Successful)
	require.Equal(t, 2, result.ChunksIssued)
	require.Len(t, service.records, 2)
	require.Equal(t, "Alice", service.records[0].Fields["Name"])

	_, err = c.BatchUpsert(context.Background(), tasks, []core.Fields{{"Name": "x"}}, nil, BatchOptions{})
	require.Equal(t, core.KindValidation, core.Kind(err))
}

func TestFindRecordsValidatesFormulaFirst(t *testing.T) {
	service := &fakeService{records: []core.Record{
		{ID: "rec1", Fields: core.Fields{"Name": "a"}},
		{ID: "rec2", Fields: core.Fields{"Name": "b"}},
	}}
	c := newTestClient(t, service)

	records, err := c.FindRecords(context.Background(), tasks, formula.Equals("Name", "b"), core.ListQuery{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, `{Name} = "b"`, service.lastFormula)

	_, err = c.FindRecords(context.Background(), tasks, formula.Equals("", "b"), core.ListQuery{})
	require.Equal(t, core.KindFormula, core.Kind(err))
}

func TestGetSchemaCachesAndInvalidates(t *testing.T) {
	service := &fakeService{}
	c := newTestClient(t, service)
	ctx := context.Background()

	entry, err := c.GetSchema(ctx, "appA", true)
	require.NoError(t, err)
	require.Len(t, entry.Tables, 1)

	_, err = c.GetSchema(ctx, "appA", true)
	require.NoError(t, err)
	require.Equal(t, 1, service.schemaCalls)

	_, err = c.GetSchema(ctx, "appA", false)
	require.NoError(t, err)
	require.Equal(t, 2, service.schemaCalls)

	c.InvalidateCache("appA")
	_, err = c.GetSchema(ctx, "appA", true)
	require.NoError(t, err)
	require.Equal(t, 3, service.schemaCalls)

	c.InvalidateCache("")
	_, err = c.GetSchema(ctx, "appA", true)
	require.NoError(t, err)
	require.Equal(t, 4, service.schemaCalls)
}

func TestTransformsRunThroughFacade(t *testing.T) {
	service := &fakeService{records: []core.Record{
		{ID: "rec1", Fields: core.Fields{"Name": "old"}},
		{ID: "rec2", Fields: core.Fields{"Name": "keep"}},
		{ID: "rec3", Fields: core.Fields{"Name": "old"}},
	}}
	journal := &recordingJournal{}
	c := newTestClient(t, service, WithJournal(journal))

	result, err := c.Transforms().RenameValues(context.Background(), tasks, "Name", "old", "new", transform.UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, transform.StrategyRecordRewrite, result.Strategy)
	require.Equal(t, 2, result.RecordsAffected)
	require.Equal(t, "new", service.records[0].Fields["Name"])
	require.Equal(t, "keep", service.records[1].Fields["Name"])
	require.Len(t, journal.results, 1)

	result, err = c.Transforms().RenameValues(context.Background(), tasks, "Status", "Todo", "Backlog", transform.UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, transform.StrategyOptionRename, result.Strategy)
	require.True(t, result.FieldUpdated)
	require.NotNil(t, service.fieldPatch["options"])
}
