package output

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/store"
	"github.com/xwander/tablewright/internal/core/transform"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

// FormatBatch renders a batch summary followed by its per-item failures.
func (f *TableFormatter) FormatBatch(result *core.BatchResult) (string, error) {
	if result == nil {
		return "", nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"Operation", "Target", "Status", "Succeeded", "Failed", "Chunks", "Retries", "Duration"})
	t.AppendRow(table.Row{
		string(result.Operation),
		targetLabel(result.Target),
		string(result.Status()),
		successSummary(result.Successful, result.Total),
		len(result.Failed),
		result.ChunksIssued,
		result.Retries,
		formatDuration(result.Duration),
	})

	var sb strings.Builder
	sb.WriteString(t.Render())

	if len(result.Failed) > 0 {
		failures := newTable()
		failures.AppendHeader(table.Row{"Index", "Record", "Kind", "Detail"})
		for _, failure := range result.Failed {
			failures.AppendRow(table.Row{failure.Index, failure.RecordID, string(failure.Kind), failure.Detail})
		}
		sb.WriteString("\n")
		sb.WriteString(failures.Render())
	}

	if result.Aborted {
		sb.WriteString(fmt.Sprintf("\nAborted: %s (%d of %d items not attempted)",
			result.AbortReason, result.Total-result.Processed(), result.Total))
	}
	return sb.String(), nil
}

// FormatRecords renders one row per record with the record id first.
func (f *TableFormatter) FormatRecords(records []core.Record, fields []string) (string, error) {
	columns := recordColumns(records, fields)

	t := newTable()
	header := table.Row{"ID"}
	for _, column := range columns {
		header = append(header, column)
	}
	t.AppendHeader(header)

	for _, record := range records {
		row := table.Row{record.ID}
		for _, column := range columns {
			row = append(row, cellText(record.Fields[column]))
		}
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d records", len(records))})
	return t.Render(), nil
}

// FormatSchema lists the tables of a base, or the fields of one table when table is set.
func (f *TableFormatter) FormatSchema(entry *core.SchemaEntry, tableName string) (string, error) {
	if entry == nil {
		return "", nil
	}

	t := newTable()
	if tableName == "" {
		t.AppendHeader(table.Row{"Table", "ID", "Fields"})
		for _, tbl := range entry.Tables {
			t.AppendRow(table.Row{tbl.Name, tbl.ID, len(tbl.Fields)})
		}
		return t.Render(), nil
	}

	tbl, ok := entry.Table(tableName)
	if !ok {
		return "", &core.NotFoundError{ResourceType: "table", ResourceID: tableName}
	}
	t.SetTitle(tbl.Name)
	t.AppendHeader(table.Row{"Field", "Type", "ID", "Options"})
	for _, field := range tbl.Fields {
		name := field.Name
		if field.ID == tbl.PrimaryFieldID {
			name += " *"
		}
		t.AppendRow(table.Row{name, field.Type, field.ID, fieldOptions(field)})
	}
	return t.Render(), nil
}

// FormatRuns lists journaled runs.
func (f *TableFormatter) FormatRuns(runs []store.Run) (string, error) {
	t := newTable()
	t.AppendHeader(table.Row{"Run", "Started", "Operation", "Target", "Status", "Succeeded", "Failed", "Chunks", "Duration"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			shortID(run.ID),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			string(run.Operation),
			targetLabel(run.Target),
			run.Status,
			successSummary(run.Successful, run.Total),
			run.FailedCount,
			run.Chunks,
			formatDuration(run.Duration),
		})
	}
	return t.Render(), nil
}

// FormatTransform summarizes a transform and the batch it issued, if any.
func (f *TableFormatter) FormatTransform(result *transform.Result) (string, error) {
	if result == nil {
		return "", nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"Strategy", "Records Affected", "Field Updated"})
	fieldUpdated := ""
	if result.FieldUpdated && result.Field != nil {
		fieldUpdated = result.Field.Name
	}
	t.AppendRow(table.Row{string(result.Strategy), result.RecordsAffected, fieldUpdated})

	rendered := t.Render()
	if result.Batch != nil {
		batch, err := f.FormatBatch(result.Batch)
		if err != nil {
			return "", err
		}
		rendered += "\n" + batch
	}
	return rendered, nil
}
