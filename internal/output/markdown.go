package output

import (
	"fmt"
	"strings"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/store"
	"github.com/xwander/tablewright/internal/core/transform"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

// FormatBatch renders a batch result as Markdown.
func (f *MarkdownFormatter) FormatBatch(result *core.BatchResult) (string, error) {
	if result == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s %s\n\n",
		escapeMarkdownCell(string(result.Operation)), escapeMarkdownCell(targetLabel(result.Target))))
	sb.WriteString(fmt.Sprintf("**Status**: %s  \n", result.Status()))
	sb.WriteString(fmt.Sprintf("**Succeeded**: %s  \n", successSummary(result.Successful, result.Total)))
	sb.WriteString(fmt.Sprintf("**Chunks**: %d, **Retries**: %d, **Duration**: %s\n",
		result.ChunksIssued, result.Retries, formatDuration(result.Duration)))

	if len(result.Failed) > 0 {
		sb.WriteString("\n| Index | Record | Kind | Detail |\n")
		sb.WriteString("|-------|--------|------|--------|\n")
		for _, failure := range result.Failed {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s |\n",
				failure.Index,
				escapeMarkdownCell(failure.RecordID),
				escapeMarkdownCell(string(failure.Kind)),
				escapeMarkdownCell(failure.Detail),
			))
		}
	}

	if result.Aborted {
		sb.WriteString(fmt.Sprintf("\n**Aborted**: %s\n", escapeMarkdownCell(result.AbortReason)))
	}
	return sb.String(), nil
}

// FormatRecords renders records as a markdown table.
func (f *MarkdownFormatter) FormatRecords(records []core.Record, fields []string) (string, error) {
	columns := recordColumns(records, fields)

	var sb strings.Builder
	sb.WriteString("| ID |")
	separator := "|----|"
	for _, column := range columns {
		sb.WriteString(" " + escapeMarkdownCell(column) + " |")
		separator += "------|"
	}
	sb.WriteString("\n" + separator + "\n")

	for _, record := range records {
		sb.WriteString("| " + escapeMarkdownCell(record.ID) + " |")
		for _, column := range columns {
			sb.WriteString(" " + escapeMarkdownCell(cellText(record.Fields[column])) + " |")
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// FormatSchema renders tables, or the fields of one table, as markdown.
func (f *MarkdownFormatter) FormatSchema(entry *core.SchemaEntry, tableName string) (string, error) {
	if entry == nil {
		return "", nil
	}

	var sb strings.Builder
	if tableName == "" {
		sb.WriteString(fmt.Sprintf("## %s\n\n", escapeMarkdownCell(entry.BaseID)))
		sb.WriteString("| Table | ID | Fields |\n")
		sb.WriteString("|-------|----|--------|\n")
		for _, tbl := range entry.Tables {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d |\n",
				escapeMarkdownCell(tbl.Name), escapeMarkdownCell(tbl.ID), len(tbl.Fields)))
		}
		return sb.String(), nil
	}

	tbl, ok := entry.Table(tableName)
	if !ok {
		return "", &core.NotFoundError{ResourceType: "table", ResourceID: tableName}
	}
	sb.WriteString(fmt.Sprintf("## %s\n\n", escapeMarkdownCell(tbl.Name)))
	sb.WriteString("| Field | Type | ID | Options |\n")
	sb.WriteString("|-------|------|----|---------|\n")
	for _, field := range tbl.Fields {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			escapeMarkdownCell(field.Name),
			escapeMarkdownCell(field.Type),
			escapeMarkdownCell(field.ID),
			escapeMarkdownCell(fieldOptions(field)),
		))
	}
	return sb.String(), nil
}

// FormatRuns renders journaled runs as markdown.
func (f *MarkdownFormatter) FormatRuns(runs []store.Run) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Run | Started | Operation | Target | Status | Succeeded | Failed |\n")
	sb.WriteString("|-----|---------|-----------|--------|--------|-----------|--------|\n")
	for _, run := range runs {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %d |\n",
			shortID(run.ID),
			run.StartedAt.UTC().Format("2006-01-02 15:04:05Z"),
			run.Operation,
			escapeMarkdownCell(targetLabel(run.Target)),
			run.Status,
			successSummary(run.Successful, run.Total),
			run.FailedCount,
		))
	}
	return sb.String(), nil
}

// FormatTransform renders a transform summary as markdown.
func (f *MarkdownFormatter) FormatTransform(result *transform.Result) (string, error) {
	if result == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**Strategy**: %s  \n", result.Strategy))
	sb.WriteString(fmt.Sprintf("**Records affected**: %d\n", result.RecordsAffected))
	if result.Batch != nil {
		batch, err := f.FormatBatch(result.Batch)
		if err != nil {
			return "", err
		}
		sb.WriteString("\n" + batch)
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
