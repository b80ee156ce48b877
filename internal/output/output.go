package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/store"
	"github.com/xwander/tablewright/internal/core/transform"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formatter renders client results for the terminal.
type Formatter interface {
	FormatBatch(result *core.BatchResult) (string, error)
	FormatRecords(records []core.Record, fields []string) (string, error)
	FormatSchema(entry *core.SchemaEntry, table string) (string, error)
	FormatRuns(runs []store.Run) (string, error)
	FormatTransform(result *transform.Result) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// FormatBatchList renders multiple batch results using the requested format.
func FormatBatchList(format Format, results []*core.BatchResult) (string, error) {
	if format == FormatJSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	formatter := NewFormatter(format)
	rendered := make([]string, 0, len(results))
	for _, result := range results {
		if result == nil {
			continue
		}
		value, err := formatter.FormatBatch(result)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(value) == "" {
			continue
		}
		rendered = append(rendered, value)
	}

	return strings.Join(rendered, "\n\n"), nil
}

// recordColumns returns fields when given, otherwise the sorted union of every record's keys.
func recordColumns(records []core.Record, fields []string) []string {
	if len(fields) > 0 {
		return fields
	}
	seen := make(map[string]struct{})
	for _, record := range records {
		for name := range record.Fields {
			seen[name] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for name := range seen {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return columns
}

// cellText renders a field value for a single table cell.
func cellText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "✓"
		}
		return ""
	case float64:
		return formatNumber(v)
	case []string:
		return strings.Join(v, ", ")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, cellText(item))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		// Collaborators and attachments carry a display name or a filename
		for _, key := range []string{"name", "filename", "email", "id"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

func targetLabel(target core.Target) string {
	if target.BaseID == "" && target.Table == "" {
		return ""
	}
	return target.BaseID + "/" + target.Table
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Millisecond).String()
}

func fieldOptions(field core.FieldSchema) string {
	return strings.Join(field.ChoiceNames(), ", ")
}

func successSummary(successful, total int) string {
	return fmt.Sprintf("%d/%d", successful, total)
}
