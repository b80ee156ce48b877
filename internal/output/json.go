package output

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/store"
	"github.com/xwander/tablewright/internal/core/transform"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) encode(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// FormatBatch renders a batch result as JSON.
func (f *JSONFormatter) FormatBatch(result *core.BatchResult) (string, error) {
	if result == nil {
		return "", nil
	}
	return f.encode(result)
}

// FormatRecords renders records as a JSON array.
func (f *JSONFormatter) FormatRecords(records []core.Record, _ []string) (string, error) {
	if records == nil {
		records = []core.Record{}
	}
	return f.encode(records)
}

// FormatSchema renders the whole schema entry, or one table when tableName is set.
func (f *JSONFormatter) FormatSchema(entry *core.SchemaEntry, tableName string) (string, error) {
	value, err := schemaValue(entry, tableName)
	if err != nil || value == nil {
		return "", err
	}
	return f.encode(value)
}

// FormatRuns renders journaled runs as a JSON array.
func (f *JSONFormatter) FormatRuns(runs []store.Run) (string, error) {
	if runs == nil {
		runs = []store.Run{}
	}
	return f.encode(runs)
}

// FormatTransform renders a transform result as JSON.
func (f *JSONFormatter) FormatTransform(result *transform.Result) (string, error) {
	if result == nil {
		return "", nil
	}
	return f.encode(result)
}

// YAMLFormatter renders results as YAML using their JSON field names.
type YAMLFormatter struct{}

// encode round-trips through JSON so keys and order follow the json tags.
func (f *YAMLFormatter) encode(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return "", err
	}
	blockStyle(&node)

	out, err := yaml.Marshal(&node)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// blockStyle clears the flow and quoting styles the JSON parse leaves on every
// node; the encoder still quotes strings that would otherwise change type.
func blockStyle(node *yaml.Node) {
	node.Style = 0
	for _, child := range node.Content {
		blockStyle(child)
	}
}

// FormatBatch renders a batch result as YAML.
func (f *YAMLFormatter) FormatBatch(result *core.BatchResult) (string, error) {
	if result == nil {
		return "", nil
	}
	return f.encode(result)
}

// FormatRecords renders records as a YAML sequence.
func (f *YAMLFormatter) FormatRecords(records []core.Record, _ []string) (string, error) {
	if records == nil {
		records = []core.Record{}
	}
	return f.encode(records)
}

// FormatSchema renders the schema entry or one of its tables as YAML.
func (f *YAMLFormatter) FormatSchema(entry *core.SchemaEntry, tableName string) (string, error) {
	value, err := schemaValue(entry, tableName)
	if err != nil || value == nil {
		return "", err
	}
	return f.encode(value)
}

// FormatRuns renders journaled runs as YAML.
func (f *YAMLFormatter) FormatRuns(runs []store.Run) (string, error) {
	if runs == nil {
		runs = []store.Run{}
	}
	return f.encode(runs)
}

// FormatTransform renders a transform result as YAML.
func (f *YAMLFormatter) FormatTransform(result *transform.Result) (string, error) {
	if result == nil {
		return "", nil
	}
	return f.encode(result)
}

func schemaValue(entry *core.SchemaEntry, tableName string) (any, error) {
	if entry == nil {
		return nil, nil
	}
	if tableName == "" {
		return entry, nil
	}
	tbl, ok := entry.Table(tableName)
	if !ok {
		return nil, &core.NotFoundError{ResourceType: "table", ResourceID: tableName}
	}
	return tbl, nil
}
