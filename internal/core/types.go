package core

import (
	"strings"
	"time"
)

// Fields is an open field name to value mapping as sent to and returned by the records API.
type Fields map[string]any

// Record is a single row of a table.
type Record struct {
	ID          string    `json:"id"`
	CreatedTime time.Time `json:"createdTime,omitempty"`
	Fields      Fields    `json:"fields"`
}

// Target identifies the table a bulk operation applies to.
type Target struct {
	BaseID string `json:"base_id"`
	Table  string `json:"table"`
}

// Validate ensures both base and table are set.
func (t Target) Validate() error {
	if strings.TrimSpace(t.BaseID) == "" {
		return &ValidationError{Field: "base_id", Detail: "base id is required"}
	}
	if strings.TrimSpace(t.Table) == "" {
		return &ValidationError{Field: "table", Detail: "table is required"}
	}
	return nil
}

// Choice is one option of a single or multiple select field.
type Choice struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// FieldOptions carries type-specific field metadata.
type FieldOptions struct {
	Choices []Choice `json:"choices,omitempty"`
}

// FieldSchema describes one typed column.
type FieldSchema struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Description string        `json:"description,omitempty"`
	Options     *FieldOptions `json:"options,omitempty"`
}

// ChoiceNames returns the option labels of a select field in declared order.
func (f FieldSchema) ChoiceNames() []string {
	if f.Options == nil {
		return nil
	}
	names := make([]string, 0, len(f.Options.Choices))
	for _, choice := range f.Options.Choices {
		names = append(names, choice.Name)
	}
	return names
}

// TableSchema describes one table and its fields.
type TableSchema struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	PrimaryFieldID string        `json:"primaryFieldId,omitempty"`
	Fields         []FieldSchema `json:"fields"`
}

// Field looks up a field by name or id.
func (t TableSchema) Field(nameOrID string) (FieldSchema, bool) {
	for _, field := range t.Fields {
		if field.Name == nameOrID || field.ID == nameOrID {
			return field, true
		}
	}
	return FieldSchema{}, false
}

// FieldMap returns the fields keyed by name.
func (t TableSchema) FieldMap() map[string]FieldSchema {
	out := make(map[string]FieldSchema, len(t.Fields))
	for _, field := range t.Fields {
		out[field.Name] = field
	}
	return out
}

// SchemaEntry is an immutable snapshot of a base's schema taken at FetchedAt.
type SchemaEntry struct {
	BaseID    string        `json:"base_id"`
	Tables    []TableSchema `json:"tables"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// Table looks up a table by name or id.
func (e *SchemaEntry) Table(nameOrID string) (TableSchema, bool) {
	if e == nil {
		return TableSchema{}, false
	}
	for _, table := range e.Tables {
		if table.Name == nameOrID || table.ID == nameOrID {
			return table, true
		}
	}
	return TableSchema{}, false
}

// Age reports how old the entry is relative to now.
func (e *SchemaEntry) Age(now time.Time) time.Duration {
	if e == nil {
		return 0
	}
	return now.Sub(e.FetchedAt)
}

// Base is a base visible to the configured token.
type Base struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PermissionLevel string `json:"permissionLevel,omitempty"`
}

// SortSpec orders listed records.
type SortSpec struct {
	Field     string `json:"field"`
	Direction string `json:"direction,omitempty"`
}

// ListQuery narrows a record listing.
type ListQuery struct {
	Formula    string
	Fields     []string
	Sort       []SortSpec
	View       string
	MaxRecords int
	PageSize   int
}
