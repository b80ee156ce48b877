package formula

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestBuilderAndMode(t *testing.T) {
	out, err := NewBuilder().
		Where("Status", "Active").
		AndWhere("Track", "Day Tours").
		NotEmpty("Start Date").
		Build()
	require.NoError(t, err)
	require.Equal(t, `AND(AND({Status} = "Active", {Track} = "Day Tours"), {Start Date} != "")`, out)
}

func TestBuilderOrMode(t *testing.T) {
	out, err := NewBuilder().
		Where("Status", "Active").
		OrWhereIn("Type", []any{"Public", "Shared"}).
		Build()
	require.NoError(t, err)
	require.Equal(t, `OR({Status} = "Active", OR({Type} = "Public", {Type} = "Shared"))`, out)
}

func TestBuilderSingleCondition(t *testing.T) {
	var b Builder
	out, err := b.AfterToday("Start Date").Build()
	require.NoError(t, err)
	require.Equal(t, `IS_AFTER({Start Date}, TODAY())`, out)
	require.Equal(t, 1, b.Len())
}

func TestBuilderErrors(t *testing.T) {
	_, err := NewBuilder().Build()
	require.Error(t, err)

	_, err = NewBuilder().Where("Status", "Active").Contains("", "x").Build()
	require.Error(t, err)
}

func TestPredicateCompile(t *testing.T) {
	payload := `{
		"op": "and",
		"operands": [
			{"op": "eq", "field": "Track", "value": "Day Tours"},
			{"op": "not_empty", "field": "Start Date"},
			{"op": "in", "field": "Seats", "values": [2, 4]}
		]
	}`

	var p Predicate
	require.NoError(t, json.Unmarshal([]byte(payload), &p))

	out, err := p.Compile().Build()
	require.NoError(t, err)
	require.Equal(t, `AND(AND({Track} = "Day Tours", {Start Date} != ""), OR({Seats} = 2, {Seats} = 4))`, out)
}

func TestPredicateCompileYAML(t *testing.T) {
	doc := `
op: or
operands:
  - op: contains
    field: Notes
    value: urgent
  - op: not
    operands:
      - op: after_today
        field: Start Date
`
	var p Predicate
	require.NoError(t, yaml.Unmarshal([]byte(doc), &p))

	out, err := p.Compile().Build()
	require.NoError(t, err)
	require.Equal(t, `OR(FIND("urgent", {Notes}) > 0, NOT(IS_AFTER({Start Date}, TODAY())))`, out)
}

func TestPredicateCompileErrors(t *testing.T) {
	for _, p := range []Predicate{
		{Op: "between", Field: "A"},
		{Op: "eq", Field: "A"},
		{Op: "contains", Field: "Notes"},
		{Op: "not"},
		{Op: "and"},
	} {
		_, err := p.Compile().Build()
		require.Error(t, err, p.Op)
	}
}
