package formula

import (
	"fmt"
	"strings"
)

// Predicate is a serializable description of a formula, accepted by the HTTP API
// and by batch input files.
type Predicate struct {
	Op         string      `json:"op" yaml:"op"`
	Field      string      `json:"field,omitempty" yaml:"field,omitempty"`
	Value      any         `json:"value,omitempty" yaml:"value,omitempty"`
	Values     []any       `json:"values,omitempty" yaml:"values,omitempty"`
	Unit       string      `json:"unit,omitempty" yaml:"unit,omitempty"`
	Expression string      `json:"expression,omitempty" yaml:"expression,omitempty"`
	Operands   []Predicate `json:"operands,omitempty" yaml:"operands,omitempty"`
}

// Compile turns p into a Formula. Unknown operators are construction errors.
func (p Predicate) Compile() Formula {
	op := strings.ToLower(strings.TrimSpace(p.Op))
	switch op {
	case "and", "all":
		return fold(And, p.compileOperands())
	case "or", "any":
		return fold(Or, p.compileOperands())
	case "not":
		if len(p.Operands) != 1 {
			return invalid("", "not requires exactly one operand")
		}
		return p.Operands[0].Compile().Not()
	case "contains":
		return Contains(p.Field, p.text())
	case "starts_with":
		return StartsWith(p.Field, p.text())
	case "regex":
		return RegexMatch(p.Field, p.text())
	case "in":
		return InList(p.Field, p.Values)
	case "not_in":
		return NotInList(p.Field, p.Values)
	case "empty":
		return IsEmpty(p.Field)
	case "not_empty":
		return NotEmpty(p.Field)
	case "blank":
		return IsBlank(p.Field)
	case "after":
		return IsAfter(p.Field, p.Value)
	case "before":
		return IsBefore(p.Field, p.Value)
	case "same":
		return IsSame(p.Field, p.Value, p.Unit)
	case "after_today":
		return IsAfterToday(p.Field)
	case "before_today":
		return IsBeforeToday(p.Field)
	case "linked":
		return LinkedRecordID(p.Field, p.text())
	case "raw":
		return Raw(p.Expression)
	}

	cmp, err := ParseOperator(op)
	if err != nil {
		return failed(err)
	}
	return compare(p.Field, cmp, p.Value)
}

func (p Predicate) compileOperands() []Formula {
	out := make([]Formula, 0, len(p.Operands))
	for _, operand := range p.Operands {
		out = append(out, operand.Compile())
	}
	return out
}

func (p Predicate) text() string {
	if p.Value == nil {
		return ""
	}
	return fmt.Sprint(p.Value)
}
