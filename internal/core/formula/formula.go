// Package formula builds filter predicates as typed trees and renders them into
// the service's formula grammar.
//
// Construction never panics. A malformed predicate carries its error with it,
// combinators propagate the first error they see, and Build reports it before
// the predicate is ever sent anywhere.
package formula

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xwander/tablewright/internal/core"
)

// Operator is a binary comparison operator of the grammar.
type Operator string

const (
	OpEq Operator = "="
	OpNe Operator = "!="
	OpGt Operator = ">"
	OpLt Operator = "<"
	OpGe Operator = ">="
	OpLe Operator = "<="
)

// ParseOperator accepts the grammar's operators and a few common aliases.
func ParseOperator(value string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "=", "==", "eq":
		return OpEq, nil
	case "!=", "<>", "ne":
		return OpNe, nil
	case ">", "gt":
		return OpGt, nil
	case "<", "lt":
		return OpLt, nil
	case ">=", "ge", "gte":
		return OpGe, nil
	case "<=", "le", "lte":
		return OpLe, nil
	default:
		return "", &core.FormulaError{Message: fmt.Sprintf("unknown comparison operator %q", value)}
	}
}

// LogicalOp joins operands of a Logical node.
type LogicalOp string

const (
	And LogicalOp = "AND"
	Or  LogicalOp = "OR"
)

// Node is one term of a formula tree.
type Node interface {
	render(b *strings.Builder)
}

// FieldRef is a braced field reference.
type FieldRef struct {
	Name string
}

// Literal is a rendered constant: string, number, boolean or date.
type Literal struct {
	text string
}

// Comparison is `Left Op Right`.
type Comparison struct {
	Left  Node
	Op    Operator
	Right Node
}

// FunctionCall is `NAME(arg, ...)`.
type FunctionCall struct {
	Name string
	Args []Node
}

// Logical is `AND(a, b, ...)` or `OR(a, b, ...)`.
type Logical struct {
	Op       LogicalOp
	Operands []Node
}

type rawExpr string

func (f FieldRef) render(b *strings.Builder) {
	b.WriteByte('{')
	b.WriteString(f.Name)
	b.WriteByte('}')
}

func (l Literal) render(b *strings.Builder) {
	b.WriteString(l.text)
}

func (c Comparison) render(b *strings.Builder) {
	c.Left.render(b)
	b.WriteByte(' ')
	b.WriteString(string(c.Op))
	b.WriteByte(' ')
	c.Right.render(b)
}

func (c FunctionCall) render(b *strings.Builder) {
	b.WriteString(c.Name)
	b.WriteByte('(')
	renderList(b, c.Args)
	b.WriteByte(')')
}

func (l Logical) render(b *strings.Builder) {
	b.WriteString(string(l.Op))
	b.WriteByte('(')
	renderList(b, l.Operands)
	b.WriteByte(')')
}

func (r rawExpr) render(b *strings.Builder) {
	b.WriteString(string(r))
}

func renderList(b *strings.Builder, nodes []Node) {
	for i, node := range nodes {
		if i > 0 {
			b.WriteString(", ")
		}
		node.render(b)
	}
}

// Formula is an immutable predicate. The zero value is empty and does not build.
type Formula struct {
	node Node
	err  error
}

func valid(node Node) Formula {
	return Formula{node: node}
}

func invalid(field, format string, args ...any) Formula {
	return Formula{err: &core.FormulaError{Field: field, Message: fmt.Sprintf(format, args...)}}
}

func failed(err error) Formula {
	return Formula{err: err}
}

// Err returns the construction error, if any.
func (f Formula) Err() error {
	if f.err != nil {
		return f.err
	}
	if f.node == nil {
		return &core.FormulaError{Message: "empty formula"}
	}
	return nil
}

// IsZero reports whether f is the empty formula.
func (f Formula) IsZero() bool {
	return f.node == nil && f.err == nil
}

// Node exposes the root of the tree; nil when the formula is invalid.
func (f Formula) Node() Node {
	if f.err != nil {
		return nil
	}
	return f.node
}

// Build renders the formula.
func (f Formula) Build() (string, error) {
	if err := f.Err(); err != nil {
		return "", err
	}
	var b strings.Builder
	f.node.render(&b)
	return b.String(), nil
}

// MustBuild renders the formula and panics on a construction error.
func (f Formula) MustBuild() string {
	out, err := f.Build()
	if err != nil {
		panic(err)
	}
	return out
}

// Encode renders and URL-encodes the formula for use in a query string.
func (f Formula) Encode() (string, error) {
	out, err := f.Build()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(url.QueryEscape(out), "+", "%20"), nil
}

func (f Formula) String() string {
	out, err := f.Build()
	if err != nil {
		return "<invalid formula: " + err.Error() + ">"
	}
	return out
}

// And joins f and other in a new AND node.
func (f Formula) And(other Formula) Formula {
	return combine(And, f, other)
}

// Or joins f and other in a new OR node.
func (f Formula) Or(other Formula) Formula {
	return combine(Or, f, other)
}

// Not negates f.
func (f Formula) Not() Formula {
	if err := f.Err(); err != nil {
		return failed(err)
	}
	return valid(FunctionCall{Name: "NOT", Args: []Node{f.node}})
}

func combine(op LogicalOp, left, right Formula) Formula {
	if err := left.Err(); err != nil {
		return failed(err)
	}
	if err := right.Err(); err != nil {
		return failed(err)
	}
	return valid(Logical{Op: op, Operands: []Node{left.node, right.node}})
}

// AllOf folds formulas left to right with And.
func AllOf(formulas ...Formula) Formula {
	return fold(And, formulas)
}

// AnyOf folds formulas left to right with Or.
func AnyOf(formulas ...Formula) Formula {
	return fold(Or, formulas)
}

func fold(op LogicalOp, formulas []Formula) Formula {
	if len(formulas) == 0 {
		return invalid("", "%s requires at least one formula", op)
	}
	acc := formulas[0]
	for _, next := range formulas[1:] {
		acc = combine(op, acc, next)
	}
	if err := acc.Err(); err != nil {
		return failed(err)
	}
	return acc
}

// field validates a field reference. Names are used as given: a column
// called " Notes" is not {Notes}, so surrounding whitespace is an error.
func field(name string) (FieldRef, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return FieldRef{}, &core.FormulaError{Message: "field name is required"}
	}
	if trimmed != name {
		return FieldRef{}, &core.FormulaError{Field: name, Message: "field name has leading or trailing whitespace"}
	}
	if strings.ContainsAny(name, "{}") {
		return FieldRef{}, &core.FormulaError{Field: name, Message: "field name cannot contain braces"}
	}
	return FieldRef{Name: name}, nil
}

// Value renders a Go value as a grammar literal.
func Value(value any) (Literal, error) {
	switch v := value.(type) {
	case nil:
		return Literal{}, &core.FormulaError{Message: "value is required"}
	case string:
		return Literal{text: quote(v)}, nil
	case bool:
		if v {
			return Literal{text: "TRUE()"}, nil
		}
		return Literal{text: "FALSE()"}, nil
	case int:
		return Literal{text: strconv.FormatInt(int64(v), 10)}, nil
	case int8:
		return Literal{text: strconv.FormatInt(int64(v), 10)}, nil
	case int16:
		return Literal{text: strconv.FormatInt(int64(v), 10)}, nil
	case int32:
		return Literal{text: strconv.FormatInt(int64(v), 10)}, nil
	case int64:
		return Literal{text: strconv.FormatInt(v, 10)}, nil
	case uint:
		return Literal{text: strconv.FormatUint(uint64(v), 10)}, nil
	case uint8:
		return Literal{text: strconv.FormatUint(uint64(v), 10)}, nil
	case uint16:
		return Literal{text: strconv.FormatUint(uint64(v), 10)}, nil
	case uint32:
		return Literal{text: strconv.FormatUint(uint64(v), 10)}, nil
	case uint64:
		return Literal{text: strconv.FormatUint(v, 10)}, nil
	case float32:
		return floatLiteral(float64(v))
	case float64:
		return floatLiteral(v)
	case json.Number:
		if _, err := v.Float64(); err != nil {
			return Literal{}, &core.FormulaError{Message: fmt.Sprintf("invalid number %q", v.String())}
		}
		return Literal{text: v.String()}, nil
	case time.Time:
		return Literal{text: quote(isoDate(v))}, nil
	default:
		return Literal{}, &core.FormulaError{Message: fmt.Sprintf("unsupported value type %T", value)}
	}
}

func floatLiteral(v float64) (Literal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Literal{}, &core.FormulaError{Message: "value must be a finite number"}
	}
	return Literal{text: strconv.FormatFloat(v, 'f', -1, 64)}, nil
}

func quote(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

func isoDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

func dateLiteral(fieldName string, value any) (Literal, error) {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return Literal{}, &core.FormulaError{Field: fieldName, Message: "date is required"}
		}
		return Literal{text: quote(v)}, nil
	case time.Time:
		return Literal{text: quote(isoDate(v))}, nil
	case nil:
		return Literal{}, &core.FormulaError{Field: fieldName, Message: "date is required"}
	default:
		return Literal{}, &core.FormulaError{Field: fieldName, Message: fmt.Sprintf("unsupported date type %T", value)}
	}
}

// Compare builds `{field} op value`, returning construction errors directly.
func Compare(fieldName string, op Operator, value any) (Formula, error) {
	f := compare(fieldName, op, value)
	return f, f.err
}

func compare(fieldName string, op Operator, value any) Formula {
	ref, err := field(fieldName)
	if err != nil {
		return failed(err)
	}
	switch op {
	case OpEq, OpNe, OpGt, OpLt, OpGe, OpLe:
	default:
		return invalid(fieldName, "unknown comparison operator %q", op)
	}
	lit, err := Value(value)
	if err != nil {
		return failed(withField(err, fieldName))
	}
	return valid(Comparison{Left: ref, Op: op, Right: lit})
}

func withField(err error, fieldName string) error {
	if fe, ok := err.(*core.FormulaError); ok && fe.Field == "" {
		return &core.FormulaError{Field: fieldName, Message: fe.Message}
	}
	return err
}

var functionName = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Call builds a function call. Arguments may be formulas, field references or literal values.
func Call(name string, args ...any) (Formula, error) {
	f := call(name, args...)
	return f, f.err
}

func call(name string, args ...any) Formula {
	if !functionName.MatchString(name) {
		return invalid("", "invalid function name %q", name)
	}
	nodes := make([]Node, 0, len(args))
	for _, arg := range args {
		switch v := arg.(type) {
		case Formula:
			if err := v.Err(); err != nil {
				return failed(err)
			}
			nodes = append(nodes, v.node)
		case FieldRef:
			ref, err := field(v.Name)
			if err != nil {
				return failed(err)
			}
			nodes = append(nodes, ref)
		case Node:
			nodes = append(nodes, v)
		default:
			lit, err := Value(arg)
			if err != nil {
				return failed(err)
			}
			nodes = append(nodes, lit)
		}
	}
	return valid(FunctionCall{Name: name, Args: nodes})
}

// Field references a field by name, for use as a Call argument.
func Field(name string) FieldRef {
	return FieldRef{Name: name}
}
