package formula

import (
	"strings"
)

// Equals renders `{field} = value`.
func Equals(fieldName string, value any) Formula {
	return compare(fieldName, OpEq, value)
}

// NotEquals renders `{field} != value`.
func NotEquals(fieldName string, value any) Formula {
	return compare(fieldName, OpNe, value)
}

// GreaterThan renders `{field} > value`.
func GreaterThan(fieldName string, value any) Formula {
	return compare(fieldName, OpGt, value)
}

// LessThan renders `{field} < value`.
func LessThan(fieldName string, value any) Formula {
	return compare(fieldName, OpLt, value)
}

// GreaterOrEqual renders `{field} >= value`.
func GreaterOrEqual(fieldName string, value any) Formula {
	return compare(fieldName, OpGe, value)
}

// LessOrEqual renders `{field} <= value`.
func LessOrEqual(fieldName string, value any) Formula {
	return compare(fieldName, OpLe, value)
}

// IsEmpty matches records whose field is the empty string.
func IsEmpty(fieldName string) Formula {
	return compare(fieldName, OpEq, "")
}

// NotEmpty matches records whose field is not the empty string.
func NotEmpty(fieldName string) Formula {
	return compare(fieldName, OpNe, "")
}

// IsBlank matches records whose field is BLANK().
func IsBlank(fieldName string) Formula {
	ref, err := field(fieldName)
	if err != nil {
		return failed(err)
	}
	return valid(Comparison{Left: ref, Op: OpEq, Right: FunctionCall{Name: "BLANK"}})
}

// Contains renders `FIND("text", {field}) > 0`.
func Contains(fieldName, text string) Formula {
	return find(fieldName, text, OpGt, 0)
}

// StartsWith renders `FIND("prefix", {field}) = 1`.
func StartsWith(fieldName, prefix string) Formula {
	return find(fieldName, prefix, OpEq, 1)
}

func find(fieldName, text string, op Operator, position int) Formula {
	ref, err := field(fieldName)
	if err != nil {
		return failed(err)
	}
	if text == "" {
		return invalid(fieldName, "search text is required")
	}
	pos, _ := Value(position)
	search, _ := Value(text)
	return valid(Comparison{
		Left:  FunctionCall{Name: "FIND", Args: []Node{search, ref}},
		Op:    op,
		Right: pos,
	})
}

// RegexMatch renders `REGEX_MATCH({field}, "pattern")`.
func RegexMatch(fieldName, pattern string) Formula {
	ref, err := field(fieldName)
	if err != nil {
		return failed(err)
	}
	if pattern == "" {
		return invalid(fieldName, "pattern is required")
	}
	lit, _ := Value(pattern)
	return valid(FunctionCall{Name: "REGEX_MATCH", Args: []Node{ref, lit}})
}

// IsAfter renders `IS_AFTER({field}, "date")`. date is an ISO string or a time.Time.
func IsAfter(fieldName string, date any) Formula {
	return dateCall("IS_AFTER", fieldName, date)
}

// IsBefore renders `IS_BEFORE({field}, "date")`.
func IsBefore(fieldName string, date any) Formula {
	return dateCall("IS_BEFORE", fieldName, date)
}

// IsSame renders `IS_SAME({field}, "date", "unit")`; unit defaults to day.
func IsSame(fieldName string, date any, unit string) Formula {
	f := dateCall("IS_SAME", fieldName, date)
	if f.err != nil {
		return f
	}
	if strings.TrimSpace(unit) == "" {
		unit = "day"
	}
	lit, _ := Value(unit)
	node := f.node.(FunctionCall)
	return valid(FunctionCall{Name: node.Name, Args: append(node.Args, lit)})
}

func dateCall(name, fieldName string, date any) Formula {
	ref, err := field(fieldName)
	if err != nil {
		return failed(err)
	}
	lit, err := dateLiteral(fieldName, date)
	if err != nil {
		return failed(err)
	}
	return valid(FunctionCall{Name: name, Args: []Node{ref, lit}})
}

// Today is the grammar's current date.
func Today() Formula {
	return valid(FunctionCall{Name: "TODAY"})
}

// IsAfterToday renders `IS_AFTER({field}, TODAY())`.
func IsAfterToday(fieldName string) Formula {
	return todayCall("IS_AFTER", fieldName)
}

// IsBeforeToday renders `IS_BEFORE({field}, TODAY())`.
func IsBeforeToday(fieldName string) Formula {
	return todayCall("IS_BEFORE", fieldName)
}

func todayCall(name, fieldName string) Formula {
	ref, err := field(fieldName)
	if err != nil {
		return failed(err)
	}
	return valid(FunctionCall{Name: name, Args: []Node{ref, FunctionCall{Name: "TODAY"}}})
}

// InList matches any of values. The grammar has no IN, so this is a flat OR of
// equalities; a single value is a plain equality.
func InList[T any](fieldName string, values []T) Formula {
	return expandList(fieldName, values, OpEq, Or, "in list")
}

// NotInList matches none of values, as a flat AND of inequalities.
func NotInList[T any](fieldName string, values []T) Formula {
	return expandList(fieldName, values, OpNe, And, "not in list")
}

func expandList[T any](fieldName string, values []T, op Operator, join LogicalOp, label string) Formula {
	ref, err := field(fieldName)
	if err != nil {
		return failed(err)
	}
	if len(values) == 0 {
		return invalid(fieldName, "%s requires at least one value", label)
	}

	operands := make([]Node, 0, len(values))
	for _, value := range values {
		lit, err := Value(value)
		if err != nil {
			return failed(withField(err, fieldName))
		}
		operands = append(operands, Comparison{Left: ref, Op: op, Right: lit})
	}
	if len(operands) == 1 {
		return valid(operands[0])
	}
	return valid(Logical{Op: join, Operands: operands})
}

// LinkedRecordID matches records whose linked-record field contains recordID.
func LinkedRecordID(fieldName, recordID string) Formula {
	ref, err := field(fieldName)
	if err != nil {
		return failed(err)
	}
	if strings.TrimSpace(recordID) == "" {
		return invalid(fieldName, "record id is required")
	}
	id, _ := Value(recordID)
	joined := FunctionCall{Name: "ARRAYJOIN", Args: []Node{FunctionCall{Name: "RECORD_ID", Args: []Node{ref}}}}
	zero, _ := Value(0)
	return valid(Comparison{
		Left:  FunctionCall{Name: "FIND", Args: []Node{id, joined}},
		Op:    OpGt,
		Right: zero,
	})
}

// HasOption matches records whose multiple-select field holds option exactly.
// Options are joined as ", a, b," and searched for ", option,", so "b" does
// not match a record tagged "abc".
func HasOption(fieldName, option string) Formula {
	ref, err := field(fieldName)
	if err != nil {
		return failed(err)
	}
	if option == "" {
		return invalid(fieldName, "option is required")
	}
	needle, _ := Value(", " + option + ",")
	sep, _ := Value(", ")
	tail, _ := Value(",")
	joined := FunctionCall{Name: "CONCATENATE", Args: []Node{
		sep,
		FunctionCall{Name: "ARRAYJOIN", Args: []Node{ref, sep}},
		tail,
	}}
	zero, _ := Value(0)
	return valid(Comparison{
		Left:  FunctionCall{Name: "FIND", Args: []Node{needle, joined}},
		Op:    OpGt,
		Right: zero,
	})
}

// Raw wraps a hand-written expression. It is rendered verbatim.
func Raw(expression string) Formula {
	if strings.TrimSpace(expression) == "" {
		return invalid("", "raw expression is required")
	}
	return valid(rawExpr(expression))
}
