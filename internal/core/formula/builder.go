package formula

import "github.com/xwander/tablewright/internal/core"

// Builder accumulates conditions and joins them with AND, or with OR once any
// Or* method has been used.
type Builder struct {
	conditions []Formula
	op         LogicalOp
}

// NewBuilder returns an empty builder in AND mode.
func NewBuilder() *Builder {
	return &Builder{op: And}
}

func (b *Builder) add(f Formula) *Builder {
	if b.op == "" {
		b.op = And
	}
	b.conditions = append(b.conditions, f)
	return b
}

// Where adds an equality condition.
func (b *Builder) Where(fieldName string, value any) *Builder {
	return b.add(Equals(fieldName, value))
}

// WhereNot adds an inequality condition.
func (b *Builder) WhereNot(fieldName string, value any) *Builder {
	return b.add(NotEquals(fieldName, value))
}

// AndWhere switches to AND mode and adds an equality condition.
func (b *Builder) AndWhere(fieldName string, value any) *Builder {
	b.op = And
	return b.Where(fieldName, value)
}

// OrWhere switches to OR mode and adds an equality condition.
func (b *Builder) OrWhere(fieldName string, value any) *Builder {
	b.op = Or
	return b.Where(fieldName, value)
}

// WhereIn adds a membership condition.
func (b *Builder) WhereIn(fieldName string, values []any) *Builder {
	return b.add(InList(fieldName, values))
}

// OrWhereIn switches to OR mode and adds a membership condition.
func (b *Builder) OrWhereIn(fieldName string, values []any) *Builder {
	b.op = Or
	return b.WhereIn(fieldName, values)
}

func (b *Builder) NotEmpty(fieldName string) *Builder {
	return b.add(NotEmpty(fieldName))
}

func (b *Builder) IsEmpty(fieldName string) *Builder {
	return b.add(IsEmpty(fieldName))
}

func (b *Builder) Contains(fieldName, text string) *Builder {
	return b.add(Contains(fieldName, text))
}

func (b *Builder) After(fieldName string, date any) *Builder {
	return b.add(IsAfter(fieldName, date))
}

func (b *Builder) Before(fieldName string, date any) *Builder {
	return b.add(IsBefore(fieldName, date))
}

func (b *Builder) AfterToday(fieldName string) *Builder {
	return b.add(IsAfterToday(fieldName))
}

func (b *Builder) GreaterThan(fieldName string, value any) *Builder {
	return b.add(GreaterThan(fieldName, value))
}

func (b *Builder) LessThan(fieldName string, value any) *Builder {
	return b.add(LessThan(fieldName, value))
}

// Raw adds a verbatim expression.
func (b *Builder) Raw(expression string) *Builder {
	return b.add(Raw(expression))
}

// Add appends an already built formula.
func (b *Builder) Add(f Formula) *Builder {
	return b.add(f)
}

// Len reports how many conditions have been added.
func (b *Builder) Len() int {
	return len(b.conditions)
}

// Formula joins the conditions into a single predicate.
func (b *Builder) Formula() Formula {
	if len(b.conditions) == 0 {
		return failed(&core.FormulaError{Message: "no conditions added to builder"})
	}
	if b.op == Or {
		return AnyOf(b.conditions...)
	}
	return AllOf(b.conditions...)
}

// Build renders the joined predicate.
func (b *Builder) Build() (string, error) {
	return b.Formula().Build()
}

// Encode renders and URL-encodes the joined predicate.
func (b *Builder) Encode() (string, error) {
	return b.Formula().Encode()
}
