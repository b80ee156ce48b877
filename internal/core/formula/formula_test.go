package formula

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xwander/tablewright/internal/core"
)

func TestRenders(t *testing.T) {
	cases := []struct {
		name    string
		formula Formula
		want    string
	}{
		{"equals", Equals("Status", "Active"), `{Status} = "Active"`},
		{"contains", Contains("Notes", "urgent"), `FIND("urgent", {Notes}) > 0`},
		{"in list", InList("Track", []string{"Day Tours", "Academy"}), `OR({Track} = "Day Tours", {Track} = "Academy")`},
		{"and", Equals("Track", "Day Tours").And(NotEmpty("Start Date")), `AND({Track} = "Day Tours", {Start Date} != "")`},
		{"starts with", StartsWith("Code", "FI-"), `FIND("FI-", {Code}) = 1`},
		{"not equals", NotEquals("Status", "Done"), `{Status} != "Done"`},
		{"greater than", GreaterThan("Seats", 4), `{Seats} > 4`},
		{"less or equal float", LessOrEqual("Price", 19.5), `{Price} <= 19.5`},
		{"boolean", Equals("Paid", true), `{Paid} = TRUE()`},
		{"is empty", IsEmpty("Notes"), `{Notes} = ""`},
		{"is blank", IsBlank("Notes"), `{Notes} = BLANK()`},
		{"is after", IsAfter("Start Date", "2026-06-01"), `IS_AFTER({Start Date}, "2026-06-01")`},
		{"is before time", IsBefore("Start Date", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)), `IS_BEFORE({Start Date}, "2026-06-01")`},
		{"is same", IsSame("Start Date", "2026-06-01", ""), `IS_SAME({Start Date}, "2026-06-01", "day")`},
		{"after today", IsAfterToday("Start Date"), `IS_AFTER({Start Date}, TODAY())`},
		{"before today", IsBeforeToday("Start Date"), `IS_BEFORE({Start Date}, TODAY())`},
		{"single in list", InList("Track", []any{"Academy"}), `{Track} = "Academy"`},
		{"not in list", NotInList("Track", []string{"A", "B"}), `AND({Track} != "A", {Track} != "B")`},
		{"regex", RegexMatch("Email", `^.+@example\.com$`), `REGEX_MATCH({Email}, "^.+@example\\.com$")`},
		{"linked", LinkedRecordID("Guide", "rec123"), `FIND("rec123", ARRAYJOIN(RECORD_ID({Guide}))) > 0`},
		{"has option", HasOption("Tags", "b"), `FIND(", b,", CONCATENATE(", ", ARRAYJOIN({Tags}, ", "), ",")) > 0`},
		{"inner spaces kept", Equals("Start Date", "x"), `{Start Date} = "x"`},
		{"not", Equals("Status", "Active").Not(), `NOT({Status} = "Active")`},
		{"or", Equals("A", 1).Or(Equals("B", 2)), `OR({A} = 1, {B} = 2)`},
		{"raw", Raw("{Count} * 2 > 10"), `{Count} * 2 > 10`},
		{"escaping", Equals("Name", `say "hi" \ bye`), `{Name} = "say \"hi\" \\ bye"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.formula.Build()
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCombinatorsNest(t *testing.T) {
	f := AllOf(Equals("A", 1), Equals("B", 2), Equals("C", 3))
	require.Equal(t, `AND(AND({A} = 1, {B} = 2), {C} = 3)`, f.MustBuild())

	g := Equals("A", 1).And(Equals("B", 2).Or(Equals("C", 3)))
	require.Equal(t, `AND({A} = 1, OR({B} = 2, {C} = 3))`, g.MustBuild())

	single := AnyOf(Equals("A", 1))
	require.Equal(t, `{A} = 1`, single.MustBuild())
}

func TestFormulaIsReusable(t *testing.T) {
	base := Equals("Status", "Active")
	left := base.And(NotEmpty("X"))
	right := base.Or(NotEmpty("Y"))

	require.Equal(t, `{Status} = "Active"`, base.MustBuild())
	require.Equal(t, `AND({Status} = "Active", {X} != "")`, left.MustBuild())
	require.Equal(t, `OR({Status} = "Active", {Y} != "")`, right.MustBuild())
}

func TestConstructionErrors(t *testing.T) {
	cases := []struct {
		name    string
		formula Formula
	}{
		{"empty field", Equals("", "x")},
		{"blank field", Equals("   ", "x")},
		{"leading space", Equals(" Notes", "x")},
		{"trailing space", Contains("Notes ", "x")},
		{"empty option", HasOption("Tags", "")},
		{"braces", Equals("Sta{tus}", "x")},
		{"nil value", Equals("Status", nil)},
		{"unsupported value", Equals("Status", []string{"a"})},
		{"nan", GreaterThan("Score", math.NaN())},
		{"empty in list", InList("Track", []string{})},
		{"nil in list", InList("Track", []any{"a", nil})},
		{"empty search", Contains("Notes", "")},
		{"missing date", IsAfter("Start", nil)},
		{"bad date type", IsAfter("Start", 42)},
		{"empty raw", Raw(" ")},
		{"zero value", Formula{}},
		{"no operands", AllOf()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := tc.formula.Build()
			require.Error(t, err)
			require.Empty(t, out)
			require.Equal(t, core.KindFormula, core.Kind(err))
		})
	}
}

func TestErrorsPropagateThroughCombinators(t *testing.T) {
	bad := Equals("", "x")
	good := Equals("Status", "Active")

	for _, f := range []Formula{good.And(bad), bad.Or(good), bad.Not(), AllOf(good, good, bad), AnyOf(bad, good)} {
		_, err := f.Build()
		require.Error(t, err)
		require.Contains(t, err.Error(), "field name is required")
	}
	require.Contains(t, good.And(bad).String(), "invalid formula")
}

func TestCheckedPrimitives(t *testing.T) {
	f, err := Compare("Seats", OpGe, 2)
	require.NoError(t, err)
	require.Equal(t, `{Seats} >= 2`, f.MustBuild())

	_, err = Compare("Seats", Operator("~"), 2)
	require.Error(t, err)

	call, err := Call("AND", Equals("A", 1), Field("B"), "x")
	require.NoError(t, err)
	require.Equal(t, `AND({A} = 1, {B}, "x")`, call.MustBuild())

	_, err = Call("lower", "x")
	require.Error(t, err)

	_, err = Call("LEN", Field(""))
	require.Error(t, err)
}

func TestValueLiterals(t *testing.T) {
	lit, err := Value(json.Number("12.50"))
	require.NoError(t, err)
	require.Equal(t, "12.50", lit.text)

	lit, err = Value(time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, `"2026-06-01T09:30:00Z"`, lit.text)

	lit, err = Value(uint8(7))
	require.NoError(t, err)
	require.Equal(t, "7", lit.text)

	_, err = Value(json.Number("abc"))
	require.Error(t, err)
}

func TestEncode(t *testing.T) {
	encoded, err := Equals("Status", "Active").Encode()
	require.NoError(t, err)
	require.Equal(t, "%7BStatus%7D%20%3D%20%22Active%22", encoded)

	_, err = Equals("", "x").Encode()
	require.Error(t, err)
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator("gte")
	require.NoError(t, err)
	require.Equal(t, OpGe, op)

	op, err = ParseOperator("==")
	require.NoError(t, err)
	require.Equal(t, OpEq, op)

	_, err = ParseOperator("like")
	require.Error(t, err)
}
