package cmd

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/xwander/tablewright/internal/core"
	errwrap "github.com/xwander/tablewright/internal/errors"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want foundry.ExitCode
	}{
		{"auth", &core.AuthenticationError{StatusCode: 401}, foundry.ExitConfigInvalid},
		{"rate limited", &core.RateLimitError{}, foundry.ExitExternalServiceUnavailable},
		{"service", &core.ServiceError{StatusCode: 503}, foundry.ExitExternalServiceUnavailable},
		{"not found", &core.NotFoundError{ResourceType: "table", ResourceID: "Tasks"}, foundry.ExitFileNotFound},
		{"validation", &core.ValidationError{Field: "x", Detail: "bad"}, foundry.ExitFailure},
		{"partial", fmt.Errorf("%w: 2 of 12", errPartialBatch), foundry.ExitFailure},
		{"wrapped auth", fmt.Errorf("list: %w", &core.AuthenticationError{}), foundry.ExitConfigInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ExitCodeFor(tc.err))
		})
	}
}

func TestParseBatchInputCreate(t *testing.T) {
	items, err := parseBatchInput([]byte(`[{"Name":"Ada","Score":3},{"fields":{"Name":"Grace"}}]`), core.OperationCreate)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Empty(t, items[0].ID)
	require.Equal(t, "Ada", items[0].Fields["Name"])
	require.Equal(t, "Grace", items[1].Fields["Name"])
}

func TestParseBatchInputUpdateYAML(t *testing.T) {
	input := `
- id: rec1
  Status: Done
- id: rec2
  fields:
    Status: Todo
`
	items, err := parseBatchInput([]byte(input), core.OperationUpdate)
	require.NoError(t, err)
	require.Equal(t, []core.BatchItem{
		{ID: "rec1", Fields: core.Fields{"Status": "Done"}},
		{ID: "rec2", Fields: core.Fields{"Status": "Todo"}},
	}, items)
}

func TestParseBatchInputDelete(t *testing.T) {
	items, err := parseBatchInput([]byte(`["rec1", {"id": "rec2"}]`), core.OperationDelete)
	require.NoError(t, err)
	require.Equal(t, []core.BatchItem{{ID: "rec1"}, {ID: "rec2"}}, items)
}

func TestParseBatchInputFlatIDIsNeverAField(t *testing.T) {
	input := []byte(`[{"id":"recOld","Name":"x"}]`)

	for _, op := range []core.Operation{core.OperationCreate, core.OperationUpsert} {
		items, err := parseBatchInput(input, op)
		require.NoError(t, err, op)
		require.Equal(t, []core.BatchItem{{Fields: core.Fields{"Name": "x"}}}, items, op)
	}

	items, err := parseBatchInput(input, core.OperationUpdate)
	require.NoError(t, err)
	require.Equal(t, []core.BatchItem{{ID: "recOld", Fields: core.Fields{"Name": "x"}}}, items)
}

func TestParseBatchInputErrors(t *testing.T) {
	_, err := parseBatchInput([]byte(`{"Name":"not a list"}`), core.OperationCreate)
	require.Error(t, err)
	require.Equal(t, core.KindValidation, core.Kind(err))

	_, err = parseBatchInput([]byte(`["rec1"]`), core.OperationCreate)
	require.ErrorContains(t, err, "input[0]")

	_, err = parseBatchInput([]byte(`[{"id": 7, "fields": {}}]`), core.OperationUpdate)
	require.ErrorContains(t, err, "id must be a string")

	_, err = parseBatchInput([]byte(`[{"fields": "x"}]`), core.OperationCreate)
	require.ErrorContains(t, err, "fields must be an object")
}

func TestCandidatesDropIDs(t *testing.T) {
	got := candidates([]core.BatchItem{{ID: "rec1", Fields: core.Fields{"Email": "a@x"}}})
	require.Equal(t, []core.Fields{{"Email": "a@x"}}, got)
}

func TestParseSort(t *testing.T) {
	spec, err := parseSort("Due:DESC")
	require.NoError(t, err)
	require.Equal(t, core.SortSpec{Field: "Due", Direction: "desc"}, spec)

	spec, err = parseSort(" Name ")
	require.NoError(t, err)
	require.Equal(t, core.SortSpec{Field: "Name"}, spec)

	_, err = parseSort(":asc")
	require.Error(t, err)
	_, err = parseSort("Name:sideways")
	require.Error(t, err)
}

func newFilterCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	addWhereFlags(c)
	c.Flags().StringSlice("fields", nil, "")
	c.Flags().StringSlice("sort", nil, "")
	c.Flags().String("view", "", "")
	c.Flags().Int("max-records", 0, "")
	require.NoError(t, c.ParseFlags(args))
	return c
}

func TestWhereFromFlags(t *testing.T) {
	f, err := whereFromFlags(newFilterCommand(t))
	require.NoError(t, err)
	require.True(t, f.IsZero())

	f, err = whereFromFlags(newFilterCommand(t, "--where", `{"op":"eq","field":"Status","value":"Done"}`))
	require.NoError(t, err)
	require.Equal(t, `{Status} = "Done"`, f.MustBuild())

	f, err = whereFromFlags(newFilterCommand(t,
		"--where", `{"op":"eq","field":"Status","value":"Done"}`,
		"--formula", "{Score} > 3"))
	require.NoError(t, err)
	require.Equal(t, `AND({Status} = "Done", {Score} > 3)`, f.MustBuild())

	_, err = whereFromFlags(newFilterCommand(t, "--where", `{"op":`))
	require.Error(t, err)
	require.Equal(t, core.KindValidation, core.Kind(err))

	_, err = whereFromFlags(newFilterCommand(t, "--where", `{"op":"between","field":"Score"}`))
	require.Error(t, err)
	require.Equal(t, core.KindFormula, core.Kind(err))
}

func TestListQueryFromFlags(t *testing.T) {
	q, err := listQueryFromFlags(newFilterCommand(t, "--fields", "Name,Status", "--sort", "Due:desc", "--view", "Grid", "--max-records", "50"))
	require.NoError(t, err)
	require.Equal(t, []string{"Name", "Status"}, q.Fields)
	require.Equal(t, []core.SortSpec{{Field: "Due", Direction: "desc"}}, q.Sort)
	require.Equal(t, "Grid", q.View)
	require.Equal(t, 50, q.MaxRecords)

	_, err = listQueryFromFlags(newFilterCommand(t, "--max-records", "-1"))
	require.Error(t, err)
}

func TestParseValue(t *testing.T) {
	require.Equal(t, float64(3), parseValue("3"))
	require.Equal(t, true, parseValue("true"))
	require.Equal(t, []any{"a", "b"}, parseValue(`["a","b"]`))
	require.Equal(t, "Done", parseValue("Done"))
	require.Equal(t, "quoted", parseValue(`"quoted"`))
}

func TestValueMapper(t *testing.T) {
	fn, err := valueMapper("")
	require.NoError(t, err)
	require.Nil(t, fn)

	fn, err = valueMapper("upper")
	require.NoError(t, err)
	require.Equal(t, "ADA", fn("ada"))

	fn, err = valueMapper("string")
	require.NoError(t, err)
	require.Equal(t, "42", fn(float64(42)))

	_, err = valueMapper("reverse")
	require.Error(t, err)
}

func TestPrintFormula(t *testing.T) {
	pred, err := parsePredicate(`{"op":"in","field":"Status","values":["Todo","Doing"]}`)
	require.NoError(t, err)

	c := &cobra.Command{Use: "formula"}
	c.Flags().Bool("encoded", false, "")
	var out bytes.Buffer
	c.SetOut(&out)

	require.NoError(t, printFormula(c, pred.Compile()))
	require.Equal(t, "OR({Status} = \"Todo\", {Status} = \"Doing\")\n", out.String())

	out.Reset()
	require.NoError(t, c.Flags().Set("encoded", "true"))
	require.NoError(t, printFormula(c, pred.Compile()))
	require.True(t, strings.HasPrefix(out.String(), "OR%28"))
}

func TestBuildInitConfigIsValidYAML(t *testing.T) {
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(buildInitConfig("")), &doc))
	require.Contains(t, doc, "api")
	require.Contains(t, doc, "journal")

	withToken := buildInitConfig("pat123")
	require.NoError(t, yaml.Unmarshal([]byte(withToken), &doc))
	api := doc["api"].(map[string]any)
	require.Equal(t, "pat123", api["token"])
}

func TestDescribeExitUnwrapsEnvelope(t *testing.T) {
	cause := &core.AuthenticationError{StatusCode: 401}
	envelope := errwrap.WrapExternalService(context.Background(), cause, "list bases failed")

	report := describeExit(foundry.ExitConfigInvalid, envelope)
	require.NotNil(t, report.envelope)
	require.Equal(t, cause, report.cause)
	require.NotEmpty(t, report.name)

	var buf bytes.Buffer
	report.write(&buf, "Command failed")
	require.Contains(t, buf.String(), "FATAL: Command failed [EXTERNAL_SERVICE_ERROR]")
	require.Contains(t, buf.String(), "Cause: ")
	require.Contains(t, buf.String(), "Exit Code: ")
}

func TestDescribeExitPlainError(t *testing.T) {
	report := describeExit(foundry.ExitFailure, fmt.Errorf("%w: 1 of 3", errPartialBatch))
	require.Nil(t, report.envelope)

	var buf bytes.Buffer
	report.write(&buf, "Command failed")
	require.True(t, strings.HasPrefix(buf.String(), "FATAL: Command failed: some records failed: 1 of 3\n"))
}

func TestDoctorFormatting(t *testing.T) {
	require.Equal(t, "512 bytes", formatFileSize(512))
	require.Equal(t, "1.5 KB", formatFileSize(1536))
	require.Equal(t, "2.0 MB", formatFileSize(2*1024*1024))
	require.Equal(t, "3.0 GB", formatFileSize(3*1024*1024*1024))

	require.Equal(t, "unknown", formatTimeAgo(time.Time{}))
	require.Equal(t, "just now", formatTimeAgo(time.Now()))
	require.Equal(t, "1 min ago", formatTimeAgo(time.Now().Add(-90*time.Second)))
	require.Equal(t, "3 hours ago", formatTimeAgo(time.Now().Add(-3*time.Hour-time.Minute)))
	require.Equal(t, "2 days ago", formatTimeAgo(time.Now().Add(-49*time.Hour)))
}

func TestPromptForValue(t *testing.T) {
	var out bytes.Buffer
	value, err := promptForValue(strings.NewReader("  pat-abc  \n"), &out, "token: ")
	require.NoError(t, err)
	require.Equal(t, "pat-abc", value)
	require.Equal(t, "token: ", out.String())

	value, err = promptForValue(strings.NewReader(""), &out, "token: ")
	require.NoError(t, err)
	require.Empty(t, value)
}

func TestDoctorSkipsDependentChecksWithoutConfig(t *testing.T) {
	env := &doctorEnv{cfgErr: fmt.Errorf("bad config")}
	require.False(t, env.tokenSet())
	require.Equal(t, checkSkip, checkJournal(context.Background(), env).state)
	require.Equal(t, checkSkip, checkUpstream(context.Background(), env).state)
	require.Less(t, checkWarn, checkFail)
}
