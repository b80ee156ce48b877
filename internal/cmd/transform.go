package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/transform"
	"github.com/xwander/tablewright/internal/output"
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Rewrite field values across many records",
	Long: `Rewrite field values across the records of a table.

Transforms list the matching records, compute new values locally and write
them back through the rate-limited batch path. Renaming a value of a select
field relabels the choice itself instead, which is one schema request.`,
}

var transformRenameCmd = &cobra.Command{
	Use:   "rename-value <table> <field> <old> <new>",
	Short: "Replace one value of a field with another",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransform(cmd, args[0], func(s *session, target core.Target, opts transform.UpdateOptions) (*transform.Result, error) {
			return s.client.Transforms().RenameValues(cmd.Context(), target, args[1], args[2], args[3], opts)
		})
	},
}

var transformSetCmd = &cobra.Command{
	Use:   "set <table> <field> <value>",
	Short: "Set a field on every record matching a filter",
	Long: `Set a field on every record matching --where or --formula.

The value is parsed as JSON when it is valid JSON (numbers, booleans, lists,
objects, quoted strings) and used as a plain string otherwise.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		where, err := whereFromFlags(cmd)
		if err != nil {
			return err
		}
		value := parseValue(args[2])
		return runTransform(cmd, args[0], func(s *session, target core.Target, opts transform.UpdateOptions) (*transform.Result, error) {
			return s.client.Transforms().SetValuesWhere(cmd.Context(), target, args[1], value, where, opts)
		})
	},
}

var transformClearCmd = &cobra.Command{
	Use:   "clear <table> <field>",
	Short: "Empty a field on every record matching a filter",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		where, err := whereFromFlags(cmd)
		if err != nil {
			return err
		}
		return runTransform(cmd, args[0], func(s *session, target core.Target, opts transform.UpdateOptions) (*transform.Result, error) {
			return s.client.Transforms().ClearFieldWhere(cmd.Context(), target, args[1], where, opts)
		})
	},
}

var transformCopyCmd = &cobra.Command{
	Use:   "copy <table> <from> <to>",
	Short: "Copy one field into another, optionally mapping each value",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		where, err := whereFromFlags(cmd)
		if err != nil {
			return err
		}
		mapName, _ := cmd.Flags().GetString("map")
		fn, err := valueMapper(mapName)
		if err != nil {
			return err
		}
		return runTransform(cmd, args[0], func(s *session, target core.Target, opts transform.UpdateOptions) (*transform.Result, error) {
			return s.client.Transforms().CopyField(cmd.Context(), target, args[1], args[2], where, fn, opts)
		})
	},
}

func init() {
	rootCmd.AddCommand(transformCmd)
	transformCmd.AddCommand(transformRenameCmd)
	transformCmd.AddCommand(transformSetCmd)
	transformCmd.AddCommand(transformClearCmd)
	transformCmd.AddCommand(transformCopyCmd)

	for _, c := range []*cobra.Command{transformSetCmd, transformClearCmd, transformCopyCmd} {
		addWhereFlags(c)
	}
	transformCmd.PersistentFlags().Bool("typecast", false, "let the service coerce values to field types")
	transformCmd.PersistentFlags().Bool("no-progress", false, "do not draw a progress bar")
	transformCopyCmd.Flags().String("map", "", "map each value: upper, lower, trim or string")
}

// runTransform opens a session, runs fn with a progress bar and prints the result.
func runTransform(cmd *cobra.Command, table string, fn func(s *session, target core.Target, opts transform.UpdateOptions) (*transform.Result, error)) error {
	base, err := requireBase()
	if err != nil {
		return err
	}
	typecast, _ := cmd.Flags().GetBool("typecast")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	target := core.Target{BaseID: base, Table: table}
	opts := transform.UpdateOptions{Typecast: typecast}

	// The total is only known once matching records are listed; the bar
	// starts empty and the executor reports the real size on its first update.
	var progress *output.Progress
	if !noProgress {
		progress = output.NewProgress(cmd.ErrOrStderr(), fmt.Sprintf("%s %s/%s", cmd.Name(), base, table), 0)
		opts.Progress = progress.Update
	}

	result, err := fn(s, target, opts)
	progress.Done()

	if result != nil {
		f, ferr := formatter()
		if ferr != nil {
			return ferr
		}
		rendered, ferr := f.FormatTransform(result)
		if ferr != nil {
			return ferr
		}
		render(cmd, rendered)
	}
	if err != nil {
		return err
	}
	if result != nil && result.Batch != nil && len(result.Batch.Failed) > 0 {
		return fmt.Errorf("%w: %d of %d", errPartialBatch, len(result.Batch.Failed), result.Batch.Total)
	}
	return nil
}

// parseValue reads a JSON literal, falling back to the raw string.
func parseValue(text string) any {
	var value any
	if err := json.Unmarshal([]byte(text), &value); err == nil {
		return value
	}
	return text
}

// valueMapper resolves the --map flag of copy.
func valueMapper(name string) (func(any) any, error) {
	text := func(value any) string {
		if s, ok := value.(string); ok {
			return s
		}
		return fmt.Sprint(value)
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return nil, nil
	case "upper":
		return func(v any) any { return strings.ToUpper(text(v)) }, nil
	case "lower":
		return func(v any) any { return strings.ToLower(text(v)) }, nil
	case "trim":
		return func(v any) any { return strings.TrimSpace(text(v)) }, nil
	case "string":
		return func(v any) any { return text(v) }, nil
	default:
		return nil, &core.ValidationError{Field: "map", Detail: fmt.Sprintf("unknown mapping %q", name)}
	}
}
