package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/formula"
	"github.com/xwander/tablewright/internal/observability"
)

var basesCmd = &cobra.Command{
	Use:   "bases",
	Short: "List the bases visible to the API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		bases, err := s.client.ListBases(cmd.Context())
		if err != nil {
			return err
		}

		if outputFormat != "table" {
			f, err := formatter()
			if err != nil {
				return err
			}
			records := make([]core.Record, 0, len(bases))
			for _, base := range bases {
				records = append(records, core.Record{ID: base.ID, Fields: core.Fields{
					"name":            base.Name,
					"permissionLevel": base.PermissionLevel,
				}})
			}
			rendered, err := f.FormatRecords(records, []string{"name", "permissionLevel"})
			if err != nil {
				return err
			}
			render(cmd, rendered)
			return nil
		}

		for _, base := range bases {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", base.ID, base.Name, base.PermissionLevel)
		}
		return nil
	},
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Read records from a table",
}

var recordsListCmd = &cobra.Command{
	Use:   "list <table>",
	Short: "List records, optionally filtered by a formula",
	Long: `List the records of a table, following pagination.

Filters can be given as a raw formula (--formula) or as a JSON predicate
(--where) that is compiled and validated before any request is made:

  --where '{"op":"and","operands":[{"op":"eq","field":"Status","value":"Done"},{"op":"not_empty","field":"Owner"}]}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := requireBase()
		if err != nil {
			return err
		}
		target := core.Target{BaseID: base, Table: args[0]}

		q, err := listQueryFromFlags(cmd)
		if err != nil {
			return err
		}
		where, err := whereFromFlags(cmd)
		if err != nil {
			return err
		}

		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		var records []core.Record
		if where.IsZero() {
			records, err = s.client.ListRecords(cmd.Context(), target, q)
		} else {
			records, err = s.client.FindRecords(cmd.Context(), target, where, q)
		}
		if err != nil {
			return err
		}

		observability.CLILogger.Debug("Listed records",
			zap.String("base", base),
			zap.String("table", target.Table),
			zap.Int("count", len(records)))

		f, err := formatter()
		if err != nil {
			return err
		}
		rendered, err := f.FormatRecords(records, q.Fields)
		if err != nil {
			return err
		}
		render(cmd, rendered)
		return nil
	},
}

var recordsGetCmd = &cobra.Command{
	Use:   "get <table> <record-id>",
	Short: "Fetch one record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := requireBase()
		if err != nil {
			return err
		}

		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		record, err := s.client.GetRecord(cmd.Context(), core.Target{BaseID: base, Table: args[0]}, args[1])
		if err != nil {
			return err
		}

		f, err := formatter()
		if err != nil {
			return err
		}
		rendered, err := f.FormatRecords([]core.Record{*record}, nil)
		if err != nil {
			return err
		}
		render(cmd, rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(basesCmd)
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsGetCmd)

	addWhereFlags(recordsListCmd)
	recordsListCmd.Flags().StringSlice("fields", nil, "only return these fields")
	recordsListCmd.Flags().StringSlice("sort", nil, "sort by field, optionally suffixed with :desc")
	recordsListCmd.Flags().String("view", "", "list records through a view")
	recordsListCmd.Flags().Int("max-records", 0, "stop after this many records (0 for all)")
}

// addWhereFlags registers the --formula and --where filter flags.
func addWhereFlags(cmd *cobra.Command) {
	cmd.Flags().String("formula", "", "raw filter formula, passed through unchecked")
	cmd.Flags().String("where", "", "JSON predicate compiled into a filter formula")
}

// whereFromFlags builds the filter named by --where and --formula. Both may be
// given, in which case they are combined with AND. No filter yields a zero Formula.
func whereFromFlags(cmd *cobra.Command) (formula.Formula, error) {
	raw, _ := cmd.Flags().GetString("formula")
	where, _ := cmd.Flags().GetString("where")

	var parts []formula.Formula
	if strings.TrimSpace(where) != "" {
		pred, err := parsePredicate(where)
		if err != nil {
			return formula.Formula{}, err
		}
		parts = append(parts, pred.Compile())
	}
	if strings.TrimSpace(raw) != "" {
		parts = append(parts, formula.Raw(raw))
	}

	switch len(parts) {
	case 0:
		return formula.Formula{}, nil
	case 1:
		return parts[0], parts[0].Err()
	default:
		combined := formula.AllOf(parts...)
		return combined, combined.Err()
	}
}

// parsePredicate decodes a JSON predicate.
func parsePredicate(text string) (formula.Predicate, error) {
	var pred formula.Predicate
	if err := json.Unmarshal([]byte(text), &pred); err != nil {
		return pred, &core.ValidationError{Field: "where", Detail: fmt.Sprintf("invalid predicate JSON: %v", err)}
	}
	return pred, nil
}

// listQueryFromFlags reads --fields, --sort, --view and --max-records.
func listQueryFromFlags(cmd *cobra.Command) (core.ListQuery, error) {
	fields, _ := cmd.Flags().GetStringSlice("fields")
	sorts, _ := cmd.Flags().GetStringSlice("sort")
	view, _ := cmd.Flags().GetString("view")
	maxRecords, _ := cmd.Flags().GetInt("max-records")

	if maxRecords < 0 {
		return core.ListQuery{}, &core.ValidationError{Field: "max-records", Detail: "must not be negative"}
	}

	q := core.ListQuery{Fields: fields, View: view, MaxRecords: maxRecords}
	for _, raw := range sorts {
		spec, err := parseSort(raw)
		if err != nil {
			return core.ListQuery{}, err
		}
		q.Sort = append(q.Sort, spec)
	}
	return q, nil
}

// parseSort reads "Field" or "Field:asc|desc".
func parseSort(raw string) (core.SortSpec, error) {
	name, direction, _ := strings.Cut(strings.TrimSpace(raw), ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return core.SortSpec{}, &core.ValidationError{Field: "sort", Detail: "sort field is required"}
	}
	direction = strings.ToLower(strings.TrimSpace(direction))
	switch direction {
	case "", "asc", "desc":
	default:
		return core.SortSpec{}, &core.ValidationError{Field: "sort", Detail: fmt.Sprintf("unknown direction %q", direction)}
	}
	return core.SortSpec{Field: name, Direction: direction}, nil
}
