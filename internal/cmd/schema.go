package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xwander/tablewright/internal/core"
)

var schemaCmd = &cobra.Command{
	Use:   "schema [table]",
	Short: "Show the tables of a base, or the fields of one table",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := requireBase()
		if err != nil {
			return err
		}
		refresh, _ := cmd.Flags().GetBool("refresh")

		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		entry, err := s.client.GetSchema(cmd.Context(), base, !refresh)
		if err != nil {
			return err
		}

		table := ""
		if len(args) == 1 {
			table = args[0]
		}
		f, err := formatter()
		if err != nil {
			return err
		}
		rendered, err := f.FormatSchema(entry, table)
		if err != nil {
			return err
		}
		render(cmd, rendered)
		return nil
	},
}

var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "Edit the choices of a single or multiple select field",
	Long: `Edit the choices of a select field in place.

Every edit reads the current choices, applies the change and writes the full
list back with ids kept, so existing cell values stay attached to their
choice. The cached schema of the base is refreshed afterwards.`,
}

var optionsListCmd = &cobra.Command{
	Use:   "list <table> <field>",
	Short: "List the choices of a select field",
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

		choices, err := s.client.Options().Choices(cmd.Context(), base, args[0], args[1])
		if err != nil {
			return err
		}
		return renderChoices(cmd, choices)
	},
}

var optionsRenameCmd = &cobra.Command{
	Use:   "rename <table> <field> <old> <new>",
	Short: "Rename a choice; cells holding it follow the new name",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editOptions(cmd, func(s *session, base string) (*core.FieldSchema, error) {
			return s.client.Options().Rename(cmd.Context(), base, args[0], args[1], args[2], args[3])
		})
	},
}

var optionsAddCmd = &cobra.Command{
	Use:   "add <table> <field> <name>",
	Short: "Append a choice",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		color, _ := cmd.Flags().GetString("color")
		return editOptions(cmd, func(s *session, base string) (*core.FieldSchema, error) {
			return s.client.Options().Add(cmd.Context(), base, args[0], args[1], args[2], color)
		})
	},
}

var optionsDeleteCmd = &cobra.Command{
	Use:   "delete <table> <field> <name>",
	Short: "Remove a choice; cells holding it are cleared by the service",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editOptions(cmd, func(s *session, base string) (*core.FieldSchema, error) {
			return s.client.Options().Delete(cmd.Context(), base, args[0], args[1], args[2])
		})
	},
}

var optionsReorderCmd = &cobra.Command{
	Use:   "reorder <table> <field> <name>...",
	Short: "Move the named choices to the front, in the given order",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editOptions(cmd, func(s *session, base string) (*core.FieldSchema, error) {
			return s.client.Options().Reorder(cmd.Context(), base, args[0], args[1], args[2:])
		})
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.Flags().Bool("refresh", false, "bypass the schema cache")

	rootCmd.AddCommand(optionsCmd)
	optionsCmd.AddCommand(optionsListCmd)
	optionsCmd.AddCommand(optionsRenameCmd)
	optionsCmd.AddCommand(optionsAddCmd)
	optionsCmd.AddCommand(optionsDeleteCmd)
	optionsCmd.AddCommand(optionsReorderCmd)

	optionsAddCmd.Flags().String("color", "", "choice color, e.g. blueLight2 (service default when empty)")
}

// editOptions runs one choice edit and prints the resulting choices.
func editOptions(cmd *cobra.Command, edit func(s *session, base string) (*core.FieldSchema, error)) error {
	base, err := requireBase()
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	field, err := edit(s, base)
	if err != nil {
		return err
	}
	var choices []core.Choice
	if field.Options != nil {
		choices = field.Options.Choices
	}
	return renderChoices(cmd, choices)
}

func renderChoices(cmd *cobra.Command, choices []core.Choice) error {
	if outputFormat == "table" || outputFormat == "" {
		for _, choice := range choices {
			line := choice.Name
			if strings.TrimSpace(choice.Color) != "" {
				line += "\t" + choice.Color
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	}

	records := make([]core.Record, 0, len(choices))
	for _, choice := range choices {
		records = append(records, core.Record{ID: choice.ID, Fields: core.Fields{"name": choice.Name, "color": choice.Color}})
	}
	f, err := formatter()
	if err != nil {
		return err
	}
	rendered, err := f.FormatRecords(records, []string{"name", "color"})
	if err != nil {
		return err
	}
	render(cmd, rendered)
	return nil
}
