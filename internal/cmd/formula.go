package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xwander/tablewright/internal/core/formula"
)

var formulaCmd = &cobra.Command{
	Use:   "formula <predicate-json>",
	Short: "Render a JSON predicate as a filter formula",
	Long: `Compile a JSON predicate and print the formula it renders to, with the
URL-encoded form used in requests. Nothing is sent to the service.

  formula '{"op":"in","field":"Status","values":["Todo","Doing"]}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pred, err := parsePredicate(args[0])
		if err != nil {
			return err
		}
		f := pred.Compile()
		return printFormula(cmd, f)
	},
}

func printFormula(cmd *cobra.Command, f formula.Formula) error {
	expr, err := f.Build()
	if err != nil {
		return err
	}
	encoded, err := f.Encode()
	if err != nil {
		return err
	}
	encodedOnly, _ := cmd.Flags().GetBool("encoded")
	if encodedOnly {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), encoded)
		return nil
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), expr)
	if verbose {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), encoded)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(formulaCmd)
	formulaCmd.Flags().Bool("encoded", false, "print only the URL-encoded form")
}
