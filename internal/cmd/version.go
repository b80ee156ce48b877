package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xwander/tablewright/internal/appid"
	"github.com/xwander/tablewright/internal/output"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the build version. --extended adds the commit, build date and foundation library versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		rendered, err := output.FormatVersion(format, appid.Describe(appid.Get()), extended)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show commit, build date and library versions")
}
