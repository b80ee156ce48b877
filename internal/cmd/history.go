package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/store"
	"github.com/xwander/tablewright/internal/observability"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the journal of past bulk runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journaled runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := runQueryFromFlags(cmd)
		if err != nil {
			return err
		}

		st, closeStore, err := journalStore(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		runs, err := st.ListRuns(cmd.Context(), q)
		if err != nil {
			return err
		}

		f, err := formatter()
		if err != nil {
			return err
		}
		rendered, err := f.FormatRuns(runs)
		if err != nil {
			return err
		}
		render(cmd, rendered)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its per-item failures",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeStore, err := journalStore(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		run, err := st.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return &core.NotFoundError{ResourceType: "run", ResourceID: args[0]}
		}

		f, err := formatter()
		if err != nil {
			return err
		}
		rendered, err := f.FormatBatch(run.BatchResult())
		if err != nil {
			return err
		}
		render(cmd, fmt.Sprintf("Run %s (%s)\n%s", run.ID, run.StartedAt.Local().Format(time.RFC3339), rendered))
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than a cutoff",
	Long: `Delete journaled runs that started before now minus --older-than.
Without --older-than the configured journal.retention is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if olderThan <= 0 {
			olderThan = cfg.Journal.Retention
		}
		if olderThan <= 0 {
			return &core.ValidationError{Field: "older-than", Detail: "no cutoff given and journal.retention is not set"}
		}

		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		cutoff := time.Now().Add(-olderThan)
		removed, err := st.PruneRuns(cmd.Context(), cutoff)
		if err != nil {
			return err
		}

		observability.CLILogger.Info(fmt.Sprintf("✅ Removed %d runs started before %s", removed, cutoff.Format(time.RFC3339)),
			zap.Int64("removed", removed))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)

	historyListCmd.Flags().String("table", "", "only runs against this table")
	historyListCmd.Flags().String("operation", "", "only runs of this operation")
	historyListCmd.Flags().Duration("since", 0, "only runs started within this long ago")
	historyListCmd.Flags().Int("limit", 20, "maximum runs to show")

	historyPruneCmd.Flags().Duration("older-than", 0, "remove runs older than this (default journal.retention)")
}

// journalStore opens the run journal named by the configuration.
func journalStore(cmd *cobra.Command) (*store.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

// runQueryFromFlags reads the history list filters. --base is optional here.
func runQueryFromFlags(cmd *cobra.Command) (store.RunQuery, error) {
	table, _ := cmd.Flags().GetString("table")
	operation, _ := cmd.Flags().GetString("operation")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")

	q := store.RunQuery{BaseID: strings.TrimSpace(viper.GetString("base")), Table: table, Limit: limit}
	if operation != "" {
		op, err := core.ParseOperation(strings.ToLower(operation))
		if err != nil {
			return q, &core.ValidationError{Field: "operation", Detail: err.Error()}
		}
		q.Operation = op
	}
	if since > 0 {
		q.Since = time.Now().Add(-since)
	}
	return q, nil
}
