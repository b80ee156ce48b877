package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/appid"
	"github.com/xwander/tablewright/internal/config"
	"github.com/xwander/tablewright/internal/observability"
)

type envSection struct {
	title string
	rows  [][2]string
}

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display build, runtime and effective configuration, including the upstream limits applied to every base.",
	Run: func(cmd *cobra.Command, args []string) {
		report := appid.Describe(appid.Get())
		sections := []envSection{
			{title: "Application", rows: [][2]string{
				{"Name", report.Name},
				{"Version", report.Build.Version},
				{"Commit", report.Build.Commit},
				{"Built", report.Build.Date},
			}},
			{title: "Runtime", rows: [][2]string{
				{"Go", report.Dependencies.Go},
				{"Gofulmen", report.Dependencies.Gofulmen},
				{"Crucible", report.Dependencies.Crucible},
				{"Platform", report.Runtime.Platform},
				{"CPUs", strconv.Itoa(report.Runtime.NumCPU)},
			}},
		}

		cfg, err := loadConfig()
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
		} else {
			sections = append(sections, configSections(cfg)...)
		}

		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.SetTitle(report.Name + " environment")
		for i, section := range sections {
			if i > 0 {
				t.AppendSeparator()
			}
			for j, row := range section.rows {
				title := ""
				if j == 0 {
					title = section.title
				}
				t.AppendRow(table.Row{title, row[0], row[1]})
			}
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	},
}

func configSections(cfg *config.Config) []envSection {
	journal := cfg.Store.Path
	if strings.TrimSpace(cfg.Store.URL) != "" {
		journal = cfg.Store.URL
	}
	retention := "forever"
	if cfg.Journal.Retention > 0 {
		retention = cfg.Journal.Retention.String()
	}
	mergeOn := "-"
	if len(cfg.Batch.MergeOn) > 0 {
		mergeOn = strings.Join(cfg.Batch.MergeOn, ", ")
	}

	return []envSection{
		{title: "Service", rows: [][2]string{
			{"Base URL", cfg.API.BaseURL},
			{"Token", setStatus(cfg.API.Token)},
			{"Timeout", cfg.API.Timeout.String()},
			{"Rate limit", fmt.Sprintf("%g req/s, burst %d", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)},
			{"Chunk size", strconv.Itoa(cfg.Batch.ChunkSize)},
			{"Typecast", strconv.FormatBool(cfg.Batch.Typecast)},
			{"Merge on", mergeOn},
			{"Schema TTL", cfg.SchemaCache.TTL.String()},
		}},
		{title: "Journal", rows: [][2]string{
			{"Enabled", strconv.FormatBool(cfg.Journal.Enabled)},
			{"Driver", cfg.Store.Driver},
			{"Location", journal},
			{"Retention", retention},
		}},
		{title: "Server", rows: [][2]string{
			{"Listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)},
			{"Metrics port", strconv.Itoa(cfg.Metrics.Port)},
			{"Log level", cfg.Logging.Level},
			{"Config file", config.DefaultConfigPath()},
		}},
	}
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}

func setStatus(value string) string {
	if strings.TrimSpace(value) != "" {
		return "(set)"
	}
	return "(not set)"
}
