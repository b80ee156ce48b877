package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/appid"
	"github.com/xwander/tablewright/internal/config"
	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/store"
	"github.com/xwander/tablewright/internal/observability"
)

type checkState int

const (
	checkPass checkState = iota
	checkWarn
	checkSkip
	checkFail
)

func (s checkState) String() string {
	switch s {
	case checkPass:
		return "✅ ok"
	case checkWarn:
		return "⚠️  warn"
	case checkSkip:
		return "➖ skip"
	default:
		return "❌ fail"
	}
}

type checkOutcome struct {
	state  checkState
	detail string
	err    error
}

func pass(format string, args ...any) checkOutcome {
	return checkOutcome{state: checkPass, detail: fmt.Sprintf(format, args...)}
}

func warn(err error, format string, args ...any) checkOutcome {
	return checkOutcome{state: checkWarn, detail: fmt.Sprintf(format, args...), err: err}
}

func skip(reason string) checkOutcome {
	return checkOutcome{state: checkSkip, detail: reason}
}

// doctorEnv carries what earlier checks learned to later ones.
type doctorEnv struct {
	cfg    *config.Config
	cfgErr error
}

func (e *doctorEnv) tokenSet() bool {
	return e.cfgErr == nil && strings.TrimSpace(e.cfg.API.Token) != ""
}

type doctorCheck struct {
	name string
	run  func(ctx context.Context, env *doctorEnv) checkOutcome
}

var doctorChecks = []doctorCheck{
	{"Go runtime", func(context.Context, *doctorEnv) checkOutcome {
		if v := runtime.Version(); v >= "go1.23" {
			return pass("%s", v)
		}
		return warn(nil, "%s (go1.23+ recommended)", runtime.Version())
	}},
	{"Foundation libraries", func(context.Context, *doctorEnv) checkOutcome {
		v := crucible.GetVersion()
		if v.Gofulmen == "" || v.Crucible == "" {
			return checkOutcome{state: checkFail, detail: "gofulmen or crucible version unavailable"}
		}
		return pass("gofulmen %s, crucible %s", v.Gofulmen, v.Crucible)
	}},
	{"Config file", func(context.Context, *doctorEnv) checkOutcome {
		path := config.DefaultConfigPath()
		if path == "" {
			return checkOutcome{state: checkFail, detail: "config directory not resolved"}
		}
		if used := viper.ConfigFileUsed(); used != "" {
			path = used
		}
		return pass("%s (%s)", path, existenceStatus(fileExists(path)))
	}},
	{"Configuration", func(_ context.Context, env *doctorEnv) checkOutcome {
		if env.cfgErr != nil {
			return warn(env.cfgErr, "invalid")
		}
		return pass("%s, %g req/s per base, chunks of %d", env.cfg.API.BaseURL, env.cfg.RateLimit.RequestsPerSecond, env.cfg.Batch.ChunkSize)
	}},
	{"API token", func(_ context.Context, env *doctorEnv) checkOutcome {
		switch {
		case env.cfgErr != nil:
			return skip("config not loaded")
		case env.tokenSet():
			return pass("set")
		default:
			return warn(nil, "not set (api.token, %s or %s)", appid.EnvVar("API_TOKEN"), config.TokenFallbackEnv)
		}
	}},
	{"Run journal", checkJournal},
	{"Upstream access", checkUpstream},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the installation, configuration, run journal and upstream access.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := &doctorEnv{}
		env.cfg, env.cfgErr = loadConfig()

		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.SetTitle(appid.Get().BinaryName + " doctor")
		t.AppendHeader(table.Row{"#", "Check", "Result", "Detail"})

		worst := checkPass
		for i, check := range doctorChecks {
			outcome := check.run(cmd.Context(), env)
			if outcome.state > worst && outcome.state != checkSkip {
				worst = outcome.state
			}
			detail := outcome.detail
			if outcome.err != nil {
				detail = fmt.Sprintf("%s: %v", detail, outcome.err)
				observability.CLILogger.Debug("doctor check failed", zap.String("check", check.name), zap.Error(outcome.err))
			}
			t.AppendRow(table.Row{i + 1, check.name, outcome.state.String(), detail})
		}

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintln(out, t.Render())
		switch worst {
		case checkPass:
			_, _ = fmt.Fprintln(out, "All checks passed.")
		case checkWarn:
			_, _ = fmt.Fprintln(out, "Some checks need attention.")
		default:
			return fmt.Errorf("doctor found a failing check")
		}
		return nil
	},
}

func checkJournal(ctx context.Context, env *doctorEnv) checkOutcome {
	switch {
	case env.cfgErr != nil:
		return skip("config not loaded")
	case !env.cfg.Journal.Enabled:
		return pass("disabled")
	}

	st, err := openStore(ctx, env.cfg)
	if err != nil {
		return warn(err, "cannot open")
	}
	defer st.Close() //nolint:errcheck

	if err := st.CheckHealth(ctx); err != nil {
		return warn(err, "unhealthy")
	}

	location := st.Location()
	if env.cfg.Store.URL == "" {
		if abs, absErr := filepath.Abs(env.cfg.Store.Path); absErr == nil {
			location = abs
			if info, statErr := os.Stat(abs); statErr == nil {
				location = fmt.Sprintf("%s (%s)", abs, formatFileSize(info.Size()))
			}
		}
	}
	version, _ := st.SchemaVersion(ctx)

	last := "no runs yet"
	if runs, err := st.ListRuns(ctx, store.RunQuery{Limit: 1}); err == nil && len(runs) > 0 {
		last = "last run " + formatTimeAgo(runs[0].StartedAt)
	}
	return pass("%s, schema v%d, %s", location, version, last)
}

func checkUpstream(ctx context.Context, env *doctorEnv) checkOutcome {
	if !env.tokenSet() {
		return skip("no token")
	}

	s, err := openSession(ctx)
	if err != nil {
		return warn(err, "session")
	}
	defer s.Close()

	listCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	bases, err := s.client.ListBases(listCtx)
	if err != nil {
		return warn(err, "%s", core.Kind(err))
	}
	return pass("%d bases visible", len(bases))
}

var (
	doctorInitForce   bool
	doctorInitToken   string
	doctorResetConfig bool
	doctorResetData   bool
	doctorResetAll    bool
)

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigPath()
		if path == "" {
			return fmt.Errorf("config path not resolved")
		}
		if fileExists(path) && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		}

		token := strings.TrimSpace(doctorInitToken)
		if strings.EqualFold(token, "prompt") {
			value, err := promptForValue(cmd.InOrStdin(), cmd.OutOrStdout(), "API token (blank to skip): ")
			if err != nil {
				return err
			}
			token = value
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		// A config holding a token is readable by its owner only.
		mode := os.FileMode(0644)
		if token != "" {
			mode = 0600
		}
		if err := os.WriteFile(path, []byte(buildInitConfig(token)), mode); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", path))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration paths and effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Setting", "Value"})

		configPath := config.DefaultConfigPath()
		t.AppendRow(table.Row{"config file", fmt.Sprintf("%s (%s)", configPath, existenceStatus(fileExists(configPath)))})
		if dataDir := config.DefaultDataDir(); dataDir != "" {
			t.AppendRow(table.Row{"data directory", fmt.Sprintf("%s (%s)", dataDir, existenceStatus(fileExists(dataDir)))})
		}
		for _, name := range []string{appid.EnvVar("API_TOKEN"), config.TokenFallbackEnv, appid.EnvVar("BASE")} {
			t.AppendRow(table.Row{"$" + name, setStatus(os.Getenv(name))})
		}

		cfg, err := loadConfig()
		if err != nil {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return err
		}

		t.AppendSeparator()
		journal := cfg.Store.URL
		if journal == "" {
			journal, _ = filepath.Abs(cfg.Store.Path)
		}
		for _, row := range [][2]string{
			{"api.base_url", cfg.API.BaseURL},
			{"rate_limit.requests_per_second", fmt.Sprintf("%g", cfg.RateLimit.RequestsPerSecond)},
			{"rate_limit.burst", fmt.Sprintf("%d", cfg.RateLimit.Burst)},
			{"batch.chunk_size", fmt.Sprintf("%d", cfg.Batch.ChunkSize)},
			{"schema_cache.ttl", cfg.SchemaCache.TTL.String()},
			{"journal.enabled", fmt.Sprintf("%t", cfg.Journal.Enabled)},
			{"journal location", journal},
		} {
			t.AppendRow(table.Row{row[0], row[1]})
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return nil
	},
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove the user config file and/or the local run journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig, doctorResetData = true, true
		}
		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		// Resolve the journal while the config file still exists.
		var targets []string
		if doctorResetData {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Store.URL != "" {
				return fmt.Errorf("remote store configured; journal reset is not supported")
			}
			journal, _ := filepath.Abs(cfg.Store.Path)
			targets = append(targets, journal, journal+"-wal", journal+"-shm")
		}
		if doctorResetConfig {
			if path := config.DefaultConfigPath(); path != "" {
				targets = append([]string{path}, targets...)
			}
		}

		for _, path := range targets {
			err := os.Remove(path)
			switch {
			case err == nil:
				observability.CLILogger.Info("Removed", zap.String("path", path))
			case os.IsNotExist(err):
				observability.CLILogger.Debug("Already absent", zap.String("path", path))
			default:
				return fmt.Errorf("remove %s: %w", path, err)
			}
		}
		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.ConfigFileUsed()
		if path == "" {
			path = config.DefaultConfigPath()
		}
		if !fileExists(path) {
			return fmt.Errorf("config file not found: %s", path)
		}
		if _, err := loadConfig(); err != nil {
			return err
		}
		observability.CLILogger.Info("Config is valid", zap.String("path", path))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd, doctorConfigCmd, doctorResetCmd, doctorValidateCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
	doctorInitCmd.Flags().StringVar(&doctorInitToken, "token", "", "API token to store, or 'prompt' to enter it")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local run journal")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and journal")
}

func formatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d bytes", bytes)
	}
	value, suffix := float64(bytes)/unit, "KB"
	for _, next := range []string{"MB", "GB"} {
		if value < unit {
			break
		}
		value, suffix = value/unit, next
	}
	return fmt.Sprintf("%.1f %s", value, suffix)
}

func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s ago", unit)
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "min")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func buildInitConfig(token string) string {
	tokenLine := fmt.Sprintf("  # token: \"\"  # or set %s / %s", appid.EnvVar("API_TOKEN"), config.TokenFallbackEnv)
	if token != "" {
		tokenLine = fmt.Sprintf("  token: %q", token)
	}

	return strings.Join([]string{
		fmt.Sprintf("# %s config, written by '%s doctor init'", appid.BinaryName, appid.BinaryName),
		"api:",
		"  base_url: https://api.airtable.com",
		tokenLine,
		"rate_limit:",
		"  requests_per_second: 5",
		"  burst: 5",
		"batch:",
		fmt.Sprintf("  chunk_size: %d", core.MaxChunkSize),
		"  typecast: false",
		"schema_cache:",
		"  ttl: 5m",
		"journal:",
		"  enabled: true",
		"  retention: 720h",
	}, "\n") + "\n"
}

func promptForValue(in io.Reader, out io.Writer, prompt string) (string, error) {
	if _, err := fmt.Fprint(out, prompt); err != nil {
		return "", err
	}
	value, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}
