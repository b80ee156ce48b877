package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/core"
)

var (
	// CLILogger writes human-oriented progress for commands (SIMPLE profile).
	CLILogger *logging.Logger

	// ServerLogger writes JSON for the automation server (STRUCTURED profile).
	ServerLogger *logging.Logger
)

// EnvironmentVar overrides the environment label on server log lines.
const EnvironmentVar = "TABLEWRIGHT_ENV"

// InitCLILogger initializes CLILogger. verbose lowers the level to DEBUG so
// chunk-level batch progress and rate limiter waits become visible.
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// InitServerLogger initializes ServerLogger. The optional namespace becomes a
// static field on every line.
func InitServerLogger(serviceName string, logLevel string, namespace ...string) {
	ns := ""
	if len(namespace) > 0 {
		ns = namespace[0]
	}

	logger, err := logging.New(ServerLoggerConfig(serviceName, logLevel, ns))
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
	}
	ServerLogger = logger
}

// ServerLoggerConfig builds the structured logger configuration used by serve.
func ServerLoggerConfig(serviceName, logLevel, namespace string) *logging.LoggerConfig {
	static := map[string]any{}
	if namespace != "" {
		static["namespace"] = namespace
	}

	environment := strings.TrimSpace(os.Getenv(EnvironmentVar))
	if environment == "" {
		environment = "production"
	}

	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: normalizeLevel(logLevel),
		Service:      serviceName,
		Environment:  environment,
		StaticFields: static,
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:    "console",
				Format:  "json",
				Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// Logger returns the server logger when serving and the CLI logger otherwise.
// It is nil before either is initialized.
func Logger() *logging.Logger {
	if ServerLogger != nil {
		return ServerLogger
	}
	return CLILogger
}

// BatchFields is the field set every batch log line carries.
func BatchFields(result *core.BatchResult) []zap.Field {
	if result == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("operation", string(result.Operation)),
		zap.String("base", result.Target.BaseID),
		zap.String("table", result.Target.Table),
		zap.Int("total", result.Total),
		zap.Int("successful", result.Successful),
		zap.Int("failed", len(result.Failed)),
		zap.Int("chunks", result.ChunksIssued),
		zap.String("status", string(result.Status())),
	}
	if result.Retries > 0 {
		fields = append(fields, zap.Int("retries", result.Retries))
	}
	if result.Aborted {
		fields = append(fields, zap.String("abort_reason", result.AbortReason))
	}
	return fields
}

func normalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

// exitWithCodeStderr reports a fatal setup error before any logger exists.
func exitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	}
	if info, ok := foundry.GetExitCodeInfo(exitCode); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}
	os.Exit(int(exitCode))
}
