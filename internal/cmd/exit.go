package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/core"
)

// errPartialBatch marks a bulk run that finished with per-item failures.
var errPartialBatch = stderrors.New("some records failed")

// ExitCodeFor maps a command error to the process exit code.
func ExitCodeFor(err error) foundry.ExitCode {
	if err == nil {
		return foundry.ExitCode(0)
	}
	if stderrors.Is(err, errPartialBatch) {
		return foundry.ExitFailure
	}
	switch core.Kind(err) {
	case core.KindAuthentication:
		return foundry.ExitConfigInvalid
	case core.KindRateLimited, core.KindService, core.KindCanceled:
		return foundry.ExitExternalServiceUnavailable
	case core.KindNotFound:
		return foundry.ExitFileNotFound
	default:
		return foundry.ExitFailure
	}
}

// exitReport is everything logged about a fatal error before exiting.
type exitReport struct {
	code     int
	name     string
	summary  string
	category string
	envelope *errors.ErrorEnvelope
	cause    error
}

func describeExit(exitCode foundry.ExitCode, err error) exitReport {
	report := exitReport{code: int(exitCode), cause: err}
	if info, ok := foundry.GetExitCodeInfo(exitCode); ok {
		report.code = info.Code
		report.name = info.Name
		report.summary = info.Description
		report.category = info.Category
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		report.envelope = envelope
		if original, ok := envelope.Original.(error); ok && original != nil {
			report.cause = original
		}
	}
	return report
}

func (r exitReport) fields() []zap.Field {
	fields := []zap.Field{
		zap.Int("exit_code", r.code),
		zap.String("exit_name", r.name),
		zap.String("exit_category", r.category),
	}
	if kind := core.Kind(r.cause); kind != "" && kind != core.KindUnknown {
		fields = append(fields, zap.String("error_kind", string(kind)))
	}
	if r.envelope != nil {
		fields = append(fields,
			zap.String("error_code", r.envelope.Code),
			zap.String("correlation_id", r.envelope.CorrelationID))
		if len(r.envelope.Context) > 0 {
			fields = append(fields, zap.Any("error_context", r.envelope.Context))
		}
	}
	return append(fields, zap.Error(r.cause))
}

func (r exitReport) write(w io.Writer, msg string) {
	switch {
	case r.envelope != nil:
		_, _ = fmt.Fprintf(w, "FATAL: %s [%s]: %s (correlation: %s)\n", msg, r.envelope.Code, r.envelope.Message, r.envelope.CorrelationID)
		if r.cause != nil && r.cause != error(r.envelope) {
			_, _ = fmt.Fprintf(w, "Cause: %v\n", r.cause)
		}
	case r.cause != nil:
		_, _ = fmt.Fprintf(w, "FATAL: %s: %v\n", msg, r.cause)
	default:
		_, _ = fmt.Fprintf(w, "FATAL: %s\n", msg)
	}
	if r.name != "" {
		_, _ = fmt.Fprintf(w, "Exit Code: %d (%s) - %s\n", r.code, r.name, r.summary)
	} else {
		_, _ = fmt.Fprintf(w, "Exit Code: %d\n", r.code)
	}
}

// ExitWithCode logs err with its exit code metadata and terminates the process.
// A nil logger falls back to stderr.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	report := describeExit(exitCode, err)
	if logger == nil {
		report.write(os.Stderr, msg)
	} else {
		logger.Error(msg, report.fields()...)
	}
	os.Exit(report.code)
}

// ExitWithCodeStderr is ExitWithCode for failures before any logger exists.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	report := describeExit(exitCode, err)
	report.write(os.Stderr, msg)
	os.Exit(report.code)
}
