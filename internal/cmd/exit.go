package cmd

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/kosmostars/spacefeed/internal/core"
)

// ExitWithCode logs err with the foundry exit code metadata and exits.
// logger may be nil for failures before logging is set up.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	if logger == nil {
		writeFatal(msg, err)
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	fields = append(fields, errorFields(err)...)
	logger.Error(msg, fields...)
	os.Exit(info.Code)
}

// ExitWithCodeStderr writes to stderr only. Used before the logger exists.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}
	writeFatal(msg, err)
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	os.Exit(info.Code)
}

// exitCodeForOutcomes picks the exit code for a strict fetch run. Storage
// failures win over network failures, which win over upstream failures.
func exitCodeForOutcomes(outcomes []*core.FetchOutcome) foundry.ExitCode {
	code := foundry.ExitSuccess
	rank := 0
	for _, outcome := range outcomes {
		if outcome == nil || outcome.OK() {
			continue
		}
		c, r := foundry.ExitExternalServiceUnavailable, 1
		switch outcome.Err.Kind {
		case core.KindStorage:
			c, r = foundry.ExitDatabaseUnavailable, 3
		case core.KindTransport:
			c, r = foundry.ExitNetworkUnreachable, 2
		}
		if r > rank {
			code, rank = c, r
		}
	}
	return code
}

// errorFields flattens envelopes and fetch errors into log fields.
func errorFields(err error) []zap.Field {
	if err == nil {
		return nil
	}
	var fields []zap.Field
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("correlation_id", envelope.CorrelationID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if original, ok := envelope.Original.(error); ok && original != nil {
			err = original
		}
	}
	var fe *core.FetchError
	if stderrors.As(err, &fe) {
		fields = append(fields,
			zap.String("source", string(fe.Source)),
			zap.String("kind", string(fe.Kind)),
			zap.Int("attempts", fe.Attempts),
		)
		if fe.Status != 0 {
			fields = append(fields, zap.Int("upstream_status", fe.Status))
		}
	}
	return append(fields, zap.Error(err))
}

func writeFatal(msg string, err error) {
	var envelope *errors.ErrorEnvelope
	switch {
	case err == nil:
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	case stderrors.As(err, &envelope):
		fmt.Fprintf(os.Stderr, "FATAL: %s [%s]: %v (correlation: %s)\n",
			msg, envelope.Code, envelope.Message, envelope.CorrelationID)
		if original, ok := envelope.Original.(error); ok && original != nil {
			fmt.Fprintf(os.Stderr, "Underlying error: %v\n", original)
		}
	default:
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	}
}
