package cmd

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// ExitWithCode logs err with the metadata of a foundry exit code and exits.
// A nil logger falls back to stderr.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	if logger == nil {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}

	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	if envelope, ok := err.(*errors.ErrorEnvelope); ok {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("error_message", envelope.Message),
			zap.String("correlation_id", envelope.CorrelationID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if original, ok := envelope.Original.(error); ok && original != nil {
			err = original
		}
	}
	fields = append(fields, zap.Error(err))

	logger.Error(msg, fields...)
	os.Exit(info.Code)
}

// ExitWithCodeStderr is ExitWithCode for failures before any logger exists.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	_, _ = fmt.Fprintln(os.Stderr, fatalLine(msg, err))

	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		os.Exit(int(exitCode))
	}
	_, _ = fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	os.Exit(info.Code)
}

func fatalLine(msg string, err error) string {
	if err == nil {
		return "FATAL: " + msg
	}
	if envelope, ok := err.(*errors.ErrorEnvelope); ok {
		return fmt.Sprintf("FATAL: %s [%s]: %s (correlation: %s)", msg, envelope.Code, envelope.Message, envelope.CorrelationID)
	}
	return fmt.Sprintf("FATAL: %s: %v", msg, err)
}

// ExitCodeFor picks the foundry exit code that best describes a failed
// command. Envelopes keep only the text of their cause, so raw errors should
// be classified before they are wrapped.
func ExitCodeFor(err error) foundry.ExitCode {
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		if envelope.Code == "CONFIG_INVALID" {
			return foundry.ExitConfigInvalid
		}
		return foundry.ExitFailure
	}

	switch {
	case stderrors.Is(err, syscall.EADDRINUSE):
		return foundry.ExitPortInUse
	case stderrors.Is(err, fs.ErrPermission):
		return foundry.ExitPermissionDenied
	}
	return foundry.ExitFailure
}
