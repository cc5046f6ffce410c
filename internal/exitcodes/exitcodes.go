// Package exitcodes defines the process exit codes of the loader CLI so that
// schedulers (cron, Airflow, Kubernetes jobs) can decide whether to retry.
package exitcodes

import (
	"errors"
	"os"
	"strings"
)

const (
	// Success - every table loaded and swapped
	Success = 0

	// ConfigError - missing or invalid configuration (non-recoverable, don't retry)
	ConfigError = 1

	// ConnectionError - source, warehouse or staging store unreachable (recoverable)
	ConnectionError = 2

	// TableError - the run finished but one or more tables failed (recoverable)
	TableError = 3

	// ValidationError - post-load row count validation failed (non-recoverable)
	ValidationError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 5

	// StateError - run history or lock file problems, or a run already in progress
	StateError = 6

	// IOError - local file I/O errors (recoverable)
	IOError = 7

	// SwapError - a swap transaction rolled back; the destination kept its prior data
	SwapError = 8
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error.
// Typed ExitErrors win; otherwise the message is classified by keyword.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return IOError
	}

	if containsAny(errStr, []string{
		"row count",
		"validation failed",
	}) {
		return ValidationError
	}

	if containsAny(errStr, []string{
		"yaml:",
		"unmarshal",
		"invalid configuration",
		"missing required",
		"invalid value",
		"parsing config",
		"secret",
	}) && !containsAny(errStr, []string{"connection", "connect", "dial"}) {
		return ConfigError
	}

	if containsAny(errStr, []string{
		"swap",
		"rolled back",
	}) {
		return SwapError
	}

	if containsAny(errStr, []string{
		"connection",
		"connect",
		"dial",
		"refused",
		"timeout",
		"unreachable",
		"no such host",
		"network",
		"ping",
		"login failed",
		"authentication",
		"nosuchbucket",
		"access denied",
	}) {
		return ConnectionError
	}

	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
		"context canceled",
		"context deadline",
	}) {
		return Cancelled
	}

	if containsAny(errStr, []string{
		"already running",
		"in progress",
		"lock",
		"history",
		"run not found",
	}) {
		return StateError
	}

	return TableError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, TableError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case ConnectionError:
		return "connection error (recoverable)"
	case TableError:
		return "table failures (recoverable)"
	case ValidationError:
		return "validation error"
	case Cancelled:
		return "cancelled (recoverable)"
	case StateError:
		return "state error"
	case IOError:
		return "I/O error (recoverable)"
	case SwapError:
		return "swap transaction error"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
