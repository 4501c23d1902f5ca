// Package errors provides structured CLI error types for the panel.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// to provide consistent, actionable error output across all commands.
package errors

import (
	"errors"
	"fmt"
)

// Exit codes for CLI errors.
const (
	ExitSuccess = 0  // Successful execution
	ExitGeneral = 1  // General error
	ExitDaemon  = 2  // Daemon unreachable or unhealthy
	ExitNetwork = 3  // Network error
	ExitConfig  = 4  // Configuration error
	ExitTimeout = 5  // Operation timeout
	ExitUpdate  = 6  // Self-update failure
	ExitUsage   = 64 // Command line usage error (BSD convention)
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the exit code for the CLI.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an existing error with a CLIError.
func Wrap(code int, message string, cause error) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// --- Common error constructors ---

// DaemonUnreachable returns an error when the local daemon does not answer.
func DaemonUnreachable(cause error) *CLIError {
	return &CLIError{
		Message: "Robot daemon is not responding",
		Hint:    "Run 'panel daemon start' to launch it, or 'panel daemon status' to inspect it",
		Cause:   cause,
		Code:    ExitDaemon,
	}
}

// DaemonNotRunning returns an error when a command needs a running daemon.
func DaemonNotRunning() *CLIError {
	return &CLIError{
		Message: "Robot daemon is not running",
		Hint:    "Run 'panel daemon start' first",
		Code:    ExitDaemon,
	}
}

// DaemonCrashed returns an error for a daemon declared crashed.
func DaemonCrashed(consecutiveTimeouts uint) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Robot daemon stopped responding (%d consecutive probe timeouts)", consecutiveTimeouts),
		Hint:    "Run 'panel daemon start' to restart it",
		Code:    ExitDaemon,
	}
}

// PermissionDenied surfaces a permission failure verbatim; it is never
// retried automatically.
func PermissionDenied(cause error) *CLIError {
	return &CLIError{
		Message: "Permission denied",
		Hint:    "Check serial port group membership (dialout) and device permissions",
		Cause:   cause,
		Code:    ExitGeneral,
	}
}

// JobNotFound returns an error for an unknown install/remove job.
func JobNotFound(jobID string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Job not found: %s", jobID),
		Hint:    "The job may have finished and been cleaned up, or the ID is incorrect",
		Code:    ExitGeneral,
	}
}

// JobFailed returns an error for a failed install/remove job.
func JobFailed(kind, target string, lastLog string) *CLIError {
	msg := fmt.Sprintf("Failed to %s %s", kind, target)

	e := &CLIError{
		Message: msg,
		Hint:    "Run 'panel daemon status' to check daemon health, then retry",
		Code:    ExitGeneral,
	}
	if lastLog != "" {
		e.Hint = fmt.Sprintf("Last job log: %s", lastLog)
	}

	return e
}

// Offline returns an error when the machine has no network connection.
func Offline() *CLIError {
	return &CLIError{
		Message: "No network connection available",
		Hint:    "Connect to a network and retry",
		Code:    ExitNetwork,
	}
}

// UpdateCheckFailed returns an error for an exhausted or fatal update check.
func UpdateCheckFailed(cause error) *CLIError {
	return &CLIError{
		Message: "Update check failed",
		Hint:    "Check your network connection, or set PANEL_UPDATE_DISABLED=1 to skip update checks",
		Cause:   cause,
		Code:    ExitUpdate,
	}
}

// DownloadStalled returns an error for a stalled update download.
func DownloadStalled(window string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Update download made no progress for %s", window),
		Hint:    "Check your network connection and retry 'panel update'",
		Code:    ExitUpdate,
	}
}

// ElevationRequired returns an error when the install location is not writable.
func ElevationRequired(path string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Cannot write to %s", path),
		Hint:    "Re-run with elevated permissions (e.g. sudo panel update)",
		Code:    ExitUpdate,
	}
}

// DeviceNotFound returns an error when the robot hardware is absent.
func DeviceNotFound() *CLIError {
	return &CLIError{
		Message: "Robot not detected",
		Hint:    "Connect the robot over USB and check the cable",
		Code:    ExitGeneral,
	}
}

// HardwareFault surfaces a latched hardware error from daemon startup.
func HardwareFault(line string) *CLIError {
	return &CLIError{
		Message: "Robot hardware error during startup",
		Hint:    line,
		Code:    ExitGeneral,
	}
}

// ConfigFailed returns an error for configuration save failures.
func ConfigFailed(operation string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    "Check file permissions for your panel config directory",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// OperationTimedOut returns an error for a bounded operation that ran out of time.
func OperationTimedOut(operation, timeout string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("%s timed out after %s", operation, timeout),
		Hint:    "The daemon may be overloaded; retry or check 'panel daemon status'",
		Code:    ExitTimeout,
	}
}
