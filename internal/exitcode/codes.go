// Package exitcode defines structured exit codes for medic commands so
// scripts and supervisors can react to outcomes without parsing output.
//
// # Exit Code Ranges
//
//   - 0: Success
//   - 1-9: General errors (usage, internal)
//   - 10-19: Resource not found (agent, file)
//   - 50-59: Conflict/state errors (daemon already running or not running)
//   - 60-69: Recovery outcomes (agents left stalled or escalated)
//
// Extract codes from errors (works with wrapped errors):
//
//	code := exitcode.Code(err)  // Returns ErrGeneral for non-coded errors
package exitcode

import (
	"errors"
	"fmt"
)

const (
	// Success indicates the command completed successfully.
	Success = 0

	// General errors (1-9)
	ErrGeneral  = 1 // General/unknown error
	ErrUsage    = 2 // Invalid arguments, flags or configuration
	ErrInternal = 3 // Internal error (bug)

	// Resource not found (10-19)
	ErrAgentNotFound = 11 // Agent is not part of the fleet
	ErrFileNotFound  = 13 // File or path not found

	// Conflict/state errors (50-59)
	ErrAlreadyRunning = 53 // Daemon already running for the workspace
	ErrNotRunning     = 54 // Daemon not running

	// Recovery outcomes (60-69)
	ErrUnrecovered = 60 // At least one stalled agent was not recovered
	ErrEscalated   = 61 // At least one agent awaits manual intervention
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
	// Silent suppresses printing; the command already reported the outcome.
	Silent bool
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if e.Message == "" {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new coded error with printf-style formatting.
func Newf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Silent returns an error that only carries an exit code.
func Silent(code int) *Error {
	return &Error{Code: code, Silent: true}
}

// Code extracts the exit code from an error.
// Returns ErrGeneral (1) if the error doesn't have a code.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrGeneral
}

// IsSilent reports whether err should exit without printing.
func IsSilent(err error) bool {
	var coded *Error
	return errors.As(err, &coded) && coded.Silent
}

// Is checks if an error has a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}

// AgentNotFound returns an error for an agent outside the fleet.
func AgentNotFound(name string) *Error {
	return Newf(ErrAgentNotFound, "unknown agent %q", name)
}

// FileNotFound returns an error for a missing file.
func FileNotFound(path string) *Error {
	return Newf(ErrFileNotFound, "file not found: %s", path)
}
