package errors

import (
	"errors"
	"fmt"
	"time"
)

// Exit codes for berth-ctl
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitConfigError    = 2
	ExitGuardRefused   = 3
	ExitReaperFailed   = 4
	ExitTimeout        = 5
	ExitBackendFailed  = 6
	ExitSuperviseError = 7
	ExitJobFailed      = 8
)

// BerthError is the base error type for berth-ctl
type BerthError struct {
	Code    int
	Message string
	Cause   error
}

func (e *BerthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BerthError) Unwrap() error {
	return e.Cause
}

// ExitCode returns the exit code for this error
func (e *BerthError) ExitCode() int {
	return e.Code
}

// New creates a new BerthError
func New(code int, message string) *BerthError {
	return &BerthError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a BerthError
func Wrap(code int, message string, cause error) *BerthError {
	return &BerthError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Common error constructors

// ConfigError returns an error for configuration issues
func ConfigError(message string, cause error) *BerthError {
	return Wrap(ExitConfigError, message, cause)
}

// GuardRefused returns an error for a refused destructive action.
// No partial action has been taken when this error is returned.
func GuardRefused(message string) *BerthError {
	return New(ExitGuardRefused, message)
}

// ReaperFailed returns an error when the process stack is not fully stopped
func ReaperFailed(remaining []string) *BerthError {
	return New(ExitReaperFailed, fmt.Sprintf("processes still running after kill escalation: %v (reboot may be required)", remaining))
}

// Timeout returns an error for a readiness gate exceeding its budget
func Timeout(what string, budget time.Duration) *BerthError {
	return New(ExitTimeout, fmt.Sprintf("timed out waiting for %s after %s", what, budget))
}

// BackendFailed returns an error for backend operations
func BackendFailed(op string, cause error) *BerthError {
	return Wrap(ExitBackendFailed, fmt.Sprintf("backend %s failed", op), cause)
}

// SuperviseError returns an error for supervision registration failures
func SuperviseError(message string, cause error) *BerthError {
	return Wrap(ExitSuperviseError, message, cause)
}

// JobsFailed returns an error summarizing failed container jobs
func JobsFailed(failed int, total int) *BerthError {
	return New(ExitJobFailed, fmt.Sprintf("%d of %d container jobs failed", failed, total))
}

// GetExitCode extracts the exit code from an error
func GetExitCode(err error) int {
	var berthErr *BerthError
	if errors.As(err, &berthErr) {
		return berthErr.ExitCode()
	}
	return ExitGeneralError
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}
