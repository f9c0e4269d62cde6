// Package errors provides typed errors with exit codes for berth-ctl.
//
// # Error Types
//
// BerthError is the base error type that wraps an error with an exit code:
//
//	type BerthError struct {
//	    Code    int    // Exit code
//	    Message string // User-facing message
//	    Cause   error  // Wrapped error
//	}
//
// # Exit Codes
//
// Defined exit codes for different error categories:
//
//	ExitSuccess        = 0  // Success
//	ExitGeneralError   = 1  // General/unknown errors
//	ExitConfigError    = 2  // Configuration error
//	ExitGuardRefused   = 3  // Destructive action refused by the preflight guard
//	ExitReaperFailed   = 4  // Process stack could not be fully stopped
//	ExitTimeout        = 5  // A readiness gate or verification exceeded its budget
//	ExitBackendFailed  = 6  // VM backend provisioning or verification failed
//	ExitSuperviseError = 7  // Supervision registration failed
//	ExitJobFailed      = 8  // One or more container jobs ended in failure
//
// # Error Constructors
//
// Use the provided constructors for consistent error creation:
//
//	errors.ConfigError("profile name required", nil)
//	errors.GuardRefused("reset requested without confirmation")
//	errors.Timeout("api readiness", maxWait)
//	errors.BackendFailed("start", err)
//
// # Extracting Exit Codes
//
// Use GetExitCode to extract the exit code from an error chain:
//
//	if err != nil {
//	    os.Exit(errors.GetExitCode(err))
//	}
package errors
