// Package logging provides logging utilities for berth-ctl.
//
// This package provides three categories of output:
//   - Debug logging: Structured logs for debugging (via slog)
//   - User output: Formatted messages for end users
//   - Run log: A unified append-only log file for the whole run
//
// # Debug Logging
//
// Debug logs are written using slog and controlled by verbosity settings:
//
//	logging.Debug("starting backend", "profile", profile)
//	logging.Warn("transient docker failure", "attempt", attempt)
//
// # User Output
//
// User-facing messages are formatted with status indicators:
//
//	logging.UserInfo("Waiting for the runtime to stabilize...")
//	logging.UserSuccess("Backend %s verified", profile)
//	logging.UserWarning("Recovery step %d did not help", n)
//	logging.UserError("Job %s failed: %v", job, err)
//
// Output destinations:
//   - UserInfo, UserSuccess: stdout
//   - UserWarning, UserError: stderr
//
// # Run Log
//
// The run log receives both the interactive-filtered lines and the raw
// captured diagnostics, so an operator can reconstruct a failed run:
//
//	logging.OpenRunLog(path)
//	logging.RunLog("docker info output:\n%s", output)
//	defer logging.CloseRunLog()
//
// User output functions mirror every line into the run log when it is open.
package logging
