package logging

import (
	"io"
	"log/slog"
	"os"
)

// Structured diagnostics go through slog at Debug and Warn. Operator
// conversation happens through the User* functions in user.go; the
// append-only run log lives in runlog.go.

// Verbose mirrors the verbosity flag after Setup.
var Verbose bool

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// Setup configures structured logging for the process. Text output is
// the interactive default; JSON is for collectors.
func Setup(verbose bool, jsonOutput bool, w io.Writer) {
	Verbose = verbose

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if w == nil {
		w = os.Stderr
	}

	if jsonOutput {
		logger = slog.New(slog.NewJSONHandler(w, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(w, opts))
	}
}

// Debug logs internal state, visible only with verbosity enabled.
func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

// Warn logs an anomaly the run tolerates but an operator may care about.
func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}
