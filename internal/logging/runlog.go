package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// The run log is a unified append-only file receiving both the
// interactive-filtered output and raw captured diagnostics. A single
// run log is open at a time; writes are timestamped and line-oriented.

var (
	runLogMu sync.Mutex
	runLog   io.WriteCloser
)

// OpenRunLog opens (creating parent directories as needed) the unified
// run log at path in append mode. A previously open run log is closed.
func OpenRunLog(path string) error {
	runLogMu.Lock()
	defer runLogMu.Unlock()

	if runLog != nil {
		runLog.Close()
		runLog = nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}

	runLog = f
	return nil
}

// SetRunLogWriter redirects the run log to an arbitrary writer (useful for testing).
func SetRunLogWriter(w io.WriteCloser) {
	runLogMu.Lock()
	defer runLogMu.Unlock()
	runLog = w
}

// CloseRunLog closes the run log if one is open.
func CloseRunLog() {
	runLogMu.Lock()
	defer runLogMu.Unlock()
	if runLog != nil {
		runLog.Close()
		runLog = nil
	}
}

// RunLog appends a formatted line to the run log. A no-op when no run
// log is open, so callers never need to guard their calls.
func RunLog(format string, args ...interface{}) {
	runLogMu.Lock()
	defer runLogMu.Unlock()
	if runLog == nil {
		return
	}
	ts := time.Now().Format(time.RFC3339)
	fmt.Fprintf(runLog, "%s %s\n", ts, fmt.Sprintf(format, args...))
}

// RunLogRaw appends a raw block (e.g. captured command output) to the run
// log under a header line, preserving the block verbatim.
func RunLogRaw(header string, block string) {
	runLogMu.Lock()
	defer runLogMu.Unlock()
	if runLog == nil {
		return
	}
	ts := time.Now().Format(time.RFC3339)
	fmt.Fprintf(runLog, "%s --- %s ---\n%s\n", ts, header, block)
}
