// Package reaper terminates the process stack matching a set of name
// patterns, escalating signal strength.
//
// Termination is a two-phase state machine: Terminating (SIGTERM, polled
// up to the grace period) then Killing (SIGKILL, one short poll). If any
// match survives both phases the reaper reports Failed and the caller
// must not proceed against a half-dead stack.
package reaper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/berth-engineering/berth-ctl/internal/logging"
	"github.com/berth-engineering/berth-ctl/internal/system"
)

// State is the reaper's position in the termination state machine.
type State int

const (
	StateIdle State = iota
	StateTerminating
	StateKilling
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTerminating:
		return "terminating"
	case StateKilling:
		return "killing"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrStillRunning reports matches that survived the full escalation.
type ErrStillRunning struct {
	Remaining []string
}

func (e *ErrStillRunning) Error() string {
	return fmt.Sprintf("processes still running after kill escalation: %s", strings.Join(e.Remaining, ", "))
}

// Reaper kills processes owned by User whose command lines match any of
// Patterns.
type Reaper struct {
	Exec     system.CommandExecutor
	User     string
	Patterns []string
	Grace    time.Duration
	Poll     time.Duration

	// kill delivers a signal to one pid; overridable in tests.
	kill func(pid int, sig unix.Signal) error
}

// New creates a Reaper with the given process patterns.
func New(exec system.CommandExecutor, user string, patterns []string, grace time.Duration) *Reaper {
	return &Reaper{
		Exec:     exec,
		User:     user,
		Patterns: patterns,
		Grace:    grace,
		Poll:     time.Second,
		kill:     func(pid int, sig unix.Signal) error { return unix.Kill(pid, sig) },
	}
}

// Kill runs the full escalation and returns the final state. StateStopped
// means no match remains; StateFailed is accompanied by *ErrStillRunning.
func (r *Reaper) Kill(ctx context.Context) (State, error) {
	matches, err := r.matches(ctx)
	if err != nil {
		return StateFailed, err
	}
	if len(matches) == 0 {
		logging.Debug("reaper found nothing to kill", "patterns", r.Patterns)
		return StateStopped, nil
	}

	logging.Debug("reaper state change", "state", StateTerminating, "pids", pidList(matches))
	r.signalAll(matches, unix.SIGTERM)

	if r.pollUntilGone(ctx, r.Grace) {
		return StateStopped, nil
	}

	matches, err = r.matches(ctx)
	if err != nil {
		return StateFailed, err
	}
	if len(matches) == 0 {
		return StateStopped, nil
	}

	logging.Debug("reaper state change", "state", StateKilling, "pids", pidList(matches))
	r.signalAll(matches, unix.SIGKILL)

	if r.pollUntilGone(ctx, 2*r.Poll) {
		return StateStopped, nil
	}

	matches, err = r.matches(ctx)
	if err != nil {
		return StateFailed, err
	}
	if len(matches) == 0 {
		return StateStopped, nil
	}

	remaining := make([]string, 0, len(matches))
	for _, m := range matches {
		remaining = append(remaining, fmt.Sprintf("%d (%s)", m.pid, m.pattern))
	}
	return StateFailed, &ErrStillRunning{Remaining: remaining}
}

type match struct {
	pid     int
	pattern string
}

func pidList(matches []match) []int {
	pids := make([]int, len(matches))
	for i, m := range matches {
		pids[i] = m.pid
	}
	return pids
}

// matches enumerates pids owned by User whose command line matches any
// pattern. pgrep exits 1 on no match; that is not an error here.
func (r *Reaper) matches(ctx context.Context) ([]match, error) {
	seen := make(map[int]bool)
	var all []match

	for _, pattern := range r.Patterns {
		out, err := r.Exec.Execute(ctx, "pgrep", "-u", r.User, "-f", pattern)
		if err != nil && strings.TrimSpace(string(out)) != "" {
			return nil, fmt.Errorf("pgrep failed for %q: %w", pattern, err)
		}
		for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			pid, err := strconv.Atoi(line)
			if err != nil {
				continue
			}
			if !seen[pid] {
				seen[pid] = true
				all = append(all, match{pid: pid, pattern: pattern})
			}
		}
	}
	return all, nil
}

func (r *Reaper) signalAll(matches []match, sig unix.Signal) {
	for _, m := range matches {
		// A process may exit between enumeration and delivery.
		if err := r.kill(m.pid, sig); err != nil && err != unix.ESRCH {
			logging.Debug("signal delivery failed", "pid", m.pid, "sig", sig, "err", err)
		}
	}
}

// pollUntilGone polls the process table each Poll interval up to budget,
// returning true as soon as no match remains.
func (r *Reaper) pollUntilGone(ctx context.Context, budget time.Duration) bool {
	deadline := time.Now().Add(budget)
	for {
		matches, err := r.matches(ctx)
		if err == nil && len(matches) == 0 {
			return true
		}
		if time.Now().Add(r.Poll).After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(r.Poll):
		}
	}
}
