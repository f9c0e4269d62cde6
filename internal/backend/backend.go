// Package backend drives the VM backend CLI for a single profile.
//
// The backend is treated strictly as a black box: start, stop, status,
// delete and remote-exec operations, with status text pattern-matched
// for virtualization-type confirmation. Nothing here reaches into VM
// internals.
package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/berth-engineering/berth-ctl/internal/config"
	"github.com/berth-engineering/berth-ctl/internal/logging"
	"github.com/berth-engineering/berth-ctl/internal/system"
)

// Backend wraps the colima CLI for one profile.
type Backend struct {
	Exec    system.CommandExecutor
	Profile string

	CPUs      int
	MemoryGiB int
	DiskGiB   int
}

// New creates a Backend from resolved settings.
func New(exec system.CommandExecutor, s config.Settings) *Backend {
	return &Backend{
		Exec:      exec,
		Profile:   s.Profile,
		CPUs:      s.CPUs,
		MemoryGiB: s.MemoryGiB,
		DiskGiB:   s.DiskGiB,
	}
}

// run executes a colima subcommand, returning combined output.
func (b *Backend) run(ctx context.Context, args ...string) (string, error) {
	full := append(args, "--profile", b.Profile)
	out, err := b.Exec.Execute(ctx, "colima", full...)
	if err != nil {
		return string(out), fmt.Errorf("colima %s failed: %s: %w", args[0], string(out), err)
	}
	return string(out), nil
}

// Start starts the backend with the locked virtualization type and
// runtime. Raw output is returned for the run log regardless of what
// the caller chooses to display.
func (b *Backend) Start(ctx context.Context) (string, error) {
	logging.Debug("starting backend", "profile", b.Profile, "vmType", config.LockedBackendType)
	return b.run(ctx, "start",
		"--vm-type", config.LockedBackendType,
		"--runtime", config.LockedRuntime,
		"--cpu", strconv.Itoa(b.CPUs),
		"--memory", strconv.Itoa(b.MemoryGiB),
		"--disk", strconv.Itoa(b.DiskGiB),
	)
}

// Stop stops the backend.
func (b *Backend) Stop(ctx context.Context) error {
	logging.Debug("stopping backend", "profile", b.Profile)
	_, err := b.run(ctx, "stop")
	return err
}

// Delete removes the backend instance without prompting.
func (b *Backend) Delete(ctx context.Context) error {
	logging.Debug("deleting backend", "profile", b.Profile)
	_, err := b.run(ctx, "delete", "--force")
	return err
}

// Status probes the backend status command. Verbose status includes the
// detail needed for type verification and diagnostics.
func (b *Backend) Status(ctx context.Context, verbose bool) (string, error) {
	args := []string{"status"}
	if verbose {
		args = append(args, "--verbose")
	}
	return b.run(ctx, args...)
}

// SSHExec runs a command inside the VM via the backend's remote-exec,
// returning combined output.
func (b *Backend) SSHExec(ctx context.Context, argv ...string) (string, error) {
	cmd := shellquote.Join(argv...)
	out, err := b.Exec.Execute(ctx, "colima", "ssh", "--profile", b.Profile, "--", "sh", "-c", cmd)
	if err != nil {
		return string(out), fmt.Errorf("remote exec failed: %s: %w", string(out), err)
	}
	return string(out), nil
}

// Verdict classifies a status probe.
type Verdict int

const (
	// VerdictInconclusive means the probe neither confirmed nor denied
	// the required type; retry-eligible.
	VerdictInconclusive Verdict = iota

	// VerdictConfirmed means the required virtualization type was confirmed.
	VerdictConfirmed

	// VerdictForbidden means the forbidden type was positively confirmed.
	// Never retried.
	VerdictForbidden
)

func (v Verdict) String() string {
	switch v {
	case VerdictConfirmed:
		return "confirmed"
	case VerdictForbidden:
		return "forbidden"
	default:
		return "inconclusive"
	}
}

// typeRules is the priority-ordered grammar of accepted status forms.
// The first matching rule wins. Forbidden markers are listed first: a
// positive confirmation of the forbidden type beats any optimistic read.
var typeRules = []struct {
	marker  string
	verdict Verdict
}{
	{"qemu", VerdictForbidden},
	{"virtualization.framework", VerdictConfirmed},
	{"vm type: vz", VerdictConfirmed},
	{"vmtype: vz", VerdictConfirmed},
	{"driver: vz", VerdictConfirmed},
}

// ClassifyStatus applies the type rules to captured status output.
func ClassifyStatus(text string) Verdict {
	lower := strings.ToLower(text)
	for _, rule := range typeRules {
		if strings.Contains(lower, rule.marker) {
			return rule.verdict
		}
	}
	return VerdictInconclusive
}

// ErrForbiddenType reports a backend positively confirmed as the
// forbidden virtualization type. Not recoverable by waiting.
type ErrForbiddenType struct {
	Status string
}

func (e *ErrForbiddenType) Error() string {
	return fmt.Sprintf("backend is running the forbidden %s virtualization type (required: %s)",
		config.ForbiddenBackendType, config.LockedBackendType)
}

// VerifyType polls the status command until the required type is
// confirmed or maxWait elapses. Inconclusive probes retry; a confirmed
// forbidden type fails immediately. This asymmetry is deliberate and
// load-bearing: early in boot the status text may be incomplete, but a
// positive qemu confirmation never self-corrects.
func (b *Backend) VerifyType(ctx context.Context, interval, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	var lastStatus string

	for {
		status, err := b.Status(ctx, true)
		lastStatus = status
		if err == nil {
			switch ClassifyStatus(status) {
			case VerdictConfirmed:
				logging.Debug("backend type confirmed", "profile", b.Profile)
				return nil
			case VerdictForbidden:
				return &ErrForbiddenType{Status: status}
			}
		}

		if time.Now().Add(interval).After(deadline) {
			return fmt.Errorf("backend type not confirmed within %s (last status: %s)", maxWait, lastStatus)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

