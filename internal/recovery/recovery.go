// Package recovery implements the escalating remediation pipeline for a
// flapping runtime endpoint.
//
// Steps run in fixed ascending-cost order, each followed by its own
// bounded recheck of the deep-health probe. The pipeline stops at the
// first step whose recheck passes. Remediation actions are best-effort:
// an action may fail without failing the step, because only the recheck
// decides success.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/berth-engineering/berth-ctl/internal/backend"
	"github.com/berth-engineering/berth-ctl/internal/config"
	"github.com/berth-engineering/berth-ctl/internal/dockerd"
	"github.com/berth-engineering/berth-ctl/internal/gate"
	"github.com/berth-engineering/berth-ctl/internal/logging"
	"github.com/berth-engineering/berth-ctl/internal/supervise"
	"github.com/berth-engineering/berth-ctl/internal/system"
)

// ErrExhausted reports that every remediation step failed its recheck.
var ErrExhausted = errors.New("recovery pipeline exhausted")

// serviceRestarts are the in-VM restart commands attempted across
// service-manager flavors. All are tried; individual failures are
// ignored because the recheck is the only success signal.
var serviceRestarts = [][]string{
	{"sudo", "service", "docker", "restart"},
	{"sudo", "systemctl", "restart", "docker"},
	{"sudo", "/etc/init.d/docker", "restart"},
}

// step is one remediation with its post-action recheck budget.
type step struct {
	name    string
	action  func(ctx context.Context)
	recheck time.Duration
}

// Pipeline owns the ordered remediation steps for one stack.
type Pipeline struct {
	backend *backend.Backend
	docker  *dockerd.Client
	sup     *supervise.Supervisor
	fs      system.FileSystem
	logPath string
	poll    time.Duration

	steps []step
}

// New builds the pipeline for the given stack.
func New(b *backend.Backend, d *dockerd.Client, sup *supervise.Supervisor, fs system.FileSystem, logPath string, budgets config.Budgets) *Pipeline {
	p := &Pipeline{
		backend: b,
		docker:  d,
		sup:     sup,
		fs:      fs,
		logPath: logPath,
		poll:    budgets.PollInterval,
	}

	p.steps = []step{
		{
			name:    "restart in-VM runtime services",
			action:  p.restartServices,
			recheck: budgets.RecheckQuick,
		},
		{
			name:    "kickstart supervision",
			action:  p.kickstart,
			recheck: budgets.RecheckMedium,
		},
		{
			name:    "stop backend and kickstart supervision",
			action:  p.stopAndKickstart,
			recheck: budgets.RecheckLong,
		},
	}
	return p
}

func (p *Pipeline) restartServices(ctx context.Context) {
	for _, argv := range serviceRestarts {
		if out, err := p.backend.SSHExec(ctx, argv...); err != nil {
			logging.Debug("service restart attempt failed", "argv", argv, "out", strings.TrimSpace(out))
		}
	}
}

func (p *Pipeline) kickstart(ctx context.Context) {
	if err := p.sup.Kickstart(ctx); err != nil {
		logging.Debug("kickstart failed", "err", err)
	}
}

func (p *Pipeline) stopAndKickstart(ctx context.Context) {
	if err := p.backend.Stop(ctx); err != nil {
		logging.Debug("backend stop failed", "err", err)
	}
	p.kickstart(ctx)
}

// Recover walks the steps in order. Returns nil at the first step whose
// recheck passes; ErrExhausted after the last step fails, at which
// point the full diagnostics bundle has been captured — by then the run
// cannot self-heal and an operator needs context.
func (p *Pipeline) Recover(ctx context.Context, reason string) error {
	logging.UserWarning("Runtime unhealthy (%s), attempting recovery", reason)

	for i, s := range p.steps {
		logging.Debug("recovery step", "index", i+1, "name", s.name)
		logging.RunLog("recovery step %d: %s (reason: %s)", i+1, s.name, reason)

		s.action(ctx)

		g := gate.Gate{
			Name:     "recovery recheck: " + s.name,
			Interval: p.poll,
			MaxWait:  s.recheck,
		}
		if err := g.Wait(ctx, func(ctx context.Context) error {
			return p.docker.DeepHealth(ctx)
		}); err == nil {
			logging.UserSuccess("Recovery succeeded after step %d (%s)", i+1, s.name)
			return nil
		}
	}

	p.CaptureDiagnostics(ctx)
	return ErrExhausted
}

// CaptureDiagnostics collects the operator bundle into the run log and
// returns it: supervisor status, backend verbose status, recent run-log
// tail, and an in-VM process/resource probe.
func (p *Pipeline) CaptureDiagnostics(ctx context.Context) string {
	var b strings.Builder

	supStatus, _ := p.sup.Status(ctx)
	section(&b, "supervisor status", supStatus)

	backendStatus, _ := p.backend.Status(ctx, true)
	section(&b, "backend status (verbose)", backendStatus)

	section(&b, "run log tail", p.logTail(40))

	vmProbe, _ := p.backend.SSHExec(ctx, "sh", "-c", "uptime; ps aux | head -20; df -h")
	section(&b, "in-VM probe", vmProbe)

	bundle := b.String()
	logging.RunLogRaw("diagnostics bundle", bundle)
	return bundle
}

func section(b *strings.Builder, header, body string) {
	fmt.Fprintf(b, "=== %s ===\n%s\n", header, strings.TrimSpace(body))
}

// logTail returns the last n lines of the unified run log.
func (p *Pipeline) logTail(n int) string {
	data, err := p.fs.ReadFile(p.logPath)
	if err != nil {
		return "(run log unavailable)"
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
