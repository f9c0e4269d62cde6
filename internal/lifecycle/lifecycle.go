// Package lifecycle sequences a full bring-up run.
//
// Phases are strictly ordered and never re-entered; a run either
// reaches Done or terminates fatally at the phase it was in. The
// destructive-action guard runs first, before any process is touched.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/berth-engineering/berth-ctl/internal/backend"
	"github.com/berth-engineering/berth-ctl/internal/config"
	"github.com/berth-engineering/berth-ctl/internal/dockerd"
	berrors "github.com/berth-engineering/berth-ctl/internal/errors"
	"github.com/berth-engineering/berth-ctl/internal/gate"
	"github.com/berth-engineering/berth-ctl/internal/installer"
	"github.com/berth-engineering/berth-ctl/internal/logging"
	"github.com/berth-engineering/berth-ctl/internal/reaper"
	"github.com/berth-engineering/berth-ctl/internal/recovery"
	"github.com/berth-engineering/berth-ctl/internal/supervise"
	"github.com/berth-engineering/berth-ctl/internal/system"
	"github.com/berth-engineering/berth-ctl/internal/transient"
	"github.com/berth-engineering/berth-ctl/internal/tui"
)

// Phase is a stage of the bring-up run.
type Phase int

const (
	PhasePreflightGuard Phase = iota
	PhaseStackKilled
	PhaseProvisioning
	PhaseBackendVerified
	PhaseSupervisionInstalled
	PhaseRuntimeStable
	PhaseContainersInstalled
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhasePreflightGuard:
		return "preflight-guard"
	case PhaseStackKilled:
		return "stack-killed"
	case PhaseProvisioning:
		return "provisioning"
	case PhaseBackendVerified:
		return "backend-verified"
	case PhaseSupervisionInstalled:
		return "supervision-installed"
	case PhaseRuntimeStable:
		return "runtime-stable"
	case PhaseContainersInstalled:
		return "containers-installed"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// reapPatterns match the backend stack's process names, scoped to the
// invoking user by the reaper itself.
var reapPatterns = []string{"colima", "limactl", "lima-guestagent"}

// Confirmer asks the operator to approve a destructive action by
// typing a token. A false return with nil error is a refusal.
type Confirmer func(token, warning string, details []string) (bool, error)

// Orchestrator runs the lifecycle state machine.
type Orchestrator struct {
	Exec system.CommandExecutor
	FS   system.FileSystem

	// Confirm gates destructive resets. Defaults to the interactive
	// typed-token prompt.
	Confirm Confirmer

	// Binary is the absolute backend binary path written into the
	// supervision descriptor.
	Binary string

	// UID and User identify the non-privileged owning account.
	UID  int
	User string

	// Jobs holds the container-job records of the last run for the
	// final summary.
	Jobs []*installer.Job
}

// New creates an Orchestrator with the interactive confirmation prompt.
func New(exec system.CommandExecutor, fs system.FileSystem) *Orchestrator {
	return &Orchestrator{
		Exec:    exec,
		FS:      fs,
		Confirm: tui.Confirm,
	}
}

// Run drives the state machine from PreflightGuard to Done. It returns
// the last phase reached; on error that is the phase the run died in.
func (o *Orchestrator) Run(ctx context.Context, cfg config.RunConfig) (Phase, error) {
	s := cfg.Settings
	b := backend.New(o.Exec, s)
	d := dockerd.New(o.Exec, s.DockerHost())
	sup := supervise.New(o.Exec, o.FS, supervise.Options{
		Label:   s.SuperviseLabel(),
		Profile: s.Profile,
		Binary:  o.Binary,
		UID:     o.UID,
		Home:    s.Home(),
		LogPath: s.RunLogPath(),
	})
	rec := recovery.New(b, d, sup, o.FS, s.RunLogPath(), s.Budgets)

	phase := PhasePreflightGuard
	if err := o.preflightGuard(cfg); err != nil {
		return phase, err
	}

	phase = PhaseStackKilled
	logging.UserInfo("Stopping lingering backend processes")
	if err := o.reapStack(ctx, s.Budgets.KillGrace); err != nil {
		return phase, err
	}

	phase = PhaseProvisioning
	if err := o.provision(ctx, b, cfg); err != nil {
		return phase, err
	}

	phase = PhaseBackendVerified
	logging.UserInfo("Verifying virtualization type (%s required)", config.LockedBackendType)
	if err := b.VerifyType(ctx, s.Budgets.PollInterval, s.Budgets.VerifyWait); err != nil {
		var forbidden *backend.ErrForbiddenType
		if berrors.As(err, &forbidden) {
			return phase, berrors.BackendFailed("verification", err)
		}
		return phase, berrors.Wrap(berrors.ExitTimeout, "backend type verification timed out", err)
	}
	logging.UserSuccess("Backend confirmed %s", config.LockedBackendType)

	phase = PhaseSupervisionInstalled
	logging.UserInfo("Installing supervision (%s)", s.SuperviseLabel())
	if err := sup.Install(ctx); err != nil {
		return phase, berrors.SuperviseError("supervision install failed", err)
	}

	phase = PhaseRuntimeStable
	if err := o.waitRuntimeStable(ctx, d, rec, s); err != nil {
		return phase, err
	}
	logging.UserSuccess("Runtime stable at %s", s.DockerHost())

	phase = PhaseContainersInstalled
	failed, err := o.installContainers(ctx, d, rec, s)
	if err != nil {
		return phase, err
	}

	phase = PhaseDone
	o.summarize()
	if failed > 0 {
		return phase, berrors.JobsFailed(failed, len(o.Jobs))
	}
	return phase, nil
}

// preflightGuard enforces the destructive-action invariant: a reset
// proceeds only with the NonInteractive override or an exact typed
// token. No process or file is touched before this decision.
func (o *Orchestrator) preflightGuard(cfg config.RunConfig) error {
	if !cfg.Invocation.Reset {
		return nil
	}
	if cfg.Invocation.NonInteractive {
		logging.UserWarning("Destructive reset approved by --non-interactive")
		return nil
	}

	warning := fmt.Sprintf("Destructive reset of profile %q requested", cfg.Settings.Profile)
	ok, err := o.Confirm(cfg.Settings.ConfirmToken, warning, cfg.Settings.PurgeDirs())
	if err != nil || !ok {
		return berrors.GuardRefused("destructive reset not confirmed")
	}
	return nil
}

func (o *Orchestrator) reapStack(ctx context.Context, grace time.Duration) error {
	r := reaper.New(o.Exec, o.User, reapPatterns, grace)
	state, err := r.Kill(ctx)
	if err != nil {
		var still *reaper.ErrStillRunning
		if berrors.As(err, &still) {
			return berrors.ReaperFailed(still.Remaining)
		}
		return berrors.Wrap(berrors.ExitReaperFailed, "failed to stop backend processes", err)
	}
	logging.Debug("stack reaped", "state", state)
	return nil
}

// provision purges persisted state in destructive mode (after an
// optional backup) and starts the backend fresh. Raw start output is
// always captured to the run log, unfiltered.
func (o *Orchestrator) provision(ctx context.Context, b *backend.Backend, cfg config.RunConfig) error {
	s := cfg.Settings
	if cfg.Invocation.Reset {
		if cfg.Invocation.Backup {
			if err := o.backupState(ctx, s); err != nil {
				return err
			}
		}
		logging.UserWarning("Deleting backend instance %s", s.Profile)
		if err := b.Delete(ctx); err != nil {
			// The instance may never have existed; the purge below
			// still clears any on-disk remnants.
			logging.Debug("backend delete failed", "err", err)
		}
		for _, dir := range s.PurgeDirs() {
			if !o.FS.Exists(dir) {
				continue
			}
			logging.UserWarning("Purging %s", dir)
			if err := o.FS.RemoveAll(dir); err != nil {
				return berrors.Wrap(berrors.ExitGeneralError, fmt.Sprintf("failed to purge %s", dir), err)
			}
		}
	}

	logging.UserInfo("Starting backend (profile %s, %d CPU, %d GiB RAM, %d GiB disk)",
		s.Profile, s.CPUs, s.MemoryGiB, s.DiskGiB)
	out, err := b.Start(ctx)
	logging.RunLogRaw("backend start output", out)
	if err != nil {
		return berrors.BackendFailed("start", err)
	}
	return nil
}

// backupState tars the purge targets into the state dir before a reset.
func (o *Orchestrator) backupState(ctx context.Context, s config.Settings) error {
	var targets []string
	for _, dir := range s.PurgeDirs() {
		if o.FS.Exists(dir) {
			targets = append(targets, dir)
		}
	}
	if len(targets) == 0 {
		logging.UserInfo("Nothing to back up")
		return nil
	}

	if err := o.FS.MkdirAll(s.StateDir, 0o755); err != nil {
		return berrors.Wrap(berrors.ExitGeneralError, "failed to create state dir", err)
	}
	archive := fmt.Sprintf("%s/backup-%s.tar.gz", s.StateDir, time.Now().Format("20060102-150405"))
	args := append([]string{"-czf", archive}, targets...)

	logging.UserInfo("Backing up state to %s", archive)
	out, err := o.Exec.Execute(ctx, "tar", args...)
	if err != nil {
		logging.RunLogRaw("backup failure output", string(out))
		return berrors.Wrap(berrors.ExitGeneralError, "state backup failed", err)
	}
	return nil
}

// waitRuntimeStable runs the readiness chain: socket presence, API
// responsiveness, then the deep stability window. Each stage has its
// own budget; a transient timeout earns one recovery-assisted retry.
func (o *Orchestrator) waitRuntimeStable(ctx context.Context, d *dockerd.Client, rec *recovery.Pipeline, s config.Settings) error {
	poll := s.Budgets.PollInterval

	socketGate := gate.Gate{Name: "control socket", Interval: poll, MaxWait: s.Budgets.SocketWait}
	logging.UserInfo("Waiting for control socket %s", s.SocketPath())
	if err := o.waitGate(ctx, rec, socketGate, func(ctx context.Context) error {
		if !o.FS.Exists(s.SocketPath()) {
			return fmt.Errorf("dial unix %s: no such file or directory", s.SocketPath())
		}
		return nil
	}); err != nil {
		return err
	}

	apiGate := gate.Gate{Name: "engine API", Interval: poll, MaxWait: s.Budgets.APIWait}
	logging.UserInfo("Waiting for engine API")
	if err := o.waitGate(ctx, rec, apiGate, d.Version); err != nil {
		return err
	}

	stableGate := gate.Gate{
		Name:           "deep stability",
		Interval:       poll,
		MaxWait:        s.Budgets.StableWait,
		RequiredStable: s.Budgets.StableCount,
	}
	logging.UserInfo("Waiting for %d consecutive deep health passes", s.Budgets.StableCount)
	return o.waitGate(ctx, rec, stableGate, d.DeepHealth)
}

// waitGate runs one gate. On timeout with a transient last failure it
// runs the recovery pipeline and retries the gate once; everything else
// is a fatal timeout.
func (o *Orchestrator) waitGate(ctx context.Context, rec *recovery.Pipeline, g gate.Gate, probe gate.Probe) error {
	err := g.Wait(ctx, probe)
	if err == nil {
		return nil
	}
	var te *gate.TimeoutError
	if !berrors.As(err, &te) {
		return err
	}

	if te.LastErr != nil && transient.Classify(te.LastErr.Error()) == transient.Transient {
		if rerr := rec.Recover(ctx, fmt.Sprintf("gate %s timed out", g.Name)); rerr == nil {
			retryErr := g.Wait(ctx, probe)
			if retryErr == nil {
				return nil
			}
			// Only a second timeout collapses into the budget error.
			// Cancellation and other hard failures pass through as-is.
			if !berrors.As(retryErr, &te) {
				return retryErr
			}
		}
	}
	return berrors.Timeout(g.Name, g.MaxWait)
}

func (o *Orchestrator) installContainers(ctx context.Context, d *dockerd.Client, rec *recovery.Pipeline, s config.Settings) (int, error) {
	inst := &installer.Installer{
		FS:          o.FS,
		Docker:      d,
		Recovery:    rec,
		JobsDir:     s.JobsDir,
		AttemptsDir: s.AttemptsDir(),
		Tries:       s.InstallTries,
		Backoff:     s.Budgets.RetryBackoff,
	}

	jobs, err := inst.Scan()
	if err != nil {
		return 0, berrors.Wrap(berrors.ExitJobFailed, "failed to scan container jobs", err)
	}
	o.Jobs = jobs
	if len(jobs) == 0 {
		logging.UserInfo("No container jobs declared in %s", s.JobsDir)
		return 0, nil
	}

	logging.UserInfo("Installing %d container job(s)", len(jobs))
	return inst.InstallAll(ctx, jobs), nil
}

func (o *Orchestrator) summarize() {
	if len(o.Jobs) == 0 {
		logging.UserSuccess("Bring-up complete")
		return
	}
	for _, job := range o.Jobs {
		logging.RunLog("job %s: outcome=%s attempts=%d", job.Name, job.Outcome, job.Attempts)
	}
	logging.UserInfo("Bring-up complete: %d job(s) processed", len(o.Jobs))
}

// PrivilegeKeepalive refreshes cached sudo credentials every interval
// until ctx is cancelled. Run it in its own goroutine; it never blocks
// the lifecycle.
func PrivilegeKeepalive(ctx context.Context, exec system.CommandExecutor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := exec.Execute(ctx, "sudo", "-n", "-v"); err != nil {
				logging.Debug("sudo keepalive refresh failed", "err", err)
			}
		}
	}
}
