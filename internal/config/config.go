// Package config resolves the immutable run configuration for berth-ctl.
//
// Stable settings come from a TOML settings file layered over environment
// variables and built-in defaults. Destructive-action flags are carried in
// a separate Invocation struct that is populated exclusively from the
// command line: they are never read from the settings file or the
// environment, so a persisted configuration can never make a run
// destructive by default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Locked stack values. The orchestrator refuses to run against anything else.
const (
	// LockedBackendType is the only virtualization type the backend may report.
	LockedBackendType = "vz"

	// ForbiddenBackendType is hard-failed when the backend confirms it.
	ForbiddenBackendType = "qemu"

	// LockedRuntime is the only container runtime this tool manages.
	LockedRuntime = "docker"
)

// DefaultConfirmToken is the value an operator must type to approve a
// destructive reset when no override flag is given.
const DefaultConfirmToken = "reset"

// profileRegex validates profile names (they become file and label components).
var profileRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// Budgets holds every timing budget of a run. All gates and rechecks
// draw from here so tests can shrink them uniformly.
type Budgets struct {
	PollInterval time.Duration `toml:"poll_interval"`
	SocketWait   time.Duration `toml:"socket_wait"`
	APIWait      time.Duration `toml:"api_wait"`
	VerifyWait   time.Duration `toml:"verify_wait"`
	StableWait   time.Duration `toml:"stable_wait"`
	StableCount  int           `toml:"stable_count"`
	KillGrace    time.Duration `toml:"kill_grace"`
	RetryBackoff time.Duration `toml:"retry_backoff"`

	// Post-recovery recheck budgets, ascending with step cost.
	RecheckQuick  time.Duration `toml:"recheck_quick"`
	RecheckMedium time.Duration `toml:"recheck_medium"`
	RecheckLong   time.Duration `toml:"recheck_long"`
}

// Settings are the stable, non-destructive settings of a run.
type Settings struct {
	Profile      string  `toml:"profile"`
	CPUs         int     `toml:"cpus"`
	MemoryGiB    int     `toml:"memory_gib"`
	DiskGiB      int     `toml:"disk_gib"`
	JobsDir      string  `toml:"jobs_dir"`
	StateDir     string  `toml:"state_dir"`
	InstallTries int     `toml:"install_tries"`
	ConfirmToken string  `toml:"confirm_token"`
	Budgets      Budgets `toml:"budgets"`

	home string
}

// Invocation carries the destructive-action decisions of this run.
// Populated only from command-line flags, by design never merged from
// the settings file or environment.
type Invocation struct {
	// Reset requests a destructive reset: backend state directories are
	// purged before provisioning.
	Reset bool

	// Backup requests a tarball of the state directories before a reset.
	Backup bool

	// NonInteractive approves destructive actions without a typed token.
	NonInteractive bool
}

// RunConfig is the immutable resolved configuration handed to the lifecycle.
type RunConfig struct {
	Settings   Settings
	Invocation Invocation
}

// DefaultSettings returns the built-in defaults, anchored at home.
func DefaultSettings(home string) Settings {
	return Settings{
		Profile:      "berth",
		CPUs:         4,
		MemoryGiB:    8,
		DiskGiB:      60,
		StateDir:     filepath.Join(home, ".berth"),
		JobsDir:      filepath.Join(home, ".berth", "jobs"),
		InstallTries: 3,
		ConfirmToken: DefaultConfirmToken,
		Budgets: Budgets{
			PollInterval:  2 * time.Second,
			SocketWait:    60 * time.Second,
			APIWait:       90 * time.Second,
			VerifyWait:    60 * time.Second,
			StableWait:    120 * time.Second,
			StableCount:   5,
			KillGrace:     15 * time.Second,
			RetryBackoff:  3 * time.Second,
			RecheckQuick:  20 * time.Second,
			RecheckMedium: 45 * time.Second,
			RecheckLong:   90 * time.Second,
		},
		home: home,
	}
}

// SettingsPath returns the default settings file location under home.
func SettingsPath(home string) string {
	return filepath.Join(home, ".config", "berth", "settings.toml")
}

// Load resolves Settings: defaults, then the TOML settings file at path
// (missing file is fine), then environment overrides.
func Load(home, path string) (Settings, error) {
	s := DefaultSettings(home)

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := toml.Unmarshal(data, &s); err != nil {
				return Settings{}, fmt.Errorf("failed to parse settings file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Settings{}, fmt.Errorf("failed to read settings file %s: %w", path, err)
		}
	}

	s.home = home
	applyEnv(&s)

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// applyEnv layers BERTH_* environment variables over s.
// Destructive-action settings deliberately have no env counterpart.
func applyEnv(s *Settings) {
	if v := os.Getenv("BERTH_PROFILE"); v != "" {
		s.Profile = v
	}
	if v := os.Getenv("BERTH_JOBS_DIR"); v != "" {
		s.JobsDir = v
	}
	if v := os.Getenv("BERTH_STATE_DIR"); v != "" {
		s.StateDir = v
	}
	if n, ok := envInt("BERTH_CPUS"); ok {
		s.CPUs = n
	}
	if n, ok := envInt("BERTH_MEMORY_GIB"); ok {
		s.MemoryGiB = n
	}
	if n, ok := envInt("BERTH_DISK_GIB"); ok {
		s.DiskGiB = n
	}
	if n, ok := envInt("BERTH_INSTALL_TRIES"); ok {
		s.InstallTries = n
	}
	if n, ok := envInt("BERTH_STABLE_COUNT"); ok {
		s.Budgets.StableCount = n
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks that the Settings are usable.
func (s *Settings) Validate() error {
	if s.Profile == "" {
		return fmt.Errorf("profile is required")
	}
	if !profileRegex.MatchString(s.Profile) {
		return fmt.Errorf("invalid profile name %q: must start with a lowercase letter or digit, contain only lowercase letters, digits, underscores, or hyphens, and be at most 63 characters", s.Profile)
	}
	if s.CPUs <= 0 || s.MemoryGiB <= 0 || s.DiskGiB <= 0 {
		return fmt.Errorf("resource limits must be positive (cpus=%d memory=%d disk=%d)", s.CPUs, s.MemoryGiB, s.DiskGiB)
	}
	if s.InstallTries <= 0 {
		return fmt.Errorf("install_tries must be positive")
	}
	if s.Budgets.StableCount <= 0 {
		return fmt.Errorf("stable_count must be positive")
	}
	if s.Budgets.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	return nil
}

// Home returns the home directory the settings were anchored at.
func (s *Settings) Home() string {
	return s.home
}

// BackendDir returns the backend profile's state directory.
func (s *Settings) BackendDir() string {
	return filepath.Join(s.home, ".colima", s.Profile)
}

// PurgeDirs returns every persisted state directory removed by a
// destructive reset.
func (s *Settings) PurgeDirs() []string {
	return []string{
		filepath.Join(s.home, ".colima"),
		filepath.Join(s.home, ".lima"),
	}
}

// SocketPath returns the backend's docker control socket path.
func (s *Settings) SocketPath() string {
	return filepath.Join(s.BackendDir(), "docker.sock")
}

// DockerHost returns the explicit endpoint the runtime CLI is addressed
// at. The default engine socket is never used.
func (s *Settings) DockerHost() string {
	return "unix://" + s.SocketPath()
}

// SuperviseLabel returns the supervision job identifier for the profile.
func (s *Settings) SuperviseLabel() string {
	return "io.berth." + s.Profile
}

// RunLogPath returns the unified append-only run log location.
func (s *Settings) RunLogPath() string {
	return filepath.Join(s.StateDir, "berth.log")
}

// AttemptsDir returns where per-job per-attempt installer output is kept.
func (s *Settings) AttemptsDir() string {
	return filepath.Join(s.StateDir, "attempts")
}
