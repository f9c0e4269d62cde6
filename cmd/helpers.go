package cmd

import (
	"os"
	"os/exec"
	"os/user"

	"github.com/berth-engineering/berth-ctl/internal/backend"
	"github.com/berth-engineering/berth-ctl/internal/config"
	"github.com/berth-engineering/berth-ctl/internal/dockerd"
	"github.com/berth-engineering/berth-ctl/internal/errors"
	"github.com/berth-engineering/berth-ctl/internal/recovery"
	"github.com/berth-engineering/berth-ctl/internal/supervise"
	"github.com/berth-engineering/berth-ctl/internal/system"
)

// loadSettings resolves the run settings from defaults, the settings
// file, and the environment.
func loadSettings() (config.Settings, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return config.Settings{}, errors.ConfigError("cannot resolve home directory", err)
	}
	path := settingsPath
	if path == "" {
		path = config.SettingsPath(home)
	}
	s, err := config.Load(home, path)
	if err != nil {
		return config.Settings{}, errors.ConfigError("invalid settings", err)
	}
	return s, nil
}

// stack bundles the collaborators every command drives.
type stack struct {
	settings config.Settings
	exec     system.CommandExecutor
	fs       system.FileSystem
	backend  *backend.Backend
	docker   *dockerd.Client
	sup      *supervise.Supervisor
	rec      *recovery.Pipeline
}

func newStack(s config.Settings) *stack {
	ex := system.DefaultExecutor()
	fs := system.DefaultFS()
	b := backend.New(ex, s)
	d := dockerd.New(ex, s.DockerHost())
	sup := supervise.New(ex, fs, supervise.Options{
		Label:   s.SuperviseLabel(),
		Profile: s.Profile,
		Binary:  backendBinary(),
		UID:     os.Getuid(),
		Home:    s.Home(),
		LogPath: s.RunLogPath(),
	})
	return &stack{
		settings: s,
		exec:     ex,
		fs:       fs,
		backend:  b,
		docker:   d,
		sup:      sup,
		rec:      recovery.New(b, d, sup, fs, s.RunLogPath(), s.Budgets),
	}
}

// backendBinary resolves the absolute backend binary path for the
// supervision descriptor. launchd resolves no PATH.
func backendBinary() string {
	if p, err := exec.LookPath("colima"); err == nil {
		return p
	}
	return "/usr/local/bin/colima"
}

// currentUsername returns the invoking account name for process
// enumeration scoping.
func currentUsername() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
