// Package supervise installs and manages the OS process supervisor
// registration that keeps the backend's foreground process alive.
//
// The supervision descriptor is rendered from a template into the
// user's agents directory and registered in the user's supervisor
// domain, owned by the invoking non-privileged account. The supervisor
// itself is a black box reached through its CLI; its diagnostic output
// is surfaced verbatim on failure.
package supervise

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/berth-engineering/berth-ctl/internal/logging"
	"github.com/berth-engineering/berth-ctl/internal/system"
)

// plistTemplate is the supervision descriptor: run the backend in the
// foreground, restart it when it dies, redirect output into the unified
// run log.
const plistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.Binary}}</string>
		<string>start</string>
		<string>--foreground</string>
		<string>--profile</string>
		<string>{{.Profile}}</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>WorkingDirectory</key>
	<string>{{.WorkDir}}</string>
	<key>StandardOutPath</key>
	<string>{{.LogPath}}</string>
	<key>StandardErrorPath</key>
	<string>{{.LogPath}}</string>
</dict>
</plist>
`

// Supervisor manages one supervision registration.
type Supervisor struct {
	Exec system.CommandExecutor
	FS   system.FileSystem

	Label     string
	Profile   string
	Binary    string
	UID       int
	AgentsDir string
	WorkDir   string
	LogPath   string
}

// Options configures a Supervisor.
type Options struct {
	Label   string
	Profile string
	Binary  string // absolute path to the backend binary
	UID     int    // owning account uid (supervisor domain)
	Home    string
	LogPath string
}

// New creates a Supervisor for the user's agent domain.
func New(exec system.CommandExecutor, fs system.FileSystem, opts Options) *Supervisor {
	return &Supervisor{
		Exec:      exec,
		FS:        fs,
		Label:     opts.Label,
		Profile:   opts.Profile,
		Binary:    opts.Binary,
		UID:       opts.UID,
		AgentsDir: filepath.Join(opts.Home, "Library", "LaunchAgents"),
		WorkDir:   opts.Home,
		LogPath:   opts.LogPath,
	}
}

// PlistPath returns the descriptor's on-disk location.
func (s *Supervisor) PlistPath() string {
	return filepath.Join(s.AgentsDir, s.Label+".plist")
}

// domain returns the supervisor domain target for the owning account.
func (s *Supervisor) domain() string {
	return "gui/" + strconv.Itoa(s.UID)
}

// serviceTarget returns the fully qualified service identifier.
func (s *Supervisor) serviceTarget() string {
	return s.domain() + "/" + s.Label
}

// Render produces the descriptor bytes.
func (s *Supervisor) Render() ([]byte, error) {
	tmpl, err := template.New("plist").Parse(plistTemplate)
	if err != nil {
		return nil, fmt.Errorf("descriptor template invalid: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, s); err != nil {
		return nil, fmt.Errorf("descriptor render failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Install tears down any previous registration for the label, writes a
// fresh descriptor, and registers + activates it. Each step failing is
// fatal with the supervisor's own output attached.
func (s *Supervisor) Install(ctx context.Context) error {
	// Previous registration may or may not exist.
	if out, err := s.Exec.Execute(ctx, "launchctl", "bootout", s.serviceTarget()); err != nil {
		logging.Debug("bootout of previous registration", "label", s.Label, "out", strings.TrimSpace(string(out)))
	}

	data, err := s.Render()
	if err != nil {
		return err
	}
	if err := s.FS.MkdirAll(s.AgentsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create agents directory: %w", err)
	}
	if err := s.FS.WriteFile(s.PlistPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write supervision descriptor: %w", err)
	}

	if out, err := s.Exec.Execute(ctx, "launchctl", "bootstrap", s.domain(), s.PlistPath()); err != nil {
		return fmt.Errorf("supervision registration failed: %s: %w", strings.TrimSpace(string(out)), err)
	}
	if out, err := s.Exec.Execute(ctx, "launchctl", "kickstart", "-k", s.serviceTarget()); err != nil {
		return fmt.Errorf("supervision activation failed: %s: %w", strings.TrimSpace(string(out)), err)
	}

	logging.Debug("supervision installed", "label", s.Label, "plist", s.PlistPath())
	return nil
}

// Kickstart force-refreshes the registration, restarting the supervised
// process.
func (s *Supervisor) Kickstart(ctx context.Context) error {
	out, err := s.Exec.Execute(ctx, "launchctl", "kickstart", "-k", s.serviceTarget())
	if err != nil {
		return fmt.Errorf("kickstart failed: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Bootout deactivates the registration. Best-effort by nature: an
// unregistered label is not an error worth acting on.
func (s *Supervisor) Bootout(ctx context.Context) error {
	out, err := s.Exec.Execute(ctx, "launchctl", "bootout", s.serviceTarget())
	if err != nil {
		return fmt.Errorf("bootout failed: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Remove deactivates the registration and deletes the descriptor.
func (s *Supervisor) Remove(ctx context.Context) error {
	_ = s.Bootout(ctx)
	if s.FS.Exists(s.PlistPath()) {
		if err := s.FS.Remove(s.PlistPath()); err != nil {
			return fmt.Errorf("failed to remove supervision descriptor: %w", err)
		}
	}
	return nil
}

// Status returns the supervisor's view of the registration.
func (s *Supervisor) Status(ctx context.Context) (string, error) {
	out, err := s.Exec.Execute(ctx, "launchctl", "print", s.serviceTarget())
	return string(out), err
}
