// Package dockerd wraps the container runtime CLI at an explicit
// connection endpoint.
//
// Every invocation addresses the endpoint with -H (or DOCKER_HOST for
// script execution); the default engine socket is never used, so a
// stray system daemon can never be mistaken for the managed one.
package dockerd

import (
	"context"
	"fmt"
	"strings"

	"github.com/berth-engineering/berth-ctl/internal/logging"
	"github.com/berth-engineering/berth-ctl/internal/system"
)

// Client drives the docker CLI against one endpoint.
type Client struct {
	Exec system.CommandExecutor
	Host string
}

// New creates a Client for the given endpoint.
func New(exec system.CommandExecutor, host string) *Client {
	return &Client{Exec: exec, Host: host}
}

// run executes a docker subcommand against the endpoint.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-H", c.Host}, args...)
	out, err := c.Exec.Execute(ctx, "docker", full...)
	if err != nil {
		return string(out), fmt.Errorf("docker %s failed: %s: %w", args[0], strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}

// Version probes basic API responsiveness.
func (c *Client) Version(ctx context.Context) error {
	_, err := c.run(ctx, "version", "--format", "{{.Server.Version}}")
	return err
}

// Info returns the engine's info output.
func (c *Client) Info(ctx context.Context) (string, error) {
	return c.run(ctx, "info")
}

// PS lists all containers.
func (c *Client) PS(ctx context.Context) (string, error) {
	return c.run(ctx, "ps", "-a")
}

// DiskUsage returns the engine's disk usage summary.
func (c *Client) DiskUsage(ctx context.Context) (string, error) {
	return c.run(ctx, "system", "df")
}

// DeepHealth runs the full health probe: info, container list, and
// system disk usage must all succeed in one pass. Used by the stability
// window and the post-recovery rechecks.
func (c *Client) DeepHealth(ctx context.Context) error {
	if _, err := c.Info(ctx); err != nil {
		return err
	}
	if _, err := c.PS(ctx); err != nil {
		return err
	}
	if _, err := c.DiskUsage(ctx); err != nil {
		return err
	}
	return nil
}

// Remove force-removes the named container. Absence is not an error.
func (c *Client) Remove(ctx context.Context, name string) error {
	out, err := c.run(ctx, "rm", "-f", name)
	if err != nil {
		if strings.Contains(strings.ToLower(out), "no such container") {
			return nil
		}
		return err
	}
	return nil
}

// RunScript executes a normalized installer script as a unit under the
// endpoint, returning combined output. The endpoint travels via
// DOCKER_HOST so every docker invocation inside the script hits it.
func (c *Client) RunScript(ctx context.Context, script string) (string, error) {
	logging.Debug("running installer script", "bytes", len(script), "host", c.Host)
	out, err := c.Exec.ExecuteWithStdin(ctx, script, "env", "DOCKER_HOST="+c.Host, "sh", "-s")
	return string(out), err
}

// PruneImages removes dangling images.
func (c *Client) PruneImages(ctx context.Context) error {
	_, err := c.run(ctx, "image", "prune", "-f")
	return err
}

// PruneSystem removes unused data across the engine.
func (c *Client) PruneSystem(ctx context.Context) error {
	_, err := c.run(ctx, "system", "prune", "-f")
	return err
}
