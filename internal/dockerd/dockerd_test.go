package dockerd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/berth-engineering/berth-ctl/internal/system"
)

const testHost = "unix:///home/crew/.colima/berth/docker.sock"

func TestEveryCommandAddressesEndpoint(t *testing.T) {
	exec := system.NewMockExecutor()
	c := New(exec, testHost)
	ctx := context.Background()

	_ = c.Version(ctx)
	_, _ = c.Info(ctx)
	_, _ = c.PS(ctx)
	_, _ = c.DiskUsage(ctx)
	_ = c.Remove(ctx, "web")
	_ = c.PruneImages(ctx)
	_ = c.PruneSystem(ctx)

	for _, line := range exec.CommandLines() {
		if !strings.Contains(line, "-H "+testHost) {
			t.Errorf("command %q does not address the explicit endpoint", line)
		}
	}
}

func TestRemove_IgnoresAbsence(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("docker", []byte("Error response from daemon: No such container: web"), errors.New("exit status 1"))
	c := New(exec, testHost)

	if err := c.Remove(context.Background(), "web"); err != nil {
		t.Errorf("Remove() = %v, want nil for absent container", err)
	}
}

func TestRemove_SurfacesOtherFailures(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("docker", []byte("permission denied"), errors.New("exit status 1"))
	c := New(exec, testHost)

	if err := c.Remove(context.Background(), "web"); err == nil {
		t.Error("Remove() should surface non-absence failures")
	}
}

func TestDeepHealth_AllProbesMustPass(t *testing.T) {
	exec := system.NewMockExecutor()
	c := New(exec, testHost)

	if err := c.DeepHealth(context.Background()); err != nil {
		t.Errorf("DeepHealth() = %v, want nil when all probes pass", err)
	}

	lines := exec.CommandLines()
	if len(lines) != 3 {
		t.Fatalf("DeepHealth ran %d commands, want 3 (info, ps, system df)", len(lines))
	}
	if !strings.Contains(lines[0], "info") ||
		!strings.Contains(lines[1], "ps -a") ||
		!strings.Contains(lines[2], "system df") {
		t.Errorf("DeepHealth probes = %v", lines)
	}
}

func TestDeepHealth_FailsOnAnyProbe(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("ps -a", []byte("Cannot connect to the Docker daemon"), errors.New("exit status 1"))
	c := New(exec, testHost)

	err := c.DeepHealth(context.Background())
	if err == nil {
		t.Fatal("DeepHealth() should fail when a probe fails")
	}
	if !strings.Contains(err.Error(), "Cannot connect") {
		t.Errorf("DeepHealth() error %q should carry captured output", err)
	}
}

func TestRunScript_UsesEndpointEnvAndStdin(t *testing.T) {
	exec := system.NewMockExecutor()
	c := New(exec, testHost)
	script := "docker run -d --name web nginx:alpine"

	if _, err := c.RunScript(context.Background(), script); err != nil {
		t.Fatalf("RunScript() error: %v", err)
	}

	last, _ := exec.LastCommand()
	if last.Stdin != script {
		t.Errorf("script should travel via stdin, got %q", last.Stdin)
	}
	line := last.Line()
	if !strings.Contains(line, "DOCKER_HOST="+testHost) {
		t.Errorf("RunScript command %q missing DOCKER_HOST", line)
	}
	if !strings.HasPrefix(line, "env ") || !strings.Contains(line, "sh -s") {
		t.Errorf("RunScript command = %q", line)
	}
}

func TestRunScript_ReturnsOutputOnFailure(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("sh -s", []byte("Unable to find image"), errors.New("exit status 125"))
	c := New(exec, testHost)

	out, err := c.RunScript(context.Background(), "docker run missing")
	if err == nil {
		t.Fatal("RunScript() should fail")
	}
	if out != "Unable to find image" {
		t.Errorf("RunScript() output = %q, want captured output on failure", out)
	}
}
