package backend

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/berth-engineering/berth-ctl/internal/config"
	"github.com/berth-engineering/berth-ctl/internal/system"
)

func testBackend(exec system.CommandExecutor) *Backend {
	s := config.DefaultSettings("/home/crew")
	return New(exec, s)
}

func TestStart_UsesLockedStack(t *testing.T) {
	exec := system.NewMockExecutor()
	b := testBackend(exec)

	if _, err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	last, _ := exec.LastCommand()
	line := last.Line()
	for _, want := range []string{
		"colima start",
		"--vm-type " + config.LockedBackendType,
		"--runtime " + config.LockedRuntime,
		"--profile berth",
		"--cpu 4",
		"--memory 8",
		"--disk 60",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("Start command %q missing %q", line, want)
		}
	}
}

func TestStart_ReturnsRawOutputOnFailure(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("colima start", []byte("FATA[0001] disk full"), errors.New("exit status 1"))
	b := testBackend(exec)

	out, err := b.Start(context.Background())
	if err == nil {
		t.Fatal("Start() should fail")
	}
	if !strings.Contains(out, "disk full") {
		t.Errorf("Start() output = %q, want raw captured output", out)
	}
}

func TestSSHExec_QuotesCommand(t *testing.T) {
	exec := system.NewMockExecutor()
	b := testBackend(exec)

	if _, err := b.SSHExec(context.Background(), "ls", "-la", "/var/run"); err != nil {
		t.Fatalf("SSHExec() error: %v", err)
	}

	last, _ := exec.LastCommand()
	line := last.Line()
	if !strings.Contains(line, "colima ssh --profile berth -- sh -c") {
		t.Errorf("SSHExec command = %q", line)
	}
	if !strings.Contains(line, "ls -la /var/run") {
		t.Errorf("SSHExec command %q missing joined argv", line)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Verdict
	}{
		{
			name: "virtualization framework confirms",
			text: "INFO[0000] colima is running using macOS Virtualization.Framework",
			want: VerdictConfirmed,
		},
		{
			name: "vm type field confirms",
			text: "arch: aarch64\nvm type: vz\nruntime: docker",
			want: VerdictConfirmed,
		},
		{
			name: "driver field confirms",
			text: "driver: VZ",
			want: VerdictConfirmed,
		},
		{
			name: "qemu is forbidden",
			text: "INFO[0000] colima is running using QEMU",
			want: VerdictForbidden,
		},
		{
			name: "forbidden beats confirm when both appear",
			text: "vm type: vz\nfalling back to QEMU",
			want: VerdictForbidden,
		},
		{
			name: "stopped is inconclusive",
			text: "INFO[0000] colima is not running",
			want: VerdictInconclusive,
		},
		{
			name: "empty is inconclusive",
			text: "",
			want: VerdictInconclusive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyStatus(tt.text); got != tt.want {
				t.Errorf("ClassifyStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifyType_ConfirmsAfterRetries(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.QueueResponse("colima status", []byte("colima is not running"), nil)
	exec.QueueResponse("colima status", []byte("starting..."), nil)
	exec.AddResponse("colima status", []byte("running using macOS Virtualization.Framework"), nil)
	b := testBackend(exec)

	err := b.VerifyType(context.Background(), time.Millisecond, time.Second)
	if err != nil {
		t.Errorf("VerifyType() = %v, want nil after inconclusive retries", err)
	}
}

func TestVerifyType_ForbiddenFailsImmediately(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("colima status", []byte("running using QEMU"), nil)
	b := testBackend(exec)

	start := time.Now()
	err := b.VerifyType(context.Background(), time.Millisecond, time.Second)

	var forbidden *ErrForbiddenType
	if !errors.As(err, &forbidden) {
		t.Fatalf("VerifyType() = %v, want ErrForbiddenType", err)
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Error("forbidden verdict should not be retried until the deadline")
	}
	if exec.CountMatching("colima status") != 1 {
		t.Errorf("status probed %d times, want 1", exec.CountMatching("colima status"))
	}
}

func TestVerifyType_TimesOutOnInconclusive(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("colima status", []byte("colima is not running"), nil)
	b := testBackend(exec)

	err := b.VerifyType(context.Background(), time.Millisecond, 15*time.Millisecond)
	if err == nil {
		t.Fatal("VerifyType() should time out")
	}
	var forbidden *ErrForbiddenType
	if errors.As(err, &forbidden) {
		t.Error("timeout must be distinct from a forbidden verdict")
	}
}
