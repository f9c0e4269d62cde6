package installer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/berth-engineering/berth-ctl/internal/dockerd"
	"github.com/berth-engineering/berth-ctl/internal/system"
)

const testHost = "unix:///Users/crew/.colima/berth/docker.sock"

type fakeRecoverer struct {
	recoverCalls []string
	recoverErr   error
	diagCalls    int
}

func (f *fakeRecoverer) Recover(ctx context.Context, reason string) error {
	f.recoverCalls = append(f.recoverCalls, reason)
	return f.recoverErr
}

func (f *fakeRecoverer) CaptureDiagnostics(ctx context.Context) string {
	f.diagCalls++
	return "diagnostics"
}

func testInstaller(exec system.CommandExecutor, fs system.FileSystem, rec Recoverer) *Installer {
	return &Installer{
		FS:          fs,
		Docker:      dockerd.New(exec, testHost),
		Recovery:    rec,
		JobsDir:     "/Users/crew/.berth/jobs",
		AttemptsDir: "/Users/crew/.berth/attempts",
		Tries:       3,
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "carriage returns stripped",
			in:   "docker run -d\r\necho done\r\n",
			want: "docker run -d\necho done\n",
		},
		{
			name: "user prompt glyph stripped",
			in:   "$ docker run -d --name web nginx",
			want: "docker run -d --name web nginx",
		},
		{
			name: "comment line kept verbatim",
			in:   "# pull the proxy image\ndocker pull nginx",
			want: "# pull the proxy image\ndocker pull nginx",
		},
		{
			name: "continuations joined",
			in:   "docker run -d \\\n  --name web \\\n  nginx",
			want: "docker run -d --name web nginx",
		},
		{
			name: "glyph with leading whitespace",
			in:   "  $ docker ps",
			want: "docker ps",
		},
		{
			name: "comment without trailing space kept",
			in:   "#!/bin/sh\ndocker ps",
			want: "#!/bin/sh\ndocker ps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractIdentity(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		want   string
		wantOK bool
	}{
		{"bare", "docker run -d --name my-app nginx", "my-app", true},
		{"equals", "docker run -d --name=my-app nginx", "my-app", true},
		{"double quoted", `docker run -d --name "my-app" nginx`, "my-app", true},
		{"single quoted", "docker run -d --name 'my-app' nginx", "my-app", true},
		{"equals quoted", `docker run -d --name="my-app" nginx`, "my-app", true},
		{"extra whitespace", "docker run   --name   my-app   nginx", "my-app", true},
		{"joined continuation", Normalize("docker run -d \\\n  --name my-app \\\n  nginx"), "my-app", true},
		{"first declaration wins", "docker run --name first img\ndocker run --name second img", "first", true},
		{"commented declaration skipped", "# docker run --name ghost img\ndocker run --name real img", "real", true},
		{"only comments", "# docker run --name ghost img", "", false},
		{"no name", "docker run -d nginx", "", false},
		{"empty value", "docker run --name= nginx", "", false},
		{"name flag at end of line", "docker run --name", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractIdentity(tt.src)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ExtractIdentity(%q) = (%q, %v), want (%q, %v)", tt.src, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestScanFiltersDocumentation(t *testing.T) {
	fs := system.NewMockFS()
	fs.AddFile("/Users/crew/.berth/jobs/20-db.sh", []byte("docker run --name db postgres"), 0o644)
	fs.AddFile("/Users/crew/.berth/jobs/10-web.sh", []byte("docker run --name web nginx"), 0o644)
	fs.AddFile("/Users/crew/.berth/jobs/README.md", []byte("docs"), 0o644)
	fs.AddFile("/Users/crew/.berth/jobs/README", []byte("docs"), 0o644)
	fs.AddFile("/Users/crew/.berth/jobs/.hidden", []byte("dot"), 0o644)
	fs.AddFile("/Users/crew/.berth/jobs/notes.md", []byte("docs"), 0o644)
	fs.AddDir("/Users/crew/.berth/jobs/archive")

	inst := testInstaller(system.NewMockExecutor(), fs, &fakeRecoverer{})
	jobs, err := inst.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if len(jobs) != 2 {
		t.Fatalf("Scan() returned %d jobs, want 2", len(jobs))
	}
	if jobs[0].Name != "10-web.sh" || jobs[1].Name != "20-db.sh" {
		t.Errorf("jobs out of lexical order: %s, %s", jobs[0].Name, jobs[1].Name)
	}
	if jobs[0].Identity != "web" || jobs[1].Identity != "db" {
		t.Errorf("identities = %q, %q", jobs[0].Identity, jobs[1].Identity)
	}
}

func TestScanMissingDirIsEmpty(t *testing.T) {
	inst := testInstaller(system.NewMockExecutor(), system.NewMockFS(), &fakeRecoverer{})
	jobs, err := inst.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("Scan() returned %d jobs for missing dir, want 0", len(jobs))
	}
}

func TestInstallSuccess(t *testing.T) {
	exec := system.NewMockExecutor()
	fs := system.NewMockFS()
	rec := &fakeRecoverer{}
	inst := testInstaller(exec, fs, rec)

	job := &Job{Name: "10-web.sh", Source: "docker run -d --name web nginx", Identity: "web"}
	inst.Install(context.Background(), job)

	if job.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", job.Outcome)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}
	if got := exec.CountMatching("rm -f web"); got != 1 {
		t.Errorf("expected pre-attempt remove, got %d", got)
	}
	if _, ok := fs.GetFile("/Users/crew/.berth/attempts/10-web.sh.attempt-1.log"); !ok {
		t.Error("attempt output not persisted")
	}
	if len(rec.recoverCalls) != 0 || rec.diagCalls != 0 {
		t.Error("recovery should not run on success")
	}
}

func TestInstallScriptRunsOverEndpoint(t *testing.T) {
	exec := system.NewMockExecutor()
	inst := testInstaller(exec, system.NewMockFS(), &fakeRecoverer{})

	job := &Job{Name: "10-web.sh", Source: "docker run -d --name web nginx", Identity: "web"}
	inst.Install(context.Background(), job)

	last, ok := exec.LastCommand()
	if !ok {
		t.Fatal("no commands recorded")
	}
	if last.Name != "env" || !strings.Contains(last.Line(), "DOCKER_HOST="+testHost) {
		t.Errorf("script not routed through endpoint: %s", last.Line())
	}
	if last.Stdin != job.Source {
		t.Errorf("script stdin = %q, want the normalized source", last.Stdin)
	}
}

func TestInstallFatalStopsImmediately(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("sh -s", []byte("Unable to find image 'ghcr.io/x:latest' locally"), errors.New("exit status 125"))
	rec := &fakeRecoverer{}
	inst := testInstaller(exec, system.NewMockFS(), rec)

	job := &Job{Name: "10-web.sh", Source: "docker run --name web ghcr.io/x:latest", Identity: "web"}
	inst.Install(context.Background(), job)

	if job.Outcome != OutcomeFatal {
		t.Fatalf("outcome = %s, want fatal", job.Outcome)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retries on fatal)", job.Attempts)
	}
	if len(rec.recoverCalls) != 0 {
		t.Error("fatal failures must not trigger recovery")
	}
	if rec.diagCalls != 1 {
		t.Errorf("diagnostics captured %d times, want 1", rec.diagCalls)
	}
	if job.Err == nil || !strings.Contains(job.Err.Error(), "Unable to find image") {
		t.Errorf("job error missing captured output: %v", job.Err)
	}
}

func TestInstallTransientExhausted(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.AddResponse("sh -s", []byte("Cannot connect to the Docker daemon"), errors.New("exit status 1"))
	rec := &fakeRecoverer{}
	inst := testInstaller(exec, system.NewMockFS(), rec)

	job := &Job{Name: "10-web.sh", Source: "docker run --name web nginx", Identity: "web"}
	inst.Install(context.Background(), job)

	if job.Outcome != OutcomeTransientExhausted {
		t.Fatalf("outcome = %s, want transient-exhausted", job.Outcome)
	}
	if job.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", job.Attempts)
	}
	// Idempotence: the identity is removed before every attempt.
	if got := exec.CountMatching("rm -f web"); got != 3 {
		t.Errorf("pre-attempt removes = %d, want 3", got)
	}
	// Recovery runs between attempts, not after the last one.
	if len(rec.recoverCalls) != 2 {
		t.Errorf("recovery runs = %d, want 2", len(rec.recoverCalls))
	}
	if rec.diagCalls != 1 {
		t.Errorf("diagnostics captured %d times, want 1", rec.diagCalls)
	}
}

func TestInstallRecoversMidRetry(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.QueueResponse("sh -s", []byte("error during connect: EOF"), errors.New("exit status 1"))
	rec := &fakeRecoverer{}
	inst := testInstaller(exec, system.NewMockFS(), rec)

	job := &Job{Name: "10-web.sh", Source: "docker run --name web nginx", Identity: "web"}
	inst.Install(context.Background(), job)

	if job.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success after retry", job.Outcome)
	}
	if job.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", job.Attempts)
	}
	if len(rec.recoverCalls) != 1 {
		t.Errorf("recovery runs = %d, want 1", len(rec.recoverCalls))
	}
}

func TestInstallNoIdentitySkips(t *testing.T) {
	exec := system.NewMockExecutor()
	rec := &fakeRecoverer{}
	inst := testInstaller(exec, system.NewMockFS(), rec)

	job := &Job{Name: "50-tool.sh", Source: "docker run -d nginx"}
	inst.Install(context.Background(), job)

	if job.Outcome != OutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped", job.Outcome)
	}
	if len(exec.Commands) != 0 {
		t.Error("skipped job must not touch the runtime")
	}
}

func TestInstallAllContinuesPastFailure(t *testing.T) {
	exec := system.NewMockExecutor()
	// First job's script fails fatally; the second succeeds.
	exec.QueueResponse("sh -s", []byte("Unable to find image"), errors.New("exit status 125"))
	rec := &fakeRecoverer{}
	inst := testInstaller(exec, system.NewMockFS(), rec)

	jobs := []*Job{
		{Name: "10-bad.sh", Source: "docker run --name bad img", Identity: "bad"},
		{Name: "20-good.sh", Source: "docker run --name good nginx", Identity: "good"},
	}
	failed := inst.InstallAll(context.Background(), jobs)

	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if jobs[0].Outcome != OutcomeFatal {
		t.Errorf("first job outcome = %s, want fatal", jobs[0].Outcome)
	}
	if jobs[1].Outcome != OutcomeSuccess {
		t.Errorf("second job outcome = %s, want success (siblings still attempt)", jobs[1].Outcome)
	}
}

func TestOutcomeFailed(t *testing.T) {
	if OutcomeSuccess.Failed() || OutcomeSkipped.Failed() {
		t.Error("success and skipped must not count as failures")
	}
	if !OutcomeFatal.Failed() || !OutcomeTransientExhausted.Failed() {
		t.Error("fatal and transient-exhausted must count as failures")
	}
}
