// Package installer scans a jobs directory for container installer
// scripts and runs each one idempotently against the runtime endpoint,
// with bounded retries routed through the recovery pipeline.
package installer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/kballard/go-shellquote"

	"github.com/berth-engineering/berth-ctl/internal/dockerd"
	"github.com/berth-engineering/berth-ctl/internal/logging"
	"github.com/berth-engineering/berth-ctl/internal/system"
	"github.com/berth-engineering/berth-ctl/internal/transient"
)

// Recoverer remediates an unhealthy runtime between attempts and
// captures the operator diagnostics bundle on terminal failures.
type Recoverer interface {
	Recover(ctx context.Context, reason string) error
	CaptureDiagnostics(ctx context.Context) string
}

// Outcome is the terminal state of one container job.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeSkipped
	OutcomeTransientExhausted
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeTransientExhausted:
		return "transient-exhausted"
	case OutcomeFatal:
		return "fatal"
	default:
		return "pending"
	}
}

// Failed reports whether the outcome counts against the run's exit code.
// Skips are reported but not failures.
func (o Outcome) Failed() bool {
	return o == OutcomeTransientExhausted || o == OutcomeFatal
}

// Job is one installer script and its lifecycle record. A Job is owned
// by the Installer and never shared: jobs run strictly sequentially.
type Job struct {
	Name     string
	Path     string
	Source   string // normalized script text
	Identity string
	Attempts int
	Outcome  Outcome
	Err      error
}

// Installer runs container jobs against one endpoint.
type Installer struct {
	FS       system.FileSystem
	Docker   *dockerd.Client
	Recovery Recoverer

	JobsDir     string
	AttemptsDir string
	Tries       int
	Backoff     time.Duration
}

// Scan walks the jobs directory in lexical order and returns the
// candidate jobs. Dotfiles, markdown, READMEs and subdirectories are
// not jobs. A missing jobs directory is an empty declaration, not an
// error.
func (i *Installer) Scan() ([]*Job, error) {
	if !i.FS.Exists(i.JobsDir) {
		return nil, nil
	}
	entries, err := i.FS.ReadDir(i.JobsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan jobs directory: %w", err)
	}

	var jobs []*Job
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !isJobFile(name) {
			continue
		}
		path := filepath.Join(i.JobsDir, name)
		data, err := i.FS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read job %s: %w", name, err)
		}
		src := Normalize(string(data))
		job := &Job{Name: name, Path: path, Source: src}
		job.Identity, _ = ExtractIdentity(src)
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func isJobFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.EqualFold(filepath.Ext(name), ".md") {
		return false
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return !strings.EqualFold(base, "readme")
}

// Normalize canonicalizes free-form installer text: carriage returns
// stripped, leading shell-prompt glyphs removed, backslash
// line-continuations joined into single logical lines.
func Normalize(src string) string {
	src = strings.ReplaceAll(src, "\r", "")

	var logical []string
	var cont strings.Builder
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		// A leading "# " is indistinguishable from a shell comment,
		// so only the user prompt glyph is stripped.
		if strings.HasPrefix(trimmed, "$ ") {
			trimmed = trimmed[2:]
		}

		if strings.HasSuffix(trimmed, "\\") {
			cont.WriteString(strings.TrimRight(strings.TrimSuffix(trimmed, "\\"), " \t"))
			cont.WriteString(" ")
			continue
		}
		cont.WriteString(trimmed)
		logical = append(logical, cont.String())
		cont.Reset()
	}
	if cont.Len() > 0 {
		logical = append(logical, strings.TrimRight(cont.String(), " "))
	}
	return strings.Join(logical, "\n")
}

// ExtractIdentity finds the declared container name in a normalized
// script. Lines are tokenized with shell quoting rules and matched
// against an ordered rule list; the first rule hitting on the first
// matching line wins. Scripts without a name declaration return false.
func ExtractIdentity(src string) (string, bool) {
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			// Comment lines never declare the container name.
			continue
		}
		tokens, err := shellquote.Split(line)
		if err != nil {
			// Unbalanced quoting; not a parsable command line.
			continue
		}
		if id, ok := identityFromTokens(tokens); ok {
			return id, true
		}
	}
	return "", false
}

// identityFromTokens applies the accepted --name forms in priority
// order. Quoted values are already unwrapped by tokenization.
func identityFromTokens(tokens []string) (string, bool) {
	for idx, tok := range tokens {
		if tok == "--name" && idx+1 < len(tokens) && tokens[idx+1] != "" {
			return tokens[idx+1], true
		}
	}
	for _, tok := range tokens {
		if v, ok := strings.CutPrefix(tok, "--name="); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// InstallAll runs every job in declaration order and returns the number
// that failed. A job's failure never aborts its siblings.
func (i *Installer) InstallAll(ctx context.Context, jobs []*Job) int {
	failed := 0
	for _, job := range jobs {
		i.Install(ctx, job)
		switch job.Outcome {
		case OutcomeSuccess:
			logging.UserSuccess("Job %s installed (%s)", job.Name, job.Identity)
		case OutcomeSkipped:
			logging.UserWarning("Job %s skipped: no container name declared", job.Name)
		default:
			failed++
			logging.UserError("Job %s failed (%s): %v", job.Name, job.Outcome, job.Err)
		}
	}
	return failed
}

// Install runs one job to its terminal outcome.
func (i *Installer) Install(ctx context.Context, job *Job) {
	if job.Identity == "" {
		job.Outcome = OutcomeSkipped
		logging.RunLog("job %s: skipped, no identity found", job.Name)
		return
	}

	tries := i.Tries
	if tries < 1 {
		tries = 1
	}

	for attempt := 1; attempt <= tries; attempt++ {
		job.Attempts = attempt
		logging.Debug("job attempt", "job", job.Name, "identity", job.Identity, "attempt", attempt)

		// Remove any previous instance so reruns converge instead of
		// accumulating duplicates. Absence is not an error.
		if err := i.Docker.Remove(ctx, job.Identity); err != nil {
			logging.Debug("pre-attempt remove failed", "identity", job.Identity, "err", err)
		}

		out, err := i.Docker.RunScript(ctx, job.Source)
		i.persistAttempt(job, attempt, out)

		if err == nil {
			job.Outcome = OutcomeSuccess
			return
		}
		if ctx.Err() != nil {
			job.Outcome = OutcomeFatal
			job.Err = ctx.Err()
			return
		}

		failure := strings.TrimSpace(out)
		if failure == "" {
			failure = err.Error()
		}

		if transient.Classify(failure) == transient.Fatal {
			job.Outcome = OutcomeFatal
			job.Err = fmt.Errorf("attempt %d failed: %s", attempt, failure)
			logging.RunLogRaw(fmt.Sprintf("job %s: fatal failure on attempt %d", job.Name, attempt), failure)
			i.Recovery.CaptureDiagnostics(ctx)
			return
		}

		logging.RunLog("job %s: transient failure on attempt %d: %s", job.Name, attempt, failure)
		job.Err = fmt.Errorf("attempt %d failed: %s", attempt, failure)

		if attempt == tries {
			break
		}
		if rerr := i.Recovery.Recover(ctx, fmt.Sprintf("job %s attempt %d", job.Name, attempt)); rerr != nil {
			logging.Debug("recovery before retry failed", "job", job.Name, "err", rerr)
		}
		select {
		case <-ctx.Done():
			job.Outcome = OutcomeFatal
			job.Err = ctx.Err()
			return
		case <-time.After(i.Backoff):
		}
	}

	job.Outcome = OutcomeTransientExhausted
	i.Recovery.CaptureDiagnostics(ctx)
}

// persistAttempt writes one attempt's combined output under the state
// dir for post-hoc inspection. Best-effort: persistence failures never
// fail the job.
func (i *Installer) persistAttempt(job *Job, attempt int, out string) {
	if i.AttemptsDir == "" {
		return
	}
	name := fmt.Sprintf("%s.attempt-%d.log", job.Name, attempt)
	path, err := securejoin.SecureJoin(i.AttemptsDir, name)
	if err != nil {
		logging.Debug("attempt path rejected", "job", job.Name, "err", err)
		return
	}
	if err := i.FS.MkdirAll(i.AttemptsDir, 0o755); err != nil {
		logging.Debug("attempts dir create failed", "err", err)
		return
	}
	if err := i.FS.WriteFile(path, []byte(out), 0o644); err != nil {
		logging.Warn("attempt output write failed", "path", path, "err", err)
	}
}
