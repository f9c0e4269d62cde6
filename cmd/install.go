package cmd

import (
	"github.com/spf13/cobra"

	"github.com/berth-engineering/berth-ctl/internal/errors"
	"github.com/berth-engineering/berth-ctl/internal/installer"
	"github.com/berth-engineering/berth-ctl/internal/logging"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Run container jobs against a healthy stack",
	Long: `Run only the container installation phase: scan the jobs directory
and install each declared job idempotently. The stack must already be
up; run "berth-ctl up" first.`,
	Args: cobra.NoArgs,
	RunE: runInstall,
}

var installPrune bool

func init() {
	installCmd.Flags().BoolVar(&installPrune, "prune", false, "Prune dangling images after a fully successful install")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	st := newStack(settings)
	ctx := cmd.Context()

	if err := logging.OpenRunLog(settings.RunLogPath()); err != nil {
		logWarning("Run log unavailable: %v", err)
	}
	defer logging.CloseRunLog()

	if err := st.docker.Version(ctx); err != nil {
		return errors.New(errors.ExitGeneralError, "engine not reachable; run \"berth-ctl up\" first")
	}

	inst := &installer.Installer{
		FS:          st.fs,
		Docker:      st.docker,
		Recovery:    st.rec,
		JobsDir:     settings.JobsDir,
		AttemptsDir: settings.AttemptsDir(),
		Tries:       settings.InstallTries,
		Backoff:     settings.Budgets.RetryBackoff,
	}

	jobs, err := inst.Scan()
	if err != nil {
		return errors.Wrap(errors.ExitJobFailed, "failed to scan container jobs", err)
	}
	if len(jobs) == 0 {
		logInfo("No container jobs declared in %s", settings.JobsDir)
		return nil
	}

	logInfo("Installing %d container job(s)", len(jobs))
	if failed := inst.InstallAll(ctx, jobs); failed > 0 {
		return errors.JobsFailed(failed, len(jobs))
	}
	logSuccess("All jobs installed")

	if installPrune {
		if err := st.docker.PruneImages(ctx); err != nil {
			logWarning("Image prune: %v", err)
		}
	}
	return nil
}
