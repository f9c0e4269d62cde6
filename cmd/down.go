package cmd

import (
	"github.com/spf13/cobra"

	"github.com/berth-engineering/berth-ctl/internal/errors"
	"github.com/berth-engineering/berth-ctl/internal/logging"
	"github.com/berth-engineering/berth-ctl/internal/reaper"
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop the container stack",
	Long: `Stop the stack without touching persisted state: deactivate launchd
supervision, stop the VM, and reap any leftover backend processes.`,
	Args: cobra.NoArgs,
	RunE: runDown,
}

var downPrune bool

func init() {
	downCmd.Flags().BoolVar(&downPrune, "prune", false, "Prune unused engine data before stopping")
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	st := newStack(settings)
	ctx := cmd.Context()

	if downPrune {
		logInfo("Pruning unused engine data")
		if err := st.docker.PruneSystem(ctx); err != nil {
			logWarning("System prune: %v", err)
		}
	}

	logInfo("Removing supervision (%s)", settings.SuperviseLabel())
	if err := st.sup.Remove(ctx); err != nil {
		logWarning("Supervision removal: %v", err)
	}

	logInfo("Stopping backend (profile %s)", settings.Profile)
	if err := st.backend.Stop(ctx); err != nil {
		logWarning("Backend stop: %v", err)
	}

	r := reaper.New(st.exec, currentUsername(), []string{"colima", "limactl", "lima-guestagent"}, settings.Budgets.KillGrace)
	state, err := r.Kill(ctx)
	if err != nil {
		var still *reaper.ErrStillRunning
		if errors.As(err, &still) {
			return errors.ReaperFailed(still.Remaining)
		}
		return errors.Wrap(errors.ExitReaperFailed, "failed to stop backend processes", err)
	}
	logging.Debug("stack reaped", "state", state)

	logSuccess("Stack stopped")
	return nil
}
