package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/berth-engineering/berth-ctl/internal/config"
	"github.com/berth-engineering/berth-ctl/internal/lifecycle"
	"github.com/berth-engineering/berth-ctl/internal/logging"
	"github.com/berth-engineering/berth-ctl/internal/system"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Bring up the container stack",
	Long: `Bring up the full stack: stop lingering processes, start the VM,
verify the virtualization backend, register launchd supervision, wait
for the engine to hold steady, and install declared container jobs.

A destructive reset (--reset) purges the VM state directories and must
be approved by typing the confirmation token, or by --non-interactive.`,
	Args: cobra.NoArgs,
	RunE: runUp,
}

// Destructive decisions live only on these flags. The settings file and
// environment have no counterpart for them.
var (
	upReset          bool
	upBackup         bool
	upNonInteractive bool
)

func init() {
	upCmd.Flags().BoolVar(&upReset, "reset", false, "Destructively purge VM state before provisioning")
	upCmd.Flags().BoolVar(&upBackup, "backup", false, "Archive VM state before a reset (requires --reset)")
	upCmd.Flags().BoolVar(&upNonInteractive, "non-interactive", false, "Approve destructive actions without a prompt")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	cfg := config.RunConfig{
		Settings: settings,
		Invocation: config.Invocation{
			Reset:          upReset,
			Backup:         upBackup,
			NonInteractive: upNonInteractive,
		},
	}

	if err := logging.OpenRunLog(settings.RunLogPath()); err != nil {
		logWarning("Run log unavailable: %v", err)
	}
	defer logging.CloseRunLog()
	logging.RunLog("up: profile=%s reset=%v backup=%v", settings.Profile, upReset, upBackup)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go lifecycle.PrivilegeKeepalive(ctx, system.DefaultExecutor(), time.Minute)

	o := lifecycle.New(system.DefaultExecutor(), system.DefaultFS())
	o.Binary = backendBinary()
	o.UID = os.Getuid()
	o.User = currentUsername()

	phase, err := o.Run(ctx, cfg)
	if err != nil {
		logError("Bring-up failed in phase %s: %v", phase, err)
		return err
	}
	return nil
}
