package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/berth-engineering/berth-ctl/internal/logging"
)

var (
	verbose      bool
	jsonOutput   bool
	settingsPath string
)

var rootCmd = &cobra.Command{
	Use:   "berth-ctl",
	Short: "Local container stack bring-up for macOS",
	Long: `berth-ctl provisions and supervises a local docker stack on macOS.

It drives colima on the Virtualization.framework backend, registers the
VM under launchd supervision, waits for the engine to hold steady, and
installs declared containers from the jobs directory idempotently.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose, jsonOutput, os.Stderr)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "Settings file (default ~/.config/berth/settings.toml)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// Helper aliases for user-facing output (delegates to logging package)
var (
	logInfo    = logging.UserInfo
	logSuccess = logging.UserSuccess
	logWarning = logging.UserWarning
	logError   = logging.UserError
)
