package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/berth-engineering/berth-ctl/internal/logging"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Capture and print the diagnostics bundle",
	Long: `Collect the operator diagnostics bundle on demand: supervision
status, verbose backend status, the recent run-log tail, and an in-VM
process and resource probe. The bundle is also appended to the run log.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	st := newStack(settings)

	if err := logging.OpenRunLog(settings.RunLogPath()); err != nil {
		logWarning("Run log unavailable: %v", err)
	}
	defer logging.CloseRunLog()

	fmt.Println(st.rec.CaptureDiagnostics(cmd.Context()))
	return nil
}
