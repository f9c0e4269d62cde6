package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/berth-engineering/berth-ctl/internal/backend"
	"github.com/berth-engineering/berth-ctl/internal/config"
	"github.com/berth-engineering/berth-ctl/internal/errors"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stack health",
	Long: `One-shot health report: backend state, virtualization type,
endpoint reachability, deep engine checks, and supervision state.
The exit code reflects overall health.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

var (
	statusTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				MarginBottom(1)

	statusOKStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	statusBadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

type healthCheck struct {
	name   string
	ok     bool
	detail string
}

func runStatus(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	st := newStack(settings)
	ctx := cmd.Context()

	checks := collectChecks(ctx, st)

	fmt.Println(statusTitleStyle.Render(fmt.Sprintf("berth stack: %s", settings.Profile)))
	fmt.Println(statusDimStyle.Render("endpoint " + settings.DockerHost()))
	fmt.Println()

	healthy := true
	for _, c := range checks {
		mark := statusOKStyle.Render("✓")
		if !c.ok {
			mark = statusBadStyle.Render("✗")
			healthy = false
		}
		line := fmt.Sprintf("  %s %-16s", mark, c.name)
		if c.detail != "" {
			line += " " + statusDimStyle.Render(c.detail)
		}
		fmt.Println(line)
	}

	if !healthy {
		return errors.New(errors.ExitGeneralError, "stack unhealthy")
	}
	return nil
}

func collectChecks(ctx context.Context, st *stack) []healthCheck {
	var checks []healthCheck

	status, err := st.backend.Status(ctx, false)
	checks = append(checks, healthCheck{
		name:   "backend",
		ok:     err == nil,
		detail: firstLine(status),
	})

	if err == nil {
		verdict := backend.ClassifyStatus(status)
		checks = append(checks, healthCheck{
			name:   "virtualization",
			ok:     verdict == backend.VerdictConfirmed,
			detail: verdict.String() + " (" + config.LockedBackendType + " required)",
		})
	}

	checks = append(checks, healthCheck{
		name: "control socket",
		ok:   st.fs.Exists(st.settings.SocketPath()),
	})

	apiErr := st.docker.Version(ctx)
	checks = append(checks, healthCheck{name: "engine API", ok: apiErr == nil, detail: errDetail(apiErr)})

	deepErr := st.docker.DeepHealth(ctx)
	checks = append(checks, healthCheck{name: "deep health", ok: deepErr == nil, detail: errDetail(deepErr)})

	supStatus, supErr := st.sup.Status(ctx)
	checks = append(checks, healthCheck{
		name:   "supervision",
		ok:     supErr == nil,
		detail: supervisionState(supStatus, supErr),
	})

	return checks
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return firstLine(err.Error())
}

func supervisionState(status string, err error) string {
	if err != nil {
		return "not registered"
	}
	for _, line := range strings.Split(status, "\n") {
		if strings.Contains(line, "state =") {
			return strings.TrimSpace(line)
		}
	}
	return "registered"
}
