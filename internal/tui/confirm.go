// Package tui provides the interactive confirmation prompt for
// destructive runs.
//
// Uses the Charm libraries:
//   - github.com/charmbracelet/bubbletea - TUI framework
//   - github.com/charmbracelet/bubbles - UI components
//   - github.com/charmbracelet/lipgloss - Styling
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")).
			MarginBottom(1)

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	tokenStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
)

// confirmModel drives the typed-token confirmation prompt. The prompt
// only accepts an exact token match; anything else, Esc, or Ctrl+C
// refuses.
type confirmModel struct {
	token   string
	warning string
	details []string

	input     textinput.Model
	confirmed bool
	done      bool
}

func newConfirmModel(token, warning string, details []string) confirmModel {
	ti := textinput.New()
	ti.Placeholder = token
	ti.Focus()
	ti.CharLimit = 64
	ti.Width = 30

	return confirmModel{
		token:   token,
		warning: warning,
		details: details,
		input:   ti,
	}
}

func (m confirmModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.done = true
			return m, tea.Quit
		case tea.KeyEnter:
			m.confirmed = strings.TrimSpace(m.input.Value()) == m.token
			m.done = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m confirmModel) View() string {
	if m.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.warning))
	b.WriteString("\n")
	for _, d := range m.details {
		b.WriteString(detailStyle.Render("  " + d))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Type %s to proceed, anything else to abort:\n", tokenStyle.Render(m.token)))
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(detailStyle.Render("Esc to abort."))
	return b.String()
}

// Confirm shows the prompt and reports whether the user typed the exact
// token. A refused prompt is not an error; errors are terminal plumbing
// failures only.
func Confirm(token, warning string, details []string) (bool, error) {
	p := tea.NewProgram(newConfirmModel(token, warning, details))

	finalModel, err := p.Run()
	if err != nil {
		return false, err
	}

	return finalModel.(confirmModel).confirmed, nil
}
