package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// View renders the follow view.
func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	header := titleStyle.Render("cwatch") + " " +
		m.service + " " +
		dimStyle.Render(truncate(m.command, max(m.width-len(m.service)-10, 8)))

	body := m.viewport.View()
	if len(m.lines) == 0 {
		body = dimStyle.Render("waiting for output...")
	}

	return header + "\n" + body + "\n" + m.statusBar()
}

func (m Model) statusBar() string {
	var left string
	if m.done {
		left = m.outcome() + dimStyle.Render(fmt.Sprintf("  %s  %d records",
			formatElapsed(time.Since(m.started)), m.total))
	} else {
		left = m.spinner.View() + dimStyle.Render(fmt.Sprintf("running  %s  %d records",
			formatElapsed(time.Since(m.started)), m.total))
	}

	right := "q:quit g:top G:follow"
	if !m.follow {
		right = dimStyle.Render("[scroll] ") + right
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + helpStyle.Render(right)
}

func (m Model) outcome() string {
	if m.runErr != nil {
		return failStyle.Render("failed: " + truncate(m.runErr.Error(), 40))
	}
	if m.exitCode == 0 {
		return okStyle.Render("exit 0")
	}
	return failStyle.Render(fmt.Sprintf("exit %d", m.exitCode))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func formatElapsed(d time.Duration) string {
	sec := int(d.Seconds())
	if sec < 60 {
		return fmt.Sprintf("%ds", sec)
	}
	if sec < 3600 {
		return fmt.Sprintf("%dm%02ds", sec/60, sec%60)
	}
	return fmt.Sprintf("%dh%02dm", sec/3600, (sec%3600)/60)
}
