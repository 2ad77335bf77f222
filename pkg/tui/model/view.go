package model

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/modoterra/opsconsole/pkg/logstream"
	"github.com/modoterra/opsconsole/pkg/transfer"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	connectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	connectingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	disconnectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	failedStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// View renders the TUI.
func (a App) View() string {
	if !a.ready {
		return "loading..."
	}

	parts := []string{a.renderHeader()}
	if a.transfer.Detected {
		parts = append(parts, a.renderBanner())
	}
	body := a.viewport.View()
	if a.session.Len() == 0 {
		body = dimStyle.Render("no log output yet")
	}
	parts = append(parts, body, a.renderStatusBar())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (a App) renderHeader() string {
	left := titleStyle.Render(" Execution " + a.executionID + " ")
	right := a.statusIndicator()
	gap := a.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (a App) renderBanner() string {
	text := fmt.Sprintf(" %s %s requested: file transfers are not supported in the log view (esc to dismiss) ",
		a.transfer.Protocol, a.transfer.Direction)
	return bannerStyle.Width(a.width).Render(truncate(text, a.width))
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	if left == "" {
		left = transfer.FormatSize(int64(a.session.Len())) + " received"
	}
	if !a.follow {
		left += " " + dimStyle.Render("[PAUSED]")
	}
	right := "j/k:scroll g/G:top/bottom f:follow q:quit"

	gap := a.width - lipgloss.Width(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

// statusIndicator renders the connection state.
func (a App) statusIndicator() string {
	switch a.state {
	case logstream.StateConnecting:
		return connectingStyle.Render("◌ connecting ") + a.spinner.View()
	case logstream.StateConnected:
		return connectedStyle.Render("● connected")
	case logstream.StateClosed:
		if a.err != nil {
			return failedStyle.Render("✖ closed with error")
		}
		return disconnectedStyle.Render("○ disconnected")
	default:
		return disconnectedStyle.Render("○ disconnected")
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
