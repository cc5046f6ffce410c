package orchestrator

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPurple    = lipgloss.Color("#7D56F4")
	colorGreen     = lipgloss.Color("#04B575")
	colorRed       = lipgloss.Color("#FF4141")
	colorYellow    = lipgloss.Color("#FFC107")
	colorLightGray = lipgloss.Color("#9e9e9e")

	styleTitle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true)

	styleHeader = lipgloss.NewStyle().
			Foreground(colorLightGray).
			Bold(true)

	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleError   = lipgloss.NewStyle().Foreground(colorRed)
	styleMuted   = lipgloss.NewStyle().Foreground(colorLightGray)
)

// statusStyle colors a run or table status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "success":
		return styleSuccess
	case "partial", "skipped", "running":
		return styleWarning
	case "failed":
		return styleError
	default:
		return styleMuted
	}
}

// pad right-pads s to width before styling so columns stay aligned.
func pad(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
