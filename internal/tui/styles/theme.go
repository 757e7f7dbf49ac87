package styles

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Mauve).
			Background(Surface0).
			Padding(0, 1)

	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Mauve)

	TableBaseStyle = lipgloss.NewStyle().
			Foreground(Text).
			BorderForeground(Surface2).
			Align(lipgloss.Left)

	ContentBorderStyle = lipgloss.NewStyle().
				BorderTop(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(Surface1)

	HelpBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Surface2).
			Padding(1, 2).
			Margin(1, 0)

	TimestampStyle = lipgloss.NewStyle().
			Foreground(Subtext0)

	DeviceStyle = lipgloss.NewStyle().
			Foreground(Mauve).
			Bold(true)

	EmptyStyle = lipgloss.NewStyle().
			Foreground(Overlay0).
			Italic(true)

	stateConnectedStyle = lipgloss.NewStyle().
				Foreground(Green).
				Bold(true)

	stateDisconnectedStyle = lipgloss.NewStyle().
				Foreground(Peach).
				Bold(true)

	stateErrorStyle = lipgloss.NewStyle().
			Foreground(Red).
			Bold(true)

	stateUnknownStyle = lipgloss.NewStyle().
				Foreground(Yellow)
)

// StateStyle returns the style for a device state as published in status
// messages
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "connected":
		return stateConnectedStyle
	case "disconnected":
		return stateDisconnectedStyle
	case "error":
		return stateErrorStyle
	default:
		return stateUnknownStyle
	}
}
