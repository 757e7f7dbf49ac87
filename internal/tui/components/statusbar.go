package components

import (
	"fmt"

	"github.com/allbin/multi-serial/internal/tui/styles"
	"github.com/charmbracelet/lipgloss"
)

type StatusBar struct {
	broker    string
	connected bool
	err       error
	devices   int
	width     int
}

func NewStatusBar(broker string) *StatusBar {
	return &StatusBar{broker: broker}
}

func (sb *StatusBar) SetWidth(width int) {
	sb.width = width
}

// SetConnection records the broker connection state; a non-nil err marks
// the connection as failed
func (sb *StatusBar) SetConnection(connected bool, err error) {
	sb.connected = connected
	sb.err = err
}

func (sb *StatusBar) SetDeviceCount(n int) {
	sb.devices = n
}

// View renders the single-line status bar
func (sb *StatusBar) View(timestamp string) string {
	terminalWidth := sb.width
	if terminalWidth <= 0 {
		terminalWidth = 80
	}

	mode := lipgloss.NewStyle().
		Foreground(styles.Base).
		Background(styles.Blue).
		Bold(true).
		Padding(0, 1).
		Render("WATCH")

	broker := lipgloss.NewStyle().
		Foreground(styles.Mauve).
		Bold(true).
		Padding(0, 1).
		Render(sb.broker)

	var indicator string
	switch {
	case sb.err != nil:
		indicator = lipgloss.NewStyle().Foreground(styles.Red).Render("✗ " + sb.err.Error())
	case sb.connected:
		indicator = lipgloss.NewStyle().Foreground(styles.Green).Render("●")
	default:
		indicator = lipgloss.NewStyle().Foreground(styles.Yellow).Render("○")
	}

	divider := lipgloss.NewStyle().
		Foreground(styles.Surface2).
		Padding(0, 1).
		Render("│")

	noun := "devices"
	if sb.devices == 1 {
		noun = "device"
	}
	count := lipgloss.NewStyle().
		Foreground(styles.Subtext0).
		Padding(0, 1).
		Render(fmt.Sprintf("⚡ %d %s", sb.devices, noun))

	clock := lipgloss.NewStyle().
		Foreground(styles.Subtext1).
		Padding(0, 1).
		Render(timestamp)

	leftSide := lipgloss.JoinHorizontal(lipgloss.Left, mode, broker, indicator, divider)
	rightSide := lipgloss.JoinHorizontal(lipgloss.Left, count, divider, clock)

	spacerWidth := terminalWidth - lipgloss.Width(leftSide) - lipgloss.Width(rightSide)
	if spacerWidth < 1 {
		spacerWidth = 1
	}
	spacer := lipgloss.NewStyle().Width(spacerWidth).Render("")

	return lipgloss.NewStyle().
		Foreground(styles.Text).
		Background(styles.Surface0).
		Width(terminalWidth).
		Render(lipgloss.JoinHorizontal(lipgloss.Left, leftSide, spacer, rightSide))
}
