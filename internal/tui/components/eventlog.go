package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/allbin/multi-serial/internal/tui/styles"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// maxEvents bounds the log; older entries are dropped
const maxEvents = 500

// Event is one state change of a device
type Event struct {
	Time   time.Time
	Device string
	State  string
	Reason string
}

// EventLog is a scrolling list of device state changes
type EventLog struct {
	viewport viewport.Model
	lines    []string
}

func NewEventLog(width, height int) *EventLog {
	return &EventLog{
		viewport: viewport.New(width, height),
	}
}

func (l *EventLog) SetSize(width, height int) {
	l.viewport.Width = width
	l.viewport.Height = height
}

// Add appends e and scrolls to it
func (l *EventLog) Add(e Event) {
	l.lines = append(l.lines, FormatEvent(e))
	if len(l.lines) > maxEvents {
		l.lines = l.lines[len(l.lines)-maxEvents:]
	}
	l.viewport.SetContent(strings.Join(l.lines, "\n"))
	l.viewport.GotoBottom()
}

func (l *EventLog) Len() int {
	return len(l.lines)
}

func (l *EventLog) Clear() {
	l.lines = nil
	l.viewport.SetContent("")
}

// FormatEvent renders e as a single log line
func FormatEvent(e Event) string {
	timestamp := styles.TimestampStyle.Render(fmt.Sprintf("[%s]", e.Time.Local().Format("15:04:05")))
	line := fmt.Sprintf("%s %s %s",
		timestamp,
		styles.DeviceStyle.Render(e.Device),
		styles.StateStyle(e.State).Render(e.State))
	if e.Reason != "" {
		line += ": " + e.Reason
	}
	return line
}

func (l *EventLog) Update(msg tea.Msg) tea.Cmd {
	// Only resize reaches the viewport; keys belong to the device table
	switch msg.(type) {
	case tea.WindowSizeMsg:
		var cmd tea.Cmd
		l.viewport, cmd = l.viewport.Update(msg)
		return cmd
	default:
		return nil
	}
}

func (l *EventLog) View() string {
	return l.viewport.View()
}
