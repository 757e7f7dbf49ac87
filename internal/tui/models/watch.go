package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/allbin/multi-serial/internal/bridge"
	"github.com/allbin/multi-serial/internal/tui/components"
	"github.com/allbin/multi-serial/internal/tui/keys"
	"github.com/allbin/multi-serial/internal/tui/styles"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// BusMsg is a message received on one of the watched topics
type BusMsg struct {
	Topic   string
	Payload []byte
}

// ConnectionStatusMsg reports the broker connection state
type ConnectionStatusMsg struct {
	Connected bool
	Error     error
}

type clockMsg time.Time

// WatchModel is the bubbletea model of the watch command
type WatchModel struct {
	devices map[string]*components.DeviceRow

	table     *components.DeviceTable
	events    *components.EventLog
	statusBar *components.StatusBar
	help      help.Model
	keys      keys.WatchKeys

	showLog bool
	width   int
	height  int
	now     func() time.Time
}

func NewWatchModel(broker string) *WatchModel {
	return &WatchModel{
		devices:   make(map[string]*components.DeviceRow),
		table:     components.NewDeviceTable(80, 20),
		events:    components.NewEventLog(80, 6),
		statusBar: components.NewStatusBar(broker),
		help:      help.New(),
		keys:      keys.NewWatchKeys(),
		showLog:   true,
		width:     80,
		height:    24,
		now:       time.Now,
	}
}

func tickClock() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return clockMsg(t)
	})
}

func (m *WatchModel) Init() tea.Cmd {
	return tickClock()
}

func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		cmds = append(cmds, m.events.Update(msg))

	case clockMsg:
		cmds = append(cmds, tickClock())

	case ConnectionStatusMsg:
		m.statusBar.SetConnection(msg.Connected, msg.Error)

	case BusMsg:
		if m.apply(msg) {
			m.refresh()
		}

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.layout()

		case key.Matches(msg, m.keys.Clear):
			m.devices = make(map[string]*components.DeviceRow)
			m.events.Clear()
			m.refresh()

		case key.Matches(msg, m.keys.ToggleLog):
			m.showLog = !m.showLog
			m.layout()

		default:
			cmds = append(cmds, m.table.Update(msg))
		}
	}

	return m, tea.Batch(cmds...)
}

// apply folds a bus message into the device rows and reports whether
// anything changed
func (m *WatchModel) apply(msg BusMsg) bool {
	parts := strings.Split(msg.Topic, "/")
	if len(parts) != 3 || parts[0] != bridge.TopicRoot {
		return false
	}
	slug, kind := parts[1], parts[2]

	switch kind {
	case "status":
		var status bridge.StatusMessage
		if err := json.Unmarshal(msg.Payload, &status); err != nil {
			return false
		}
		row := m.row(status.Device, slug)
		reason := ""
		if status.Error != nil {
			reason = *status.Error
		}
		changed := row.State != status.State || row.Error != reason
		row.State = status.State
		row.Error = reason
		row.Updated = m.parseTime(status.TS)
		if changed {
			m.events.Add(components.Event{
				Time:   row.Updated,
				Device: row.Device,
				State:  row.State,
				Reason: reason,
			})
		}
		return true

	case "data":
		var data bridge.DataMessage
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			return false
		}
		row := m.row(data.Device, slug)
		row.LastData = data.Data
		row.Updated = m.parseTime(data.TS)
		return true

	default:
		return false
	}
}

func (m *WatchModel) row(device, slug string) *components.DeviceRow {
	if device == "" {
		device = slug
	}
	row, ok := m.devices[device]
	if !ok {
		row = &components.DeviceRow{Device: device}
		m.devices[device] = row
	}
	return row
}

func (m *WatchModel) parseTime(ts string) time.Time {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t
	}
	return m.now()
}

// Rows returns the device rows sorted by device path
func (m *WatchModel) Rows() []components.DeviceRow {
	rows := make([]components.DeviceRow, 0, len(m.devices))
	for _, r := range m.devices {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Device < rows[j].Device
	})
	return rows
}

func (m *WatchModel) refresh() {
	m.table.SetRows(m.Rows())
	m.statusBar.SetDeviceCount(len(m.devices))
}

func (m *WatchModel) layout() {
	// status bar is a single line
	available := m.height - 1
	if m.help.ShowAll {
		available -= lipgloss.Height(m.helpView())
	}

	tableHeight := available
	if m.showLog {
		logHeight := available / 3
		if logHeight < 3 {
			logHeight = 3
		}
		// one line for the separator border
		m.events.SetSize(m.width, logHeight-1)
		tableHeight = available - logHeight
	}

	m.table.SetSize(m.width, tableHeight)
	m.statusBar.SetWidth(m.width)
}

func (m *WatchModel) helpView() string {
	return styles.HelpBoxStyle.Render(m.help.View(m.keys))
}

func (m *WatchModel) View() string {
	sections := []string{m.table.View()}
	if m.showLog {
		sections = append(sections, styles.ContentBorderStyle.Render(m.events.View()))
	}
	if m.help.ShowAll {
		sections = append(sections, m.helpView())
	}
	sections = append(sections, m.statusBar.View(m.now().Format("15:04:05")))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
