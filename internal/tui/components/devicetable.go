package components

import (
	"time"

	"github.com/allbin/multi-serial/internal/tui/styles"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/evertras/bubble-table/table"
)

const (
	columnKeyDevice  = "device"
	columnKeyState   = "state"
	columnKeyError   = "error"
	columnKeyData    = "data"
	columnKeyUpdated = "updated"
)

// DeviceRow is what the watch view knows about one device
type DeviceRow struct {
	Device   string
	State    string
	Error    string
	LastData string
	Updated  time.Time
}

type DeviceTable struct {
	model table.Model
	rows  int
}

func NewDeviceTable(width, height int) *DeviceTable {
	columns := []table.Column{
		table.NewColumn(columnKeyDevice, "Device", 24),
		table.NewColumn(columnKeyState, "State", 14),
		table.NewFlexColumn(columnKeyError, "Error", 1),
		table.NewFlexColumn(columnKeyData, "Last data", 3),
		table.NewColumn(columnKeyUpdated, "Updated", 10),
	}

	dt := &DeviceTable{
		model: table.New(columns).
			WithBaseStyle(styles.TableBaseStyle).
			HeaderStyle(styles.TableHeaderStyle).
			BorderRounded().
			SortByAsc(columnKeyDevice).
			Focused(true),
	}
	dt.SetSize(width, height)
	return dt
}

// SetSize fits the table into width columns and height lines including
// its border and header
func (dt *DeviceTable) SetSize(width, height int) {
	if width < 60 {
		width = 60
	}
	// border top/bottom, header and header separator
	pageSize := height - 4
	if pageSize < 1 {
		pageSize = 1
	}
	dt.model = dt.model.WithTargetWidth(width).WithPageSize(pageSize)
}

// SetRows replaces the table contents
func (dt *DeviceTable) SetRows(rows []DeviceRow) {
	tableRows := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		updated := ""
		if !r.Updated.IsZero() {
			updated = r.Updated.Local().Format("15:04:05")
		}
		tableRows = append(tableRows, table.NewRow(table.RowData{
			columnKeyDevice:  r.Device,
			columnKeyState:   table.NewStyledCell(r.State, styles.StateStyle(r.State)),
			columnKeyError:   r.Error,
			columnKeyData:    r.LastData,
			columnKeyUpdated: updated,
		}))
	}
	dt.rows = len(tableRows)
	dt.model = dt.model.WithRows(tableRows)
}

// Len returns the number of rows
func (dt *DeviceTable) Len() int {
	return dt.rows
}

// Update forwards navigation keys to the table
func (dt *DeviceTable) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	dt.model, cmd = dt.model.Update(msg)
	return cmd
}

func (dt *DeviceTable) View() string {
	if dt.rows == 0 {
		return styles.EmptyStyle.Render("Waiting for device status on the bus...")
	}
	return dt.model.View()
}
