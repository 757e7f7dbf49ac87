/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"
	"strings"

	serial "github.com/allbin/multi-serial"
	"github.com/allbin/multi-serial/internal/tui/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the serial ports the bridge would read",
	Long: `List the serial ports present on the host that pass the include and
exclude globs, i.e. the devices "run" would open right now.

With --all every serial port is listed, whether it matches or not. With
--table each port is shown with its driver type and the USB metadata found
in sysfs.

Example usage:
  multi-serial list
  multi-serial list --all --table
  multi-serial list --include-patterns '/dev/ttyACM*'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		ports, err := serial.ListPorts()
		if err != nil {
			return fmt.Errorf("list ports: %w", err)
		}

		showAll, _ := cmd.Flags().GetBool("all")
		tableFormat, _ := cmd.Flags().GetBool("table")

		if !showAll {
			ports = serial.FilterPorts(ports, settings.IncludePatterns, settings.ExcludePatterns)
		}

		out := cmd.OutOrStdout()
		if len(ports) == 0 {
			if showAll {
				fmt.Fprintln(out, "No serial ports found")
			} else {
				fmt.Fprintf(out, "No serial ports found matching %s\n", strings.Join(settings.IncludePatterns, ", "))
			}
			return nil
		}

		if tableFormat {
			renderTable(out, ports, settings.IncludePatterns, settings.ExcludePatterns)
		} else {
			renderSimple(out, ports)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolP("all", "a", false, "List every serial port, ignoring include/exclude globs")
	listCmd.Flags().BoolP("table", "t", false, "Display output in a styled table format")
}

// renderTable renders the port list with sysfs metadata
func renderTable(w io.Writer, ports []string, include, exclude []string) {
	fmt.Fprintf(w, "Found %d serial port(s):\n\n", len(ports))

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(styles.Mauve).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.Surface2)).
		Headers("Port", "Type", "Description", "USB ID", "Serial", "Bridged").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, port := range ports {
		bridged := "no"
		if len(serial.FilterPorts([]string{port}, include, exclude)) == 1 {
			bridged = "yes"
		}

		info, err := serial.GetPortInfo(port)
		if err != nil {
			t.Row(port, "Unknown", fmt.Sprintf("Error: %v", err), "", "", bridged)
			continue
		}

		usbID := ""
		if info.VendorID != "" || info.ProductID != "" {
			usbID = info.VendorID + ":" + info.ProductID
		}
		t.Row(info.Path, getPortType(info.Name), info.Description, usbID, info.SerialNumber, bridged)
	}

	fmt.Fprintln(w, t.Render())
}

// renderSimple renders the port list in simple text format
func renderSimple(w io.Writer, ports []string) {
	for _, port := range ports {
		fmt.Fprintln(w, port)
	}
}

// getPortType returns a more specific type classification for the port
func getPortType(name string) string {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "ttyusb"):
		return "USB Serial"
	case strings.HasPrefix(name, "ttyacm"):
		return "USB CDC/ACM"
	case strings.HasPrefix(name, "ttyama"):
		return "ARM Serial"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial"
	case strings.HasPrefix(name, "ttys"):
		return "Standard Serial"
	default:
		return "Serial Port"
	}
}
