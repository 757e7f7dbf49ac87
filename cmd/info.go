/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"

	serial "github.com/allbin/multi-serial"
	"github.com/allbin/multi-serial/internal/bridge"
	"github.com/spf13/cobra"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <port>",
	Short: "Display sysfs details and MQTT topics of a serial port",
	Long: `Display detailed information about a serial port: the USB metadata
found in sysfs and the topics the bridge uses for it.

Examples:
  multi-serial info /dev/ttyUSB0
  multi-serial info /dev/ttyACM0`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		portPath := args[0]

		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		info, err := serial.GetPortInfo(portPath)
		if err != nil {
			return fmt.Errorf("get port info: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Port Information: %s\n\n", info.Path)
		fmt.Fprintf(out, "  Name:        %s\n", info.Name)
		fmt.Fprintf(out, "  Description: %s\n", info.Description)

		if info.VendorID != "" || info.ProductID != "" {
			fmt.Fprintln(out, "\nUSB Device Information:")
			if info.VendorID != "" {
				fmt.Fprintf(out, "  Vendor ID:    %s\n", info.VendorID)
			}
			if info.ProductID != "" {
				fmt.Fprintf(out, "  Product ID:   %s\n", info.ProductID)
			}
			if info.SerialNumber != "" {
				fmt.Fprintf(out, "  Serial:       %s\n", info.SerialNumber)
			}
			if info.Manufacturer != "" {
				fmt.Fprintf(out, "  Manufacturer: %s\n", info.Manufacturer)
			}
			if info.Product != "" {
				fmt.Fprintf(out, "  Product:      %s\n", info.Product)
			}
		}

		bridged := len(serial.FilterPorts([]string{info.Path}, settings.IncludePatterns, settings.ExcludePatterns)) == 1
		fmt.Fprintln(out, "\nMQTT:")
		fmt.Fprintf(out, "  Bridged:   %t\n", bridged)
		fmt.Fprintf(out, "  Status:    %s\n", bridge.StatusTopic(info.Path))
		fmt.Fprintf(out, "  Data:      %s\n", bridge.DataTopic(info.Path))
		if settings.EnableDiscovery {
			fmt.Fprintf(out, "  Discovery: %s\n", bridge.DiscoveryTopic(settings.DiscoveryPrefix, info.Path))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
