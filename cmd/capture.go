/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	serial "github.com/allbin/multi-serial"
	"github.com/allbin/multi-serial/internal/bridge"
	"github.com/spf13/cobra"
)

// captureCmd represents the capture command
var captureCmd = &cobra.Command{
	Use:   "capture <port>",
	Short: "Print the data messages one serial port would produce",
	Long: `Open a single serial port exactly like the bridge does (9600 baud,
newline framing, optional probe command) and print the data message of every
line as JSON, without connecting to MQTT. Useful to check what a device
sends before bridging it.

Runs until interrupted (Ctrl+C) or until the device disconnects. With
--output the messages are appended to a file instead of stdout.

Example usage:
  multi-serial capture /dev/ttyUSB0
  multi-serial capture /dev/ttyUSB0 --probe-command 'ID?'
  multi-serial capture /dev/ttyACM0 --output capture.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputPath, _ := cmd.Flags().GetString("output"); outputPath != "" {
			file, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("open output file: %w", err)
			}
			defer file.Close()
			out = file
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runCapture(ctx, args[0], settings.ProbeCommand, out, cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().StringP("output", "o", "", "Append messages to this file instead of stdout")
}

func runCapture(ctx context.Context, portPath, probe string, out, status io.Writer) error {
	port, err := bridge.OpenSerial(portPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", portPath, err)
	}
	defer port.Close()

	if probe != "" {
		if err := bridge.WriteProbe(port, probe); err != nil {
			fmt.Fprintf(status, "Probe write failed: %v\n", err)
		}
	}

	fmt.Fprintf(status, "Capturing %s, press Ctrl+C to stop\n", portPath)

	enc := json.NewEncoder(out)
	lines := 0
	startTime := time.Now()
	defer func() {
		fmt.Fprintf(status, "Capture complete: %d line(s) in %v\n", lines, time.Since(startTime).Round(time.Millisecond))
	}()

	for {
		line, err := port.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, serial.ErrPortClosed) {
				fmt.Fprintf(status, "Device disconnected\n")
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}

		if err := enc.Encode(bridge.NewDataMessage(portPath, line, time.Now())); err != nil {
			return fmt.Errorf("write error: %w", err)
		}
		lines++
	}
}
