/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/allbin/multi-serial/internal/bridge"
	"github.com/allbin/multi-serial/internal/config"
	"github.com/allbin/multi-serial/internal/mqtt"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the serial to MQTT bridge",
	Long: `Run the bridge in the foreground until SIGINT or SIGTERM.

The host is scanned for serial devices every scan interval. Each device
matching an include glob and no exclude glob gets a reader that opens it at
9600 baud and publishes every line it reads:

  multi_serial/<slug>/status   retained connection state
  multi_serial/<slug>/data     one message per line

where <slug> is the device path with "/" replaced by "_".

Example usage:
  multi-serial run
  multi-serial run --mqtt-broker mqtt://broker.local:1883 --include-patterns '/dev/ttyUSB*'
  MQTT_BROKER=mqtts://broker:8883 PROBE_COMMAND='ID?' multi-serial run`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runBridge(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	logger := settings.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := mqtt.New(mqttConfig(settings, true), logger)
	logger.Info("connecting to broker", "broker", settings.Broker, "client_id", client.ClientID())
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	var announcer *bridge.Announcer
	if settings.EnableDiscovery {
		announcer = bridge.NewAnnouncer(client, settings.DiscoveryPrefix, Version, !settings.DiscoveryEveryMessage)
	}

	b := bridge.New(client, bridge.Options{
		Include:       settings.IncludePatterns,
		Exclude:       settings.ExcludePatterns,
		ScanInterval:  settings.ScanInterval,
		RetryTerminal: settings.RetryTerminal,
		Reader: bridge.ReaderConfig{
			Announcer:    announcer,
			ProbeCommand: settings.ProbeCommand,
			StopGrace:    settings.StopGrace,
		},
	}, logger)

	runErr := b.Run(ctx)
	logger.Info("bridge stopped")

	disconnectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settings.PublishTimeout)
	defer cancel()
	if err := client.Disconnect(disconnectCtx); err != nil {
		logger.Warn("mqtt disconnect failed", "error", err)
	}
	return runErr
}

func mqttConfig(s config.Settings, availability bool) mqtt.Config {
	return mqtt.Config{
		Broker:         s.Broker,
		Username:       s.Username,
		Password:       s.Password,
		ClientID:       s.ClientID,
		PublishTimeout: s.PublishTimeout,
		ConnectTimeout: s.ConnectTimeout,
		Availability:   availability,
	}
}
