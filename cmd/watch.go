/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"io"

	"github.com/allbin/multi-serial/internal/bridge"
	"github.com/allbin/multi-serial/internal/config"
	"github.com/allbin/multi-serial/internal/mqtt"
	"github.com/allbin/multi-serial/internal/tui/models"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of bridged devices",
	Long: `Subscribe to the status and data topics published by a running bridge
and show every device with its connection state, last error and last line
in a live table, plus a log of state changes.

The view connects with its own client id and never publishes, so it can run
alongside the bridge against the same broker.

Example usage:
  multi-serial watch
  multi-serial watch --mqtt-broker mqtt://broker.local:1883`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		return runWatchTUI(cmd.Context(), settings)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatchTUI(ctx context.Context, settings config.Settings) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The TUI owns the terminal
	logger := config.NewLogger(io.Discard, 0, settings.LogFormat)

	mqttCfg := mqttConfig(settings, false)
	if mqttCfg.ClientID != "" {
		mqttCfg.ClientID += "-watch"
	}
	client := mqtt.New(mqttCfg, logger)

	m := models.NewWatchModel(settings.Broker)
	p := tea.NewProgram(m, tea.WithAltScreen())

	filters := []string{
		bridge.TopicRoot + "/+/status",
		bridge.TopicRoot + "/+/data",
	}
	if err := client.Subscribe(ctx, filters, mqtt.AtMostOnce, func(topic string, payload []byte) {
		p.Send(models.BusMsg{Topic: topic, Payload: append([]byte(nil), payload...)})
	}); err != nil {
		return err
	}

	go func() {
		err := client.Connect(ctx)
		p.Send(models.ConnectionStatusMsg{Connected: err == nil, Error: err})
	}()

	_, err := p.Run()

	disconnectCtx, disconnectCancel := context.WithTimeout(context.WithoutCancel(ctx), settings.PublishTimeout)
	defer disconnectCancel()
	_ = client.Disconnect(disconnectCtx)

	return err
}
