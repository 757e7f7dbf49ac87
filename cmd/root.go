/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/allbin/multi-serial/internal/config"
	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "multi-serial",
	Short: "Bridge serial devices to MQTT",
	Long: `multi-serial watches the host for serial devices matching a set of
include/exclude globs, reads newline-delimited text from each of them and
publishes every line to MQTT, together with a retained per-device status and
an optional Home Assistant discovery descriptor.

Without a subcommand the bridge runs in the foreground (same as "run").

Every setting can be given as a flag, in a config file (--config) or as an
upper-case environment variable, e.g. MQTT_BROKER or INCLUDE_PATTERNS.`,
	SilenceUsage: true,
	RunE:         runBridge,
}

// Execute adds all child commands to the root command and runs it. It is
// called by main.main() and only needs to happen once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// flagName maps a settings key to its flag, e.g. mqtt_broker to mqtt-broker
func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	pf.String(flagName(config.KeyBroker), config.DefaultBroker, "MQTT broker URL (mqtt://, mqtts://, ws://, wss://)")
	pf.String(flagName(config.KeyUsername), "", "MQTT username")
	pf.String(flagName(config.KeyPassword), "", "MQTT password")
	pf.String(flagName(config.KeyClientID), "", "MQTT client id (default multi-serial-<uuid>)")
	pf.Float64(flagName(config.KeyScanInterval), 1.0, "seconds between device scans")
	pf.StringSlice(flagName(config.KeyIncludePatterns), config.DefaultIncludePatterns, "device path globs to bridge")
	pf.StringSlice(flagName(config.KeyExcludePatterns), config.DefaultExcludePatterns, "device path globs to skip")
	pf.Bool(flagName(config.KeyEnableDiscovery), true, "publish Home Assistant discovery descriptors")
	pf.String(flagName(config.KeyDiscoveryPrefix), "homeassistant", "discovery topic prefix")
	pf.Bool(flagName(config.KeyDiscoveryEveryMessage), true, "republish the discovery descriptor with every line")
	pf.String(flagName(config.KeyProbeCommand), "", "command written to each device after it connects")
	pf.Bool(flagName(config.KeyRetryTerminal), false, "reopen failed or disconnected devices on the next scan")
	pf.Duration(flagName(config.KeyStopGrace), config.DefaultStopGrace, "time a reader gets to stop before its port is closed")
	pf.Duration(flagName(config.KeyPublishTimeout), config.DefaultPublishTimeout, "timeout of a single MQTT publish")
	pf.Duration(flagName(config.KeyConnectTimeout), config.DefaultConnectTimeout, "timeout of the initial broker connection")
	pf.String(flagName(config.KeyLogLevel), "info", "log level: trace, debug, info, warn, error")
	pf.String(flagName(config.KeyLogFormat), "text", "log format: text or json")
}

// loadSettings merges defaults, the config file, the environment and the
// flags that were set on the command line
func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	v, err := config.New(cfgFile)
	if err != nil {
		return config.Settings{}, err
	}

	for _, key := range config.Keys {
		if f := cmd.Flags().Lookup(flagName(key)); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return config.Settings{}, fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		}
	}

	return config.Load(v)
}
