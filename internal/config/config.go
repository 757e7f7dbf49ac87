// Package config loads the bridge settings from defaults, an optional
// config file, the process environment and command-line flags, in that
// order of precedence (later wins).
//
// Environment variables use the bare upper-case key (MQTT_BROKER,
// SCAN_INTERVAL, INCLUDE_PATTERNS, ...). A variable that is set but empty
// counts as an explicit empty value. List values may be given as
// comma-separated strings.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	serial "github.com/allbin/multi-serial"
	"github.com/spf13/viper"
)

// Setting keys. These double as config-file keys, flag names (with
// underscores replaced by dashes) and, upper-cased, environment variables.
const (
	KeyBroker                = "mqtt_broker"
	KeyUsername              = "mqtt_username"
	KeyPassword              = "mqtt_password"
	KeyClientID              = "mqtt_client_id"
	KeyScanInterval          = "scan_interval"
	KeyIncludePatterns       = "include_patterns"
	KeyExcludePatterns       = "exclude_patterns"
	KeyEnableDiscovery       = "enable_discovery"
	KeyDiscoveryPrefix       = "discovery_prefix"
	KeyDiscoveryEveryMessage = "discovery_every_message"
	KeyProbeCommand          = "probe_command"
	KeyRetryTerminal         = "retry_terminal"
	KeyStopGrace             = "stop_grace"
	KeyPublishTimeout        = "publish_timeout"
	KeyConnectTimeout        = "connect_timeout"
	KeyLogLevel              = "log_level"
	KeyLogFormat             = "log_format"
)

// Keys lists every setting key
var Keys = []string{
	KeyBroker, KeyUsername, KeyPassword, KeyClientID,
	KeyScanInterval, KeyIncludePatterns, KeyExcludePatterns,
	KeyEnableDiscovery, KeyDiscoveryPrefix, KeyDiscoveryEveryMessage,
	KeyProbeCommand, KeyRetryTerminal,
	KeyStopGrace, KeyPublishTimeout, KeyConnectTimeout,
	KeyLogLevel, KeyLogFormat,
}

// Defaults
var (
	DefaultBroker          = "mqtt://homeassistant:1883"
	DefaultIncludePatterns = []string{"/dev/ttyUSB*", "/dev/ttyACM*"}
	DefaultExcludePatterns = []string{"/dev/ttyS*", "/dev/input*", "/dev/hidraw*"}
	DefaultStopGrace       = 2 * time.Second
	DefaultPublishTimeout  = 5 * time.Second
	DefaultConnectTimeout  = 30 * time.Second
)

// Settings is the immutable configuration of one bridge process
type Settings struct {
	Broker   string
	Username string
	Password string
	ClientID string

	ScanInterval    time.Duration
	IncludePatterns []string
	ExcludePatterns []string

	EnableDiscovery       bool
	DiscoveryPrefix       string
	DiscoveryEveryMessage bool

	ProbeCommand  string
	RetryTerminal bool

	StopGrace      time.Duration
	PublishTimeout time.Duration
	ConnectTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// SetDefaults registers every default value on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyBroker, DefaultBroker)
	v.SetDefault(KeyUsername, "")
	v.SetDefault(KeyPassword, "")
	v.SetDefault(KeyClientID, "")
	v.SetDefault(KeyScanInterval, 1.0)
	v.SetDefault(KeyIncludePatterns, DefaultIncludePatterns)
	v.SetDefault(KeyExcludePatterns, DefaultExcludePatterns)
	v.SetDefault(KeyEnableDiscovery, true)
	v.SetDefault(KeyDiscoveryPrefix, "homeassistant")
	v.SetDefault(KeyDiscoveryEveryMessage, true)
	v.SetDefault(KeyProbeCommand, "")
	v.SetDefault(KeyRetryTerminal, false)
	v.SetDefault(KeyStopGrace, DefaultStopGrace)
	v.SetDefault(KeyPublishTimeout, DefaultPublishTimeout)
	v.SetDefault(KeyConnectTimeout, DefaultConnectTimeout)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

// New returns a viper instance with defaults and environment binding
// configured. If configFile is non-empty it is read as well.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

// Load builds Settings from v and validates them
func Load(v *viper.Viper) (Settings, error) {
	s := Settings{
		Broker:                strings.TrimSpace(v.GetString(KeyBroker)),
		Username:              v.GetString(KeyUsername),
		Password:              v.GetString(KeyPassword),
		ClientID:              v.GetString(KeyClientID),
		ScanInterval:          seconds(v.GetFloat64(KeyScanInterval)),
		IncludePatterns:       stringList(v.Get(KeyIncludePatterns)),
		ExcludePatterns:       stringList(v.Get(KeyExcludePatterns)),
		EnableDiscovery:       v.GetBool(KeyEnableDiscovery),
		DiscoveryPrefix:       strings.Trim(v.GetString(KeyDiscoveryPrefix), "/"),
		DiscoveryEveryMessage: v.GetBool(KeyDiscoveryEveryMessage),
		ProbeCommand:          v.GetString(KeyProbeCommand),
		RetryTerminal:         v.GetBool(KeyRetryTerminal),
		StopGrace:             v.GetDuration(KeyStopGrace),
		PublishTimeout:        v.GetDuration(KeyPublishTimeout),
		ConnectTimeout:        v.GetDuration(KeyConnectTimeout),
		LogLevel:              v.GetString(KeyLogLevel),
		LogFormat:             strings.ToLower(v.GetString(KeyLogFormat)),
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// stringList accepts either a list or a comma-separated string, which is
// how list values arrive from the environment
func stringList(raw any) []string {
	var items []string
	switch val := raw.(type) {
	case nil:
		return nil
	case string:
		items = strings.Split(val, ",")
	case []string:
		items = val
	case []any:
		for _, item := range val {
			items = append(items, fmt.Sprint(item))
		}
	default:
		items = strings.Split(fmt.Sprint(val), ",")
	}

	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate reports every problem with s at once
func (s Settings) Validate() error {
	var errs []error

	if s.Broker == "" {
		errs = append(errs, errors.New("mqtt broker must not be empty"))
	} else if u, err := url.Parse(s.Broker); err != nil {
		errs = append(errs, fmt.Errorf("parse mqtt broker URL: %w", err))
	} else {
		switch u.Scheme {
		case "mqtt", "tcp", "mqtts", "ssl", "tls", "ws", "wss":
		default:
			errs = append(errs, fmt.Errorf("unsupported mqtt broker scheme %q", u.Scheme))
		}
	}

	if s.ScanInterval <= 0 {
		errs = append(errs, fmt.Errorf("scan interval must be positive, got %v", s.ScanInterval))
	}
	if len(s.IncludePatterns) == 0 {
		errs = append(errs, errors.New("at least one include pattern is required"))
	}
	for _, p := range append(append([]string{}, s.IncludePatterns...), s.ExcludePatterns...) {
		if err := serial.ValidatePattern(p); err != nil {
			errs = append(errs, err)
		}
	}
	if s.EnableDiscovery && s.DiscoveryPrefix == "" {
		errs = append(errs, errors.New("discovery prefix must not be empty when discovery is enabled"))
	}
	if s.StopGrace <= 0 {
		errs = append(errs, fmt.Errorf("stop grace must be positive, got %v", s.StopGrace))
	}
	if s.PublishTimeout <= 0 {
		errs = append(errs, fmt.Errorf("publish timeout must be positive, got %v", s.PublishTimeout))
	}
	if s.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect timeout must be positive, got %v", s.ConnectTimeout))
	}
	if _, err := ParseLogLevel(s.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if s.LogFormat != "text" && s.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q (valid: text, json)", s.LogFormat))
	}

	return errors.Join(errs...)
}
