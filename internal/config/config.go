// Package config handles co2node configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag or $CO2NODE_CONFIG) is checked
// first. Then: ./config.yaml, ~/.config/co2node/config.yaml,
// /etc/co2node/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "co2node", "config.yaml"))
	}

	paths = append(paths, "/etc/co2node/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all co2node configuration. The operating parameters
// (sample cadence, thresholds) are deliberately absent: those arrive
// over the wire during pairing.
type Config struct {
	Node      NodeConfig     `yaml:"node"`
	Network   NetworkConfig  `yaml:"network"`
	Broker    BrokerConfig   `yaml:"broker"`
	Storage   StorageConfig  `yaml:"storage"`
	Recovery  RecoveryConfig `yaml:"recovery"`
	Watchdog  WatchdogConfig `yaml:"watchdog"`
	Sensor    SensorConfig   `yaml:"sensor"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"`
}

// NodeConfig defines the scheduler tick and the pairing sequence
// parameters.
type NodeConfig struct {
	// TickMillis is the scheduler period. All wire intervals are
	// converted to tick counts against it.
	TickMillis int `yaml:"tick_millis"`
	// SubscribeAttempts bounds config-topic subscribe retries.
	SubscribeAttempts int `yaml:"subscribe_attempts"`
	// SubscribeGateMillis is the pause between subscribe attempts.
	SubscribeGateMillis int `yaml:"subscribe_gate_millis"`
	// SettleMillis is the wait between subscribing and announcing.
	SettleMillis int `yaml:"settle_millis"`
	// PairingTimeoutSec bounds the whole pairing phase.
	PairingTimeoutSec int `yaml:"pairing_timeout_sec"`
	// PublishAttempts bounds report publish retries within one cycle.
	PublishAttempts int `yaml:"publish_attempts"`
}

// NetworkConfig defines the link the node joins before it talks to the
// broker.
type NetworkConfig struct {
	SSID       string `yaml:"ssid"`
	Passphrase string `yaml:"passphrase"`
	// ProbeAddr is a TCP endpoint dialed to confirm the link is
	// actually usable. Empty means the link is assumed up.
	ProbeAddr       string `yaml:"probe_addr"`
	ProbeTimeoutSec int    `yaml:"probe_timeout_sec"`
}

// BrokerConfig defines the MQTT session settings.
type BrokerConfig struct {
	URL               string `yaml:"url"`
	ClientID          string `yaml:"client_id"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	KeepAliveSec      int    `yaml:"keep_alive_sec"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
	OpTimeoutSec      int    `yaml:"op_timeout_sec"`
	// InboxSize caps the inbound payload queue; overflow is dropped.
	InboxSize int `yaml:"inbox_size"`
}

// StorageConfig selects where the identity record lives.
type StorageConfig struct {
	// Driver is "file" or "sqlite".
	Driver string `yaml:"driver"`
	// Path is the storage root for file, or the database path for sqlite.
	Path string `yaml:"path"`
}

// RecoveryConfig bounds the supervised bring-up retries.
type RecoveryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	DelaySec    int `yaml:"delay_sec"`
}

// WatchdogConfig defines the deadman window.
type WatchdogConfig struct {
	Enabled   bool `yaml:"enabled"`
	WindowSec int  `yaml:"window_sec"`
}

// SensorConfig selects the CO2/temperature source.
type SensorConfig struct {
	// Driver is "sim"; hardware drivers register alongside it.
	Driver string `yaml:"driver"`
	// Seed fixes the simulator walk; zero derives one from the clock.
	Seed int64 `yaml:"seed"`
}

// Load reads configuration from a YAML file. Values start from
// [Default] so a partial file leaves the rest at their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration can actually run a node.
// Returns an error describing the first problem found. Load does not
// call it; commands that only touch storage get by with less.
func (c *Config) Validate() error {
	if c.Node.TickMillis < 1 || c.Node.TickMillis > 1000 {
		return fmt.Errorf("node.tick_millis %d out of range (1-1000)", c.Node.TickMillis)
	}
	if c.Node.SubscribeAttempts < 1 {
		return fmt.Errorf("node.subscribe_attempts must be at least 1, got %d", c.Node.SubscribeAttempts)
	}
	if c.Node.PublishAttempts < 1 {
		return fmt.Errorf("node.publish_attempts must be at least 1, got %d", c.Node.PublishAttempts)
	}
	if c.Node.PairingTimeoutSec < 1 {
		return fmt.Errorf("node.pairing_timeout_sec must be at least 1, got %d", c.Node.PairingTimeoutSec)
	}
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url is required")
	}
	if c.Broker.InboxSize < 1 {
		return fmt.Errorf("broker.inbox_size must be at least 1, got %d", c.Broker.InboxSize)
	}
	if c.Recovery.MaxAttempts < 1 {
		return fmt.Errorf("recovery.max_attempts must be at least 1, got %d", c.Recovery.MaxAttempts)
	}
	if c.Recovery.DelaySec < 0 {
		return fmt.Errorf("recovery.delay_sec must not be negative, got %d", c.Recovery.DelaySec)
	}
	if c.Watchdog.Enabled && c.Watchdog.WindowSec < 1 {
		return fmt.Errorf("watchdog.window_sec must be at least 1 when enabled, got %d", c.Watchdog.WindowSec)
	}
	return nil
}

// Default returns a default configuration: a simulated sensor against a
// local broker, file-backed identity, and the stock firmware timings.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			TickMillis:          50,
			SubscribeAttempts:   5,
			SubscribeGateMillis: 500,
			SettleMillis:        2000,
			PairingTimeoutSec:   90,
			PublishAttempts:     3,
		},
		Network: NetworkConfig{
			ProbeTimeoutSec: 5,
		},
		Broker: BrokerConfig{
			URL:               "mqtt://127.0.0.1:1883",
			KeepAliveSec:      30,
			ConnectTimeoutSec: 10,
			OpTimeoutSec:      5,
			InboxSize:         8,
		},
		Storage: StorageConfig{
			Driver: "file",
			Path:   "data",
		},
		Recovery: RecoveryConfig{
			MaxAttempts: 5,
			DelaySec:    3,
		},
		Watchdog: WatchdogConfig{
			Enabled:   true,
			WindowSec: 8,
		},
		Sensor: SensorConfig{
			Driver: "sim",
		},
	}
}
