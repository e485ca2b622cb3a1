package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	// Create a temp config file
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("broker:\n  url: mqtt://broker:1883\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	// When no config exists anywhere, should error
	// (Save and restore CWD to avoid finding the repo's config.yaml)
	dir := t.TempDir()
	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("log_level: debug\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("broker:\n  password: ${CO2NODE_TEST_PASS}\n"), 0600)
	os.Setenv("CO2NODE_TEST_PASS", "secret123")
	defer os.Unsetenv("CO2NODE_TEST_PASS")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Broker.Password != "secret123" {
		t.Errorf("password = %q, want %q", cfg.Broker.Password, "secret123")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("network:\n  ssid: lab\nbroker:\n  url: mqtt://broker:1883\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Network.SSID != "lab" {
		t.Errorf("ssid = %q, want %q", cfg.Network.SSID, "lab")
	}
	if cfg.Broker.URL != "mqtt://broker:1883" {
		t.Errorf("url = %q, want overridden value", cfg.Broker.URL)
	}
	if cfg.Node.TickMillis != 50 {
		t.Errorf("tick_millis = %d, want default 50", cfg.Node.TickMillis)
	}
	if cfg.Recovery.MaxAttempts != 5 {
		t.Errorf("recovery max_attempts = %d, want default 5", cfg.Recovery.MaxAttempts)
	}
	if cfg.Watchdog.WindowSec != 8 {
		t.Errorf("watchdog window_sec = %d, want default 8", cfg.Watchdog.WindowSec)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("node:\n  tick_millis: 100\nwatchdog:\n  enabled: false\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Node.TickMillis != 100 {
		t.Errorf("tick_millis = %d, want 100", cfg.Node.TickMillis)
	}
	if cfg.Watchdog.Enabled {
		t.Error("watchdog still enabled after explicit false")
	}
}

func TestValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"tick zero", func(c *Config) { c.Node.TickMillis = 0 }},
		{"tick too long", func(c *Config) { c.Node.TickMillis = 2000 }},
		{"no subscribe attempts", func(c *Config) { c.Node.SubscribeAttempts = 0 }},
		{"no publish attempts", func(c *Config) { c.Node.PublishAttempts = 0 }},
		{"no pairing timeout", func(c *Config) { c.Node.PairingTimeoutSec = 0 }},
		{"broker url empty", func(c *Config) { c.Broker.URL = "" }},
		{"inbox zero", func(c *Config) { c.Broker.InboxSize = 0 }},
		{"no recovery attempts", func(c *Config) { c.Recovery.MaxAttempts = 0 }},
		{"negative recovery delay", func(c *Config) { c.Recovery.DelaySec = -1 }},
		{"armed watchdog without window", func(c *Config) { c.Watchdog.WindowSec = 0 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	// A disabled watchdog does not need a window.
	cfg := Default()
	cfg.Watchdog.Enabled = false
	cfg.Watchdog.WindowSec = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled watchdog should not require a window, got: %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"", slog.LevelInfo, true},
		{"info", slog.LevelInfo, true},
		{"DEBUG", slog.LevelDebug, true},
		{" warn ", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"loud", slog.LevelInfo, false},
	}
	for _, c := range cases {
		got, err := ParseLogLevel(c.in)
		if c.ok && err != nil {
			t.Errorf("ParseLogLevel(%q) error: %v", c.in, err)
		}
		if !c.ok && err == nil {
			t.Errorf("ParseLogLevel(%q) should error", c.in)
		}
		if c.ok && got != c.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"", "console", "text", "json"} {
		if _, err := NewLogger(io.Discard, "info", format); err != nil {
			t.Errorf("NewLogger(format=%q) error: %v", format, err)
		}
	}

	if _, err := NewLogger(io.Discard, "info", "xml"); err == nil {
		t.Error("NewLogger with unknown format should error")
	}
	if _, err := NewLogger(io.Discard, "loud", "text"); err == nil {
		t.Error("NewLogger with unknown level should error")
	}
}
