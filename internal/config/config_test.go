package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/gattprobe/internal/ble/protocol"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Log.BufferLines != 5000 || cfg.Log.BufferTrimTo != 2000 {
		t.Errorf("Log buffer = %d/%d, want 5000/2000", cfg.Log.BufferLines, cfg.Log.BufferTrimTo)
	}
	if cfg.Log.MaxValueBytes != 64 {
		t.Errorf("Log.MaxValueBytes = %d, want 64", cfg.Log.MaxValueBytes)
	}
	if cfg.Transport.Backend != "hci" {
		t.Errorf("Transport.Backend = %q, want %q", cfg.Transport.Backend, "hci")
	}
	if cfg.Transport.ConnectAttempts != 3 {
		t.Errorf("Transport.ConnectAttempts = %d, want 3", cfg.Transport.ConnectAttempts)
	}
	if cfg.Session.ReadThrottle != 80*time.Millisecond {
		t.Errorf("Session.ReadThrottle = %v, want 80ms", cfg.Session.ReadThrottle)
	}
	if cfg.Session.KeepaliveInterval != 10*time.Second {
		t.Errorf("Session.KeepaliveInterval = %v, want 10s", cfg.Session.KeepaliveInterval)
	}
	if cfg.Discovery.NotifyWindow != 800*time.Millisecond {
		t.Errorf("Discovery.NotifyWindow = %v, want 800ms", cfg.Discovery.NotifyWindow)
	}
	if cfg.Discovery.MeasureWait != 1500*time.Millisecond {
		t.Errorf("Discovery.MeasureWait = %v, want 1.5s", cfg.Discovery.MeasureWait)
	}
	if len(cfg.Discovery.BruteSeeds) != 3 || len(cfg.Discovery.AltSeeds) != 4 {
		t.Errorf("seeds = %v / %v, want 3 and 4 entries", cfg.Discovery.BruteSeeds, cfg.Discovery.AltSeeds)
	}
	if cfg.Web.Listen != "" {
		t.Errorf("Web.Listen = %q, want empty", cfg.Web.Listen)
	}
	if cfg.Tracing.Enabled {
		t.Error("Tracing.Enabled should default to false")
	}
}

func TestDefaultSeedsFollowProtocol(t *testing.T) {
	cfg := Default()
	for i, want := range protocol.BruteSeeds {
		if cfg.Discovery.BruteSeeds[i] != int(want) {
			t.Errorf("BruteSeeds[%d] = %#x, want %#x", i, cfg.Discovery.BruteSeeds[i], want)
		}
	}
	for i, want := range protocol.AltBruteSeeds {
		if cfg.Discovery.AltSeeds[i] != int(want) {
			t.Errorf("AltSeeds[%d] = %#x, want %#x", i, cfg.Discovery.AltSeeds[i], want)
		}
	}

	cfg.Discovery.BruteSeeds[0] = 0x7F
	if protocol.BruteSeeds[0] == 0x7F {
		t.Error("Default() should copy the protocol seeds")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
log_level: debug
log:
  format: json
  buffer_lines: 100
  buffer_trim_to: 50
transport:
  backend: tinygo
  connect_attempts: 5
  scan_timeout: 2s
session:
  read_throttle: 25ms
  auto_read_all: true
  force_subscribe: ["abcd"]
discovery:
  brute_delay: 10ms
  notify_window: 1.5s
  brute_seeds: [0x05, 6]
web:
  listen: 127.0.0.1:8765
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Log.BufferLines != 100 || cfg.Log.BufferTrimTo != 50 {
		t.Errorf("Log buffer = %d/%d, want 100/50", cfg.Log.BufferLines, cfg.Log.BufferTrimTo)
	}
	if cfg.Log.MaxValueBytes != 64 {
		t.Errorf("Log.MaxValueBytes = %d, want default 64", cfg.Log.MaxValueBytes)
	}
	if cfg.Transport.Backend != "tinygo" {
		t.Errorf("Transport.Backend = %q, want %q", cfg.Transport.Backend, "tinygo")
	}
	if cfg.Transport.ConnectAttempts != 5 {
		t.Errorf("Transport.ConnectAttempts = %d, want 5", cfg.Transport.ConnectAttempts)
	}
	if cfg.Transport.ScanTimeout != 2*time.Second {
		t.Errorf("Transport.ScanTimeout = %v, want 2s", cfg.Transport.ScanTimeout)
	}
	if cfg.Session.ReadThrottle != 25*time.Millisecond {
		t.Errorf("Session.ReadThrottle = %v, want 25ms", cfg.Session.ReadThrottle)
	}
	if !cfg.Session.AutoReadAll {
		t.Error("Session.AutoReadAll = false, want true")
	}
	if len(cfg.Session.ForceSubscribe) != 1 || cfg.Session.ForceSubscribe[0] != "abcd" {
		t.Errorf("Session.ForceSubscribe = %v, want [abcd]", cfg.Session.ForceSubscribe)
	}
	if cfg.Discovery.BruteDelay != 10*time.Millisecond {
		t.Errorf("Discovery.BruteDelay = %v, want 10ms", cfg.Discovery.BruteDelay)
	}
	if cfg.Discovery.NotifyWindow != 1500*time.Millisecond {
		t.Errorf("Discovery.NotifyWindow = %v, want 1.5s", cfg.Discovery.NotifyWindow)
	}
	if len(cfg.Discovery.BruteSeeds) != 2 || cfg.Discovery.BruteSeeds[0] != 5 || cfg.Discovery.BruteSeeds[1] != 6 {
		t.Errorf("Discovery.BruteSeeds = %v, want [5 6]", cfg.Discovery.BruteSeeds)
	}
	if cfg.Discovery.TriggerUUID == "" {
		t.Error("Discovery.TriggerUUID should keep its default")
	}
	if cfg.Web.Listen != "127.0.0.1:8765" {
		t.Errorf("Web.Listen = %q, want %q", cfg.Web.Listen, "127.0.0.1:8765")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
log:
  output: ~/logs/gattprobe.log
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "logs/gattprobe.log")
	if cfg.Log.Output != expected {
		t.Errorf("Log.Output = %q, want %q", cfg.Log.Output, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("session:\n  read_throttle: [1, 2\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "trim above cap",
			modify:  func(c *Config) { c.Log.BufferTrimTo = c.Log.BufferLines + 1 },
			wantErr: true,
		},
		{
			name:    "zero buffer lines",
			modify:  func(c *Config) { c.Log.BufferLines = 0 },
			wantErr: true,
		},
		{
			name:    "unknown backend",
			modify:  func(c *Config) { c.Transport.Backend = "bluez" },
			wantErr: true,
		},
		{
			name:    "tinygo backend",
			modify:  func(c *Config) { c.Transport.Backend = "tinygo" },
			wantErr: false,
		},
		{
			name:    "zero connect attempts",
			modify:  func(c *Config) { c.Transport.ConnectAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "empty trigger uuid",
			modify:  func(c *Config) { c.Discovery.TriggerUUID = " " },
			wantErr: true,
		},
		{
			name:    "seed out of range",
			modify:  func(c *Config) { c.Discovery.AltSeeds = []int{0x100} },
			wantErr: true,
		},
		{
			name:    "zero notify window",
			modify:  func(c *Config) { c.Discovery.NotifyWindow = 0 },
			wantErr: true,
		},
		{
			name: "unknown tracing exporter",
			modify: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: true,
		},
		{
			name:    "unknown exporter ignored when tracing disabled",
			modify:  func(c *Config) { c.Tracing.Exporter = "jaeger" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "gattprobe", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# gattprobe") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Discovery.BruteDelay != 80*time.Millisecond {
		t.Errorf("written config Discovery.BruteDelay = %v, want 80ms", cfg.Discovery.BruteDelay)
	}
	if cfg.Transport.Backend != "hci" {
		t.Errorf("written config Transport.Backend = %q, want %q", cfg.Transport.Backend, "hci")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load(written) error = %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "gattprobe")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}
