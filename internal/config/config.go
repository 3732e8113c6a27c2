package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/gattprobe/internal/ble/protocol"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Log       LogConfig       `yaml:"log"`
	Transport TransportConfig `yaml:"transport"`
	Session   SessionConfig   `yaml:"session"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Web       WebConfig       `yaml:"web"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// LogConfig holds slog and log buffer settings.
type LogConfig struct {
	Format        string `yaml:"format"` // "text" or "json"
	Output        string `yaml:"output"` // "stderr", "stdout" or a file path
	BufferLines   int    `yaml:"buffer_lines"`
	BufferTrimTo  int    `yaml:"buffer_trim_to"`
	MaxValueBytes int    `yaml:"max_value_bytes"`
}

// TransportConfig selects and tunes the BLE backend.
type TransportConfig struct {
	Backend          string        `yaml:"backend"` // "hci" or "tinygo"
	AdapterID        int           `yaml:"adapter_id"`
	ScanTimeout      time.Duration `yaml:"scan_timeout"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	ConnectAttempts  int           `yaml:"connect_attempts"`
	AssumeProperties []string      `yaml:"assume_properties"`
}

// SessionConfig holds connection lifecycle settings.
type SessionConfig struct {
	ReadThrottle        time.Duration `yaml:"read_throttle"`
	KeepaliveInterval   time.Duration `yaml:"keepalive_interval"`
	KeepaliveUUID       string        `yaml:"keepalive_uuid"`
	ForceSubscribe      []string      `yaml:"force_subscribe"`
	SkipServices        []string      `yaml:"skip_services"`
	SkipCharacteristics []string      `yaml:"skip_characteristics"`
	AutoReadAll         bool          `yaml:"auto_read_all"`
}

// DiscoveryConfig names the vendor characteristics and pacing used by the
// probe, brute and measure sequences.
type DiscoveryConfig struct {
	VendorService      string        `yaml:"vendor_service"`
	PrimeUUID          string        `yaml:"prime_uuid"`
	TriggerUUID        string        `yaml:"trigger_uuid"`
	ReturnUUID         string        `yaml:"return_uuid"`
	ReturnFallbackUUID string        `yaml:"return_fallback_uuid"`
	AltUUID            string        `yaml:"alt_uuid"`
	InfoUUID           string        `yaml:"info_uuid"`
	ProbeDelay         time.Duration `yaml:"probe_delay"`
	BruteDelay         time.Duration `yaml:"brute_delay"`
	NotifyWindow       time.Duration `yaml:"notify_window"`
	MeasureWait        time.Duration `yaml:"measure_wait"`
	MeasureSettle      time.Duration `yaml:"measure_settle"`
	PrimeSettle        time.Duration `yaml:"prime_settle"`
	BruteSeeds         []int         `yaml:"brute_seeds"`
	AltSeeds           []int         `yaml:"alt_seeds"`
}

// WebConfig holds the websocket presentation settings. An empty Listen
// disables the server.
type WebConfig struct {
	Listen string `yaml:"listen"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
	Output   string `yaml:"output"`   // file path for the stdout exporter, empty for stdout
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gattprobe")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultLogPath returns where logs go when the TUI owns the terminal.
func DefaultLogPath() string {
	return filepath.Join(DefaultConfigDir(), "gattprobe.log")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Log: LogConfig{
			Format:        "text",
			Output:        "stderr",
			BufferLines:   5000,
			BufferTrimTo:  2000,
			MaxValueBytes: 64,
		},
		Transport: TransportConfig{
			Backend:          "hci",
			ScanTimeout:      5 * time.Second,
			ConnectTimeout:   10 * time.Second,
			ConnectAttempts:  3,
			AssumeProperties: []string{"read", "write", "notify"},
		},
		Session: SessionConfig{
			ReadThrottle:      80 * time.Millisecond,
			KeepaliveInterval: 10 * time.Second,
			KeepaliveUUID:     "2a19",
			ForceSubscribe: []string{
				"fdd6b4d3-046d-4330-bdec-1fd0c90cb43b",
				"18cda784-4bd3-4370-85bb-bfed91ec86af",
			},
			SkipServices:        []string{"1800", "1801"},
			SkipCharacteristics: []string{"2a05"},
		},
		Discovery: DiscoveryConfig{
			VendorService:      "da2b84f1-6279-48de-bdc0-afbea0226079",
			PrimeUUID:          "a87988b9-694c-479c-900e-95dfa6c00a24",
			TriggerUUID:        "bf03260c-7205-4c25-af43-93b1c299d159",
			ReturnUUID:         "fdd6b4d3-046d-4330-bdec-1fd0c90cb43b",
			ReturnFallbackUUID: "18cda784-4bd3-4370-85bb-bfed91ec86af",
			AltUUID:            "0a1934f5-24b8-4f13-9842-37bb167c6aff",
			InfoUUID:           "99564a02-dc01-4d3c-b04e-3bb1ef0571b2",
			ProbeDelay:         180 * time.Millisecond,
			BruteDelay:         80 * time.Millisecond,
			NotifyWindow:       800 * time.Millisecond,
			MeasureWait:        1500 * time.Millisecond,
			MeasureSettle:      120 * time.Millisecond,
			PrimeSettle:        200 * time.Millisecond,
			BruteSeeds:         seedList(protocol.BruteSeeds),
			AltSeeds:           seedList(protocol.AltBruteSeeds),
		},
		Tracing: TracingConfig{
			Exporter: "stdout",
		},
	}
}

func seedList(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in log.output and tracing.output is expanded to
// the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Log.Output = expandTilde(cfg.Log.Output)
	cfg.Tracing.Output = expandTilde(cfg.Tracing.Output)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" if a config file already exists there.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	header := "# gattprobe configuration\n# Durations use Go syntax: 80ms, 1.5s, 10s.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}

	if c.Log.BufferLines <= 0 {
		return fmt.Errorf("log.buffer_lines must be > 0")
	}

	if c.Log.BufferTrimTo <= 0 || c.Log.BufferTrimTo > c.Log.BufferLines {
		return fmt.Errorf("log.buffer_trim_to must be in 1..%d, got %d", c.Log.BufferLines, c.Log.BufferTrimTo)
	}

	switch c.Transport.Backend {
	case "hci", "tinygo":
	default:
		return fmt.Errorf("transport.backend must be \"hci\" or \"tinygo\", got %q", c.Transport.Backend)
	}

	if c.Transport.ScanTimeout <= 0 {
		return fmt.Errorf("transport.scan_timeout must be > 0")
	}

	if c.Transport.ConnectAttempts <= 0 {
		return fmt.Errorf("transport.connect_attempts must be > 0")
	}

	if c.Session.ReadThrottle < 0 || c.Session.KeepaliveInterval < 0 {
		return fmt.Errorf("session durations must not be negative")
	}

	d := c.Discovery
	for name, v := range map[string]string{
		"discovery.vendor_service": d.VendorService,
		"discovery.prime_uuid":     d.PrimeUUID,
		"discovery.trigger_uuid":   d.TriggerUUID,
		"discovery.return_uuid":    d.ReturnUUID,
		"discovery.alt_uuid":       d.AltUUID,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}

	if d.NotifyWindow <= 0 {
		return fmt.Errorf("discovery.notify_window must be > 0")
	}

	for _, seeds := range [][]int{d.BruteSeeds, d.AltSeeds} {
		for _, s := range seeds {
			if s < 0 || s > 0xFF {
				return fmt.Errorf("discovery seeds must be in 0..255, got %d", s)
			}
		}
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "noop", "":
		default:
			return fmt.Errorf("tracing.exporter must be \"stdout\" or \"noop\", got %q", c.Tracing.Exporter)
		}
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
