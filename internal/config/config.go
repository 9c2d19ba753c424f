// Package config handles configuration loading, validation, and hot reload
// for atbridge.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"atbridge/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration. A loaded Config is treated
// as immutable; reloads produce a new value.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Keyboard controls key state timing and gesture definitions.
	Keyboard KeyboardConfig `toml:"keyboard" json:"keyboard" yaml:"keyboard"`

	// Braille holds the braille capability flag forwarded to collaborators.
	Braille BrailleConfig `toml:"braille" json:"braille" yaml:"braille"`

	// Accessibility configures the accessibility bus connection.
	Accessibility AccessibilityConfig `toml:"accessibility" json:"accessibility" yaml:"accessibility"`

	// Capture configures raw keyboard capture.
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`

	// IPC configures the local control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Metrics configures the metrics and health HTTP endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// KeyboardConfig mirrors the keyboard section.
type KeyboardConfig struct {
	// RepeatDelayMs is the hold time before autorepeat starts.
	RepeatDelayMs int `toml:"repeat_delay_ms" json:"repeat_delay_ms" yaml:"repeat_delay_ms"`

	// RepeatRateMs is the interval between autorepeat events.
	RepeatRateMs int `toml:"repeat_rate_ms" json:"repeat_rate_ms" yaml:"repeat_rate_ms"`

	// EmitRepeats forwards autorepeat as key_repeat events.
	EmitRepeats bool `toml:"emit_repeats" json:"emit_repeats" yaml:"emit_repeats"`

	// Gestures are named chords matched against the pressed key set.
	Gestures []GestureConfig `toml:"gestures" json:"gestures" yaml:"gestures"`
}

// GestureConfig names a chord of evdev key names.
type GestureConfig struct {
	Name string   `toml:"name" json:"name" yaml:"name"`
	Keys []string `toml:"keys" json:"keys" yaml:"keys"`
}

// BrailleConfig mirrors the braille section.
type BrailleConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// AccessibilityConfig mirrors the accessibility section.
type AccessibilityConfig struct {
	// BusAddress overrides discovery of the accessibility bus.
	BusAddress string `toml:"bus_address" json:"bus_address" yaml:"bus_address"`

	// CallTimeoutMs bounds every call to the accessibility service.
	CallTimeoutMs int `toml:"call_timeout_ms" json:"call_timeout_ms" yaml:"call_timeout_ms"`

	// TreeDepth is the default depth for tree queries.
	TreeDepth int `toml:"tree_depth" json:"tree_depth" yaml:"tree_depth"`

	// FocusSearchLimit bounds the fallback search for the focused node.
	FocusSearchLimit int `toml:"focus_search_limit" json:"focus_search_limit" yaml:"focus_search_limit"`

	// Keystrokes registers a keystroke listener with the accessibility service.
	Keystrokes bool `toml:"keystrokes" json:"keystrokes" yaml:"keystrokes"`
}

// CaptureConfig mirrors the capture section.
type CaptureConfig struct {
	Enabled       bool `toml:"enabled" json:"enabled" yaml:"enabled"`
	Hotplug       bool `toml:"hotplug" json:"hotplug" yaml:"hotplug"`
	StopTimeoutMs int  `toml:"stop_timeout_ms" json:"stop_timeout_ms" yaml:"stop_timeout_ms"`
	ReadBackoffMs int  `toml:"read_backoff_ms" json:"read_backoff_ms" yaml:"read_backoff_ms"`
	MaxBackoffMs  int  `toml:"max_backoff_ms" json:"max_backoff_ms" yaml:"max_backoff_ms"`

	// InputDir is the directory scanned for event devices.
	InputDir string `toml:"input_dir" json:"input_dir" yaml:"input_dir"`
}

// IPCConfig mirrors the ipc section.
type IPCConfig struct {
	Enabled        bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	SocketPath     string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
	Permissions    string `toml:"permissions" json:"permissions" yaml:"permissions"`
	MaxConnections int    `toml:"max_connections" json:"max_connections" yaml:"max_connections"`
	TimeoutSec     int    `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// MetricsConfig mirrors the metrics section.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" json:"listen" yaml:"listen"`
}

// LoggingConfig mirrors the logging section.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Keyboard: KeyboardConfig{
			RepeatDelayMs: 500,
			RepeatRateMs:  30,
			EmitRepeats:   false,
			Gestures:      []GestureConfig{},
		},
		Braille: BrailleConfig{
			Enabled: false,
		},
		Accessibility: AccessibilityConfig{
			CallTimeoutMs:    2000,
			TreeDepth:        3,
			FocusSearchLimit: 2000,
			Keystrokes:       true,
		},
		Capture: CaptureConfig{
			Enabled:       true,
			Hotplug:       true,
			StopTimeoutMs: 2000,
			ReadBackoffMs: 100,
			MaxBackoffMs:  5000,
			InputDir:      "/dev/input",
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     DefaultSocketPath(),
			Permissions:    "0600",
			MaxConnections: 16,
			TimeoutSec:     30,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9465",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides.
// Variables are prefixed with ATBRIDGE_; AT_SPI_BUS_ADDRESS is honored as well.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("AT_SPI_BUS_ADDRESS"); v != "" {
		c.Accessibility.BusAddress = v
	}
	if v := os.Getenv("ATBRIDGE_BUS_ADDRESS"); v != "" {
		c.Accessibility.BusAddress = v
	}
	if v := os.Getenv("ATBRIDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("ATBRIDGE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("ATBRIDGE_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("ATBRIDGE_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
		c.Metrics.Enabled = true
	}
	if b, ok := envBool("ATBRIDGE_BRAILLE"); ok {
		c.Braille.Enabled = b
	}
	if b, ok := envBool("ATBRIDGE_CAPTURE"); ok {
		c.Capture.Enabled = b
	}
	if n, ok := envInt("ATBRIDGE_REPEAT_DELAY_MS"); ok {
		c.Keyboard.RepeatDelayMs = n
	}
	if n, ok := envInt("ATBRIDGE_REPEAT_RATE_MS"); ok {
		c.Keyboard.RepeatRateMs = n
	}
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Keyboard.Gestures = make([]GestureConfig, len(c.Keyboard.Gestures))
	for i, g := range c.Keyboard.Gestures {
		clone.Keyboard.Gestures[i] = GestureConfig{Name: g.Name, Keys: append([]string(nil), g.Keys...)}
	}
	return &clone
}

// RepeatDelay returns keyboard.repeat_delay_ms as a duration.
func (c *Config) RepeatDelay() time.Duration {
	return time.Duration(c.Keyboard.RepeatDelayMs) * time.Millisecond
}

// RepeatRate returns keyboard.repeat_rate_ms as a duration.
func (c *Config) RepeatRate() time.Duration {
	return time.Duration(c.Keyboard.RepeatRateMs) * time.Millisecond
}

// CallTimeout returns accessibility.call_timeout_ms as a duration.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Accessibility.CallTimeoutMs) * time.Millisecond
}

// StopTimeout returns capture.stop_timeout_ms as a duration.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Capture.StopTimeoutMs) * time.Millisecond
}

// ReadBackoff returns capture.read_backoff_ms as a duration.
func (c *Config) ReadBackoff() time.Duration {
	return time.Duration(c.Capture.ReadBackoffMs) * time.Millisecond
}

// MaxBackoff returns capture.max_backoff_ms as a duration.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Capture.MaxBackoffMs) * time.Millisecond
}

// LoggerConfig converts the logging section for logging.New.
func (c *Config) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Logging.Output
	lc.FilePath = c.Logging.FilePath
	lc.MaxSize = int64(c.Logging.MaxSizeMB)
	lc.MaxBackups = c.Logging.MaxBackups
	lc.MaxAge = c.Logging.MaxAgeDays
	lc.Compress = c.Logging.Compress
	return lc, nil
}
