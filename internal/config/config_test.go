package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Keyboard.RepeatDelayMs != 500 {
		t.Errorf("expected repeat delay 500, got %d", cfg.Keyboard.RepeatDelayMs)
	}
	if cfg.Keyboard.RepeatRateMs != 30 {
		t.Errorf("expected repeat rate 30, got %d", cfg.Keyboard.RepeatRateMs)
	}
	if cfg.Braille.Enabled {
		t.Error("braille should be disabled by default")
	}
	if cfg.Keyboard.EmitRepeats {
		t.Error("repeats should not be emitted by default")
	}
	assert.Equal(t, 500*time.Millisecond, cfg.RepeatDelay())
	assert.Equal(t, 30*time.Millisecond, cfg.RepeatRate())
	assert.Equal(t, 100*time.Millisecond, cfg.ReadBackoff())
	assert.NoError(t, cfg.Validate())
}

func TestConfigPath(t *testing.T) {
	t.Setenv("ATBRIDGE_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "atbridge", "config.toml"), ConfigPath())

	t.Setenv("ATBRIDGE_CONFIG_DIR", "/override")
	assert.Equal(t, filepath.Join("/override", "config.toml"), ConfigPath())
}

func TestDefaultSocketPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, "/run/user/1000/atbridge/atbridge.sock", DefaultSocketPath())
}

func TestFindConfigFilePrefersExisting(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ATBRIDGE_CONFIG_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("braille:\n  enabled: true\n"), 0o600))

	assert.Equal(t, filepath.Join(dir, "config.yaml"), FindConfigFile())
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Keyboard.RepeatDelayMs != 500 {
		t.Errorf("expected defaults, got repeat delay %d", cfg.Keyboard.RepeatDelayMs)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
version = 1

[keyboard]
repeat_delay_ms = 250
repeat_rate_ms = 40
emit_repeats = true

[[keyboard.gestures]]
name = "read_all"
keys = ["KEY_LEFTCTRL", "KEY_LEFTALT", "KEY_A"]

[braille]
enabled = true

[logging]
level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Keyboard.RepeatDelayMs)
	assert.Equal(t, 40, cfg.Keyboard.RepeatRateMs)
	assert.True(t, cfg.Keyboard.EmitRepeats)
	assert.True(t, cfg.Braille.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []GestureConfig{
		{Name: "read_all", Keys: []string{"KEY_LEFTCTRL", "KEY_LEFTALT", "KEY_A"}},
	}, cfg.Keyboard.Gestures)

	// untouched sections keep defaults
	assert.Equal(t, 2000, cfg.Accessibility.CallTimeoutMs)
}

func TestLoadYAMLAndJSON(t *testing.T) {
	yamlPath := writeFile(t, "config.yaml", "keyboard:\n  repeat_rate_ms: 55\nbraille:\n  enabled: true\n")
	cfg, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 55, cfg.Keyboard.RepeatRateMs)
	assert.True(t, cfg.Braille.Enabled)

	jsonPath := writeFile(t, "config.json", `{"capture": {"enabled": false}, "keyboard": {"repeat_delay_ms": 600}}`)
	cfg, err = Load(jsonPath)
	require.NoError(t, err)
	assert.False(t, cfg.Capture.Enabled)
	assert.Equal(t, 600, cfg.Keyboard.RepeatDelayMs)
}

func TestLoadInvalidTOML(t *testing.T) {
	path := writeFile(t, "config.toml", "this is not [valid toml")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestSchemaRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "config.toml", "[keyboard]\nrepeat_dleay_ms = 10\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestSchemaRejectsWrongType(t *testing.T) {
	path := writeFile(t, "config.yaml", "braille:\n  enabled: \"yes please\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keyboard.RepeatRateMs = 0
	cfg.Keyboard.Gestures = []GestureConfig{
		{Name: "a", Keys: []string{"KEY_A"}},
		{Name: "a", Keys: nil},
	}
	cfg.Logging.Level = "loud"
	cfg.IPC.Permissions = "777"

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.True(t, verrs.Has("keyboard.repeat_rate_ms"))
	assert.True(t, verrs.Has("keyboard.gestures[1]"))
	assert.True(t, verrs.Has("logging.level"))
	assert.True(t, verrs.Has("ipc.permissions"))
	assert.False(t, verrs.Has("capture"))
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestValidateMetricsListen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "not-an-address"
	assert.Error(t, cfg.Validate())

	cfg.Metrics.Listen = "127.0.0.1:9000"
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ATBRIDGE_LOG_LEVEL", "WARN")
	t.Setenv("ATBRIDGE_BRAILLE", "true")
	t.Setenv("ATBRIDGE_CAPTURE", "false")
	t.Setenv("ATBRIDGE_REPEAT_DELAY_MS", "750")
	t.Setenv("ATBRIDGE_BUS_ADDRESS", "unix:path=/tmp/a11y")
	t.Setenv("ATBRIDGE_REPEAT_RATE_MS", "not-a-number")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Braille.Enabled)
	assert.False(t, cfg.Capture.Enabled)
	assert.Equal(t, 750, cfg.Keyboard.RepeatDelayMs)
	assert.Equal(t, 30, cfg.Keyboard.RepeatRateMs)
	assert.Equal(t, "unix:path=/tmp/a11y", cfg.Accessibility.BusAddress)
}

func TestCloneIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keyboard.Gestures = []GestureConfig{{Name: "g", Keys: []string{"KEY_A"}}}

	clone := cfg.Clone()
	clone.Keyboard.Gestures[0].Keys[0] = "KEY_B"

	assert.Equal(t, "KEY_A", cfg.Keyboard.Gestures[0].Keys[0])
}

func TestSaveRoundTripFormats(t *testing.T) {
	for _, ext := range SupportedConfigFormats() {
		t.Run(strings.TrimPrefix(ext, "."), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config"+ext)
			cfg := DefaultConfig()
			cfg.Braille.Enabled = true
			cfg.Keyboard.Gestures = []GestureConfig{{Name: "next", Keys: []string{"KEY_CAPSLOCK", "KEY_RIGHT"}}}

			require.NoError(t, Save(cfg, path))
			loaded, err := Load(path)
			require.NoError(t, err)
			assert.True(t, loaded.Braille.Enabled)
			assert.Equal(t, cfg.Keyboard.Gestures, loaded.Keyboard.Gestures)
		})
	}
}

func TestLoggerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	lc, err := cfg.LoggerConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(20), lc.MaxSize)
	assert.Equal(t, cfg.Logging.FilePath, lc.FilePath)
}
