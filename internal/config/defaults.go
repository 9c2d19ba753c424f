package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// ConfigDir returns $XDG_CONFIG_HOME/atbridge, or ~/.config/atbridge.
// ATBRIDGE_CONFIG_DIR overrides both.
func ConfigDir() string {
	if dir := os.Getenv("ATBRIDGE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "atbridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "atbridge-"+strconv.Itoa(os.Getuid()))
	}
	return filepath.Join(home, ".config", "atbridge")
}

// RuntimeDir returns $XDG_RUNTIME_DIR/atbridge, or /tmp/atbridge-$UID.
func RuntimeDir() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "atbridge")
	}
	return filepath.Join(os.TempDir(), "atbridge-"+strconv.Itoa(os.Getuid()))
}

// DefaultSocketPath returns the control socket path inside RuntimeDir.
func DefaultSocketPath() string {
	return filepath.Join(RuntimeDir(), "atbridge.sock")
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// SupportedConfigFormats returns the recognized file extensions.
func SupportedConfigFormats() []string {
	return []string{".toml", ".yaml", ".yml", ".json"}
}

// FindConfigFile returns the first existing config.<ext> in ConfigDir,
// falling back to ConfigPath.
func FindConfigFile() string {
	dir := ConfigDir()
	for _, ext := range SupportedConfigFormats() {
		p := filepath.Join(dir, "config"+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ConfigPath()
}
