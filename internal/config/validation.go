package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Unwrap() error {
	return ErrInvalidConfig
}

// Has reports whether any error concerns field or one of its children.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field || strings.HasPrefix(err.Field, field+".") || strings.HasPrefix(err.Field, field+"[") {
			return true
		}
	}
	return false
}

// ErrInvalidConfig is matched by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidateConfig performs semantic validation after decoding.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateKeyboard(&c.Keyboard)...)
	errs = append(errs, validateAccessibility(&c.Accessibility)...)
	errs = append(errs, validateCapture(&c.Capture)...)
	errs = append(errs, validateIPC(&c.IPC)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateKeyboard(k *KeyboardConfig) ValidationErrors {
	var errs ValidationErrors

	if k.RepeatDelayMs < 0 {
		errs = append(errs, ValidationError{"keyboard.repeat_delay_ms", "must not be negative"})
	}
	if k.RepeatRateMs <= 0 {
		errs = append(errs, ValidationError{"keyboard.repeat_rate_ms", "must be positive"})
	}

	seen := make(map[string]bool, len(k.Gestures))
	for i, g := range k.Gestures {
		field := fmt.Sprintf("keyboard.gestures[%d]", i)
		if strings.TrimSpace(g.Name) == "" {
			errs = append(errs, ValidationError{field + ".name", "gesture name is required"})
		} else if seen[g.Name] {
			errs = append(errs, ValidationError{field + ".name", fmt.Sprintf("duplicate gesture %q", g.Name)})
		}
		seen[g.Name] = true
		if len(g.Keys) == 0 {
			errs = append(errs, ValidationError{field + ".keys", "gesture needs at least one key"})
		}
	}
	return errs
}

func validateAccessibility(a *AccessibilityConfig) ValidationErrors {
	var errs ValidationErrors
	if a.CallTimeoutMs < 1 {
		errs = append(errs, ValidationError{"accessibility.call_timeout_ms", "must be at least 1"})
	}
	if a.TreeDepth < 0 {
		errs = append(errs, ValidationError{"accessibility.tree_depth", "must not be negative"})
	}
	if a.FocusSearchLimit < 1 {
		errs = append(errs, ValidationError{"accessibility.focus_search_limit", "must be at least 1"})
	}
	return errs
}

func validateCapture(c *CaptureConfig) ValidationErrors {
	var errs ValidationErrors
	if c.StopTimeoutMs < 1 {
		errs = append(errs, ValidationError{"capture.stop_timeout_ms", "must be at least 1"})
	}
	if c.ReadBackoffMs < 1 {
		errs = append(errs, ValidationError{"capture.read_backoff_ms", "must be at least 1"})
	}
	if c.MaxBackoffMs < c.ReadBackoffMs {
		errs = append(errs, ValidationError{"capture.max_backoff_ms", "must not be below read_backoff_ms"})
	}
	if c.Enabled && c.InputDir == "" {
		errs = append(errs, ValidationError{"capture.input_dir", "input directory is required when capture is enabled"})
	}
	return errs
}

var permissionsPattern = regexp.MustCompile(`^0[0-7]{3}$`)

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if !i.Enabled {
		return errs
	}
	if i.SocketPath == "" {
		errs = append(errs, ValidationError{"ipc.socket_path", "socket path is required when IPC is enabled"})
	}
	if i.Permissions != "" && !permissionsPattern.MatchString(i.Permissions) {
		errs = append(errs, ValidationError{
			Field:   "ipc.permissions",
			Message: fmt.Sprintf("invalid permissions format: %s (expected octal like 0600)", i.Permissions),
		})
	}
	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{"ipc.max_connections", "max connections must be at least 1"})
	}
	if i.TimeoutSec < 1 {
		errs = append(errs, ValidationError{"ipc.timeout_sec", "timeout must be at least 1 second"})
	}
	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	if !m.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		return ValidationErrors{{"metrics.listen", fmt.Sprintf("invalid listen address %q: %v", m.Listen, err)}}
	}
	return nil
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{"logging.file_path", "file path is required when output writes to a file"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{"logging.max_size_mb", "max size must be at least 1 MB"})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{"logging.max_backups", "max backups cannot be negative"})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{"logging.max_age_days", "max age cannot be negative"})
	}
	return errs
}
