// Package config handles configuration loading and validation for wlime.
package config

import (
	"errors"
	"fmt"
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
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidateConfig performs comprehensive validation of the configuration.
// Unknown TOML keys are already silently ignored by the decoder; this only
// validates the fields wlime actually reads.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d", c.Version),
		})
	}

	if strings.TrimSpace(c.Keybinds.Commit) == "" {
		errs = append(errs, ValidationError{
			Field:   "keybinds.commit",
			Message: "commit key notation cannot be empty",
		})
	}

	switch c.Completion.Adapter {
	case "native", "cmp":
		// valid
	default:
		errs = append(errs, ValidationError{
			Field:   "completion.adapter",
			Message: fmt.Sprintf("invalid adapter: %s (valid: native, cmp)", c.Completion.Adapter),
		})
	}

	if c.Font.Size <= 0 {
		errs = append(errs, ValidationError{
			Field:   "font.size",
			Message: "font size must be positive",
		})
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level),
		})
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", c.Logging.Format),
		})
	}

	switch c.Logging.Output {
	case "stdout", "stderr", "file":
		if c.Logging.Output == "file" && c.Logging.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file)", c.Logging.Output),
		})
	}

	if c.Candidates.Enabled && c.Candidates.DBPath == "" {
		errs = append(errs, ValidationError{
			Field:   "candidates.db_path",
			Message: "db_path is required when candidates ranking is enabled",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
