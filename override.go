// FILE: lixenwraith/transport/override.go
package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// ApplyOverride applies string key-value overrides to the configuration.
// Each override should be in the format "key=value". The configuration is only
// modified when every override parses.
//
// Example:
//
//	cfg := transport.DefaultConfig()
//	err := cfg.ApplyOverride(
//	    "queue_size=8192",
//	    "policy=best_effort",
//	    `record_separator="\r\n"`,
//	)
func (c *Config) ApplyOverride(overrides ...string) error {
	next := c.Clone()

	var errors []error

	for _, override := range overrides {
		key, value, err := parseKeyValue(override)
		if err != nil {
			errors = append(errors, err)
			continue
		}

		if err := applyConfigField(next, key, value); err != nil {
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return combineConfigErrors(errors)
	}

	if err := next.Validate(); err != nil {
		return err
	}

	*c = *next
	return nil
}

// combineConfigErrors combines multiple configuration errors into a single error.
func combineConfigErrors(errors []error) error {
	if len(errors) == 0 {
		return nil
	}
	if len(errors) == 1 {
		return errors[0]
	}

	var sb strings.Builder
	sb.WriteString("transport: multiple configuration errors:")
	for i, err := range errors {
		// Remove prefix from individual errors to avoid duplication
		errMsg := strings.TrimPrefix(err.Error(), "transport: ")
		sb.WriteString(fmt.Sprintf("\n  %d. %s", i+1, errMsg))
	}
	return fmt.Errorf("%s", sb.String())
}

// applyConfigField applies a single key-value override to a Config.
func applyConfigField(cfg *Config, key, value string) error {
	switch key {
	// Queueing
	case "queue_size":
		intVal, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmtErrorf("invalid integer value for queue_size '%s': %w", value, err)
		}
		cfg.QueueSize = intVal
	case "backpressure_mark":
		intVal, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmtErrorf("invalid integer value for backpressure_mark '%s': %w", value, err)
		}
		cfg.BackpressureMark = intVal

	// Timers
	case "bootstrap_timeout_ms":
		intVal, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmtErrorf("invalid integer value for bootstrap_timeout_ms '%s': %w", value, err)
		}
		cfg.BootstrapTimeoutMs = intVal
	case "flush_timeout_ms":
		intVal, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmtErrorf("invalid integer value for flush_timeout_ms '%s': %w", value, err)
		}
		cfg.FlushTimeoutMs = intVal
	case "close_timeout_ms":
		intVal, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmtErrorf("invalid integer value for close_timeout_ms '%s': %w", value, err)
		}
		cfg.CloseTimeoutMs = intVal
	case "sync_interval_ms":
		intVal, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmtErrorf("invalid integer value for sync_interval_ms '%s': %w", value, err)
		}
		cfg.SyncIntervalMs = intVal
	case "enable_periodic_sync":
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmtErrorf("invalid boolean value for enable_periodic_sync '%s': %w", value, err)
		}
		cfg.EnablePeriodicSync = boolVal
	case "sync_on_flush":
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmtErrorf("invalid boolean value for sync_on_flush '%s': %w", value, err)
		}
		cfg.SyncOnFlush = boolVal

	// Delivery
	case "record_separator":
		cfg.RecordSeparator = unquoteValue(value)
	case "policy":
		cfg.Policy = value
	case "fail_on_overflow":
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmtErrorf("invalid boolean value for fail_on_overflow '%s': %w", value, err)
		}
		cfg.FailOnOverflow = boolVal

	// Internal error handling
	case "internal_errors_to_stderr":
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmtErrorf("invalid boolean value for internal_errors_to_stderr '%s': %w", value, err)
		}
		cfg.InternalErrorsToStderr = boolVal

	default:
		return fmtErrorf("unknown configuration key '%s'", key)
	}

	return nil
}
