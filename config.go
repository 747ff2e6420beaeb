// FILE: lixenwraith/transport/config.go
package transport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/lixenwraith/config"
)

// configPrefix is the TOML table holding transport settings
const configPrefix = "transport."

// Config holds all dispatcher configuration values
type Config struct {
	// Queueing
	QueueSize        int64 `toml:"queue_size"`        // Max outstanding records per target
	BackpressureMark int64 `toml:"backpressure_mark"` // Outstanding records that signal backpressure

	// Timers
	BootstrapTimeoutMs int64 `toml:"bootstrap_timeout_ms"` // Max time from factory call to readiness
	FlushTimeoutMs     int64 `toml:"flush_timeout_ms"`     // Default Flush timeout
	CloseTimeoutMs     int64 `toml:"close_timeout_ms"`     // Default Close timeout
	SyncIntervalMs     int64 `toml:"sync_interval_ms"`     // Interval for periodic destination sync
	EnablePeriodicSync bool  `toml:"enable_periodic_sync"` // Periodic sync with disk
	SyncOnFlush        bool  `toml:"sync_on_flush"`        // Sync destinations on explicit flush and close

	// Delivery
	RecordSeparator string `toml:"record_separator"` // Appended to every record
	Policy          string `toml:"policy"`           // "fail_fast" or "best_effort"
	FailOnOverflow  bool   `toml:"fail_on_overflow"` // Overflow fails the target; false only rejects the excess record

	// Internal error handling
	InternalErrorsToStderr bool `toml:"internal_errors_to_stderr"` // Write internal errors to stderr
}

// defaultConfig is the single source for all configurable default values
var defaultConfig = Config{
	// Queueing
	QueueSize:        4096,
	BackpressureMark: 3072,

	// Timers
	BootstrapTimeoutMs: 10000,
	FlushTimeoutMs:     5000,
	CloseTimeoutMs:     10000,
	SyncIntervalMs:     1000,
	EnablePeriodicSync: false,
	SyncOnFlush:        true,

	// Delivery
	RecordSeparator: "\n",
	Policy:          PolicyFailFast,
	FailOnOverflow:  true,

	// Internal error handling
	InternalErrorsToStderr: false,
}

// DefaultConfig returns a copy of the default configuration
func DefaultConfig() *Config {
	// Create a copy to prevent modifications to the original
	copiedConfig := defaultConfig
	return &copiedConfig
}

// NewConfigFromFile loads configuration from a TOML file and returns a validated Config
func NewConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Use lixenwraith/config as a loader
	loader := config.New()

	// Register the struct to enable proper unmarshaling
	if err := loader.RegisterStruct(configPrefix, *cfg); err != nil {
		return nil, fmtErrorf("failed to register config struct: %w", err)
	}

	// Load from file (handles file not found gracefully)
	if err := loader.Load(path, nil); err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		return nil, fmtErrorf("failed to load config from %s: %w", path, err)
	}

	// Extract values into our Config struct
	if err := extractConfig(loader, configPrefix, cfg); err != nil {
		return nil, fmtErrorf("failed to extract config values: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewConfigFromDefaults creates a Config with default values and applies overrides
func NewConfigFromDefaults(overrides map[string]any) (*Config, error) {
	cfg := DefaultConfig()

	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, fmtErrorf("failed to apply overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration as a [transport] TOML table.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmtErrorf("failed to create config directory '%s': %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmtErrorf("failed to create config file '%s': %w", path, err)
	}

	doc := struct {
		Transport Config `toml:"transport"`
	}{Transport: *c}

	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		_ = f.Close()
		return fmtErrorf("failed to encode config to '%s': %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmtErrorf("failed to close config file '%s': %w", path, err)
	}
	return nil
}

// extractConfig extracts values from lixenwraith/config into our Config struct
func extractConfig(loader *config.Config, prefix string, cfg *Config) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldValue := v.Field(i)

		// Get the toml tag to determine the config key
		tomlTag := field.Tag.Get("toml")
		if tomlTag == "" {
			continue
		}

		val, found := loader.Get(prefix + tomlTag)
		if !found {
			continue // Use default value
		}

		if err := setFieldValue(fieldValue, val); err != nil {
			return fmt.Errorf("failed to set field %s: %w", field.Name, err)
		}
	}

	return nil
}

// applyOverrides applies a map of overrides to the Config struct
func applyOverrides(cfg *Config, overrides map[string]any) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()

	fieldMap := make(map[string]reflect.Value)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tomlTag := field.Tag.Get("toml")
		if tomlTag != "" {
			fieldMap[tomlTag] = v.Field(i)
		}
	}

	for key, value := range overrides {
		fieldValue, exists := fieldMap[key]
		if !exists {
			return fmt.Errorf("unknown config key: %s", key)
		}

		if err := setFieldValue(fieldValue, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	return nil
}

// setFieldValue sets a reflect.Value with proper type conversion
func setFieldValue(field reflect.Value, value any) error {
	switch field.Kind() {
	case reflect.String:
		strVal, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		field.SetString(strVal)

	case reflect.Int64:
		switch v := value.(type) {
		case int64:
			field.SetInt(v)
		case int:
			field.SetInt(int64(v))
		case uint64:
			field.SetInt(int64(v))
		default:
			return fmt.Errorf("expected int64, got %T", value)
		}

	case reflect.Bool:
		boolVal, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		field.SetBool(boolVal)

	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c.QueueSize <= 0 {
		return fmtErrorf("queue_size must be positive: %d", c.QueueSize)
	}

	if c.BackpressureMark <= 0 || c.BackpressureMark > c.QueueSize {
		return fmtErrorf("backpressure_mark must be between 1 and queue_size (%d): %d",
			c.QueueSize, c.BackpressureMark)
	}

	if c.BootstrapTimeoutMs <= 0 || c.FlushTimeoutMs <= 0 || c.CloseTimeoutMs <= 0 {
		return fmtErrorf("timeout settings must be positive")
	}

	if c.EnablePeriodicSync && c.SyncIntervalMs <= 0 {
		return fmtErrorf("sync_interval_ms must be positive when periodic sync is enabled: %d",
			c.SyncIntervalMs)
	}

	if c.Policy != PolicyFailFast && c.Policy != PolicyBestEffort {
		return fmtErrorf("invalid policy: '%s' (use %s or %s)", c.Policy, PolicyFailFast, PolicyBestEffort)
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	copiedConfig := *c
	return &copiedConfig
}

func (c *Config) bootstrapTimeout() time.Duration {
	return time.Duration(c.BootstrapTimeoutMs) * time.Millisecond
}

func (c *Config) flushTimeout() time.Duration {
	return time.Duration(c.FlushTimeoutMs) * time.Millisecond
}

func (c *Config) closeTimeout() time.Duration {
	return time.Duration(c.CloseTimeoutMs) * time.Millisecond
}

func (c *Config) syncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMs) * time.Millisecond
}
