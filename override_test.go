package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOverride(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyOverride(
		"queue_size=100",
		"backpressure_mark=80",
		"bootstrap_timeout_ms=250",
		"enable_periodic_sync=true",
		"sync_interval_ms=50",
		"policy=best_effort",
		`record_separator="\r\n"`,
		"fail_on_overflow=false",
		"internal_errors_to_stderr=true",
	)
	require.NoError(t, err)

	assert.Equal(t, int64(100), cfg.QueueSize)
	assert.Equal(t, int64(80), cfg.BackpressureMark)
	assert.Equal(t, int64(250), cfg.BootstrapTimeoutMs)
	assert.True(t, cfg.EnablePeriodicSync)
	assert.Equal(t, int64(50), cfg.SyncIntervalMs)
	assert.Equal(t, PolicyBestEffort, cfg.Policy)
	assert.Equal(t, "\r\n", cfg.RecordSeparator)
	assert.False(t, cfg.FailOnOverflow)
	assert.True(t, cfg.InternalErrorsToStderr)
}

func TestApplyOverrideErrors(t *testing.T) {
	tests := []struct {
		name      string
		overrides []string
		contains  string
	}{
		{"MissingEquals", []string{"queue_size"}, "expected key=value"},
		{"EmptyKey", []string{"=5"}, "key cannot be empty"},
		{"UnknownKey", []string{"colour=blue"}, "colour"},
		{"BadInteger", []string{"queue_size=lots"}, "queue_size"},
		{"BadBool", []string{"sync_on_flush=maybe"}, "sync_on_flush"},
		{"Multiple", []string{"queue_size=x", "flush_timeout_ms=y"}, "multiple configuration errors"},
		{"InvalidResult", []string{"backpressure_mark=999999"}, "backpressure_mark"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			err := cfg.ApplyOverride(tt.overrides...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
			assert.Equal(t, DefaultConfig(), cfg, "failed override must leave config untouched")
		})
	}
}
