// FILE: lixenwraith/transport/utility.go
package transport

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// fmtErrorf wrapper
func fmtErrorf(format string, args ...any) error {
	if !strings.HasPrefix(format, "transport: ") {
		format = "transport: " + format
	}
	return fmt.Errorf(format, args...)
}

// combineErrors helper
func combineErrors(errs ...error) error {
	return multierr.Combine(errs...)
}

// parseKeyValue splits a "key=value" string.
func parseKeyValue(arg string) (string, string, error) {
	parts := strings.SplitN(strings.TrimSpace(arg), "=", 2)
	if len(parts) != 2 {
		return "", "", fmtErrorf("invalid format in override string '%s', expected key=value", arg)
	}
	key := strings.TrimSpace(parts[0])
	value := strings.TrimSpace(parts[1])
	if key == "" {
		return "", "", fmtErrorf("key cannot be empty in override string '%s'", arg)
	}
	return key, value, nil
}

// unquoteValue interprets a double-quoted override value with Go escapes, so
// separators like "\n" can be given on a command line.
func unquoteValue(value string) string {
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		if s, err := strconv.Unquote(value); err == nil {
			return s
		}
	}
	return value
}

// diagnostics writes internal transport diagnostics when enabled.
type diagnostics struct {
	enabled bool
	out     io.Writer
}

func newDiagnostics(cfg *Config) *diagnostics {
	return &diagnostics{enabled: cfg.InternalErrorsToStderr, out: os.Stderr}
}

// internalLog handles writing internal diagnostics to stderr, if enabled.
func (d *diagnostics) internalLog(format string, args ...any) {
	if d == nil || !d.enabled {
		return
	}

	// Ensure consistent "transport: " prefix
	if !strings.HasPrefix(format, "transport: ") {
		format = "transport: " + format
	}
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}

	fmt.Fprintf(d.out, format, args...)
}
