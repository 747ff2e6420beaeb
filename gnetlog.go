// FILE: lixenwraith/transport/gnetlog.go
package transport

import (
	"fmt"

	"github.com/panjf2000/gnet/v2/pkg/logging"
)

// gnetLogger routes gnet's event-loop diagnostics for one socket target onto
// the dispatcher's internal log. It implements gnet's logging.Logger.
type gnetLogger struct {
	diag   *diagnostics
	target string
}

var _ logging.Logger = (*gnetLogger)(nil)

func newGnetLogger(diag *diagnostics, target string) *gnetLogger {
	return &gnetLogger{diag: diag, target: target}
}

func (g *gnetLogger) write(level, format string, args ...any) {
	g.diag.internalLog("[%s] gnet %s: %s", g.target, level, fmt.Sprintf(format, args...))
}

// Debugf is dropped; gnet is chatty at debug level.
func (g *gnetLogger) Debugf(format string, args ...any) {}

// Infof logs at info level with printf-style formatting
func (g *gnetLogger) Infof(format string, args ...any) {
	g.write("info", format, args...)
}

// Warnf logs at warn level with printf-style formatting
func (g *gnetLogger) Warnf(format string, args ...any) {
	g.write("warn", format, args...)
}

// Errorf logs at error level with printf-style formatting
func (g *gnetLogger) Errorf(format string, args ...any) {
	g.write("error", format, args...)
}

// Fatalf logs at error level. The process is never exited on behalf of gnet;
// the connection failure reaches the worker through the destination instead.
func (g *gnetLogger) Fatalf(format string, args ...any) {
	g.write("fatal", format, args...)
}
