// FILE: lixenwraith/transport/builder.go
package transport

import (
	"time"
)

// Builder provides a fluent API for building a dispatcher.
// It wraps a Config instance plus a target list and provides chainable methods.
type Builder struct {
	cfg   *Config
	specs []Spec
	opts  []Option
	err   error // Accumulate errors for deferred handling
}

// NewBuilder creates a new builder with default configuration and no targets.
func NewBuilder() *Builder {
	return &Builder{
		cfg: DefaultConfig(),
	}
}

// Build validates the configuration and returns a started Dispatcher.
func (b *Builder) Build() (*Dispatcher, error) {
	if b.err != nil {
		return nil, b.err
	}
	return NewDispatcher(b.cfg, b.specs, b.opts...)
}

// Config replaces the whole configuration.
func (b *Builder) Config(cfg *Config) *Builder {
	if cfg != nil {
		b.cfg = cfg.Clone()
	}
	return b
}

// ConfigFile loads configuration from a TOML file.
func (b *Builder) ConfigFile(path string) *Builder {
	if b.err != nil {
		return b
	}
	cfg, err := NewConfigFromFile(path)
	if err != nil {
		b.err = err
		return b
	}
	b.cfg = cfg
	return b
}

// Manifest loads configuration overrides and targets from a YAML manifest.
func (b *Builder) Manifest(path string) *Builder {
	if b.err != nil {
		return b
	}
	m, err := LoadManifest(path)
	if err != nil {
		b.err = err
		return b
	}
	if err := applyOverrides(b.cfg, m.Transport); err != nil {
		b.err = fmtErrorf("failed to apply manifest overrides: %w", err)
		return b
	}
	b.specs = append(b.specs, m.Targets...)
	return b
}

// Override applies "key=value" configuration overrides.
func (b *Builder) Override(overrides ...string) *Builder {
	if b.err != nil {
		return b
	}
	if err := b.cfg.ApplyOverride(overrides...); err != nil {
		b.err = err
	}
	return b
}

// QueueSize sets the per-target bound on outstanding records.
func (b *Builder) QueueSize(size int64) *Builder {
	b.cfg.QueueSize = size
	return b
}

// BackpressureMark sets the outstanding count that signals backpressure.
func (b *Builder) BackpressureMark(mark int64) *Builder {
	b.cfg.BackpressureMark = mark
	return b
}

// BootstrapTimeout bounds the time from factory call to readiness.
func (b *Builder) BootstrapTimeout(d time.Duration) *Builder {
	b.cfg.BootstrapTimeoutMs = d.Milliseconds()
	return b
}

// FlushTimeout sets the default Flush timeout.
func (b *Builder) FlushTimeout(d time.Duration) *Builder {
	b.cfg.FlushTimeoutMs = d.Milliseconds()
	return b
}

// CloseTimeout sets the default Close timeout.
func (b *Builder) CloseTimeout(d time.Duration) *Builder {
	b.cfg.CloseTimeoutMs = d.Milliseconds()
	return b
}

// PeriodicSync enables syncing destinations at the given interval.
func (b *Builder) PeriodicSync(interval time.Duration) *Builder {
	b.cfg.EnablePeriodicSync = interval > 0
	b.cfg.SyncIntervalMs = interval.Milliseconds()
	return b
}

// RecordSeparator sets the bytes appended to every record.
func (b *Builder) RecordSeparator(sep string) *Builder {
	b.cfg.RecordSeparator = sep
	return b
}

// Policy sets the multi-target delivery policy.
func (b *Builder) Policy(policy string) *Builder {
	b.cfg.Policy = policy
	return b
}

// FailOnOverflow sets whether an overflow fails the target (default) or only rejects the excess record.
func (b *Builder) FailOnOverflow(enable bool) *Builder {
	b.cfg.FailOnOverflow = enable
	return b
}

// InternalErrorsToStderr enables internal diagnostics on stderr.
func (b *Builder) InternalErrorsToStderr(enable bool) *Builder {
	b.cfg.InternalErrorsToStderr = enable
	return b
}

// Target adds a target with options.
func (b *Builder) Target(target string, options map[string]any) *Builder {
	b.specs = append(b.specs, Spec{Target: target, Options: options})
	return b
}

// Spec adds a fully described target.
func (b *Builder) Spec(spec Spec) *Builder {
	b.specs = append(b.specs, spec)
	return b
}

// File adds a file target writing to path.
func (b *Builder) File(path string) *Builder {
	b.specs = append(b.specs, Spec{Target: TargetFile, Destination: path})
	return b
}

// FD adds a target writing to an open file descriptor.
func (b *Builder) FD(fd int) *Builder {
	b.specs = append(b.specs, Spec{Target: TargetFD, Options: map[string]any{"fd": fd}})
	return b
}

// Registry resolves targets from r.
func (b *Builder) Registry(r *Registry) *Builder {
	b.opts = append(b.opts, WithRegistry(r))
	return b
}

// OnError installs the worker failure handler.
func (b *Builder) OnError(h ErrorHandler) *Builder {
	b.opts = append(b.opts, WithErrorHandler(h))
	return b
}

// Example usage:
// d, err := transport.NewBuilder().
//
//	File("/var/log/app.log").
//	Target("http", map[string]any{"destination": "http://collector/ingest", "gzip": true}).
//	Policy(transport.PolicyBestEffort).
//	OnError(func(target string, err error) { fmt.Fprintln(os.Stderr, err) }).
//	Build()
//
// if err == nil {
//
//	 defer d.Close()
//	 d.Send([]byte(`{"msg":"started"}`))
//
// }
