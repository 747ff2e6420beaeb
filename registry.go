// FILE: lixenwraith/transport/registry.go
package transport

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/lixenwraith/transport/destination"
)

// Factory builds the destination for one target. It is called exactly once
// per worker lifetime and may return any of the shapes accepted by the
// bootstrap: a destination.Destination, func([]byte) error, func([]byte),
// destination.SinkFunc, or a *destination.Pending for asynchronous creation.
type Factory func(ctx context.Context, spec Spec) (any, error)

// Registry maps target names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in targets.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.factories[TargetDiscard] = newDiscardTarget
	r.factories[TargetFile] = newFileTarget
	r.factories[TargetFD] = newFDTarget
	r.factories[TargetSocket] = newSocketTarget
	r.factories[TargetHTTP] = newHTTPTarget
	r.factories[TargetWebSocket] = newWebSocketTarget
	return r
}

// Register adds or replaces the factory for target.
func (r *Registry) Register(target string, f Factory) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return fmtErrorf("cannot register a factory without a target name")
	}
	if f == nil {
		return fmtErrorf("cannot register nil factory for target '%s'", target)
	}
	r.mu.Lock()
	r.factories[target] = f
	r.mu.Unlock()
	return nil
}

// Lookup returns the factory for target.
func (r *Registry) Lookup(target string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[target]
	return f, ok
}

// Targets returns the registered target names.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// defaultRegistry backs the package-level Register and Lookup
var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(target string, f Factory) error {
	return defaultRegistry.Register(target, f)
}

// Lookup finds a factory in the default registry.
func Lookup(target string) (Factory, bool) {
	return defaultRegistry.Lookup(target)
}

// DecodeOptions decodes an options map into a typed options struct. Values are
// weakly typed, durations parse from strings, and unknown keys are rejected.
func DecodeOptions(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          "mapstructure",
		Result:           out,
	})
	if err != nil {
		return fmtErrorf("failed to create options decoder: %w", err)
	}
	if err := dec.Decode(opts); err != nil {
		return fmtErrorf("invalid options: %w", err)
	}
	return nil
}

// --- Built-in targets ---

func newDiscardTarget(_ context.Context, spec Spec) (any, error) {
	var opts destination.DiscardOptions
	if err := DecodeOptions(spec.options(""), &opts); err != nil {
		return nil, err
	}
	return destination.NewDiscard(opts), nil
}

func newFileTarget(_ context.Context, spec Spec) (any, error) {
	var opts destination.FileOptions
	if err := DecodeOptions(spec.options("destination"), &opts); err != nil {
		return nil, err
	}
	return destination.NewFile(opts)
}

func newFDTarget(_ context.Context, spec Spec) (any, error) {
	raw := spec.options("")
	if _, ok := raw["fd"]; !ok {
		fd := defaultFd
		switch {
		case spec.Fd != 0:
			fd = spec.Fd
		case spec.Destination != "":
			n, err := strconv.Atoi(spec.Destination)
			if err != nil {
				return nil, fmtErrorf("fd target destination must be a descriptor number: '%s'", spec.Destination)
			}
			fd = n
		}
		raw["fd"] = fd
	}

	var opts destination.FDOptions
	if err := DecodeOptions(raw, &opts); err != nil {
		return nil, err
	}
	return destination.NewFD(opts)
}

func newSocketTarget(ctx context.Context, spec Spec) (any, error) {
	var opts destination.SocketOptions
	if err := DecodeOptions(spec.options("destination"), &opts); err != nil {
		return nil, err
	}
	opts.Logger = newGnetLogger(diagnosticsFrom(ctx), spec.Name)
	return destination.NewSocket(opts)
}

func newHTTPTarget(_ context.Context, spec Spec) (any, error) {
	var opts destination.HTTPOptions
	if err := DecodeOptions(spec.options("destination"), &opts); err != nil {
		return nil, err
	}
	return destination.NewHTTP(opts)
}

func newWebSocketTarget(_ context.Context, spec Spec) (any, error) {
	var opts destination.WebSocketOptions
	if err := DecodeOptions(spec.options("destination"), &opts); err != nil {
		return nil, err
	}
	return destination.NewWebSocket(opts)
}

// diagnosticsKey carries the dispatcher's diagnostics into factories
type diagnosticsKey struct{}

func withDiagnostics(ctx context.Context, d *diagnostics) context.Context {
	return context.WithValue(ctx, diagnosticsKey{}, d)
}

func diagnosticsFrom(ctx context.Context) *diagnostics {
	d, _ := ctx.Value(diagnosticsKey{}).(*diagnostics)
	return d
}
