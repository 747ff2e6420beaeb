// FILE: lixenwraith/transport/dispatcher.go
package transport

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lixenwraith/transport/destination"
)

// ErrorHandler receives each worker failure exactly once.
type ErrorHandler func(target string, err error)

// Option customizes a Dispatcher at construction.
type Option func(*Dispatcher)

// WithRegistry resolves targets from r instead of the default registry.
func WithRegistry(r *Registry) Option {
	return func(d *Dispatcher) {
		d.registry = r
	}
}

// WithErrorHandler installs the failure handler before any worker starts.
func WithErrorHandler(h ErrorHandler) Option {
	return func(d *Dispatcher) {
		d.onError.Store(h)
	}
}

// Dispatcher accepts serialized records from producers and forwards each one
// to every configured target. It never blocks the producer: slow targets
// report Backpressure, failed targets report ErrTransportUnavailable.
type Dispatcher struct {
	cfg      *Config
	registry *Registry
	diag     *diagnostics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	workers []*Worker
	byName  map[string]int

	closed   atomic.Bool
	closeMu  sync.Mutex   // Serializes Close with Restart
	flushMu  sync.Mutex   // Protect concurrent Flush calls
	onError  atomic.Value // stores ErrorHandler
	printBuf sync.Pool
}

// NewDispatcher validates cfg and specs, resolves every factory and starts one
// worker per spec. Bootstrapping continues in the background; use Ready to
// wait for it.
func NewDispatcher(cfg *Config, specs []Spec, opts ...Option) (*Dispatcher, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmtErrorf("dispatcher requires at least one target")
	}

	d := &Dispatcher{
		cfg:      cfg,
		registry: defaultRegistry,
		diag:     newDiagnostics(cfg),
		byName:   make(map[string]int, len(specs)),
		printBuf: sync.Pool{New: func() any { return new([]byte) }},
	}
	for _, opt := range opts {
		opt(d)
	}

	factories := make([]Factory, len(specs))
	normalized := make([]Spec, len(specs))
	for i, spec := range specs {
		s, err := spec.normalize()
		if err != nil {
			return nil, err
		}
		if _, dup := d.byName[s.Name]; dup {
			return nil, fmtErrorf("duplicate target name '%s'", s.Name)
		}
		f, ok := d.registry.Lookup(s.Target)
		if !ok {
			return nil, &OpenError{Target: s.Name, Err: ErrUnknownTarget}
		}
		d.byName[s.Name] = i
		normalized[i] = s
		factories[i] = f
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.workers = make([]*Worker, len(normalized))
	for i, s := range normalized {
		w := newWorker(s, factories[i], d.cfg, d.diag, d.reportError)
		d.workers[i] = w
		w.start(d.ctx)
	}

	return d, nil
}

// OnError installs the failure handler. Failures that happened before the
// call are only visible through State and Stats.
func (d *Dispatcher) OnError(h ErrorHandler) {
	d.onError.Store(h)
}

func (d *Dispatcher) reportError(target string, err error) {
	if h, ok := d.onError.Load().(ErrorHandler); ok && h != nil {
		h(target, err)
	}
}

// Config returns a copy of the active configuration.
func (d *Dispatcher) Config() *Config {
	return d.cfg.Clone()
}

func (d *Dispatcher) snapshot() []*Worker {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.workers
}

// Send copies rec, appends the record separator and forwards it to every
// target. Backpressure means at least one target reached its mark; the
// record was still accepted.
func (d *Dispatcher) Send(rec []byte) (destination.Status, error) {
	if d.closed.Load() {
		return destination.Ack, &UnavailableError{Cause: ErrClosed}
	}
	return d.send(newRecord(rec, d.cfg.RecordSeparator))
}

func (d *Dispatcher) send(r Record) (destination.Status, error) {
	workers := d.snapshot()

	if len(workers) == 1 {
		return workers[0].Send(r)
	}

	if d.cfg.Policy == PolicyFailFast {
		for _, w := range workers {
			if w.State() >= StateDraining {
				w.mu.RLock()
				err := w.unavailable()
				w.mu.RUnlock()
				w.rejected.Add(1)
				return destination.Ack, err
			}
		}
	}

	status := destination.Ack
	accepted := 0
	var errs []error
	for _, w := range workers {
		st, err := w.Send(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		accepted++
		if st == destination.Backpressure {
			status = destination.Backpressure
		}
	}

	if d.cfg.Policy == PolicyBestEffort && accepted > 0 {
		return status, nil
	}
	return status, combineErrors(errs...)
}

// Write implements io.Writer. One trailing separator in p is dropped, since
// Send appends its own. Backpressure is not visible through Write; use
// WaitDrain to pace writers.
func (d *Dispatcher) Write(p []byte) (int, error) {
	n := len(p)
	rec := bytes.TrimSuffix(p, []byte(d.cfg.RecordSeparator))
	if _, err := d.Send(rec); err != nil {
		return 0, err
	}
	return n, nil
}

// Print builds a raw record from args, space separated, and sends it.
// Values without a direct representation are rendered with spew.
func (d *Dispatcher) Print(args ...any) (destination.Status, error) {
	if d.closed.Load() {
		return destination.Ack, &UnavailableError{Cause: ErrClosed}
	}

	bp := d.printBuf.Get().(*[]byte)
	buf := appendRaw((*bp)[:0], args)
	r := newRecord(buf, d.cfg.RecordSeparator)
	*bp = buf
	d.printBuf.Put(bp)

	return d.send(r)
}

// Ready waits until every target finished bootstrapping. It returns the
// combined errors of targets that failed to open.
func (d *Dispatcher) Ready(ctx context.Context) error {
	workers := d.snapshot()
	errs := make([]error, len(workers))

	var g errgroup.Group
	for i, w := range workers {
		g.Go(func() error {
			errs[i] = w.Ready(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return combineErrors(errs...)
}

// Flush waits until every record sent so far was written to its destination
// and destinations were flushed. If no timeout is provided, uses flush_timeout_ms.
func (d *Dispatcher) Flush(timeout ...time.Duration) error {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	if d.closed.Load() {
		return &UnavailableError{Cause: ErrClosed}
	}

	effectiveTimeout := d.cfg.flushTimeout()
	if len(timeout) > 0 {
		effectiveTimeout = timeout[0]
	}
	ctx, cancel := context.WithTimeout(d.ctx, effectiveTimeout)
	defer cancel()

	return d.eachWorker(func(w *Worker) error {
		return w.Flush(ctx)
	})
}

// WaitDrain blocks until no target is at or above its backpressure mark.
func (d *Dispatcher) WaitDrain(ctx context.Context) error {
	for {
		saturated := false
		for _, w := range d.snapshot() {
			if w.State() < StateClosed && w.Outstanding() >= d.cfg.BackpressureMark {
				saturated = true
				break
			}
		}
		if !saturated {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(minWaitTime):
		}
	}
}

// Close drains and closes every target. Later sends fail with
// ErrTransportUnavailable. Calling Close again is a no-op.
// If no timeout is provided, uses close_timeout_ms.
func (d *Dispatcher) Close(timeout ...time.Duration) error {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()

	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	effectiveTimeout := d.cfg.closeTimeout()
	if len(timeout) > 0 {
		effectiveTimeout = timeout[0]
	}
	ctx, cancel := context.WithTimeout(context.Background(), effectiveTimeout)
	defer cancel()

	err := d.eachWorker(func(w *Worker) error {
		return w.Close(ctx)
	})
	d.cancel()
	return err
}

// eachWorker runs fn on every worker concurrently and combines the errors.
func (d *Dispatcher) eachWorker(fn func(w *Worker) error) error {
	workers := d.snapshot()
	errs := make([]error, len(workers))

	var g errgroup.Group
	for i, w := range workers {
		g.Go(func() error {
			errs[i] = fn(w)
			return nil
		})
	}
	_ = g.Wait()
	return combineErrors(errs...)
}

// Restart replaces a failed or closed target with a fresh worker. The factory
// runs again and the new worker starts with an empty queue.
func (d *Dispatcher) Restart(name string) error {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()

	if d.closed.Load() {
		return &UnavailableError{Target: name, Cause: ErrClosed}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	i, ok := d.byName[name]
	if !ok {
		return fmtErrorf("unknown target name '%s'", name)
	}
	old := d.workers[i]
	if st := old.State(); !st.Terminal() {
		return fmtErrorf("target '%s' is %s, only failed or closed targets can restart", name, st)
	}

	w := newWorker(old.spec, old.factory, d.cfg, d.diag, d.reportError)
	w.start(d.ctx)

	// Copy on write so snapshots held by Send stay valid
	workers := make([]*Worker, len(d.workers))
	copy(workers, d.workers)
	workers[i] = w
	d.workers = workers

	d.diag.internalLog("target '%s' restarted", name)
	return nil
}

// State returns the lifecycle state of the named target.
func (d *Dispatcher) State(name string) (WorkerState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.byName[name]
	if !ok {
		return 0, false
	}
	return d.workers[i].State(), true
}

// Targets returns the target names in configuration order.
func (d *Dispatcher) Targets() []string {
	workers := d.snapshot()
	names := make([]string, len(workers))
	for i, w := range workers {
		names[i] = w.Name()
	}
	return names
}

// Stats returns per-target counters in configuration order.
func (d *Dispatcher) Stats() []TargetStats {
	workers := d.snapshot()
	stats := make([]TargetStats, len(workers))
	for i, w := range workers {
		stats[i] = w.Stats()
	}
	return stats
}
