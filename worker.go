// FILE: lixenwraith/transport/worker.go
package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/lixenwraith/transport/destination"
)

// Grace period for a cancelled worker to notice before Close gives up on it
const abortGrace = 10 * minWaitTime

// Worker owns one destination and delivers records to it in submission order
// from a single goroutine. Records submitted before the destination is ready
// wait in a bounded pending queue.
type Worker struct {
	spec    Spec
	factory Factory
	cfg     *Config
	diag    *diagnostics
	report  func(target string, err error)

	state    stateCell
	inflight atomic.Int64 // Records accepted by Send and not yet delivered or discarded

	mu      sync.RWMutex // Send holds R, anything that stops intake holds W
	inbound chan Record
	failErr error

	flushReq  chan chan error
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	cancel    context.CancelCauseFunc
	closeErr  error // Written by the loop before done is closed

	// Counters
	submitted    atomic.Uint64
	delivered    atomic.Uint64
	rejected     atomic.Uint64
	discarded    atomic.Uint64
	backpressure atomic.Uint64
}

// TargetStats is a snapshot of one worker's counters.
type TargetStats struct {
	Name               string
	Target             string
	State              WorkerState
	Outstanding        int64
	Submitted          uint64
	Delivered          uint64
	Rejected           uint64
	Discarded          uint64
	BackpressureEvents uint64
}

func newWorker(spec Spec, factory Factory, cfg *Config, diag *diagnostics, report func(string, error)) *Worker {
	return &Worker{
		spec:    spec,
		factory: factory,
		cfg:     cfg,
		diag:    diag,
		report:  report,
		// Send never blocks: inflight is capped at QueueSize
		inbound:  make(chan Record, cfg.QueueSize),
		flushReq: make(chan chan error),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// start launches the worker loop, which invokes the factory exactly once.
func (w *Worker) start(parent context.Context) {
	ctx, cancel := context.WithCancelCause(parent)
	w.cancel = cancel
	go w.run(ctx)
}

// Name returns the target name.
func (w *Worker) Name() string {
	return w.spec.Name
}

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState {
	return w.state.load()
}

// Send enqueues rec without blocking. It returns Backpressure once the
// outstanding count reaches the mark and ErrOverflow beyond the queue size.
func (w *Worker) Send(rec Record) (destination.Status, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.state.load() >= StateDraining {
		w.rejected.Add(1)
		return destination.Ack, w.unavailable()
	}

	n := w.inflight.Add(1)
	if n > w.cfg.QueueSize {
		w.inflight.Add(-1)
		w.rejected.Add(1)
		err := fmt.Errorf("%w: target '%s' has %d outstanding records", ErrOverflow, w.spec.Name, w.cfg.QueueSize)
		if w.cfg.FailOnOverflow {
			w.cancel(err)
		}
		return destination.Ack, err
	}

	w.inbound <- rec
	w.submitted.Add(1)

	if n >= w.cfg.BackpressureMark {
		return destination.Backpressure, nil
	}
	return destination.Ack, nil
}

// unavailable builds the rejection error. Caller holds mu.
func (w *Worker) unavailable() error {
	return &UnavailableError{Target: w.spec.Name, Cause: w.failErr}
}

// Outstanding returns the number of accepted records not yet delivered.
func (w *Worker) Outstanding() int64 {
	return w.inflight.Load()
}

// Ready waits until the destination is ready or the worker failed.
func (w *Worker) Ready(ctx context.Context) error {
	select {
	case <-w.ready:
	case <-ctx.Done():
		return fmtErrorf("target '%s' not ready: %w", w.spec.Name, ctx.Err())
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.state.load() == StateFailed {
		return w.unavailable()
	}
	return nil
}

// Flush waits until every record accepted so far reached the destination and
// the destination itself was flushed.
func (w *Worker) Flush(ctx context.Context) error {
	confirm := make(chan error, 1)

	select {
	case w.flushReq <- confirm:
	case <-w.done:
		return w.exitErr()
	case <-ctx.Done():
		return fmt.Errorf("%w: target '%s'", ErrFlushTimeout, w.spec.Name)
	}

	select {
	case err := <-confirm:
		return err
	case <-w.done:
		select {
		case err := <-confirm:
			return err
		default:
			return w.exitErr()
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: target '%s'", ErrFlushTimeout, w.spec.Name)
	}
}

// exitErr is the Flush result once the loop has exited.
func (w *Worker) exitErr() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.state.load() == StateFailed {
		return w.unavailable()
	}
	return nil
}

// Close stops intake, drains buffered records into the destination and closes
// it. If ctx ends first the worker is aborted and its remaining records are
// reported as discarded.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.state.advance(StateDraining) {
		close(w.inbound)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return w.closeErr
	case <-ctx.Done():
	}

	cause := fmtErrorf("target '%s' did not drain before close timeout: %w", w.spec.Name, ctx.Err())
	w.cancel(cause)

	select {
	case <-w.done:
		return w.closeErr
	case <-time.After(abortGrace):
		return cause
	}
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() TargetStats {
	return TargetStats{
		Name:               w.spec.Name,
		Target:             w.spec.Target,
		State:              w.state.load(),
		Outstanding:        w.inflight.Load(),
		Submitted:          w.submitted.Load(),
		Delivered:          w.delivered.Load(),
		Rejected:           w.rejected.Load(),
		Discarded:          w.discarded.Load(),
		BackpressureEvents: w.backpressure.Load(),
	}
}

func (w *Worker) markReady() {
	w.readyOnce.Do(func() {
		close(w.ready)
	})
}

// run is the worker loop. It is the only goroutine touching the destination
// and the pending queue.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	var (
		pending = queue.New()
		inbound = (<-chan Record)(w.inbound)
		dest    destination.Destination
		drain   <-chan struct{} // Non-nil while the destination is backpressured
		waiters []chan error
	)

	// --- Bootstrap ---
	bootCtx, bootCancel := context.WithTimeout(withDiagnostics(ctx, w.diag), w.cfg.bootstrapTimeout())
	defer bootCancel()

	results := make(chan bootResult, 1)
	go func() {
		d, err := bootstrap(bootCtx, w.spec, w.factory)
		results <- bootResult{dest: d, err: err}
	}()
	bootCh := (<-chan bootResult)(results)
	bootDone := bootCtx.Done()

	defer func() {
		// A bootstrap that finishes after the loop gave up must not leak its destination
		if bootCh != nil {
			go func() {
				if res := <-results; res.dest != nil {
					_ = res.dest.Close()
				}
			}()
		}
	}()

	// --- Timers ---
	var syncTick <-chan time.Time
	if w.cfg.EnablePeriodicSync {
		ticker := time.NewTicker(w.cfg.syncInterval())
		defer ticker.Stop()
		syncTick = ticker.C
	}

	// --- Main Loop ---
	for {
		if dest != nil && drain == nil {
			var err error
			if drain, err = w.deliver(dest, pending); err != nil {
				w.fail(dest, pending, inbound, waiters, err)
				return
			}

			if drain == nil && pending.Length() == 0 {
				if len(waiters) > 0 {
					err := w.flushDestination(dest)
					for _, confirm := range waiters {
						confirm <- err
					}
					waiters = nil
					if err != nil {
						w.fail(dest, pending, inbound, nil, err)
						return
					}
				}
				if inbound == nil {
					w.finish(dest)
					return
				}
			}
		}

		select {
		case rec, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			pending.Add(rec)

		case res := <-bootCh:
			bootCh, bootDone = nil, nil
			bootCancel()
			if res.err != nil {
				w.fail(nil, pending, inbound, waiters, res.err)
				return
			}
			dest = res.dest
			w.state.advance(StateReady) // No-op when already draining
			w.markReady()

		case <-bootDone:
			bootDone = nil
			if ctx.Err() != nil {
				continue // Reported through ctx.Done
			}
			w.fail(nil, pending, inbound, waiters, &OpenError{Target: w.spec.Name, Err: ErrBootstrapTimeout})
			return

		case <-drain:
			drain = nil

		case confirm := <-w.flushReq:
			// Everything Send accepted before this request is already in inbound
			if inbound != nil {
				for n := len(inbound); n > 0; n-- {
					rec, ok := <-inbound
					if !ok {
						inbound = nil
						break
					}
					pending.Add(rec)
				}
			}
			waiters = append(waiters, confirm)

		case <-syncTick:
			w.periodicSync(dest)

		case <-ctx.Done():
			w.fail(dest, pending, inbound, waiters, context.Cause(ctx))
			return
		}
	}
}

// deliver writes pending records in order until the queue is empty or the
// destination asks to pause. A non-nil channel means wait for it first.
func (w *Worker) deliver(dest destination.Destination, pending *queue.Queue) (<-chan struct{}, error) {
	for pending.Length() > 0 {
		rec := pending.Peek().(Record)

		status, err := writeRecord(dest, rec)
		if err != nil {
			return nil, &WriteError{Target: w.spec.Name, Err: err}
		}

		pending.Remove()
		w.inflight.Add(-1)
		w.delivered.Add(1)

		if status == destination.Backpressure {
			if d, ok := dest.(destination.Drainer); ok {
				w.backpressure.Add(1)
				return d.Drain(), nil
			}
		}
	}
	return nil, nil
}

// flushDestination runs the destination's Flusher and, with SyncOnFlush, its Syncer.
func (w *Worker) flushDestination(dest destination.Destination) error {
	if f, ok := dest.(destination.Flusher); ok {
		if err := guard(f.Flush); err != nil {
			return &WriteError{Target: w.spec.Name, Err: err}
		}
	}
	if s, ok := dest.(destination.Syncer); ok && w.cfg.SyncOnFlush {
		if err := guard(s.Sync); err != nil {
			return &WriteError{Target: w.spec.Name, Err: err}
		}
	}
	return nil
}

// periodicSync commits destination data on the sync ticker. Errors are logged
// and left for the next write or flush to surface.
func (w *Worker) periodicSync(dest destination.Destination) {
	if dest == nil {
		return
	}
	if s, ok := dest.(destination.Syncer); ok {
		if err := guard(s.Sync); err != nil {
			w.diag.internalLog("periodic sync of target '%s' failed: %v", w.spec.Name, err)
		}
	}
}

// finish completes a clean drain.
func (w *Worker) finish(dest destination.Destination) {
	flushErr := w.flushDestination(dest)
	closeErr := guard(dest.Close)
	if closeErr != nil {
		closeErr = fmtErrorf("failed to close target '%s': %w", w.spec.Name, closeErr)
	}

	w.closeErr = combineErrors(flushErr, closeErr)
	w.state.advance(StateClosed)
	w.markReady()
}

// fail moves the worker to failed, discards everything still buffered and
// reports the failure exactly once.
func (w *Worker) fail(dest destination.Destination, pending *queue.Queue, inbound <-chan Record, waiters []chan error, cause error) {
	w.mu.Lock()
	prev := w.state.load()
	w.failErr = cause
	w.state.advance(StateFailed)
	w.mu.Unlock()

	// Intake is stopped, whatever is still in inbound will never be delivered
	discarded := pending.Length()
	if inbound != nil {
	drainInbound:
		for {
			select {
			case _, ok := <-inbound:
				if !ok {
					break drainInbound
				}
				discarded++
			default:
				break drainInbound
			}
		}
	}
	w.inflight.Add(-int64(discarded))
	w.discarded.Add(uint64(discarded))

	if dest != nil {
		if err := guard(dest.Close); err != nil {
			w.diag.internalLog("failed to close target '%s' after failure: %v", w.spec.Name, err)
		}
	}

	unavailable := &UnavailableError{Target: w.spec.Name, Cause: cause}
	for _, confirm := range waiters {
		confirm <- unavailable
	}
	w.markReady()

	failure := &FailureError{Target: w.spec.Name, Discarded: discarded, Err: cause}
	if prev == StateDraining {
		w.closeErr = failure
	}

	w.diag.internalLog("%v", failure)
	if w.report != nil {
		w.report(w.spec.Name, failure)
	}
}

// writeRecord calls Write, converting a destination panic into an error.
func writeRecord(dest destination.Destination, rec Record) (status destination.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("destination panic: %v", r)
		}
	}()
	return dest.Write(rec)
}

// guard runs a destination callback, converting a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("destination panic: %v", r)
		}
	}()
	return fn()
}
