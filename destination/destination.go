// FILE: lixenwraith/transport/destination/destination.go

// Package destination defines the writable-destination contract used by
// transport workers and the concrete sinks shipped with the module.
//
// A Destination is owned by exactly one worker. Workers call Write from a
// single goroutine, so implementations only need their own locking when they
// run background work (async flushers, network callbacks).
package destination

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Status is the outcome of an accepted write.
type Status uint8

const (
	// Ack means the record was accepted and the caller may keep writing.
	Ack Status = iota
	// Backpressure means the record was accepted but the caller must pause
	// until the destination's Drain channel fires.
	Backpressure
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case Ack:
		return "ack"
	case Backpressure:
		return "backpressure"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("transport/destination: destination closed")

// Destination is the uniform writable sink a transport factory produces.
type Destination interface {
	// Write accepts one record. The slice is immutable and may be retained.
	Write(p []byte) (Status, error)
	// Close releases the underlying resource. Safe to call more than once.
	Close() error
}

// Awaiter is implemented by destinations that acquire their resource in the
// background. Ready delivers exactly one value: nil once writes are accepted,
// or the open error.
type Awaiter interface {
	Ready() <-chan error
}

// Drainer is implemented by destinations that may return Backpressure.
// The returned channel is closed once buffered data falls below the mark.
type Drainer interface {
	Drain() <-chan struct{}
}

// Flusher pushes internally buffered records to the underlying resource.
type Flusher interface {
	Flush() error
}

// Syncer commits written data to stable storage.
type Syncer interface {
	Sync() error
}

// SinkFunc adapts a plain callback into a Destination.
type SinkFunc func(p []byte) error

// Write calls f.
func (f SinkFunc) Write(p []byte) (Status, error) {
	return Ack, f(p)
}

// Close is a no-op.
func (f SinkFunc) Close() error {
	return nil
}

// Pending is the result of an asynchronous transport factory. The factory
// returns it immediately and resolves it once its destination exists.
type Pending struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewPending creates an unresolved Pending.
func NewPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Resolve completes the Pending with a destination or sink callback.
// Only the first Resolve or Reject takes effect.
func (p *Pending) Resolve(v any) {
	p.once.Do(func() {
		p.value = v
		close(p.done)
	})
}

// Reject completes the Pending with an error.
func (p *Pending) Reject(err error) {
	if err == nil {
		err = fmtErrorf("pending rejected with nil error")
	}
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done is closed once the Pending is resolved or rejected.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the resolved value or error. Only valid after Done.
func (p *Pending) Result() (any, error) {
	<-p.done
	return p.value, p.err
}

// readySignal is a single-shot readiness notification shared by the
// background-opening sinks.
type readySignal struct {
	once sync.Once
	ch   chan error
}

func newReadySignal() *readySignal {
	return &readySignal{ch: make(chan error, 1)}
}

func (r *readySignal) fire(err error) {
	r.once.Do(func() {
		r.ch <- err
	})
}

// closedDrain is handed out when a destination is already below its mark.
var closedDrain = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// drainSignal hands out a channel that is closed when a backpressured
// destination falls below its high-water mark. Callers pair wait and release
// under the owning destination's lock so a release cannot slip between the
// saturation check and the wait.
type drainSignal struct {
	mu sync.Mutex
	ch chan struct{}
}

// wait returns the current drain channel, or an already closed one when the
// destination is not saturated.
func (d *drainSignal) wait(saturated bool) <-chan struct{} {
	if !saturated {
		return closedDrain
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ch == nil {
		d.ch = make(chan struct{})
	}
	return d.ch
}

// release closes the pending drain channel, if any.
func (d *drainSignal) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ch != nil {
		close(d.ch)
		d.ch = nil
	}
}

// fmtErrorf prefixes package errors consistently.
func fmtErrorf(format string, args ...any) error {
	if !strings.HasPrefix(format, "transport/destination: ") {
		format = "transport/destination: " + format
	}
	return fmt.Errorf(format, args...)
}
