package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lixenwraith/transport/destination"
)

// memorySink records every write in memory
type memorySink struct {
	mu      sync.Mutex
	records []string
	closed  bool
	syncs   int

	failAt  int           // Fail the nth write (1-based), 0 disables
	panicAt int           // Panic on the nth write (1-based), 0 disables
	latency time.Duration // Per-write delay, simulates a slow device
	writes  int
}

func (m *memorySink) Write(p []byte) (destination.Status, error) {
	if m.latency > 0 {
		time.Sleep(m.latency)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return destination.Ack, destination.ErrClosed
	}
	m.writes++
	if m.writes == m.failAt {
		return destination.Ack, errors.New("disk on fire")
	}
	if m.writes == m.panicAt {
		panic("sink exploded")
	}
	m.records = append(m.records, string(p))
	return destination.Ack, nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memorySink) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
	return nil
}

func (m *memorySink) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.records))
	copy(out, m.records)
	return out
}

func (m *memorySink) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *memorySink) syncCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncs
}

// delayedSink becomes ready after a fixed delay, like a file opened in the background
type delayedSink struct {
	*memorySink
	ready chan error
}

func newDelayedSink(delay time.Duration, openErr error) *delayedSink {
	s := &delayedSink{memorySink: &memorySink{}, ready: make(chan error, 1)}
	time.AfterFunc(delay, func() { s.ready <- openErr })
	return s
}

func (s *delayedSink) Ready() <-chan error {
	return s.ready
}

// pausingSink reports backpressure on every write until released
type pausingSink struct {
	*memorySink
	drain chan struct{}
}

func newPausingSink() *pausingSink {
	return &pausingSink{memorySink: &memorySink{}, drain: make(chan struct{})}
}

func (s *pausingSink) Write(p []byte) (destination.Status, error) {
	if _, err := s.memorySink.Write(p); err != nil {
		return destination.Ack, err
	}
	select {
	case <-s.drain:
		return destination.Ack, nil
	default:
		return destination.Backpressure, nil
	}
}

func (s *pausingSink) Drain() <-chan struct{} {
	return s.drain
}

// staticFactory returns a factory that always produces v
func staticFactory(v any) Factory {
	return func(context.Context, Spec) (any, error) {
		return v, nil
	}
}

// testConfig returns a small, fast configuration
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.QueueSize = 1000
	cfg.BackpressureMark = 800
	cfg.BootstrapTimeoutMs = 2000
	cfg.FlushTimeoutMs = 2000
	cfg.CloseTimeoutMs = 2000
	return cfg
}

// failureRecorder counts and keeps reported failures
type failureRecorder struct {
	mu    sync.Mutex
	count atomic.Int64
	errs  []error
}

func (r *failureRecorder) handle(_ string, err error) {
	r.count.Add(1)
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *failureRecorder) first() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[0]
}

// startTestWorker creates and starts a worker that is closed at test end
func startTestWorker(t *testing.T, cfg *Config, factory Factory, report func(string, error)) *Worker {
	t.Helper()
	spec, err := Spec{Target: "memory"}.normalize()
	require.NoError(t, err)

	w := newWorker(spec, factory, cfg, nil, report)
	w.start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.Close(ctx)
	})
	return w
}

// createTestDispatcher builds a dispatcher over a registry holding extra test targets
func createTestDispatcher(t *testing.T, cfg *Config, specs []Spec, targets map[string]Factory, opts ...Option) *Dispatcher {
	t.Helper()
	reg := NewRegistry()
	for name, f := range targets {
		require.NoError(t, reg.Register(name, f))
	}
	opts = append([]Option{WithRegistry(reg)}, opts...)

	d, err := NewDispatcher(cfg, specs, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func waitState(t *testing.T, w *Worker, want WorkerState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return w.State() == want
	}, 3*time.Second, 5*time.Millisecond, "worker never reached %s (at %s)", want, w.State())
}

func flushCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}
