package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lixenwraith/transport/destination"
)

func sendN(t *testing.T, w *Worker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := w.Send(newRecord([]byte(fmt.Sprintf("record %d", i)), "\n"))
		require.NoError(t, err)
	}
}

func expectedRecords(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("record %d\n", i)
	}
	return out
}

func TestWorkerPreservesOrder(t *testing.T) {
	sink := &memorySink{}
	w := startTestWorker(t, testConfig(), staticFactory(sink), nil)

	sendN(t, w, 500)
	require.NoError(t, w.Flush(flushCtx(t)))

	assert.Equal(t, expectedRecords(500), sink.snapshot())
	assert.Equal(t, StateReady, w.State())
	assert.Equal(t, int64(0), w.Outstanding())
}

func TestWorkerBuffersUntilReady(t *testing.T) {
	sink := newDelayedSink(50*time.Millisecond, nil)
	w := startTestWorker(t, testConfig(), staticFactory(sink), nil)

	sendN(t, w, 100)
	assert.Equal(t, StateStarting, w.State())
	assert.Empty(t, sink.snapshot(), "nothing may reach the sink before it is ready")

	require.NoError(t, w.Ready(flushCtx(t)))
	require.NoError(t, w.Flush(flushCtx(t)))
	assert.Equal(t, expectedRecords(100), sink.snapshot())
	assert.Equal(t, StateReady, w.State())
}

func TestWorkerFlushAfterReadyWaitsForInbound(t *testing.T) {
	for run := 0; run < 5; run++ {
		sink := &memorySink{latency: 200 * time.Microsecond}
		w := startTestWorker(t, testConfig(), staticFactory(sink), nil)
		require.NoError(t, w.Ready(flushCtx(t)))

		sendN(t, w, 200)
		require.NoError(t, w.Flush(flushCtx(t)))

		assert.Equal(t, expectedRecords(200), sink.snapshot(), "run %d", run)
		assert.Equal(t, int64(0), w.Outstanding(), "run %d", run)
	}
}

func TestWorkerPendingFactory(t *testing.T) {
	sink := &memorySink{}
	factory := func(context.Context, Spec) (any, error) {
		p := destination.NewPending()
		time.AfterFunc(30*time.Millisecond, func() {
			p.Resolve(func(b []byte) error {
				_, err := sink.Write(b)
				return err
			})
		})
		return p, nil
	}
	w := startTestWorker(t, testConfig(), factory, nil)

	sendN(t, w, 20)
	require.NoError(t, w.Flush(flushCtx(t)))
	assert.Equal(t, expectedRecords(20), sink.snapshot())
}

func TestWorkerPendingRejected(t *testing.T) {
	rec := &failureRecorder{}
	factory := func(context.Context, Spec) (any, error) {
		p := destination.NewPending()
		go p.Reject(errors.New("permission denied"))
		return p, nil
	}
	w := startTestWorker(t, testConfig(), factory, rec.handle)

	waitState(t, w, StateFailed)
	err := w.Ready(flushCtx(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestWorkerOverflowWhileStarting(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 10
	cfg.BackpressureMark = 10
	cfg.FailOnOverflow = false

	gate := make(chan struct{})
	sink := &memorySink{}
	factory := func(ctx context.Context, _ Spec) (any, error) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return sink, nil
	}
	w := startTestWorker(t, cfg, factory, nil)

	for i := 0; i < 9; i++ {
		status, err := w.Send(Record("x\n"))
		require.NoError(t, err)
		assert.Equal(t, destination.Ack, status)
	}
	status, err := w.Send(Record("x\n"))
	require.NoError(t, err)
	assert.Equal(t, destination.Backpressure, status, "reaching the mark signals backpressure")

	_, err = w.Send(Record("x\n"))
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, StateStarting, w.State(), "overflow alone does not fail the worker")

	close(gate)
	require.NoError(t, w.Flush(flushCtx(t)))
	assert.Len(t, sink.snapshot(), 10)

	stats := w.Stats()
	assert.Equal(t, uint64(10), stats.Submitted)
	assert.Equal(t, uint64(10), stats.Delivered)
	assert.Equal(t, uint64(1), stats.Rejected)
}

func TestWorkerOverflowFailsByDefault(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 4
	cfg.BackpressureMark = 4

	rec := &failureRecorder{}
	factory := func(ctx context.Context, _ Spec) (any, error) {
		<-ctx.Done()
		return nil, context.Cause(ctx)
	}
	w := startTestWorker(t, cfg, factory, rec.handle)

	for i := 0; i < 4; i++ {
		_, err := w.Send(Record("x\n"))
		require.NoError(t, err)
	}
	_, err := w.Send(Record("x\n"))
	require.ErrorIs(t, err, ErrOverflow)

	waitState(t, w, StateFailed)
	require.Eventually(t, func() bool { return rec.count.Load() == 1 }, time.Second, 5*time.Millisecond)

	var failure *FailureError
	require.ErrorAs(t, rec.first(), &failure)
	assert.ErrorIs(t, failure, ErrOverflow)
	assert.Equal(t, 4, failure.Discarded)

	_, err = w.Send(Record("x\n"))
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestWorkerFactoryPanic(t *testing.T) {
	rec := &failureRecorder{}
	gate := make(chan struct{})
	factory := func(context.Context, Spec) (any, error) {
		<-gate
		panic("factory exploded")
	}
	w := startTestWorker(t, testConfig(), factory, rec.handle)

	for i := 0; i < 5; i++ {
		_, err := w.Send(Record("buffered\n"))
		require.NoError(t, err)
	}
	close(gate)

	waitState(t, w, StateFailed)
	require.Eventually(t, func() bool { return rec.count.Load() == 1 }, time.Second, 5*time.Millisecond)

	var failure *FailureError
	require.ErrorAs(t, rec.first(), &failure)
	assert.Equal(t, 5, failure.Discarded, "buffered records are reported as discarded")
	assert.ErrorIs(t, failure, ErrOpen)
	assert.Contains(t, failure.Error(), "factory exploded")

	for i := 0; i < 3; i++ {
		_, err := w.Send(Record("late\n"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTransportUnavailable)
		assert.ErrorIs(t, err, ErrOpen)
	}

	assert.ErrorIs(t, w.Flush(flushCtx(t)), ErrTransportUnavailable)
	assert.Equal(t, int64(1), rec.count.Load(), "failure is reported exactly once")
	assert.Equal(t, int64(0), w.Outstanding())
	assert.Equal(t, uint64(5), w.Stats().Discarded)
	assert.Equal(t, uint64(3), w.Stats().Rejected)
}

func TestWorkerFactoryError(t *testing.T) {
	rec := &failureRecorder{}
	factory := func(context.Context, Spec) (any, error) {
		return nil, errors.New("no such host")
	}
	w := startTestWorker(t, testConfig(), factory, rec.handle)

	err := w.Ready(flushCtx(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, StateFailed, w.State())
}

func TestWorkerBootstrapTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.BootstrapTimeoutMs = 50

	rec := &failureRecorder{}
	sink := &delayedSink{memorySink: &memorySink{}, ready: make(chan error)} // Never ready
	w := startTestWorker(t, cfg, staticFactory(sink), rec.handle)

	_, err := w.Send(Record("lost\n"))
	require.NoError(t, err)

	waitState(t, w, StateFailed)
	require.Eventually(t, func() bool { return rec.count.Load() == 1 }, time.Second, 5*time.Millisecond)

	failure := rec.first()
	assert.ErrorIs(t, failure, ErrBootstrapTimeout)
	assert.ErrorIs(t, failure, ErrOpen)
	assert.Eventually(t, sink.isClosed, time.Second, 5*time.Millisecond, "abandoned destination must be closed")
	assert.Empty(t, sink.snapshot())
}

func TestWorkerShapeMismatch(t *testing.T) {
	tests := []struct {
		name    string
		factory Factory
	}{
		{"Integer", staticFactory(42)},
		{"NilFunc", staticFactory((func([]byte) error)(nil))},
		{"MixedReadiness", func(context.Context, Spec) (any, error) {
			p := destination.NewPending()
			p.Resolve(newDelayedSink(time.Millisecond, nil))
			return p, nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &failureRecorder{}
			w := startTestWorker(t, testConfig(), tt.factory, rec.handle)

			err := w.Ready(flushCtx(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrShapeMismatch)
			assert.ErrorIs(t, err, ErrOpen)
			assert.Equal(t, StateFailed, w.State())
		})
	}
}

func TestWorkerWriteError(t *testing.T) {
	tests := []struct {
		name    string
		sink    *memorySink
		message string
	}{
		{"Error", &memorySink{failAt: 3}, "disk on fire"},
		{"Panic", &memorySink{panicAt: 3}, "sink exploded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &failureRecorder{}
			w := startTestWorker(t, testConfig(), staticFactory(tt.sink), rec.handle)
			require.NoError(t, w.Ready(flushCtx(t)))

			for i := 0; i < 5; i++ {
				_, _ = w.Send(newRecord([]byte(fmt.Sprintf("record %d", i)), "\n"))
			}

			waitState(t, w, StateFailed)
			require.Eventually(t, func() bool { return rec.count.Load() == 1 }, time.Second, 5*time.Millisecond)

			var writeErr *WriteError
			require.ErrorAs(t, rec.first(), &writeErr)
			assert.ErrorIs(t, rec.first(), ErrWrite)
			assert.Contains(t, writeErr.Error(), tt.message)

			assert.Equal(t, expectedRecords(2), tt.sink.snapshot())
			assert.True(t, tt.sink.isClosed(), "failed destination is closed")

			stats := w.Stats()
			assert.Equal(t, uint64(2), stats.Delivered)
			assert.Equal(t, uint64(5), stats.Delivered+stats.Discarded+stats.Rejected)
		})
	}
}

func TestWorkerHonorsDestinationBackpressure(t *testing.T) {
	sink := newPausingSink()
	w := startTestWorker(t, testConfig(), staticFactory(sink), nil)
	require.NoError(t, w.Ready(flushCtx(t)))

	sendN(t, w, 3)

	require.Eventually(t, func() bool { return w.Stats().BackpressureEvents == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, sink.snapshot(), 1, "worker must wait for drain after a backpressured write")
	assert.Equal(t, int64(2), w.Outstanding())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Flush(ctx), ErrFlushTimeout)

	close(sink.drain)
	require.NoError(t, w.Flush(flushCtx(t)))
	assert.Equal(t, expectedRecords(3), sink.snapshot())
}

func TestWorkerCloseDrains(t *testing.T) {
	sink := newDelayedSink(30*time.Millisecond, nil)
	w := startTestWorker(t, testConfig(), staticFactory(sink), nil)

	sendN(t, w, 100)
	require.NoError(t, w.Close(flushCtx(t)), "close before ready still delivers everything")

	assert.Equal(t, expectedRecords(100), sink.snapshot())
	assert.True(t, sink.isClosed())
	assert.Equal(t, StateClosed, w.State())

	_, err := w.Send(Record("after\n"))
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.NoError(t, w.Close(flushCtx(t)), "second close is a no-op")
	assert.NoError(t, w.Flush(flushCtx(t)))
}

func TestWorkerCloseTimeout(t *testing.T) {
	rec := &failureRecorder{}
	sink := newPausingSink() // Never drains
	w := startTestWorker(t, testConfig(), staticFactory(sink), rec.handle)
	require.NoError(t, w.Ready(flushCtx(t)))

	sendN(t, w, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := w.Close(ctx)
	require.Error(t, err)

	var failure *FailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 9, failure.Discarded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, StateFailed, w.State())
	assert.True(t, sink.isClosed())
	assert.Equal(t, int64(1), rec.count.Load())
}

func TestWorkerFlushCallsFlusherAndSyncer(t *testing.T) {
	var flushes atomic.Int64
	sink := &flushingSink{memorySink: &memorySink{}, flushes: &flushes}

	cfg := testConfig()
	w := startTestWorker(t, cfg, staticFactory(sink), nil)

	sendN(t, w, 3)
	require.NoError(t, w.Flush(flushCtx(t)))
	assert.Equal(t, int64(1), flushes.Load())
	assert.Equal(t, 1, sink.syncCount(), "sync_on_flush is on by default")

	cfg2 := testConfig()
	cfg2.SyncOnFlush = false
	sink2 := &flushingSink{memorySink: &memorySink{}, flushes: &flushes}
	w2 := startTestWorker(t, cfg2, staticFactory(sink2), nil)
	require.NoError(t, w2.Flush(flushCtx(t)))
	assert.Equal(t, 0, sink2.syncCount())
}

func TestWorkerPeriodicSync(t *testing.T) {
	cfg := testConfig()
	cfg.EnablePeriodicSync = true
	cfg.SyncIntervalMs = 10

	sink := &memorySink{}
	w := startTestWorker(t, cfg, staticFactory(sink), nil)
	sendN(t, w, 1)

	assert.Eventually(t, func() bool { return sink.syncCount() >= 2 }, time.Second, 5*time.Millisecond)
}

// flushingSink counts Flush calls
type flushingSink struct {
	*memorySink
	flushes *atomic.Int64
}

func (s *flushingSink) Flush() error {
	s.flushes.Add(1)
	return nil
}
