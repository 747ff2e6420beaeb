package transport

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lixenwraith/transport/destination"
)

func createBenchDispatcher(b *testing.B, specs ...Spec) *Dispatcher {
	b.Helper()
	cfg := DefaultConfig()
	cfg.QueueSize = 1 << 16
	cfg.BackpressureMark = 1 << 15
	cfg.FailOnOverflow = false

	d, err := NewDispatcher(cfg, specs)
	if err != nil {
		b.Fatalf("failed to create dispatcher: %v", err)
	}
	b.Cleanup(func() { _ = d.Close(10 * time.Second) })
	return d
}

func benchmarkSend(b *testing.B, d *Dispatcher) {
	rec := []byte(`{"time":"2024-05-01T12:00:00Z","level":"INFO","msg":"benchmark record","n":42}`)
	b.ReportAllocs()
	b.SetBytes(int64(len(rec)))
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			status, err := d.Send(rec)
			if err != nil {
				continue // Overflow under a saturated queue is expected
			}
			if status == destination.Backpressure {
				_ = d.WaitDrain(b.Context())
			}
		}
	})
	b.StopTimer()
	_ = d.Flush(10 * time.Second)
}

func BenchmarkSendDiscard(b *testing.B) {
	benchmarkSend(b, createBenchDispatcher(b, Spec{Target: TargetDiscard}))
}

func BenchmarkSendFanOut(b *testing.B) {
	benchmarkSend(b, createBenchDispatcher(b,
		Spec{Name: "a", Target: TargetDiscard},
		Spec{Name: "b", Target: TargetDiscard},
		Spec{Name: "c", Target: TargetDiscard},
	))
}

func BenchmarkSendFile(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.log")
	benchmarkSend(b, createBenchDispatcher(b, Spec{Target: TargetFile, Destination: path}))
}

func BenchmarkPrint(b *testing.B) {
	d := createBenchDispatcher(b, Spec{Target: TargetDiscard})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := d.Print("request", i, "took", 1.25, "ms"); err != nil {
			continue
		}
		if i%1024 == 0 {
			_ = d.WaitDrain(b.Context())
		}
	}
}
