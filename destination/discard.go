// FILE: lixenwraith/transport/destination/discard.go
package destination

import (
	"sync/atomic"
)

// Discard accepts every record and drops it. It never applies backpressure.
type Discard struct {
	records atomic.Uint64
	bytes   atomic.Uint64
	closed  atomic.Bool
	observe func(p []byte)
}

// DiscardOptions configures a Discard sink.
type DiscardOptions struct {
	// Observe, when set, sees every record before it is dropped.
	Observe func(p []byte) `mapstructure:"-"`
}

// NewDiscard creates a no-op sink.
func NewDiscard(opts DiscardOptions) *Discard {
	return &Discard{observe: opts.Observe}
}

// Write acknowledges p immediately.
func (d *Discard) Write(p []byte) (Status, error) {
	if d.closed.Load() {
		return Ack, ErrClosed
	}
	if d.observe != nil {
		d.observe(p)
	}
	d.records.Add(1)
	d.bytes.Add(uint64(len(p)))
	return Ack, nil
}

// Close marks the sink closed.
func (d *Discard) Close() error {
	d.closed.Store(true)
	return nil
}

// Records returns the number of records accepted.
func (d *Discard) Records() uint64 {
	return d.records.Load()
}

// Bytes returns the number of bytes accepted.
func (d *Discard) Bytes() uint64 {
	return d.bytes.Load()
}
