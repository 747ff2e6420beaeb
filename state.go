// FILE: lixenwraith/transport/state.go
package transport

import (
	"fmt"
	"sync/atomic"
)

// WorkerState is the lifecycle state of a transport worker
type WorkerState int32

const (
	StateStarting WorkerState = iota // Factory running or destination not yet ready
	StateReady                       // Destination accepting writes
	StateDraining                    // Shutdown requested, flushing buffered records
	StateClosed                      // Destination closed cleanly
	StateFailed                      // Terminal failure, every submission is rejected
)

// String returns the lowercase state name.
func (s WorkerState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s WorkerState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// stateCell holds a WorkerState and only lets it move forward.
type stateCell struct {
	v atomic.Int32
}

func (c *stateCell) load() WorkerState {
	return WorkerState(c.v.Load())
}

// advance moves to next when the transition is legal and reports whether it
// happened. Forward moves follow starting, ready, draining, closed; failed is
// reachable from any non-terminal state.
func (c *stateCell) advance(next WorkerState) bool {
	for {
		cur := c.load()
		if cur.Terminal() {
			return false
		}
		if next != StateFailed && next <= cur {
			return false
		}
		if c.v.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}
