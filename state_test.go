package transport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerStateString(t *testing.T) {
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(9)", WorkerState(9).String())

	assert.False(t, StateDraining.Terminal())
	assert.True(t, StateClosed.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestStateAdvance(t *testing.T) {
	tests := []struct {
		name string
		from WorkerState
		to   WorkerState
		ok   bool
	}{
		{"StartingToReady", StateStarting, StateReady, true},
		{"StartingToDraining", StateStarting, StateDraining, true},
		{"ReadyToDraining", StateReady, StateDraining, true},
		{"DrainingToClosed", StateDraining, StateClosed, true},
		{"StartingToFailed", StateStarting, StateFailed, true},
		{"DrainingToFailed", StateDraining, StateFailed, true},
		{"DrainingToReady", StateDraining, StateReady, false},
		{"ReadyToReady", StateReady, StateReady, false},
		{"ClosedToFailed", StateClosed, StateFailed, false},
		{"FailedToClosed", StateFailed, StateClosed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c stateCell
			c.v.Store(int32(tt.from))
			assert.Equal(t, tt.ok, c.advance(tt.to))
			if tt.ok {
				assert.Equal(t, tt.to, c.load())
			} else {
				assert.Equal(t, tt.from, c.load())
			}
		})
	}
}

func TestStateAdvanceConcurrent(t *testing.T) {
	var c stateCell
	var wins sync.WaitGroup
	var mu sync.Mutex
	won := 0

	for i := 0; i < 16; i++ {
		wins.Add(1)
		go func() {
			defer wins.Done()
			if c.advance(StateDraining) {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wins.Wait()

	assert.Equal(t, 1, won, "exactly one caller performs a transition")
	assert.Equal(t, StateDraining, c.load())
}
