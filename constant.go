// FILE: lixenwraith/transport/constant.go
package transport

import (
	"time"
)

// Multi-target delivery policies
const (
	// PolicyFailFast rejects a record for every target when any target is unavailable
	PolicyFailFast = "fail_fast"
	// PolicyBestEffort delivers to healthy targets and errors only when none accepted
	PolicyBestEffort = "best_effort"
)

// Built-in target names
const (
	TargetDiscard   = "discard"
	TargetFile      = "file"
	TargetFD        = "fd"
	TargetSocket    = "socket"
	TargetHTTP      = "http"
	TargetWebSocket = "websocket"
)

// Timers
const (
	// Minimum wait time used throughout the package
	minWaitTime = 10 * time.Millisecond
)

// Fallback fd for the fd target when neither options nor the Spec name one
const defaultFd = 1
