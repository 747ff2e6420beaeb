// FILE: lixenwraith/transport/errors.go
package transport

import (
	"errors"
	"fmt"

	"github.com/lixenwraith/transport/destination"
)

// Sentinel errors. Typed errors below unwrap to one of these and to their cause.
var (
	ErrOpen                 = errors.New("transport: open failed")
	ErrWrite                = errors.New("transport: write failed")
	ErrOverflow             = errors.New("transport: pending queue overflow")
	ErrTransportUnavailable = errors.New("transport: transport unavailable")
	ErrFlushTimeout         = errors.New("transport: flush timed out")
	ErrBootstrapTimeout     = errors.New("transport: bootstrap timed out")
	ErrShapeMismatch        = errors.New("transport: factory result has unsupported shape")
	ErrClosed               = errors.New("transport: dispatcher closed")
	ErrUnknownTarget        = errors.New("transport: unknown target")
)

// ErrDestinationClosed is returned by built-in destinations written after Close.
var ErrDestinationClosed = destination.ErrClosed

// OpenError reports a factory or destination open failure.
type OpenError struct {
	Target string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("transport: failed to open target '%s': %v", e.Target, e.Err)
}

func (e *OpenError) Unwrap() []error {
	return []error{ErrOpen, e.Err}
}

// WriteError reports a destination write failure, including a recovered panic.
type WriteError struct {
	Target string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("transport: failed to write to target '%s': %v", e.Target, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrWrite, e.Err}
}

// UnavailableError is returned for every submission to a failed, closed or
// draining target. Cause is the failure that made it unavailable, if any.
type UnavailableError struct {
	Target string
	Cause  error
}

func (e *UnavailableError) Error() string {
	if e.Target == "" {
		if e.Cause == nil {
			return "transport: dispatcher is unavailable"
		}
		return fmt.Sprintf("transport: dispatcher is unavailable: %v", e.Cause)
	}
	if e.Cause == nil {
		return fmt.Sprintf("transport: target '%s' is unavailable", e.Target)
	}
	return fmt.Sprintf("transport: target '%s' is unavailable: %v", e.Target, e.Cause)
}

func (e *UnavailableError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrTransportUnavailable}
	}
	return []error{ErrTransportUnavailable, e.Cause}
}

// FailureError is delivered once to the error handler when a worker fails.
// Discarded counts the buffered records that were never delivered.
type FailureError struct {
	Target    string
	Discarded int
	Err       error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("transport: target '%s' failed, %d buffered records discarded: %v", e.Target, e.Discarded, e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}
