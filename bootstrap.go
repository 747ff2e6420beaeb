// FILE: lixenwraith/transport/bootstrap.go
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/lixenwraith/transport/destination"
)

// bootResult is what the bootstrap goroutine hands back to its worker
type bootResult struct {
	dest destination.Destination
	err  error
}

// bootstrap runs the handshake for one target: invoke the factory once,
// normalize its result into a Destination and wait for explicit readiness.
// Any failure is an *OpenError. If ctx ends first, a destination that shows up
// late is closed here so nothing leaks past the worker.
func bootstrap(ctx context.Context, spec Spec, factory Factory) (destination.Destination, error) {
	result, err := callFactory(ctx, spec, factory)
	if err != nil {
		return nil, &OpenError{Target: spec.Name, Err: err}
	}

	if p, ok := result.(*destination.Pending); ok {
		select {
		case <-p.Done():
		case <-ctx.Done():
			go closeLate(p)
			return nil, &OpenError{Target: spec.Name, Err: bootstrapCause(ctx)}
		}

		v, err := p.Result()
		if err != nil {
			return nil, &OpenError{Target: spec.Name, Err: err}
		}
		if _, ok := v.(destination.Awaiter); ok {
			closeValue(v)
			return nil, &OpenError{Target: spec.Name,
				Err: fmt.Errorf("%w: pending factory resolved to a destination with its own readiness signal", ErrShapeMismatch)}
		}
		dest, err := normalize(v)
		if err != nil {
			return nil, &OpenError{Target: spec.Name, Err: err}
		}
		return dest, nil
	}

	dest, err := normalize(result)
	if err != nil {
		return nil, &OpenError{Target: spec.Name, Err: err}
	}

	if a, ok := dest.(destination.Awaiter); ok {
		select {
		case err := <-a.Ready():
			if err != nil {
				_ = dest.Close()
				return nil, &OpenError{Target: spec.Name, Err: err}
			}
		case <-ctx.Done():
			_ = dest.Close()
			return nil, &OpenError{Target: spec.Name, Err: bootstrapCause(ctx)}
		}
	}

	// A factory that outlived the deadline still hands over a live destination
	if ctx.Err() != nil {
		_ = dest.Close()
		return nil, &OpenError{Target: spec.Name, Err: bootstrapCause(ctx)}
	}

	return dest, nil
}

// callFactory invokes the factory, converting a panic into an error.
func callFactory(ctx context.Context, spec Spec, factory Factory) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("factory panic: %v", r)
		}
	}()

	result, err = factory(ctx, spec)
	if err != nil {
		closeValue(result)
		return nil, err
	}
	return result, nil
}

// normalize maps the accepted synchronous shapes onto a Destination.
func normalize(v any) (destination.Destination, error) {
	switch d := v.(type) {
	case destination.Destination:
		return d, nil
	case func([]byte) error:
		if d == nil {
			break
		}
		return destination.SinkFunc(d), nil
	case func([]byte):
		if d == nil {
			break
		}
		return destination.SinkFunc(func(p []byte) error {
			d(p)
			return nil
		}), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrShapeMismatch, v)
}

// bootstrapCause maps a finished bootstrap context to the reported cause.
func bootstrapCause(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrBootstrapTimeout
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}

// closeLate waits out an abandoned Pending and closes whatever it produces.
func closeLate(p *destination.Pending) {
	v, err := p.Result()
	if err == nil {
		closeValue(v)
	}
}

func closeValue(v any) {
	if c, ok := v.(interface{ Close() error }); ok && c != nil {
		_ = c.Close()
	}
}
