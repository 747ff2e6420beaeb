// FILE: lixenwraith/transport/destination/fd.go
package destination

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// FDOptions configures an FD sink.
type FDOptions struct {
	Fd int `mapstructure:"fd"`
	// CloseFd closes the descriptor on Close. Off by default so stdout and
	// stderr survive the transport.
	CloseFd bool `mapstructure:"close_fd"`
}

// FD writes records straight to a raw file descriptor.
type FD struct {
	opts   FDOptions
	mu     sync.Mutex
	closed bool
}

// NewFD wraps an already open descriptor.
func NewFD(opts FDOptions) (*FD, error) {
	if opts.Fd < 0 {
		return nil, fmtErrorf("invalid file descriptor %d", opts.Fd)
	}
	return &FD{opts: opts}, nil
}

// Write writes all of p, retrying interrupted and would-block writes.
func (d *FD) Write(p []byte) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Ack, ErrClosed
	}

	for len(p) > 0 {
		n, err := unix.Write(d.opts.Fd, p)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return Ack, fmtErrorf("failed to write to fd %d: %w", d.opts.Fd, err)
		}
		p = p[n:]
	}
	return Ack, nil
}

// Sync fsyncs the descriptor. Descriptors that cannot be synced (pipes,
// terminals, read-only mounts) are ignored.
func (d *FD) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	if err := unix.Fsync(d.opts.Fd); err != nil {
		if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EROFS) {
			return nil
		}
		return fmtErrorf("failed to sync fd %d: %w", d.opts.Fd, err)
	}
	return nil
}

// Close marks the sink closed and optionally closes the descriptor.
func (d *FD) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if d.opts.CloseFd {
		if err := unix.Close(d.opts.Fd); err != nil {
			return fmtErrorf("failed to close fd %d: %w", d.opts.Fd, err)
		}
	}
	return nil
}
