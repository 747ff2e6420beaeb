// FILE: lixenwraith/transport/destination/file.go
package destination

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/valyala/bytebufferpool"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Default buffering threshold for asynchronous file writes
const defaultFileHighWaterMark = 16 * 1024

// FileOptions configures a File sink.
type FileOptions struct {
	Path          string      `mapstructure:"destination"`
	Sync          bool        `mapstructure:"sync"`            // Write through on every record
	Fsync         bool        `mapstructure:"fsync"`           // fsync after every write-through
	HighWaterMark int         `mapstructure:"high_water_mark"` // Buffered bytes before backpressure (async mode)
	Mode          os.FileMode `mapstructure:"mode"`

	// Rotation, active when MaxSizeMB > 0
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// File appends records to a file. The open happens in the background and is
// announced through Ready. In async mode records are buffered and written by
// a background goroutine.
type File struct {
	opts  FileOptions
	ready *readySignal

	opened chan struct{} // closed when the open attempt finished
	kick   chan struct{}
	done   chan struct{} // closed when the flusher exits

	mu      sync.Mutex
	cond    *sync.Cond
	w       io.WriteCloser
	file    *os.File // nil when rotating through lumberjack
	buf     *bytebufferpool.ByteBuffer
	writing bool
	closed  bool
	err     error // sticky background write error
	drain   drainSignal
}

// NewFile starts opening opts.Path and returns immediately.
func NewFile(opts FileOptions) (*File, error) {
	if opts.Path == "" {
		return nil, fmtErrorf("file destination requires a path")
	}
	if opts.HighWaterMark <= 0 {
		opts.HighWaterMark = defaultFileHighWaterMark
	}
	if opts.Mode == 0 {
		opts.Mode = 0644
	}

	f := &File{
		opts:   opts,
		ready:  newReadySignal(),
		opened: make(chan struct{}),
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		buf:    bytebufferpool.Get(),
	}
	f.cond = sync.NewCond(&f.mu)

	go f.open()
	return f, nil
}

// open acquires the file handle and starts the async flusher.
func (f *File) open() {
	defer close(f.opened)

	if err := os.MkdirAll(filepath.Dir(f.opts.Path), 0755); err != nil {
		close(f.done)
		f.ready.fire(fmtErrorf("failed to create directory for '%s': %w", f.opts.Path, err))
		return
	}

	var (
		w    io.WriteCloser
		file *os.File
	)
	if f.opts.MaxSizeMB > 0 {
		lj := &lumberjack.Logger{
			Filename:   f.opts.Path,
			MaxSize:    f.opts.MaxSizeMB,
			MaxBackups: f.opts.MaxBackups,
			MaxAge:     f.opts.MaxAgeDays,
			Compress:   f.opts.Compress,
		}
		// Zero-length write forces lumberjack to open the file now
		if _, err := lj.Write(nil); err != nil {
			close(f.done)
			f.ready.fire(fmtErrorf("failed to open rotating file '%s': %w", f.opts.Path, err))
			return
		}
		w = lj
	} else {
		var err error
		file, err = os.OpenFile(f.opts.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, f.opts.Mode)
		if err != nil {
			close(f.done)
			f.ready.fire(fmtErrorf("failed to open/create file '%s': %w", f.opts.Path, err))
			return
		}
		w = file
	}

	f.mu.Lock()
	f.w = w
	f.file = file
	f.mu.Unlock()

	go f.flushLoop()
	f.ready.fire(nil)
}

// Ready fires once the file is open.
func (f *File) Ready() <-chan error {
	return f.ready.ch
}

// Write appends p, directly in sync mode or through the buffer otherwise.
func (f *File) Write(p []byte) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return Ack, ErrClosed
	}
	if f.err != nil {
		return Ack, f.err
	}

	if f.opts.Sync {
		if f.w == nil {
			return Ack, fmtErrorf("file '%s' is not open", f.opts.Path)
		}
		if _, err := f.w.Write(p); err != nil {
			f.err = fmtErrorf("failed to write to '%s': %w", f.opts.Path, err)
			return Ack, f.err
		}
		if f.opts.Fsync && f.file != nil {
			if err := f.file.Sync(); err != nil {
				f.err = fmtErrorf("failed to sync '%s': %w", f.opts.Path, err)
				return Ack, f.err
			}
		}
		return Ack, nil
	}

	_, _ = f.buf.Write(p)
	f.wake()
	if f.buf.Len() >= f.opts.HighWaterMark {
		return Backpressure, nil
	}
	return Ack, nil
}

// wake nudges the flusher without blocking. Caller holds mu.
func (f *File) wake() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// flushLoop writes buffered bytes out until kick is closed.
func (f *File) flushLoop() {
	defer close(f.done)

	out := bytebufferpool.Get()
	defer bytebufferpool.Put(out)

	for range f.kick {
		for {
			f.mu.Lock()
			if f.buf.Len() == 0 {
				f.cond.Broadcast()
				f.mu.Unlock()
				break
			}
			// Swap buffers so producers keep appending while we write
			f.buf, out = out, f.buf
			f.writing = true
			w := f.w
			f.mu.Unlock()

			_, err := w.Write(out.B)
			out.Reset()

			f.mu.Lock()
			f.writing = false
			if err != nil && f.err == nil {
				f.err = fmtErrorf("failed to write to '%s': %w", f.opts.Path, err)
			}
			if f.buf.Len() < f.opts.HighWaterMark {
				f.drain.release()
			}
			f.cond.Broadcast()
			f.mu.Unlock()
		}
	}
}

// Drain is closed once buffered bytes fall below the high-water mark.
func (f *File) Drain() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drain.wait(!f.closed && f.err == nil && f.buf.Len() >= f.opts.HighWaterMark)
}

// Flush blocks until the buffer has been handed to the OS.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.w == nil {
		return f.err
	}
	for (f.buf.Len() > 0 || f.writing) && f.err == nil {
		f.wake()
		f.cond.Wait()
	}
	return f.err
}

// Sync flushes and commits the file to disk. Rotating files rely on
// lumberjack's own handling and only flush.
func (f *File) Sync() error {
	if err := f.Flush(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	if err := f.file.Sync(); err != nil {
		return fmtErrorf("failed to sync '%s': %w", f.opts.Path, err)
	}
	return nil
}

// Close flushes pending bytes and closes the file. Safe to call more than once.
func (f *File) Close() error {
	<-f.opened

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	w := f.w
	f.drain.release()
	f.mu.Unlock()

	flushErr := f.Flush()

	if w == nil {
		return f.err
	}

	close(f.kick)
	<-f.done

	var closeErr error
	if f.file != nil {
		if err := f.file.Sync(); err != nil {
			closeErr = fmtErrorf("failed to sync '%s' on close: %w", f.opts.Path, err)
		}
	}
	if err := w.Close(); err != nil && closeErr == nil {
		closeErr = fmtErrorf("failed to close '%s': %w", f.opts.Path, err)
	}
	bytebufferpool.Put(f.buf)

	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
