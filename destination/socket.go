// FILE: lixenwraith/transport/destination/socket.go
package destination

import (
	"net"
	"sync"
	"time"

	"github.com/panjf2000/gnet/v2"
	"github.com/panjf2000/gnet/v2/pkg/logging"
)

const (
	defaultSocketHighWaterMark = 64 * 1024
	defaultSocketDialTimeout   = 5 * time.Second
)

// SocketOptions configures a Socket sink.
type SocketOptions struct {
	Network       string        `mapstructure:"network"` // tcp, tcp4, tcp6, unix
	Address       string        `mapstructure:"destination"`
	HighWaterMark int           `mapstructure:"high_water_mark"` // Unacknowledged bytes before backpressure
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`

	// Logger receives gnet's own diagnostics
	Logger logging.Logger `mapstructure:"-"`
}

// Socket streams records over a TCP or Unix connection driven by a gnet
// client event loop. Writes are queued with AsyncWrite and acknowledged from
// the loop.
type Socket struct {
	gnet.BuiltinEventEngine

	opts  SocketOptions
	ready *readySignal
	cli   *gnet.Client

	dialed chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	conn    gnet.Conn
	pending int // bytes handed to AsyncWrite and not yet written
	err     error
	closed  bool
	drain   drainSignal
}

// NewSocket starts the gnet client and dials in the background.
func NewSocket(opts SocketOptions) (*Socket, error) {
	if opts.Address == "" {
		return nil, fmtErrorf("socket destination requires an address")
	}
	if opts.Network == "" {
		opts.Network = "tcp"
	}
	if opts.HighWaterMark <= 0 {
		opts.HighWaterMark = defaultSocketHighWaterMark
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultSocketDialTimeout
	}

	s := &Socket{
		opts:   opts,
		ready:  newReadySignal(),
		dialed: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	var clientOpts []gnet.Option
	if opts.Logger != nil {
		clientOpts = append(clientOpts, gnet.WithLogger(opts.Logger))
	}
	cli, err := gnet.NewClient(s, clientOpts...)
	if err != nil {
		return nil, fmtErrorf("failed to create socket client: %w", err)
	}
	if err := cli.Start(); err != nil {
		return nil, fmtErrorf("failed to start socket client: %w", err)
	}
	s.cli = cli

	go s.dial()
	return s, nil
}

// dial connects with a timeout and hands the connection to the event loop.
func (s *Socket) dial() {
	defer close(s.dialed)

	nc, err := net.DialTimeout(s.opts.Network, s.opts.Address, s.opts.DialTimeout)
	if err != nil {
		s.ready.fire(fmtErrorf("failed to dial %s://%s: %w", s.opts.Network, s.opts.Address, err))
		return
	}

	// Enroll returns once OnOpen has run on the event loop
	conn, err := s.cli.Enroll(nc)
	if err != nil {
		_ = nc.Close()
		s.ready.fire(fmtErrorf("failed to enroll connection to %s: %w", s.opts.Address, err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		s.ready.fire(ErrClosed)
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.ready.fire(nil)
}

// OnClose records the disconnect as a sticky error.
func (s *Socket) OnClose(_ gnet.Conn, err error) gnet.Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err == nil {
		if err == nil {
			err = net.ErrClosed
		}
		s.err = fmtErrorf("connection to %s closed: %w", s.opts.Address, err)
	}
	s.drain.release()
	s.cond.Broadcast()
	return gnet.None
}

// OnTraffic discards anything the peer sends back.
func (s *Socket) OnTraffic(c gnet.Conn) gnet.Action {
	_, _ = c.Discard(-1)
	return gnet.None
}

// Ready fires after the connection is established.
func (s *Socket) Ready() <-chan error {
	return s.ready.ch
}

// Write queues p on the connection.
func (s *Socket) Write(p []byte) (Status, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Ack, ErrClosed
	}
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return Ack, err
	}
	if s.conn == nil {
		s.mu.Unlock()
		return Ack, fmtErrorf("socket to %s is not connected", s.opts.Address)
	}
	conn := s.conn
	n := len(p)
	s.pending += n
	saturated := s.pending >= s.opts.HighWaterMark
	s.mu.Unlock()

	err := conn.AsyncWrite(p, func(_ gnet.Conn, err error) error {
		s.written(n, err)
		return nil
	})
	if err != nil {
		s.written(n, err)
		return Ack, fmtErrorf("failed to queue write to %s: %w", s.opts.Address, err)
	}

	if saturated {
		return Backpressure, nil
	}
	return Ack, nil
}

// written is the AsyncWrite completion callback.
func (s *Socket) written(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending -= n
	if err != nil && s.err == nil {
		s.err = fmtErrorf("failed to write to %s: %w", s.opts.Address, err)
	}
	if s.pending < s.opts.HighWaterMark {
		s.drain.release()
	}
	s.cond.Broadcast()
}

// Drain is closed once unacknowledged bytes fall below the high-water mark.
func (s *Socket) Drain() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drain.wait(!s.closed && s.err == nil && s.pending >= s.opts.HighWaterMark)
}

// Flush waits until every queued write reached the kernel.
func (s *Socket) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.pending > 0 && s.err == nil {
		s.cond.Wait()
	}
	return s.err
}

// Close flushes, closes the connection and stops the event loop.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.drain.release()
	s.mu.Unlock()

	flushErr := s.Flush()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	<-s.dialed

	var closeErr error
	if conn != nil {
		if err := conn.Close(); err != nil {
			closeErr = fmtErrorf("failed to close connection to %s: %w", s.opts.Address, err)
		}
	}
	if err := s.cli.Stop(); err != nil && closeErr == nil {
		closeErr = fmtErrorf("failed to stop socket client: %w", err)
	}

	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
