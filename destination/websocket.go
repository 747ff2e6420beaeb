// FILE: lixenwraith/transport/destination/websocket.go
package destination

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWebSocketTimeout = 10 * time.Second

// WebSocketOptions configures a WebSocket sink.
type WebSocketOptions struct {
	URL              string            `mapstructure:"destination"`
	Headers          map[string]string `mapstructure:"headers"`
	HandshakeTimeout time.Duration     `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration     `mapstructure:"write_timeout"`
	// TrimSeparator strips one trailing newline so each message is the bare record
	TrimSeparator bool `mapstructure:"trim_separator"`
}

// WebSocket sends one text message per record over a gorilla connection
// dialed in the background.
type WebSocket struct {
	opts   WebSocketOptions
	ready  *readySignal
	cancel context.CancelFunc
	dialed chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocket starts the handshake and returns immediately.
func NewWebSocket(opts WebSocketOptions) (*WebSocket, error) {
	if opts.URL == "" {
		return nil, fmtErrorf("websocket destination requires a url")
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultWebSocketTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWebSocketTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.HandshakeTimeout)
	ws := &WebSocket{
		opts:   opts,
		ready:  newReadySignal(),
		cancel: cancel,
		dialed: make(chan struct{}),
	}
	go ws.dial(ctx)
	return ws, nil
}

func (ws *WebSocket) dial(ctx context.Context) {
	defer close(ws.dialed)
	defer ws.cancel()

	header := http.Header{}
	for k, v := range ws.opts.Headers {
		header.Set(k, v)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ws.opts.URL, header)
	if err != nil {
		ws.ready.fire(fmtErrorf("failed to dial websocket %s: %w", ws.opts.URL, err))
		return
	}

	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		_ = conn.Close()
		ws.ready.fire(ErrClosed)
		return
	}
	ws.conn = conn
	ws.mu.Unlock()

	ws.ready.fire(nil)
}

// Ready fires after the handshake completed.
func (ws *WebSocket) Ready() <-chan error {
	return ws.ready.ch
}

// Write sends p as a single text message.
func (ws *WebSocket) Write(p []byte) (Status, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return Ack, ErrClosed
	}
	if ws.conn == nil {
		return Ack, fmtErrorf("websocket %s is not connected", ws.opts.URL)
	}

	if ws.opts.TrimSeparator {
		p = bytes.TrimSuffix(p, []byte{'\n'})
	}
	_ = ws.conn.SetWriteDeadline(time.Now().Add(ws.opts.WriteTimeout))
	if err := ws.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return Ack, fmtErrorf("failed to write to websocket %s: %w", ws.opts.URL, err)
	}
	return Ack, nil
}

// Close sends a normal closure frame and closes the connection.
func (ws *WebSocket) Close() error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil
	}
	ws.closed = true
	ws.mu.Unlock()

	// Abort an in-progress handshake
	ws.cancel()
	<-ws.dialed

	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()
	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	if err := conn.Close(); err != nil {
		return fmtErrorf("failed to close websocket %s: %w", ws.opts.URL, err)
	}
	return nil
}
