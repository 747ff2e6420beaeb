// FILE: lixenwraith/transport/destination/http.go
package destination

import (
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
)

const (
	defaultHTTPBatchSize     = 64 * 1024
	defaultHTTPBatchInterval = time.Second
	defaultHTTPHighWaterMark = 1024 * 1024
	defaultHTTPTimeout       = 10 * time.Second
	defaultHTTPContentType   = "application/x-ndjson"
)

// HTTPOptions configures an HTTP sink.
type HTTPOptions struct {
	URL           string            `mapstructure:"destination"`
	Method        string            `mapstructure:"method"`
	ContentType   string            `mapstructure:"content_type"`
	Headers       map[string]string `mapstructure:"headers"`
	BatchSize     int               `mapstructure:"batch_size"`      // Bytes that trigger an immediate send
	BatchInterval time.Duration     `mapstructure:"batch_interval"`  // Max age of a partial batch
	HighWaterMark int               `mapstructure:"high_water_mark"` // Buffered bytes before backpressure
	Timeout       time.Duration     `mapstructure:"timeout"`
	Gzip          bool              `mapstructure:"gzip"`

	// Dial overrides the client dialer, mostly for in-memory listeners
	Dial fasthttp.DialFunc `mapstructure:"-"`
}

// HTTP batches records into newline-delimited bodies and posts them.
type HTTP struct {
	opts   HTTPOptions
	client *fasthttp.Client
	zw     *gzip.Writer // owned by the sender goroutine

	kick chan struct{}
	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	buf     *bytebufferpool.ByteBuffer
	sending bool
	closed  bool
	err     error
	batches uint64
	drain   drainSignal
}

// NewHTTP validates options and starts the batch sender.
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	if opts.URL == "" {
		return nil, fmtErrorf("http destination requires a url")
	}
	if opts.Method == "" {
		opts.Method = fasthttp.MethodPost
	}
	if opts.ContentType == "" {
		opts.ContentType = defaultHTTPContentType
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultHTTPBatchSize
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = defaultHTTPBatchInterval
	}
	if opts.HighWaterMark <= 0 {
		opts.HighWaterMark = defaultHTTPHighWaterMark
	}
	if opts.HighWaterMark < opts.BatchSize {
		opts.HighWaterMark = opts.BatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHTTPTimeout
	}

	h := &HTTP{
		opts: opts,
		client: &fasthttp.Client{
			Dial:                      opts.Dial,
			NoDefaultUserAgentHeader:  true,
			MaxIdemponentCallAttempts: 1,
		},
		kick: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		buf:  bytebufferpool.Get(),
	}
	h.cond = sync.NewCond(&h.mu)
	if opts.Gzip {
		h.zw = gzip.NewWriter(nil)
	}

	go h.sendLoop()
	return h, nil
}

// Write appends p to the current batch.
func (h *HTTP) Write(p []byte) (Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return Ack, ErrClosed
	}
	if h.err != nil {
		return Ack, h.err
	}

	_, _ = h.buf.Write(p)
	if h.buf.Len() >= h.opts.BatchSize {
		h.wake()
	}
	if h.buf.Len() >= h.opts.HighWaterMark {
		return Backpressure, nil
	}
	return Ack, nil
}

func (h *HTTP) wake() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// sendLoop posts batches on size, interval, or explicit flush.
func (h *HTTP) sendLoop() {
	defer close(h.done)

	ticker := time.NewTicker(h.opts.BatchInterval)
	defer ticker.Stop()

	batch := bytebufferpool.Get()
	defer bytebufferpool.Put(batch)

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		case <-h.kick:
		}

		for {
			h.mu.Lock()
			if h.buf.Len() == 0 || h.err != nil {
				h.cond.Broadcast()
				h.mu.Unlock()
				break
			}
			h.buf, batch = batch, h.buf
			h.sending = true
			h.mu.Unlock()

			err := h.post(batch.B)
			batch.Reset()

			h.mu.Lock()
			h.sending = false
			if err != nil && h.err == nil {
				h.err = err
			}
			if err == nil {
				h.batches++
			}
			if h.buf.Len() < h.opts.HighWaterMark || h.err != nil {
				h.drain.release()
			}
			h.cond.Broadcast()
			h.mu.Unlock()
		}
	}
}

// post sends one batch body.
func (h *HTTP) post(body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(h.opts.URL)
	req.Header.SetMethod(h.opts.Method)
	req.Header.SetContentType(h.opts.ContentType)
	for k, v := range h.opts.Headers {
		req.Header.Set(k, v)
	}

	if h.zw != nil {
		zbuf := bytebufferpool.Get()
		defer bytebufferpool.Put(zbuf)
		h.zw.Reset(zbuf)
		if _, err := h.zw.Write(body); err != nil {
			return fmtErrorf("failed to compress batch: %w", err)
		}
		if err := h.zw.Close(); err != nil {
			return fmtErrorf("failed to compress batch: %w", err)
		}
		req.Header.Set(fasthttp.HeaderContentEncoding, "gzip")
		req.SetBody(zbuf.B)
	} else {
		req.SetBody(body)
	}

	if err := h.client.DoTimeout(req, resp, h.opts.Timeout); err != nil {
		return fmtErrorf("failed to post batch to %s: %w", h.opts.URL, err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmtErrorf("batch rejected by %s: status %d", h.opts.URL, code)
	}
	return nil
}

// Drain is closed once the buffered batch falls below the high-water mark.
func (h *HTTP) Drain() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drain.wait(!h.closed && h.err == nil && h.buf.Len() >= h.opts.HighWaterMark)
}

// Flush sends the pending batch and waits for the response.
func (h *HTTP) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for (h.buf.Len() > 0 || h.sending) && h.err == nil {
		h.wake()
		h.cond.Wait()
	}
	return h.err
}

// Batches returns the number of successfully posted batches.
func (h *HTTP) Batches() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.batches
}

// Close sends what is left and stops the sender.
func (h *HTTP) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.drain.release()
	h.mu.Unlock()

	flushErr := h.Flush()

	close(h.stop)
	<-h.done
	h.client.CloseIdleConnections()
	bytebufferpool.Put(h.buf)

	return flushErr
}
