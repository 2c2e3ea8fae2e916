package http11

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// ConnState represents where a connection is in its request cycle.
type ConnState int32

const (
	// StateReading means the connection is waiting for request bytes.
	StateReading ConnState = iota

	// StateParsing means buffered bytes are being fed to the parser.
	StateParsing

	// StateDispatching means the handler is running.
	StateDispatching

	// StateWriting means the response is being flushed.
	StateWriting

	// StateIdle means the connection is between requests.
	StateIdle

	// StateClosing means the connection is shutting down.
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateParsing:
		return "parsing"
	case StateDispatching:
		return "dispatching"
	case StateWriting:
		return "writing"
	case StateIdle:
		return "idle"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Handler processes one request. The connection has fully read the request,
// including its body, before the handler runs. A returned error becomes a
// 500 response if the head is not out yet and the connection stays open; an
// error after response bytes have started streaming leaves the body
// unterminated and forces the connection closed.
type Handler func(*Request, *ResponseWriter) error

// ConnConfig configures a single connection. Zero values fall back to
// defaults.
type ConnConfig struct {
	// IdleTimeout bounds the wait for the first byte of a request. Expiry
	// closes the connection silently.
	// Default: 15 seconds.
	IdleTimeout time.Duration

	// HeaderTimeout bounds the time from the first byte of a request until
	// the request is fully read. Expiry sends 408 and closes.
	// Default: 30 seconds.
	HeaderTimeout time.Duration

	// WriteTimeout bounds writing one response, from dispatch through the
	// final flush. A peer that stops reading trips it and the connection
	// dies with the write error.
	// Default: 60 seconds.
	WriteTimeout time.Duration

	// MaxRequests caps requests served on one connection. 0 means
	// unlimited.
	MaxRequests int

	// ReadBufferSize is the initial read buffer size. The buffer grows as
	// needed up to the parser limits.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize sizes the buffered writer.
	// Default: 4096.
	WriteBufferSize int

	// Limits are passed through to the parser.
	Limits Limits

	// OnRequest, when set, observes every completed response: the status
	// code written and the time from dispatch to flush. Rejections that
	// never reach a handler report a zero duration.
	OnRequest func(status int, elapsed time.Duration)
}

// DefaultConnConfig returns the default connection configuration.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		IdleTimeout:     15 * time.Second,
		HeaderTimeout:   30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ReadBufferSize:  DefaultBufferSize,
		WriteBufferSize: DefaultBufferSize,
	}
}

func (cfg ConnConfig) withDefaults() ConnConfig {
	def := DefaultConnConfig()
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.HeaderTimeout == 0 {
		cfg.HeaderTimeout = def.HeaderTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = def.WriteBufferSize
	}
	return cfg
}

// Conn drives the per-connection state machine: read, parse, dispatch,
// write, then back to idle for keep-alive. State transitions are atomic so
// the server can observe them without locking.
type Conn struct {
	state    atomic.Int32
	lastUse  atomic.Int64
	requests atomic.Int32

	conn    net.Conn
	writer  *bufio.Writer
	parser  *Parser
	handler Handler
	cfg     ConnConfig

	// rbuf[:rlen] holds bytes read but not yet consumed by the parser.
	// Pipelined bytes past the current request stay here between requests.
	rbuf []byte
	rlen int

	closeCh chan struct{}
	closed  atomic.Bool
}

// NewConn wraps an accepted net.Conn. The handler is stored once so the
// serve loop makes no per-request closures.
func NewConn(conn net.Conn, cfg ConnConfig, handler Handler) *Conn {
	cfg = cfg.withDefaults()
	c := &Conn{
		conn:    conn,
		handler: handler,
		cfg:     cfg,
		closeCh: make(chan struct{}),
	}
	c.state.Store(int32(StateIdle))
	c.lastUse.Store(time.Now().UnixNano())

	if cfg.WriteBufferSize == DefaultBufferSize {
		c.writer = GetBufioWriter(conn)
	} else {
		c.writer = bufio.NewWriterSize(conn, cfg.WriteBufferSize)
	}
	if cfg.ReadBufferSize == DefaultBufferSize {
		c.rbuf = GetReadBuffer()
	} else {
		c.rbuf = make([]byte, cfg.ReadBufferSize)
	}

	c.parser = GetParser(cfg.Limits)
	return c
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Conn) setState(state ConnState) {
	c.state.Store(int32(state))
	c.lastUse.Store(time.Now().UnixNano())
}

// Serve processes requests until the connection closes. Responses go out in
// request order even when pipelined requests are already buffered.
func (c *Conn) Serve() error {
	defer c.cleanup()

	for {
		if c.shouldClose() {
			return nil
		}

		req, err := c.readRequest()
		if err != nil {
			return c.handleReadError(err)
		}

		requestNum := c.requests.Add(1)
		willClose := c.cfg.MaxRequests > 0 && int(requestNum) >= c.cfg.MaxRequests

		c.setState(StateDispatching)
		c.armWriteDeadline()
		started := time.Now()
		rw := GetResponseWriter(c.writer)

		// The persistence decision goes on the wire explicitly.
		if willClose || !req.wantsKeepAlive() {
			rw.Header().Set(headerConnection, headerClose)
		} else {
			rw.Header().Set(headerConnection, headerKeepAlive)
		}

		handlerErr := c.handler(req, rw)
		if handlerErr != nil && !rw.HeaderWritten() {
			rw.Reset(c.writer)
			rw.Header().Set(headerConnection, headerClose)
			writeErrorPage(rw, 500)
		}

		c.setState(StateWriting)
		if err := rw.Flush(); err != nil {
			PutResponseWriter(rw)
			PutRequest(req)
			return err
		}

		if c.cfg.OnRequest != nil {
			c.cfg.OnRequest(rw.Status(), time.Since(started))
		}

		closeConn := c.shouldCloseAfterRequest(req, rw, willClose)
		PutResponseWriter(rw)
		PutRequest(req)

		if closeConn {
			return nil
		}
		c.setState(StateIdle)
	}
}

// readRequest feeds the connection's buffer through the parser until one
// request is complete. The idle deadline applies until the first byte of
// the request arrives, the header deadline from then on.
func (c *Conn) readRequest() (*Request, error) {
	reqStarted := c.rlen > 0
	if reqStarted {
		c.armDeadline(c.cfg.HeaderTimeout)
	} else {
		c.armDeadline(c.cfg.IdleTimeout)
	}

	for {
		if c.rlen > 0 {
			c.setState(StateParsing)
			consumed, err := c.parser.Advance(c.rbuf[:c.rlen])
			if consumed > 0 {
				c.rlen = copy(c.rbuf, c.rbuf[consumed:c.rlen])
			}
			if err != nil {
				return nil, err
			}
			if c.parser.Done() {
				req := c.parser.Take()
				req.RemoteAddr = c.conn.RemoteAddr().String()
				return req, nil
			}
		}

		c.setState(StateReading)
		if c.rlen == len(c.rbuf) {
			c.grow()
		}
		n, err := c.conn.Read(c.rbuf[c.rlen:])
		c.rlen += n
		if err != nil {
			if reqStarted || n > 0 {
				return nil, wrapMidRequest(err)
			}
			return nil, err
		}
		if !reqStarted && n > 0 {
			reqStarted = true
			c.armDeadline(c.cfg.HeaderTimeout)
		}
	}
}

// wrapMidRequest maps transport errors occurring inside a request to the
// engine's error taxonomy.
func wrapMidRequest(err error) error {
	if err == io.EOF {
		return ErrUnexpectedEOF
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrHeaderTimeout
	}
	return err
}

// handleReadError sends the best-effort error response for a failed read or
// parse and reports what Serve should return. Idle timeouts and clean EOF
// between requests close silently.
func (c *Conn) handleReadError(err error) error {
	if err == io.EOF {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// Idle timeout, no request in flight.
		return nil
	}
	if err == ErrUnexpectedEOF {
		return err
	}

	status := statusForParseError(err)
	c.armWriteDeadline()
	rw := GetResponseWriter(c.writer)
	rw.Header().Set(headerConnection, headerClose)
	writeErrorPage(rw, status)
	flushErr := rw.Flush()
	PutResponseWriter(rw)
	if c.cfg.OnRequest != nil {
		c.cfg.OnRequest(status, 0)
	}
	if flushErr != nil {
		return flushErr
	}
	return err
}

// writeErrorPage writes a minimal HTML error body. Best effort: the peer
// may already be gone.
func writeErrorPage(rw *ResponseWriter, status int) {
	text := strconv.Itoa(status) + " " + StatusText(status)
	body := "<html><body><h1>" + text + "</h1></body></html>"
	rw.WriteHTML(status, []byte(body))
}

func (c *Conn) shouldCloseAfterRequest(req *Request, rw *ResponseWriter, willClose bool) bool {
	if !rw.bodyComplete() {
		// Aborted or unframed body: the peer cannot find its end, only a
		// close delimits it. Covers a chunked stream that never saw its
		// zero chunk and a fixed-length body cut short.
		return true
	}
	if willClose {
		return true
	}
	if req.Close {
		return true
	}
	if bytesEqualCaseInsensitive(rw.Header().Get(headerConnection), headerClose) {
		return true
	}
	return !req.wantsKeepAlive()
}

func (c *Conn) armDeadline(d time.Duration) {
	if d > 0 {
		c.conn.SetReadDeadline(time.Now().Add(d))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}
}

// armWriteDeadline bounds one response, dispatch through flush. A peer that
// stops reading fails the write instead of pinning the goroutine.
func (c *Conn) armWriteDeadline() {
	if c.cfg.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	} else {
		c.conn.SetWriteDeadline(time.Time{})
	}
}

// grow doubles the read buffer, preserving unconsumed bytes. A buffer that
// came from the pool is replaced and not returned, since it no longer has
// the pooled size.
func (c *Conn) grow() {
	bigger := make([]byte, len(c.rbuf)*2)
	copy(bigger, c.rbuf[:c.rlen])
	c.rbuf = bigger
}

func (c *Conn) shouldClose() bool {
	if c.closed.Load() {
		return true
	}
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// Close shuts the connection down. Safe to call concurrently with Serve and
// more than once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.closeCh)
	c.setState(StateClosing)
	return c.conn.Close()
}

func (c *Conn) cleanup() {
	c.setState(StateClosing)
	if c.parser != nil {
		PutParser(c.parser)
		c.parser = nil
	}
	if c.writer != nil {
		PutBufioWriter(c.writer)
		c.writer = nil
	}
	if len(c.rbuf) == DefaultBufferSize {
		PutReadBuffer(c.rbuf)
	}
	c.rbuf = nil
	if !c.closed.Load() {
		c.closed.Store(true)
		c.conn.Close()
	}
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RequestCount returns how many requests this connection has served.
func (c *Conn) RequestCount() int {
	return int(c.requests.Load())
}

// IdleTime returns how long the connection has sat in StateIdle.
func (c *Conn) IdleTime() time.Duration {
	if c.State() != StateIdle {
		return 0
	}
	return time.Since(time.Unix(0, c.lastUse.Load()))
}
