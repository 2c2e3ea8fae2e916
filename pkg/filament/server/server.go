// Package server runs the accept loop: bounded admission, per-connection
// goroutines, TLS termination, stats, and graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yourusername/filament/pkg/filament/http11"
	"github.com/yourusername/filament/pkg/filament/obs"
	"github.com/yourusername/filament/pkg/filament/socket"
)

// ErrServerClosed is returned by Serve after Shutdown or Close.
var ErrServerClosed = errors.New("server: closed")

// tlsHandshakeTimeout bounds the TLS handshake on a new connection.
const tlsHandshakeTimeout = 10 * time.Second

// Config holds server configuration. Zero values fall back to defaults.
type Config struct {
	// Addr is the TCP address to listen on.
	// Default: ":8080".
	Addr string

	// Handler processes every request. Required.
	Handler http11.Handler

	// MaxConnections caps concurrently served connections. Excess
	// connections get a 503 and close. 0 means unlimited.
	MaxConnections int

	// IdleTimeout bounds the wait between requests on a keep-alive
	// connection. Default: 15 seconds.
	IdleTimeout time.Duration

	// HeaderTimeout bounds reading a single request once its first byte
	// arrives. Default: 30 seconds.
	HeaderTimeout time.Duration

	// WriteTimeout bounds writing a single response. A peer that stops
	// reading gets its connection closed instead of holding a slot.
	// Default: 60 seconds.
	WriteTimeout time.Duration

	// MaxRequestLine, MaxHeaderBytes, and MaxBodyBytes bound request
	// size. Defaults: 8 KiB, 32 KiB, 8 MiB.
	MaxRequestLine int
	MaxHeaderBytes int
	MaxBodyBytes   int64

	// MaxRequestsPerConn caps requests served per connection. 0 means
	// unlimited.
	MaxRequestsPerConn int

	// ReadBufferSize and WriteBufferSize size the per-connection buffers.
	// Default: 4096.
	ReadBufferSize  int
	WriteBufferSize int

	// TLSConfig, when set, terminates TLS on every accepted connection.
	TLSConfig *tls.Config

	// Socket selects TCP tuning for the listener and accepted
	// connections.
	Socket socket.Config

	// Logger receives server lifecycle and connection errors.
	// Default: obs.NopLogger.
	Logger obs.Logger

	// Metrics, when set, receives Prometheus measurements.
	Metrics *obs.Metrics
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		IdleTimeout:     15 * time.Second,
		HeaderTimeout:   30 * time.Second,
		WriteTimeout:    60 * time.Second,
		MaxRequestLine:  http11.DefaultMaxRequestLine,
		MaxHeaderBytes:  http11.DefaultMaxHeaderBytes,
		MaxBodyBytes:    http11.DefaultMaxBodyBytes,
		ReadBufferSize:  http11.DefaultBufferSize,
		WriteBufferSize: http11.DefaultBufferSize,
		Socket:          socket.DefaultConfig(),
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.HeaderTimeout == 0 {
		cfg.HeaderTimeout = def.HeaderTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxRequestLine == 0 {
		cfg.MaxRequestLine = def.MaxRequestLine
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = def.WriteBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = obs.NopLogger{}
	}
	return cfg
}

// Stats holds the server's atomic counters.
type Stats struct {
	TotalConnections  atomic.Uint64
	ActiveConnections atomic.Int64
	RejectedConns     atomic.Uint64
	TotalRequests     atomic.Uint64
	RequestErrors     atomic.Uint64

	StartTime time.Time
}

// Uptime returns the time since the server started.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// RequestsPerSecond returns the average request rate since start.
func (s *Stats) RequestsPerSecond() float64 {
	secs := s.Uptime().Seconds()
	if secs == 0 {
		return 0
	}
	return float64(s.TotalRequests.Load()) / secs
}

// overloadedResponse goes out raw when admission rejects a connection.
var overloadedResponse = []byte("HTTP/1.1 503 Service Unavailable\r\nConnection: close\r\nContent-Length: 0\r\n\r\n")

// Server accepts connections and serves each on its own goroutine.
type Server struct {
	cfg     Config
	connCfg http11.ConnConfig

	listener net.Listener
	stats    Stats

	// sem bounds concurrently served connections; nil means unlimited.
	sem *semaphore.Weighted

	mu    sync.Mutex
	conns map[*http11.Conn]struct{}

	shutdown atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a server. Panics without a handler, since a server that can
// serve nothing is a programming error.
func New(cfg Config) *Server {
	if cfg.Handler == nil {
		panic("server: Handler is required")
	}
	cfg = cfg.withDefaults()

	s := &Server{
		cfg:   cfg,
		conns: make(map[*http11.Conn]struct{}),
		done:  make(chan struct{}),
	}
	s.stats.StartTime = time.Now()

	if cfg.MaxConnections > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConnections))
	}

	s.connCfg = http11.ConnConfig{
		IdleTimeout:     cfg.IdleTimeout,
		HeaderTimeout:   cfg.HeaderTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRequests:     cfg.MaxRequestsPerConn,
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		Limits: http11.Limits{
			MaxRequestLine: cfg.MaxRequestLine,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
			MaxBodyBytes:   cfg.MaxBodyBytes,
		},
		OnRequest: s.observeRequest,
	}
	return s
}

// Stats returns the server's counters.
func (s *Server) Stats() *Stats {
	return &s.stats
}

// Addr returns the listener address, or nil before ListenAndServe.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds the configured address with the socket tuning
// applied and serves until Shutdown or Close.
func (s *Server) ListenAndServe() error {
	lc := net.ListenConfig{
		Control: socket.Control(s.cfg.Socket),
	}
	ln, err := lc.Listen(context.Background(), "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln until Shutdown or Close. The listener
// is closed when Serve returns.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	defer ln.Close()

	s.cfg.Logger.Logf(obs.Info, "listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return err
		}

		s.stats.TotalConnections.Add(1)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ConnectionsAccepted.Inc()
		}

		if s.sem != nil && !s.sem.TryAcquire(1) {
			s.reject(conn)
			continue
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// reject turns away a connection over the concurrency cap with a raw 503.
func (s *Server) reject(conn net.Conn) {
	s.stats.RejectedConns.Add(1)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ConnectionsRejected.Inc()
	}
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	conn.Write(overloadedResponse)
	conn.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	if s.sem != nil {
		defer s.sem.Release(1)
	}

	if err := socket.Apply(conn, s.cfg.Socket); err != nil {
		s.cfg.Logger.Logf(obs.Debug, "socket tuning failed for %s: %v", conn.RemoteAddr(), err)
	}

	if s.cfg.TLSConfig != nil {
		tlsConn := tls.Server(conn, s.cfg.TLSConfig)
		tlsConn.SetDeadline(time.Now().Add(tlsHandshakeTimeout))
		if err := tlsConn.Handshake(); err != nil {
			// Failed handshakes never reach the HTTP layer.
			s.cfg.Logger.Logf(obs.Debug, "tls handshake failed for %s: %v", conn.RemoteAddr(), err)
			tlsConn.Close()
			return
		}
		tlsConn.SetDeadline(time.Time{})
		conn = tlsConn
	}

	c := http11.NewConn(conn, s.connCfg, s.cfg.Handler)
	s.track(c)
	s.stats.ActiveConnections.Add(1)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ConnectionsActive.Inc()
	}

	defer func() {
		s.untrack(c)
		s.stats.ActiveConnections.Add(-1)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ConnectionsActive.Dec()
		}
		c.Close()
	}()

	if err := c.Serve(); err != nil {
		s.cfg.Logger.Logf(obs.Debug, "connection %s closed: %v", conn.RemoteAddr(), err)
	}
}

// observeRequest feeds the per-request hook into stats and metrics.
func (s *Server) observeRequest(status int, elapsed time.Duration) {
	s.stats.TotalRequests.Add(1)
	if status >= 500 {
		s.stats.RequestErrors.Add(1)
	}

	m := s.cfg.Metrics
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(statusClass(status)).Inc()
	if elapsed > 0 {
		m.RequestDuration.Observe(elapsed.Seconds())
	} else if status >= 400 {
		m.ParseErrors.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

func statusClass(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func (s *Server) track(c *http11.Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *http11.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*http11.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Shutdown stops accepting and waits for in-flight connections to finish.
// When ctx expires first, remaining connections are closed forcefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		s.closeAll()
		return ctx.Err()
	}
}

// Close stops the server immediately, closing every active connection.
func (s *Server) Close() error {
	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	s.closeAll()
	s.wg.Wait()
	return nil
}
