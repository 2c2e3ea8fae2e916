// Package socket applies TCP tuning to listeners and accepted connections.
// Platform-specific options live in tuning_linux.go; other platforms get
// the portable subset.
package socket

import (
	"net"
	"syscall"
)

// Config selects socket options. Zero values mean "use system defaults".
type Config struct {
	// NoDelay disables Nagle's algorithm on accepted connections.
	NoDelay bool

	// RecvBuffer sets SO_RCVBUF in bytes. 0 keeps the system default.
	RecvBuffer int

	// SendBuffer sets SO_SNDBUF in bytes. 0 keeps the system default.
	SendBuffer int

	// ReusePort sets SO_REUSEPORT on the listener, letting multiple
	// processes bind the same address. Linux only.
	ReusePort bool

	// DeferAccept sets TCP_DEFER_ACCEPT on the listener so accept fires
	// only once request data is waiting. Linux only.
	DeferAccept bool

	// QuickAck sets TCP_QUICKACK on accepted connections. Linux only, and
	// not persistent; set once as best effort.
	QuickAck bool

	// KeepAlive enables TCP keepalive with tightened probe timing on
	// platforms that expose it.
	KeepAlive bool
}

// DefaultConfig returns the recommended tuning for HTTP serving.
func DefaultConfig() Config {
	return Config{
		NoDelay:     true,
		DeferAccept: true,
		QuickAck:    true,
		KeepAlive:   true,
	}
}

// Control returns a net.ListenConfig control function that applies the
// listener-side options.
func Control(cfg Config) func(network, address string, rc syscall.RawConn) error {
	return func(network, address string, rc syscall.RawConn) error {
		var optErr error
		err := rc.Control(func(fd uintptr) {
			optErr = applyListenerOptions(int(fd), cfg)
		})
		if err != nil {
			return err
		}
		return optErr
	}
}

// Apply tunes an accepted connection. Non-TCP connections pass through
// untouched. Platform-specific options are best effort.
func Apply(conn net.Conn, cfg Config) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	if cfg.NoDelay {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return err
		}
	}
	if cfg.KeepAlive {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
	}
	if cfg.RecvBuffer > 0 {
		if err := tcpConn.SetReadBuffer(cfg.RecvBuffer); err != nil {
			return err
		}
	}
	if cfg.SendBuffer > 0 {
		if err := tcpConn.SetWriteBuffer(cfg.SendBuffer); err != nil {
			return err
		}
	}

	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return err
	}
	return rawConn.Control(func(fd uintptr) {
		applyConnOptions(int(fd), cfg)
	})
}
