//go:build linux

package socket

import (
	"golang.org/x/sys/unix"
)

// applyListenerOptions sets the Linux listener-side options before bind.
func applyListenerOptions(fd int, cfg Config) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	if cfg.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return err
		}
	}
	if cfg.DeferAccept {
		// Wake accept only once data arrives, with a 5 second cap.
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 5); err != nil {
			return err
		}
	}
	return nil
}

// applyConnOptions sets Linux per-connection options. Best effort: a
// connection that cannot be tuned is still served.
func applyConnOptions(fd int, cfg Config) {
	if cfg.QuickAck {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
	}

	// Retransmit unacknowledged data for at most 10 seconds so dead peers
	// release their connection slot quickly.
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, 10000)

	if cfg.KeepAlive {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 60)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3)
	}
}
