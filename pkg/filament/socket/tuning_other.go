//go:build !linux

package socket

// Non-Linux platforms get only the portable options set in Apply.

func applyListenerOptions(fd int, cfg Config) error {
	return nil
}

func applyConnOptions(fd int, cfg Config) {
}
