//go:build linux

package udp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddr lets the listener rebind its fixed port immediately after a
// restart.
func reuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
