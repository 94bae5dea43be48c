//go:build !windows

package server

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortListenConfig returns a ListenConfig that sets SO_REUSEPORT on the
// socket before bind.
func reusePortListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}
