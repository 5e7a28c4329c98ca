//go:build unix

package server

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// control sets SO_REUSEADDR so a restarted server can bind while old sockets sit in TIME_WAIT.
func control(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
