//go:build unix

package core

import (
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func controlReuseAddr(network, address string, rc syscall.RawConn) error {
	var serr error
	err := rc.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(serr, "setsockopt SO_REUSEADDR")
}

func setNoDelay(rc syscall.RawConn) {
	rc.Control(func(fd uintptr) {
		unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
}
