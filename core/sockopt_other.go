//go:build !unix

package core

import "syscall"

func controlReuseAddr(network, address string, rc syscall.RawConn) error {
	return nil
}

// Go enables TCP_NODELAY on accepted connections by default.
func setNoDelay(rc syscall.RawConn) {}
