package core

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Listen opens a TCP listener on addr with SO_REUSEADDR set, so a restarted
// server can bind while old connections linger in TIME_WAIT.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlReuseAddr}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	return ln, nil
}

// tuneConn applies per-connection socket options to an accepted conn.
func tuneConn(nc net.Conn) {
	tc, ok := nc.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	setNoDelay(raw)
}
