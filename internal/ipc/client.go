package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// DefaultDialTimeout bounds how long Connect waits for the daemon.
const DefaultDialTimeout = 2 * time.Second

// Connect opens an outbound connection to the daemon at b.
func Connect(ctx context.Context, b Binding) (Conn, error) {
	if b.IsZero() {
		return nil, errors.New("connect: binding is not set")
	}
	dialer := net.Dialer{Timeout: DefaultDialTimeout}
	c, err := dialer.DialContext(ctx, b.Network(), b.Address())
	if err != nil {
		return nil, wrapDialError(err, b)
	}
	return wrapConn(b.Kind(), c)
}

func wrapDialError(err error, b Binding) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to daemon: socket %s not found; start the daemon with `nix-upload-daemon serve`: %w", b.Address(), err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: %s refused the connection; verify the daemon is running: %w", b, err)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}
