package ipc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"
)

// socketMode lets unprivileged clients on the same host connect.
const socketMode fs.FileMode = 0o666

// Listener accepts connections for exactly one transport.
type Listener struct {
	binding  Binding
	listener deadlineListener
}

type deadlineListener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

var (
	_ deadlineListener = (*net.UnixListener)(nil)
	_ deadlineListener = (*net.TCPListener)(nil)
)

// Listen binds b. A file already present at a socket path is removed first.
func Listen(ctx context.Context, b Binding) (*Listener, error) {
	if b.IsZero() {
		return nil, errors.New("listen: binding is not set")
	}

	switch b.Kind() {
	case KindSocket:
		return listenSocket(ctx, b)
	case KindNetwork:
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, b.Network(), b.Address())
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", b, err)
		}
		return newListener(b, ln)
	default:
		return nil, fmt.Errorf("listen: unsupported transport %s", b.Kind())
	}
}

func listenSocket(ctx context.Context, b Binding) (*Listener, error) {
	path := b.Address()
	if _, err := os.Lstat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove existing socket: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat existing socket: %w", err)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, socketMode); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("set socket permissions: %w", err)
	}
	return newListener(b, ln)
}

func newListener(b Binding, ln net.Listener) (*Listener, error) {
	dl, ok := ln.(deadlineListener)
	if !ok {
		_ = ln.Close()
		return nil, fmt.Errorf("listen on %s: %T does not support deadlines", b, ln)
	}
	return &Listener{binding: b, listener: dl}, nil
}

// Accept waits for the next connection or for ctx to be cancelled. When
// cancellation wins it returns ok=false and a nil error; any other accept
// failure is returned as an error and should end the serve loop.
func (l *Listener) Accept(ctx context.Context) (conn Conn, ok bool, err error) {
	if ctx.Err() != nil {
		return nil, false, nil
	}

	// Expire the pending Accept as soon as ctx is done. The deadline is left
	// in place afterwards; cancellation is permanent so later calls return
	// through the ctx.Err check above.
	stop := context.AfterFunc(ctx, func() {
		_ = l.listener.SetDeadline(time.Now())
	})
	defer stop()

	c, err := l.listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("accept on %s: %w", l.binding, err)
	}

	wrapped, err := wrapConn(l.binding.Kind(), c)
	if err != nil {
		return nil, false, err
	}
	return wrapped, true, nil
}

// Binding returns the binding the listener was created from. For network
// listeners bound to port 0 the returned binding carries the chosen port.
func (l *Listener) Binding() Binding {
	if l.binding.Kind() == KindNetwork {
		return Binding{kind: KindNetwork, scheme: l.binding.scheme, address: l.listener.Addr().String()}
	}
	return l.binding
}

// Close stops accepting. Closing a socket listener unlinks its file.
func (l *Listener) Close() error {
	return l.listener.Close()
}
