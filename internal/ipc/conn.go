package ipc

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrConnection tags read and write failures from either transport.
var ErrConnection = errors.New("connection i/o failed")

// Conn is one accepted or dialed transport session. Both transports behave
// identically: Read returns io.EOF when the peer half-closes, CloseWrite
// shuts down the write side, and Close releases the session.
type Conn interface {
	io.Reader
	io.Writer
	// CloseWrite signals end of stream to the peer while keeping the read
	// side open.
	CloseWrite() error
	Close() error
	// Kind reports the transport the connection was made over.
	Kind() Kind
	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}

// halfCloser is satisfied by *net.UnixConn and *net.TCPConn.
type halfCloser interface {
	net.Conn
	CloseWrite() error
}

type streamConn struct {
	kind Kind
	conn halfCloser
}

// Compile-time interface checks.
var (
	_ halfCloser = (*net.UnixConn)(nil)
	_ halfCloser = (*net.TCPConn)(nil)
	_ Conn       = (*streamConn)(nil)
)

func wrapConn(kind Kind, c net.Conn) (Conn, error) {
	hc, ok := c.(halfCloser)
	if !ok {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %T does not support half-close", ErrConnection, c)
	}
	return &streamConn{kind: kind, conn: hc}, nil
}

func (c *streamConn) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	return n, c.wrap("read", err)
}

func (c *streamConn) Write(p []byte) (int, error) {
	n, err := c.conn.Write(p)
	return n, c.wrap("write", err)
}

func (c *streamConn) CloseWrite() error {
	return c.wrap("shutdown", c.conn.CloseWrite())
}

func (c *streamConn) Close() error {
	return c.wrap("close", c.conn.Close())
}

func (c *streamConn) Kind() Kind { return c.kind }

func (c *streamConn) RemoteAddr() string {
	addr := c.conn.RemoteAddr()
	if addr == nil || addr.String() == "" {
		if c.kind == KindSocket {
			return "unix"
		}
		return ""
	}
	return addr.String()
}

func (c *streamConn) wrap(op string, err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %w", ErrConnection, c.kind, op, err)
}
