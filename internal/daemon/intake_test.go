package daemon

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"nixupload/internal/ipc"
	"nixupload/internal/logging"
	"nixupload/internal/queue"
	"nixupload/internal/testsupport"
)

type fakeConn struct {
	io.Reader
	closed bool
}

func (c *fakeConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *fakeConn) CloseWrite() error           { return nil }
func (c *fakeConn) Close() error                { c.closed = true; return nil }
func (c *fakeConn) Kind() ipc.Kind              { return ipc.KindSocket }
func (c *fakeConn) RemoteAddr() string          { return "@test" }

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) > 0 {
		n := copy(p, r.data)
		r.data = r.data[n:]
		return n, nil
	}
	return 0, r.err
}

func drain(t *testing.T, rx *queue.Receiver[string]) []string {
	t.Helper()
	var got []string
	for rx.Len() > 0 {
		v, err := rx.Receive(context.Background())
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		got = append(got, v)
	}
	return got
}

func TestHandleConnQueuesExistingPathsInOrder(t *testing.T) {
	paths := testsupport.StorePaths(t, t.TempDir(), 25)
	tx, rx := queue.New[string]()
	defer tx.Close()
	defer rx.Close()

	conn := &fakeConn{Reader: strings.NewReader(strings.Join(paths, "\n") + "\n")}
	stats, err := handleConn(context.Background(), conn, tx, logging.NewNop())
	if err != nil {
		t.Fatalf("handleConn: %v", err)
	}
	if stats.Accepted != len(paths) || stats.Dropped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	got := drain(t, rx)
	if strings.Join(got, ",") != strings.Join(paths, ",") {
		t.Fatalf("queued %v, want %v", got, paths)
	}
}

func TestHandleConnDropsMissingPaths(t *testing.T) {
	dir := t.TempDir()
	paths := testsupport.StorePaths(t, dir, 2)
	missing := filepath.Join(dir, "not-there")
	input := paths[0] + "\r\n" + "\n" + missing + "\n" + paths[1]

	tx, rx := queue.New[string]()
	defer tx.Close()
	defer rx.Close()

	stats, err := handleConn(context.Background(), &fakeConn{Reader: strings.NewReader(input)}, tx, logging.NewNop())
	if err != nil {
		t.Fatalf("handleConn: %v", err)
	}
	if stats.Accepted != 2 || stats.Dropped != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	got := drain(t, rx)
	if len(got) != 2 || got[0] != paths[0] || got[1] != paths[1] {
		t.Fatalf("queued %v, want %v", got, paths)
	}
}

func TestHandleConnReadFailure(t *testing.T) {
	paths := testsupport.StorePaths(t, t.TempDir(), 1)
	tx, rx := queue.New[string]()
	defer tx.Close()
	defer rx.Close()

	reader := &failingReader{data: []byte(paths[0] + "\n"), err: errors.New("connection reset by peer")}
	stats, err := handleConn(context.Background(), &fakeConn{Reader: reader}, tx, logging.NewNop())
	if !errors.Is(err, ErrReadingConnection) {
		t.Fatalf("expected ErrReadingConnection, got %v", err)
	}
	if stats.Accepted != 1 {
		t.Fatalf("expected records before the failure to be queued, got %+v", stats)
	}
}

func TestHandleConnRejectsInvalidUTF8(t *testing.T) {
	dir := t.TempDir()
	good := testsupport.StorePaths(t, dir, 1)[0]
	bad := filepath.Join(dir, "bad\xff")
	testsupport.WriteFile(t, bad, 1)
	tx, rx := queue.New[string]()
	defer tx.Close()
	defer rx.Close()

	input := good + "\n" + bad + "\n" + good + "\n"
	stats, err := handleConn(context.Background(), &fakeConn{Reader: strings.NewReader(input)}, tx, logging.NewNop())
	if !errors.Is(err, ErrReadingConnection) {
		t.Fatalf("expected ErrReadingConnection for invalid utf-8, got %v", err)
	}
	if stats.Accepted != 1 {
		t.Fatalf("expected only the line before the invalid one queued, got %+v", stats)
	}
	if got := drain(t, rx); len(got) != 1 || got[0] != good {
		t.Fatalf("unexpected queue contents %q", got)
	}
}

func TestHandleConnLineTooLong(t *testing.T) {
	tx, rx := queue.New[string]()
	defer tx.Close()
	defer rx.Close()

	line := strings.Repeat("a", maxLineLength+1)
	_, err := handleConn(context.Background(), &fakeConn{Reader: strings.NewReader(line)}, tx, logging.NewNop())
	if !errors.Is(err, ErrReadingConnection) {
		t.Fatalf("expected ErrReadingConnection for oversized line, got %v", err)
	}
}

func TestHandleConnWithoutConsumers(t *testing.T) {
	paths := testsupport.StorePaths(t, t.TempDir(), 2)
	tx, rx := queue.New[string]()
	defer tx.Close()
	rx.Close()

	stats, err := handleConn(context.Background(), &fakeConn{Reader: strings.NewReader(strings.Join(paths, "\n"))}, tx, logging.NewNop())
	if !errors.Is(err, ErrNoConsumers) {
		t.Fatalf("expected ErrNoConsumers, got %v", err)
	}
	if stats.Accepted != 0 {
		t.Fatalf("expected nothing accepted, got %+v", stats)
	}
}
