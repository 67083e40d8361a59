package daemon

import "errors"

var (
	// ErrReadingConnection wraps a read failure on an accepted connection.
	ErrReadingConnection = errors.New("error reading connection")
	// ErrNoConsumers reports that intake found no workers left to receive
	// paths. Workers outlive every handler, so this is a bug.
	ErrNoConsumers = errors.New("no upload workers left to receive paths")
	// ErrDrainTimeout is returned by Serve when the drain exceeded its
	// deadline and in-flight uploads were aborted.
	ErrDrainTimeout = errors.New("drain timed out")
	// ErrWorkerPanic wraps a panic recovered from an upload.
	ErrWorkerPanic = errors.New("upload worker panicked")
)
