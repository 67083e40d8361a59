// Package daemon runs the upload pipeline: it accepts connections, reads
// newline-delimited store paths from each one, queues the paths that exist,
// and drains the queue through a fixed pool of upload workers.
//
// Cancellation is scoped to the accept loop. Once ctx is done no further
// connections are accepted, but handlers already running finish reading and
// every queued path is still uploaded before Serve returns. Workers stop
// only when the queue is closed and empty. Paths from different connections
// may be uploaded in any order; paths from one connection are dequeued in
// the order they were written.
//
// Process concerns such as signals, pid files and the history ledger live
// in daemonrun; this package only needs an Acceptor, an Uploader and an
// optional Recorder.
package daemon
