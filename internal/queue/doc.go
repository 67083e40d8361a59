// Package queue provides the in-memory dispatch queue between connection
// intake and the upload workers.
//
// The queue is unbounded and multi-producer multi-consumer. Send never
// blocks; Receive blocks until an item arrives. Each producer and consumer
// holds its own counted handle. When the last Sender is closed, receivers
// drain the remaining items and then observe ErrClosed, which is the signal
// for workers to exit. When the last Receiver is closed, Send reports
// ErrNoReceivers.
//
// Items sent through one Sender are received in the order they were sent.
// There is no ordering between different senders. Nothing is persisted: a
// process restart discards whatever was still queued.
package queue
