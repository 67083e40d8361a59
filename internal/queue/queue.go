package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Receive once every Sender has been closed and
	// the queue is empty, and by operations on a handle that was closed.
	ErrClosed = errors.New("queue closed")
	// ErrNoReceivers is returned by Send when every Receiver has been closed.
	ErrNoReceivers = errors.New("queue has no receivers")
)

// compactThreshold bounds how many consumed slots accumulate before the
// backing slice is shifted down.
const compactThreshold = 64

type state[T any] struct {
	mu        sync.Mutex
	items     []T
	head      int
	senders   int
	receivers int
	// changed is closed and replaced whenever items are added or the last
	// sender goes away.
	changed chan struct{}
}

// New creates an unbounded queue and returns its first sender and receiver.
// Additional handles are obtained with Clone.
func New[T any]() (*Sender[T], *Receiver[T]) {
	s := &state[T]{senders: 1, receivers: 1, changed: make(chan struct{})}
	return &Sender[T]{state: s}, &Receiver[T]{state: s}
}

func (s *state[T]) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *state[T]) lenLocked() int {
	return len(s.items) - s.head
}

// Sender is a producer handle. Send never blocks.
type Sender[T any] struct {
	state  *state[T]
	mu     sync.Mutex
	closed bool
}

// Send appends v to the queue.
func (s *Sender[T]) Send(v T) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	st := s.state
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.receivers == 0 {
		return ErrNoReceivers
	}
	st.items = append(st.items, v)
	st.notifyLocked()
	return nil
}

// Clone returns a new sender for the same queue. Each clone must be closed
// independently.
func (s *Sender[T]) Clone() (*Sender[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.state.mu.Lock()
	s.state.senders++
	s.state.mu.Unlock()
	return &Sender[T]{state: s.state}, nil
}

// Close releases this sender. Receivers observe ErrClosed after the last
// sender closes and the remaining items are drained. Close is idempotent.
func (s *Sender[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	st := s.state
	st.mu.Lock()
	st.senders--
	if st.senders == 0 {
		st.notifyLocked()
	}
	st.mu.Unlock()
}

// Len reports the number of queued items.
func (s *Sender[T]) Len() int {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.lenLocked()
}

// Receiver is a consumer handle. Items are delivered to exactly one receiver.
type Receiver[T any] struct {
	state  *state[T]
	mu     sync.Mutex
	closed bool
}

// Receive blocks until an item is available, the queue is closed and
// drained (ErrClosed), or ctx is done (ctx.Err()).
func (r *Receiver[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return zero, ErrClosed
	}

	st := r.state
	for {
		st.mu.Lock()
		if st.lenLocked() > 0 {
			v := st.items[st.head]
			st.items[st.head] = zero
			st.head++
			st.compactLocked()
			st.mu.Unlock()
			return v, nil
		}
		if st.senders == 0 {
			st.mu.Unlock()
			return zero, ErrClosed
		}
		changed := st.changed
		st.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (s *state[T]) compactLocked() {
	if s.head == len(s.items) {
		s.items = s.items[:0]
		s.head = 0
		return
	}
	if s.head >= compactThreshold && s.head*2 >= len(s.items) {
		n := copy(s.items, s.items[s.head:])
		clear(s.items[n:])
		s.items = s.items[:n]
		s.head = 0
	}
}

// Clone returns a new receiver for the same queue.
func (r *Receiver[T]) Clone() (*Receiver[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	r.state.mu.Lock()
	r.state.receivers++
	r.state.mu.Unlock()
	return &Receiver[T]{state: r.state}, nil
}

// Close releases this receiver. Once every receiver is closed, Send fails
// with ErrNoReceivers. Close is idempotent.
func (r *Receiver[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true

	st := r.state
	st.mu.Lock()
	st.receivers--
	st.mu.Unlock()
}

// Len reports the number of queued items.
func (r *Receiver[T]) Len() int {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	return r.state.lenLocked()
}
