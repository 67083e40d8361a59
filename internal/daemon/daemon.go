package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"nixupload/internal/ipc"
	"nixupload/internal/logging"
	"nixupload/internal/queue"
)

// Acceptor yields connections until ctx is done. ipc.Listener implements it.
type Acceptor interface {
	Accept(ctx context.Context) (ipc.Conn, bool, error)
}

// Options configures a Server.
type Options struct {
	Workers  int
	Uploader Uploader
	// Recorder is optional.
	Recorder Recorder
	Logger   *slog.Logger
	// DrainTimeout bounds how long Serve waits for handlers and queued
	// uploads after the accept loop stops. Zero waits forever.
	DrainTimeout time.Duration
}

// Stats summarises a Serve call.
type Stats struct {
	Connections int64
	Accepted    int64
	Dropped     int64
	Pool        PoolStats
}

// Server owns one run of the accept loop, intake handlers and worker pool.
type Server struct {
	pool         *Pool
	logger       *slog.Logger
	drainTimeout time.Duration

	connections atomic.Int64
	accepted    atomic.Int64
	dropped     atomic.Int64

	mu     sync.Mutex
	active map[ipc.Conn]struct{}
}

// New validates opts and builds a Server.
func New(opts Options) (*Server, error) {
	if opts.DrainTimeout < 0 {
		return nil, fmt.Errorf("drain timeout must be non-negative, got %s", opts.DrainTimeout)
	}
	pool, err := NewPool(opts.Workers, opts.Uploader, opts.Recorder, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		pool:         pool,
		logger:       logging.NewComponentLogger(opts.Logger, "daemon"),
		drainTimeout: opts.DrainTimeout,
		active:       make(map[ipc.Conn]struct{}),
	}, nil
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.connections.Load(),
		Accepted:    s.accepted.Load(),
		Dropped:     s.dropped.Load(),
		Pool:        s.pool.Stats(),
	}
}

// Serve accepts connections from acceptor until ctx is done or accept fails,
// then drains. It returns nil after a clean drain, the accept error if the
// loop stopped on one, or ErrDrainTimeout.
func (s *Server) Serve(ctx context.Context, acceptor Acceptor) error {
	tx, rx := queue.New[string]()
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		s.pool.Run(workCtx, rx)
	}()

	var handlers sync.WaitGroup
	acceptErr := s.acceptLoop(ctx, workCtx, acceptor, tx, &handlers)

	// Handlers hold their own sender clones; the pool sees ErrClosed once
	// the last of them finishes and the queue is empty.
	tx.Close()
	s.logger.Info("accept loop stopped, draining",
		logging.Int("queued", rx.Len()),
		logging.Int64("connections", s.connections.Load()),
	)

	drained := make(chan struct{})
	go func() {
		handlers.Wait()
		<-poolDone
		close(drained)
	}()

	if err := s.waitDrain(drained, cancelWork); err != nil {
		return errors.Join(acceptErr, err)
	}
	return acceptErr
}

func (s *Server) acceptLoop(ctx, workCtx context.Context, acceptor Acceptor, tx *queue.Sender[string], handlers *sync.WaitGroup) error {
	for {
		conn, ok, err := acceptor.Accept(ctx)
		if err != nil {
			logging.ErrorWithContext(s.logger, "accept failed", "accept_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the listening socket"),
			)
			return fmt.Errorf("accept connection: %w", err)
		}
		if !ok {
			return nil
		}
		sender, err := tx.Clone()
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("clone queue sender: %w", err)
		}
		s.connections.Add(1)
		s.track(conn)
		handlers.Add(1)
		go func() {
			defer handlers.Done()
			defer sender.Close()
			defer s.untrack(conn)
			s.handle(workCtx, conn, sender)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn ipc.Conn, tx *queue.Sender[string]) {
	connID := uuid.NewString()[:8]
	ctx = logging.WithConnID(ctx, connID)
	logger := logging.WithContext(ctx, s.logger).With(logging.String("remote", conn.RemoteAddr()))
	defer conn.Close()

	logger.Debug("connection accepted", logging.String("transport", conn.Kind().String()))
	stats, err := handleConn(ctx, conn, tx, logger)
	s.accepted.Add(int64(stats.Accepted))
	s.dropped.Add(int64(stats.Dropped))

	if err != nil {
		eventType := "connection_read_failed"
		if errors.Is(err, ErrNoConsumers) {
			eventType = "no_consumers"
		}
		logging.ErrorWithContext(logger, "error handling connection", eventType,
			logging.Error(err),
			logging.Int("accepted", stats.Accepted),
			logging.Int("dropped", stats.Dropped),
		)
		return
	}
	logger.Info("connection closed",
		logging.Int("accepted", stats.Accepted),
		logging.Int("dropped", stats.Dropped),
	)
}

func (s *Server) waitDrain(drained <-chan struct{}, cancelWork context.CancelFunc) error {
	if s.drainTimeout <= 0 {
		<-drained
		return nil
	}
	timer := time.NewTimer(s.drainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
		return nil
	case <-timer.C:
	}

	logging.WarnWithContext(s.logger, "drain timed out, aborting in-flight uploads", "drain_timeout",
		logging.Duration("drain_timeout", s.drainTimeout),
		logging.String(logging.FieldImpact, "queued paths were not uploaded"),
	)
	cancelWork()
	s.closeActive()
	<-drained
	return fmt.Errorf("%w after %s", ErrDrainTimeout, s.drainTimeout)
}

func (s *Server) track(conn ipc.Conn) {
	s.mu.Lock()
	s.active[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn ipc.Conn) {
	s.mu.Lock()
	delete(s.active, conn)
	s.mu.Unlock()
}

func (s *Server) closeActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.active {
		_ = conn.Close()
	}
}
