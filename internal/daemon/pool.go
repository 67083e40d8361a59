package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nixupload/internal/logging"
	"nixupload/internal/queue"
)

// Uploader performs the upload action for one path.
type Uploader interface {
	Upload(ctx context.Context, path string) error
}

// UploaderFunc adapts a function to the Uploader interface.
type UploaderFunc func(ctx context.Context, path string) error

func (f UploaderFunc) Upload(ctx context.Context, path string) error { return f(ctx, path) }

// Outcome describes one dequeued path after the upload action returned.
type Outcome struct {
	Path      string
	Worker    int
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Recorder receives every Outcome. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordUpload(ctx context.Context, outcome Outcome)
}

// PoolStats counts what the pool has done so far.
type PoolStats struct {
	Uploaded int64
	Failed   int64
	Restarts int64
}

// Pool runs a fixed number of workers over one queue receiver.
type Pool struct {
	size     int
	uploader Uploader
	recorder Recorder
	logger   *slog.Logger

	uploaded atomic.Int64
	failed   atomic.Int64
	restarts atomic.Int64
}

// NewPool builds a pool of size workers. recorder may be nil.
func NewPool(size int, uploader Uploader, recorder Recorder, logger *slog.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	if uploader == nil {
		return nil, errors.New("uploader is required")
	}
	return &Pool{
		size:     size,
		uploader: uploader,
		recorder: recorder,
		logger:   logging.NewComponentLogger(logger, "pool"),
	}, nil
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Uploaded: p.uploaded.Load(),
		Failed:   p.failed.Load(),
		Restarts: p.restarts.Load(),
	}
}

// Run starts the workers and blocks until every worker has exited. Workers
// exit when rx reports queue.ErrClosed or ctx is done. Run takes ownership
// of rx and closes it.
func (p *Pool) Run(ctx context.Context, rx *queue.Receiver[string]) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		workerRx, err := rx.Clone()
		if err != nil {
			break
		}
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			defer workerRx.Close()
			p.supervise(ctx, index, workerRx)
		}(i + 1)
	}
	rx.Close()
	wg.Wait()
}

// supervise restarts a worker loop after every failed upload until the loop
// reports that the queue is finished.
func (p *Pool) supervise(ctx context.Context, index int, rx *queue.Receiver[string]) {
	logger := p.logger.With(logging.Worker(index))
	logger.Debug("worker started")
	for {
		done, err := p.work(ctx, index, rx)
		if done {
			logger.Debug("worker stopped", logging.Error(err))
			return
		}
		p.restarts.Add(1)
		logging.ErrorWithContext(logger, "upload failed", "upload_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the destination store and nix output"),
			logging.String(logging.FieldImpact, "path was not uploaded and will not be retried"),
		)
	}
}

// work dequeues and uploads until an upload fails or the queue is finished.
// done is true when the worker should exit.
func (p *Pool) work(ctx context.Context, index int, rx *queue.Receiver[string]) (done bool, err error) {
	for {
		path, err := rx.Receive(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return true, nil
		}
		if err != nil {
			return true, err
		}
		if err := p.process(ctx, index, path); err != nil {
			return false, err
		}
	}
}

func (p *Pool) process(ctx context.Context, index int, path string) (err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrWorkerPanic, path, r)
		}
		elapsed := time.Since(started)
		if err != nil {
			p.failed.Add(1)
		} else {
			p.uploaded.Add(1)
			p.logger.Info("path uploaded",
				logging.Worker(index),
				logging.Path(path),
				logging.Duration("duration", elapsed),
			)
		}
		if p.recorder != nil {
			p.recorder.RecordUpload(ctx, Outcome{
				Path:      path,
				Worker:    index,
				Err:       err,
				StartedAt: started,
				Duration:  elapsed,
			})
		}
	}()
	return p.uploader.Upload(ctx, path)
}
