// Package worker persists queued session snapshots in the background.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/sitwell/internal/domain/model"
	"github.com/okian/sitwell/pkg/logger"
	"github.com/okian/sitwell/pkg/metrics"
)

const (
	defaultSaveTimeout  = 2 * time.Second
	poolShutdownTimeout = 30 * time.Second
)

// Snapshot is what workers read off the queue.
type Snapshot = model.Snapshot

// Saver stores session records.
type Saver interface {
	Save(ctx context.Context, rec model.SessionRecord) (bool, error)
}

// Queue defines how workers receive snapshots.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Snapshot
}

// Worker persists snapshots read from a queue.
type Worker interface {
	// Run consumes snapshots until the queue is drained or ctx is canceled.
	Run(ctx context.Context)

	// Shutdown waits for Run to return.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue       Queue
	saver       Saver
	name        string
	saveTimeout time.Duration

	done   chan struct{}
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, saver Saver, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:       queue,
		saver:       saver,
		name:        "worker",
		saveTimeout: defaultSaveTimeout,
		done:        make(chan struct{}),
		logger:      logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(logger.String("worker", w.name))
	return w
}

// Run consumes snapshots until the queue channel closes or ctx is done.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	snapshots := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-snapshots:
			if !ok {
				return
			}
			if err := w.process(ctx, s); err != nil {
				w.logger.Error(ctx, "error persisting snapshot", logger.Error(err))
			}
		}
	}
}

// Shutdown waits for the worker to drain its queue.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, s Snapshot) (err error) { //nolint:gocritic // hugeParam: snapshots travel by value
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1e3)
		if s.Done != nil {
			s.Done(err)
		}
	}()

	saveCtx, cancel := context.WithTimeout(ctx, w.saveTimeout)
	defer cancel()

	saveStart := time.Now()
	stored, err := w.saver.Save(saveCtx, s.Record)
	metrics.RecordPersistLatency(float64(time.Since(saveStart).Microseconds()) / 1e3)
	if err != nil {
		metrics.RecordPersistError()
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "save_error")
		metrics.RecordErrorByType("save_error", "high")
		return fmt.Errorf("save session %s at frame %d: %w", s.Record.ID, s.Record.TotalFrames, err)
	}
	if !stored {
		w.logger.Debug(ctx, "stale snapshot ignored",
			logger.String("session", s.Record.ID),
			logger.Int("frames", s.Record.TotalFrames),
		)
	}
	return nil
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	running atomic.Int64
	logger  logger.Logger
}

// NewPool creates a worker pool. A non-positive count uses one worker per CPU.
func NewPool(workerCount int, queue Queue, saver Saver, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(queue, saver, wopts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(0)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.running.Add(1)
		metrics.UpdateWorkerActiveCount(int(p.running.Load()))
		go func(w *InMemoryWorker) {
			defer func() {
				metrics.UpdateWorkerActiveCount(int(p.running.Add(-1)))
			}()
			w.Run(ctx)
		}(w)
	}
}

// Shutdown closes the queue and waits for every worker to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
