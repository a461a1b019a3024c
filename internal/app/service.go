// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	snapshotqueue "github.com/okian/sitwell/internal/adapters/mq/queue"
	workerpool "github.com/okian/sitwell/internal/adapters/mq/worker"
	"github.com/okian/sitwell/internal/adapters/repository"
	"github.com/okian/sitwell/internal/domain/dedupe"
	"github.com/okian/sitwell/internal/domain/engine"
	"github.com/okian/sitwell/internal/domain/model"
	"github.com/okian/sitwell/pkg/logger"
	"github.com/okian/sitwell/pkg/metrics"
)

const stopTimeout = 30 * time.Second

// Service owns the shared infrastructure of the alert engine: the session
// store, the snapshot queue with its workers, and the upload deduper.
// Sessions themselves are handed out as independent handles.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	ownsStore bool
	deduper   dedupe.Deduper
	queue     snapshotqueue.Queue
	pool      *workerpool.Pool

	// Configuration
	workerCount     int
	queueSize       int
	dedupeSize      int
	settings        engine.Settings
	persistEvery    int
	persistTimeout  time.Duration
	maxUploadFrames int
	storageDriver   string
	storagePath     string
	now             func() time.Time

	// State
	started bool
	active  atomic.Int64
	cancel  context.CancelFunc

	// live holds the open session handles. Stop closes the durable ones and
	// discards the rest.
	liveMu sync.Mutex
	live   map[*SessionHandle]bool

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:     runtime.NumCPU(),
		queueSize:       10_000,
		dedupeSize:      100_000,
		settings:        engine.DefaultSettings(),
		persistEvery:    75,
		persistTimeout:  2 * time.Second,
		maxUploadFrames: 216_000,
		storageDriver:   repository.DriverMemory,
		now:             time.Now,
		live:            make(map[*SessionHandle]bool),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start opens the store and starts the persistence workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if err := s.settings.Validate(); err != nil {
		return fmt.Errorf("default session settings: %w", err)
	}

	s.logger.Info(ctx, "starting alert service...")

	// Workers outlive the start request.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if s.store == nil {
		store, err := repository.Open(runCtx, s.storageDriver, s.storagePath,
			repository.WithLogger(s.logger.Named("repository")),
		)
		if err != nil {
			cancel()
			return fmt.Errorf("open %s store: %w", s.storageDriver, err)
		}
		s.store = store
		s.ownsStore = true
		s.logger.Info(ctx, "session store opened",
			logger.String("driver", s.storageDriver),
			logger.String("path", s.storagePath),
		)
	}

	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
	)
	s.queue = snapshotqueue.NewInMemoryQueue(
		snapshotqueue.WithCapacity(s.queueSize),
	)
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.store,
		workerpool.WithSaveTimeout(s.persistTimeout),
	)
	s.pool.Start(runCtx)

	s.cancel = cancel
	s.started = true
	metrics.UpdateStoredSessions(s.store.Count(ctx))
	s.logger.Info(ctx, "alert service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("persistEvery", s.persistEvery),
	)

	return nil
}

// Stop finalizes the open sessions, drains pending snapshots and releases
// the store. Live sessions get their final record saved; uploads still being
// replayed are discarded so they can be sent again.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping alert service...")

	closed, discarded := s.closeLive(ctx)
	if closed+discarded > 0 {
		s.logger.Info(ctx, "open sessions finalized",
			logger.Int("closed", closed),
			logger.Int("discarded", discarded),
		)
	}

	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "persistence workers did not drain", logger.Error(err))
		}
	}
	s.cancel()

	if s.ownsStore && s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error(ctx, "error closing store", logger.Error(err))
		}
		s.store = nil
		s.ownsStore = false
	}

	s.started = false
	s.logger.Info(ctx, "alert service stopped")
}

// track registers an open handle. durable handles are saved on Stop.
func (s *Service) track(h *SessionHandle, durable bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	s.liveMu.Lock()
	s.live[h] = durable
	s.liveMu.Unlock()
	return nil
}

func (s *Service) untrack(h *SessionHandle) {
	s.liveMu.Lock()
	delete(s.live, h)
	s.liveMu.Unlock()
}

// closeLive finalizes every tracked handle. The caller holds s.mu, so no
// handle can be registered meanwhile.
func (s *Service) closeLive(ctx context.Context) (closed, discarded int) {
	s.liveMu.Lock()
	handles := make(map[*SessionHandle]bool, len(s.live))
	for h, durable := range s.live {
		handles[h] = durable
	}
	s.liveMu.Unlock()

	for h, durable := range handles {
		if !durable {
			h.discard(ctx)
			discarded++
			continue
		}
		if _, err := h.Close(ctx); err != nil {
			s.logger.Error(ctx, "final save on stop failed",
				logger.String("session", h.ID()),
				logger.Error(err),
			)
		}
		closed++
	}
	return closed, discarded
}

// components returns the running store and queue, or ErrNotStarted.
func (s *Service) components() (repository.Store, snapshotqueue.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.store, s.queue, nil
}

// Settings returns the default session settings.
func (s *Service) Settings() engine.Settings {
	return s.settings
}

// Session returns the stored record of a session.
func (s *Service) Session(ctx context.Context, id string) (model.SessionRecord, error) {
	store, _, err := s.components()
	if err != nil {
		return model.SessionRecord{}, err
	}
	return store.Get(ctx, id)
}

// ListSessions returns one page of stored sessions, newest first, and the
// total number of stored sessions.
func (s *Service) ListSessions(ctx context.Context, limit, offset int) ([]model.SessionRecord, int, error) {
	store, _, err := s.components()
	if err != nil {
		return nil, 0, err
	}
	recs, err := store.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return recs, store.Count(ctx), nil
}

// DeleteSession removes a stored session.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	store, _, err := s.components()
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, id); err != nil {
		return err
	}
	metrics.UpdateStoredSessions(store.Count(ctx))
	s.logger.Info(ctx, "session deleted", logger.String("session", id))
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":        s.started,
		"workerCount":    s.workerCount,
		"queueSize":      s.queueSize,
		"dedupeSize":     s.dedupeSize,
		"persistEvery":   s.persistEvery,
		"activeSessions": s.active.Load(),
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		stored := s.store.Count(ctx)

		stats["queueLength"] = queueLen
		stats["storedSessions"] = stored
		stats["dedupeEntries"] = s.deduper.Size()

		metrics.UpdateStoredSessions(stored)
		metrics.UpdateActiveSessions(int(s.active.Load()))
	}

	return stats
}
