package service

import (
	"time"

	"github.com/okian/sitwell/internal/adapters/repository"
	"github.com/okian/sitwell/internal/domain/engine"
	"github.com/okian/sitwell/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of persistence workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of pending snapshots.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many upload IDs are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEngineSettings sets the default session settings.
func WithEngineSettings(settings engine.Settings) Option {
	return func(s *Service) {
		s.settings = settings
	}
}

// WithPersistEvery sets the number of frames between intermediate snapshots.
// Zero disables them; sessions are then stored only when closed.
func WithPersistEvery(frames int) Option {
	return func(s *Service) {
		if frames >= 0 {
			s.persistEvery = frames
		}
	}
}

// WithPersistTimeout bounds every store write.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

// WithStore injects a store. The caller keeps ownership and closes it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
			s.ownsStore = false
		}
	}
}

// WithStorage selects the store opened by Start.
func WithStorage(driver, path string) Option {
	return func(s *Service) {
		s.storageDriver = driver
		s.storagePath = path
	}
}

// WithClock replaces the wall clock used to timestamp live frames.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxUploadFrames caps the frames accepted in one recording. Zero means
// no limit.
func WithMaxUploadFrames(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxUploadFrames = n
		}
	}
}
