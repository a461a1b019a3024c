package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/sitwell/internal/domain/model"
	"github.com/okian/sitwell/pkg/metrics"
)

// MemoryStore keeps session records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.SessionRecord

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates an empty in-memory store and starts its metrics updater.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	s := &MemoryStore{
		records:  make(map[string]model.SessionRecord),
		stopChan: make(chan struct{}),
	}
	go runMetricsUpdater(ctx, o.metricsUpdateInterval, s.stopChan, func() {
		metrics.UpdateStoredSessions(s.Count(ctx))
	})
	return s
}

// Save upserts rec unless it would regress the stored record.
func (s *MemoryStore) Save(_ context.Context, rec model.SessionRecord) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordPersistLatency(float64(time.Since(start).Nanoseconds()) / 1e6)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.records[rec.ID]; ok && !Supersedes(prev, rec) {
		return false, nil
	}
	s.records[rec.ID] = clone(rec)
	return true, nil
}

// Get returns the record with id.
func (s *MemoryStore) Get(_ context.Context, id string) (model.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.SessionRecord{}, ErrNotFound
	}
	return clone(rec), nil
}

// List returns records newest first.
func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]model.SessionRecord, error) {
	if offset < 0 {
		metrics.RecordErrorByComponent("repository", "invalid_page")
		return nil, ErrInvalidPage
	}

	s.mu.RLock()
	all := make([]model.SessionRecord, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].StartedAt.After(all[j].StartedAt)
		}
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return []model.SessionRecord{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	out := make([]model.SessionRecord, len(all))
	for i, rec := range all {
		out[i] = clone(rec)
	}
	return out, nil
}

// Delete removes the record with id.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// Count returns the number of stored records.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close stops the metrics updater.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	return nil
}

func clone(rec model.SessionRecord) model.SessionRecord {
	out := rec
	out.Timeline = rec.Timeline.Clone()
	if rec.Baseline != nil {
		b := *rec.Baseline
		out.Baseline = &b
	}
	return out
}

// runMetricsUpdater calls update on every tick until ctx is done or stop is closed.
func runMetricsUpdater(ctx context.Context, interval time.Duration, stop <-chan struct{}, update func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			update()
		}
	}
}
