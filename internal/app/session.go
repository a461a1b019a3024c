package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	snapshotqueue "github.com/okian/sitwell/internal/adapters/mq/queue"
	"github.com/okian/sitwell/internal/adapters/repository"
	"github.com/okian/sitwell/internal/domain/engine"
	"github.com/okian/sitwell/internal/domain/model"
	"github.com/okian/sitwell/pkg/logger"
	"github.com/okian/sitwell/pkg/metrics"
)

// SessionHandle is one live session. Frames must be applied from a single
// goroutine; Close may be called from any goroutine and finalizes once.
type SessionHandle struct {
	id        string
	startedAt time.Time

	store        repository.Store
	queue        snapshotqueue.Queue
	persistEvery int
	timeout      time.Duration
	now          func() time.Time
	onClose      func()
	log          logger.Logger

	mu          sync.Mutex
	eng         *engine.Session
	lastPersist int

	// retry asks the next frame to persist regardless of persistEvery.
	retry    atomic.Bool
	inflight atomic.Bool

	closeOnce sync.Once
	summary   model.Summary
	closeErr  error
}

// OpenSession starts a live session. overrides is an optional JSON object of
// settings applied over the service defaults; invalid settings create no
// session.
func (s *Service) OpenSession(ctx context.Context, overrides json.RawMessage) (*SessionHandle, error) {
	settings, err := s.settings.Overlay(overrides)
	if err != nil {
		metrics.RecordSessionOpenError()
		return nil, err
	}
	return s.openSession(ctx, uuid.NewString(), s.now(), settings, s.persistEvery, true)
}

// openSession creates and tracks a handle. durable handles are closed and
// saved when the service stops; the others are discarded.
func (s *Service) openSession(ctx context.Context, id string, startedAt time.Time, settings engine.Settings, persistEvery int, durable bool) (*SessionHandle, error) {
	store, queue, err := s.components()
	if err != nil {
		return nil, err
	}

	eng, err := engine.NewSession(settings)
	if err != nil {
		metrics.RecordSessionOpenError()
		return nil, err
	}

	h := &SessionHandle{
		id:           id,
		startedAt:    startedAt,
		store:        store,
		queue:        queue,
		persistEvery: persistEvery,
		timeout:      s.persistTimeout,
		now:          s.now,
		eng:          eng,
		log:          s.logger.With(logger.String("session", id)),
	}
	h.onClose = func() {
		s.untrack(h)
		metrics.UpdateActiveSessions(int(s.active.Add(-1)))
	}
	if err := s.track(h, durable); err != nil {
		return nil, err
	}

	metrics.RecordSessionOpened()
	metrics.UpdateActiveSessions(int(s.active.Add(1)))
	h.log.Info(ctx, "session opened",
		logger.Float64("fps", settings.FPS),
		logger.Int("calibrationFrames", settings.CalibrationFrames),
		logger.Bool("focalLength", settings.FocalLength > 0),
	)
	return h, nil
}

// ID returns the session id.
func (h *SessionHandle) ID() string { return h.id }

// Settings returns the effective session settings.
func (h *SessionHandle) Settings() engine.Settings { return h.eng.Settings() }

// Process applies one frame stamped with the service clock.
func (h *SessionHandle) Process(ctx context.Context, f model.FeatureFrame) (model.FrameResult, error) {
	return h.ProcessAt(ctx, h.now(), f)
}

// ProcessAt applies one frame observed at now. Malformed frames are skipped
// and reported in the result warning.
func (h *SessionHandle) ProcessAt(ctx context.Context, now time.Time, f model.FeatureFrame) (model.FrameResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasCalibrating := h.eng.Calibrating()
	res, err := h.eng.Process(now, f)
	if err != nil {
		return res, err
	}

	switch {
	case res.Warning != "":
		h.rejected(ctx, res)
	case res.Calibrating:
		metrics.RecordFrameProcessed("calibrating")
	default:
		metrics.RecordFrameProcessed("detecting")
	}
	if wasCalibrating && !h.eng.Calibrating() {
		h.calibrated(ctx)
	}
	for _, n := range res.Notifications {
		metrics.RecordNotification(string(n.Channel), string(n.Reason))
		h.log.Debug(ctx, "notification",
			logger.String("channel", string(n.Channel)),
			logger.String("reason", string(n.Reason)),
			logger.Int("frame", n.FrameIndex),
		)
	}

	h.maybePersist(ctx, now)
	return res, nil
}

// Reject consumes a frame that could not be decoded.
func (h *SessionHandle) Reject(ctx context.Context, cause error) (model.FrameResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasCalibrating := h.eng.Calibrating()
	res, err := h.eng.Skip(cause)
	if err != nil {
		return res, err
	}
	h.rejected(ctx, res)
	if wasCalibrating && !h.eng.Calibrating() {
		h.calibrated(ctx)
	}
	h.maybePersist(ctx, h.now())
	return res, nil
}

func (h *SessionHandle) rejected(ctx context.Context, res model.FrameResult) { //nolint:gocritic // hugeParam
	metrics.RecordFrameRejected("malformed")
	metrics.RecordErrorByComponent("engine", "malformed_frame")
	h.log.Warn(ctx, "frame rejected",
		logger.Int("frame", res.FrameIndex),
		logger.String("reason", res.Warning),
	)
}

func (h *SessionHandle) calibrated(ctx context.Context) {
	b := h.eng.Snapshot().Baseline
	if b == nil || (b.ShoulderPosition == nil && b.DiameterRight == nil && b.DiameterLeft == nil) {
		metrics.RecordCalibrationWithoutBaseline()
		h.log.Warn(ctx, "calibration finished without a baseline")
		return
	}
	h.log.Debug(ctx, "calibration finished")
}

// Summary returns the current summary without finalizing.
func (h *SessionHandle) Summary() model.Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eng.Snapshot()
}

// maybePersist enqueues a snapshot every persistEvery frames, or on the frame
// after a failed attempt. It never blocks on the store.
func (h *SessionHandle) maybePersist(ctx context.Context, now time.Time) {
	if h.persistEvery <= 0 {
		return
	}
	frames := h.eng.Frames()
	if frames-h.lastPersist < h.persistEvery && !h.retry.Load() {
		return
	}
	if !h.inflight.CompareAndSwap(false, true) {
		return
	}
	// Done may run before Enqueue returns.
	h.retry.Store(false)

	snap := snapshotqueue.Snapshot{
		Record: h.record(h.eng.Snapshot(), now, false),
		Done: func(err error) {
			if err != nil {
				h.retry.Store(true)
			}
			h.inflight.Store(false)
		},
	}
	if err := h.queue.Enqueue(ctx, snap); err != nil {
		h.inflight.Store(false)
		h.retry.Store(true)
		reason := "error"
		switch {
		case errors.Is(err, snapshotqueue.ErrFull):
			reason = "queue_full"
		case errors.Is(err, snapshotqueue.ErrClosed):
			reason = "queue_closed"
		}
		metrics.RecordSnapshotDropped(reason)
		h.log.Debug(ctx, "snapshot not queued", logger.Error(err))
		return
	}
	h.lastPersist = frames
}

func (h *SessionHandle) record(sum model.Summary, now time.Time, final bool) model.SessionRecord { //nolint:gocritic // hugeParam
	return model.SessionRecord{
		ID:        h.id,
		StartedAt: h.startedAt,
		UpdatedAt: now,
		FPS:       h.eng.Settings().FPS,
		Finalized: final,
		Summary:   sum,
	}
}

// Close finalizes the session and stores the final record. Only the first
// call has an effect; later calls return the same summary and error.
func (h *SessionHandle) Close(ctx context.Context) (model.Summary, error) {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.summary = h.eng.Finalize()
		rec := h.record(h.summary, h.now(), true)
		h.mu.Unlock()

		h.closeErr = h.save(ctx, rec)
		metrics.RecordSessionFinalized(h.summary.TotalFrames)
		h.onClose()
		h.log.Info(ctx, "session closed",
			logger.Int("frames", h.summary.TotalFrames),
			logger.Int("rejected", h.summary.RejectedFrames),
		)
	})
	return h.summary, h.closeErr
}

// discard finalizes the session without storing it.
func (h *SessionHandle) discard(ctx context.Context) {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.summary = h.eng.Finalize()
		h.mu.Unlock()
		h.closeErr = ErrSessionDiscarded
		h.onClose()
		h.log.Warn(ctx, "session discarded", logger.Int("frames", h.summary.TotalFrames))
	})
}

func (h *SessionHandle) save(ctx context.Context, rec model.SessionRecord) error { //nolint:gocritic // hugeParam
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	start := time.Now()
	_, err := h.store.Save(saveCtx, rec)
	metrics.RecordPersistLatency(float64(time.Since(start).Microseconds()) / 1e3)
	if err != nil {
		metrics.RecordPersistError()
		metrics.RecordErrorByComponent("service", "final_save")
		h.log.Error(ctx, "final save failed", logger.Error(err))
		return fmt.Errorf("save session %s: %w", h.id, err)
	}
	metrics.UpdateStoredSessions(h.store.Count(saveCtx))
	return nil
}
