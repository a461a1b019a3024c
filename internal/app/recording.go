package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/sitwell/internal/adapters/repository"
	"github.com/okian/sitwell/internal/domain/engine"
	"github.com/okian/sitwell/internal/domain/features"
	"github.com/okian/sitwell/internal/domain/model"
	"github.com/okian/sitwell/pkg/logger"
	"github.com/okian/sitwell/pkg/metrics"
)

// uploadNamespace derives session ids from upload ids.
var uploadNamespace = uuid.MustParse("8f6c1f4e-52c4-4d8e-9a57-3b1f0f5e2a61") //nolint:gochecknoglobals // fixed namespace

// Recording is a complete recorded session sent in one request.
type Recording struct {
	// UploadID makes the upload idempotent. Empty means never deduplicated.
	UploadID string `json:"upload_id"`

	// Settings are overrides applied over the service defaults.
	Settings json.RawMessage `json:"settings,omitempty"`

	// StartedAt anchors the virtual clock. Zero uses the service clock.
	StartedAt time.Time `json:"started_at"`

	Frames []features.Input `json:"frames"`
}

// SessionID returns the id a recording is stored under.
func (r *Recording) SessionID() string {
	if r.UploadID == "" {
		return ""
	}
	return uuid.NewSHA1(uploadNamespace, []byte(r.UploadID)).String()
}

// ProcessRecording replays a recording through a fresh session and stores
// the final record. Frame i is stamped StartedAt + i/fps. A repeated upload
// id returns the stored record and duplicate=true without reprocessing.
func (s *Service) ProcessRecording(ctx context.Context, r *Recording) (rec model.SessionRecord, duplicate bool, err error) {
	if _, _, err := s.components(); err != nil {
		return model.SessionRecord{}, false, err
	}
	if s.maxUploadFrames > 0 && len(r.Frames) > s.maxUploadFrames {
		return model.SessionRecord{}, false, fmt.Errorf("%w: %d > %d", ErrTooManyFrames, len(r.Frames), s.maxUploadFrames)
	}

	settings, err := s.settings.Overlay(r.Settings)
	if err != nil {
		metrics.RecordSessionOpenError()
		return model.SessionRecord{}, false, err
	}

	id := r.SessionID()
	if id == "" {
		id = uuid.NewString()
	} else if s.deduper.SeenAndRecord(ctx, r.UploadID) {
		metrics.RecordDuplicateUpload()
		stored, err := s.Session(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return model.SessionRecord{}, true, ErrUploadInProgress
		}
		if err != nil {
			return model.SessionRecord{}, true, err
		}
		s.logger.Debug(ctx, "duplicate upload", logger.String("upload", r.UploadID))
		return stored, true, nil
	}

	start := r.StartedAt
	if start.IsZero() {
		start = s.now()
	}
	h, err := s.openSession(ctx, id, start, settings, 0, false)
	if err != nil {
		s.forget(ctx, r)
		return model.SessionRecord{}, false, err
	}

	rec, err = h.replay(ctx, start, r.Frames)
	if err != nil {
		s.forget(ctx, r)
		return model.SessionRecord{}, false, err
	}
	return rec, false, nil
}

func (s *Service) forget(ctx context.Context, r *Recording) {
	if r.UploadID != "" {
		s.deduper.Unrecord(ctx, r.UploadID)
	}
}

// replay applies frames on a virtual clock and closes the session. The
// session is discarded without saving when ctx ends early.
func (h *SessionHandle) replay(ctx context.Context, start time.Time, frames []features.Input) (model.SessionRecord, error) {
	fps := h.eng.Settings().FPS
	at := func(i int) time.Time {
		return start.Add(time.Duration(float64(i) / fps * float64(time.Second)))
	}

	last := start
	h.now = func() time.Time { return last }
	for i, in := range frames {
		if err := ctx.Err(); err != nil {
			h.discard(ctx)
			return model.SessionRecord{}, fmt.Errorf("replay %s at frame %d: %w", h.id, i, err)
		}
		last = at(i)

		var err error
		if f, derr := in.Decode(); derr != nil {
			_, err = h.Reject(ctx, derr)
		} else {
			_, err = h.ProcessAt(ctx, last, f)
		}
		if err != nil {
			h.discard(ctx)
			if errors.Is(err, engine.ErrSessionFinalized) {
				// The service stopped mid-replay.
				err = ErrSessionDiscarded
			}
			return model.SessionRecord{}, err
		}
	}

	sum, err := h.Close(ctx)
	if err != nil {
		return model.SessionRecord{}, err
	}
	return h.record(sum, last, true), nil
}
