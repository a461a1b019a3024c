// Package engine runs the per-session alert pipeline: calibration, channel
// detection, timeline recording and notification dispatch.
//
// A Session is not safe for concurrent use. Frames of one session must be
// applied in order by a single goroutine; distinct sessions share nothing.
package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/okian/sitwell/internal/domain/calibration"
	"github.com/okian/sitwell/internal/domain/detector"
	"github.com/okian/sitwell/internal/domain/dispatch"
	"github.com/okian/sitwell/internal/domain/model"
	"github.com/okian/sitwell/internal/domain/timeline"
)

// Session owns the complete alert state of one stream.
type Session struct {
	settings   Settings
	calib      *calibration.Calibrator
	detectors  *detector.Set
	recorder   *timeline.Recorder
	dispatcher *dispatch.Dispatcher

	frames    int
	rejected  int
	finalized bool
}

// NewSession validates settings and creates a session. No session is created
// when the settings are invalid.
func NewSession(settings Settings) (*Session, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	var distOpts []detector.DistanceOption
	if settings.FocalLength > 0 {
		distOpts = append(distOpts, detector.WithFocalLength(settings.FocalLength, settings.IrisDiameterCm, settings.DistanceCapCm))
	}
	set := &detector.Set{
		Blink:    detector.NewBlink(settings.Frames(settings.BlinkSeconds), settings.EARLow, settings.EARHigh),
		Sitting:  detector.NewSitting(settings.Frames(settings.SittingSeconds), settings.Frames(settings.NotSittingSeconds)),
		Distance: detector.NewDistance(settings.Frames(settings.DistanceSeconds), settings.ProximityFactor, distOpts...),
		Thoracic: detector.NewThoracic(settings.Frames(settings.ThoracicSeconds), settings.ThoracicMargin),
		Timer:    detector.NewTimer(settings.Frames(settings.SessionCapSeconds)),
	}

	rec := timeline.New()
	for _, ch := range model.TimelineChannels {
		rec.Register(ch, set.Threshold(ch))
	}

	return &Session{
		settings:   settings,
		calib:      calibration.New(settings.CalibrationFrames),
		detectors:  set,
		recorder:   rec,
		dispatcher: dispatch.New(settings.Cooldowns.Durations()),
	}, nil
}

// Settings returns the settings the session was created with.
func (s *Session) Settings() Settings { return s.settings }

// Frames returns the number of frames received, rejected ones included.
func (s *Session) Frames() int { return s.frames }

// Calibrating reports whether the baseline is still being collected.
func (s *Session) Calibrating() bool { return !s.calib.Done() }

// Detectors exposes the channel state machines for inspection.
func (s *Session) Detectors() *detector.Set { return s.detectors }

// Finalized reports whether Finalize was called.
func (s *Session) Finalized() bool { return s.finalized }

// Process applies one frame observed at now. The frame index is assigned by
// the session. A malformed frame is skipped and reported through the result
// warning; only a finalized session returns an error.
func (s *Session) Process(now time.Time, f model.FeatureFrame) (model.FrameResult, error) {
	if s.finalized {
		return model.FrameResult{}, ErrSessionFinalized
	}
	if err := CheckFrame(f); err != nil {
		return s.skip(err), nil
	}

	s.frames++
	f.Index = s.frames

	if !s.calib.Done() {
		s.calib.Observe(f)
		return model.FrameResult{FrameIndex: f.Index, Calibrating: true}, nil
	}

	flags := s.detectors.Update(f, s.calib.Baseline())
	for _, ch := range model.TimelineChannels {
		s.recorder.OnFrame(ch, flags.Get(ch), f.Index)
	}
	return model.FrameResult{
		FrameIndex:    f.Index,
		Flags:         flags,
		Notifications: s.dispatcher.Evaluate(flags, now, f.Index),
	}, nil
}

// Skip consumes a frame index for a frame that could not be decoded. Channel
// run-lengths hold and nothing is dispatched; the session timer still counts
// the frame so later second-based thresholds stay aligned.
func (s *Session) Skip(cause error) (model.FrameResult, error) {
	if s.finalized {
		return model.FrameResult{}, ErrSessionFinalized
	}
	return s.skip(cause), nil
}

func (s *Session) skip(cause error) model.FrameResult {
	s.frames++
	s.rejected++

	res := model.FrameResult{FrameIndex: s.frames, Warning: cause.Error()}
	if !s.calib.Done() {
		s.calib.Skip()
		res.Calibrating = true
		return res
	}
	s.detectors.Timer.Tick()
	res.Flags = s.detectors.Flags()
	return res
}

// Snapshot returns the current summary. Open intervals stay open.
func (s *Session) Snapshot() model.Summary {
	return model.Summary{
		TotalFrames:    s.frames,
		RejectedFrames: s.rejected,
		Baseline:       s.calib.Baseline(),
		Timeline:       s.recorder.Timeline(),
	}
}

// Finalize closes every open interval at the last frame index and returns the
// final summary. Calling it again returns the same summary.
func (s *Session) Finalize() model.Summary {
	if !s.finalized {
		s.recorder.Finalize(s.frames)
		s.finalized = true
	}
	return s.Snapshot()
}

// CheckFrame rejects frames carrying non-finite or negative scalars.
func CheckFrame(f model.FeatureFrame) error {
	fields := []struct {
		name string
		v    *float64
	}{
		{"shoulder_position", f.ShoulderPosition},
		{"diameter_right", f.DiameterRight},
		{"diameter_left", f.DiameterLeft},
		{"ear_right", f.EARRight},
		{"ear_left", f.EARLeft},
	}
	for _, fl := range fields {
		if fl.v == nil {
			continue
		}
		if math.IsNaN(*fl.v) || math.IsInf(*fl.v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrMalformedFrame, fl.name)
		}
		if *fl.v < 0 {
			return fmt.Errorf("%w: %s is negative (%v)", ErrMalformedFrame, fl.name, *fl.v)
		}
	}
	return nil
}
