package detector

import "github.com/okian/sitwell/internal/domain/model"

// Sitting counts consecutive frames of presence at the desk. Absences shorter
// than the grace period keep the count going; a full grace period away
// restarts it.
type Sitting struct {
	stack
	absence stack
}

// NewSitting creates a sitting detector.
func NewSitting(thresholdFrames, graceFrames int) *Sitting {
	return &Sitting{
		stack:   stack{threshold: thresholdFrames},
		absence: stack{threshold: graceFrames},
	}
}

// Absence returns the current run of consecutive absent frames.
func (s *Sitting) Absence() int { return s.absence.run }

// Update applies one frame and returns the alert flag.
func (s *Sitting) Update(f model.FeatureFrame) bool {
	if f.FaceDetected {
		s.absence.reset()
		s.push()
		return s.Alert()
	}

	s.absence.push()
	if s.absence.Alert() {
		s.reset()
		s.absence.reset()
		return s.Alert()
	}
	s.push()
	return s.Alert()
}
