package detector

import "github.com/okian/sitwell/internal/domain/model"

// Thoracic counts frames where the shoulder line sits at least margin below
// its baseline (image y grows downward).
type Thoracic struct {
	stack
	margin float64
}

// NewThoracic creates a thoracic detector.
func NewThoracic(thresholdFrames int, margin float64) *Thoracic {
	return &Thoracic{stack: stack{threshold: thresholdFrames}, margin: margin}
}

// Update applies one frame and returns the alert flag.
func (t *Thoracic) Update(f model.FeatureFrame, b *model.Baseline) bool {
	switch {
	case f.ShoulderPosition == nil:
		t.reset()
	case b == nil || b.ShoulderPosition == nil:
		// hold
	case *b.ShoulderPosition+t.margin <= *f.ShoulderPosition:
		t.push()
	default:
		t.reset()
	}
	return t.Alert()
}
