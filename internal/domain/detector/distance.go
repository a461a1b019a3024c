package detector

import "github.com/okian/sitwell/internal/domain/model"

// DefaultIrisDiameterCm is the average human iris diameter.
const DefaultIrisDiameterCm = 1.17

// Distance tracks the nearest observed iris diameter and counts frames where
// it signals the user is out of the comfortable range.
//
// Without a focal length the condition is relative: nearest >= baseline * factor.
// With one it is absolute: focal * iris / nearest > capCm.
type Distance struct {
	stack
	factor  float64
	focal   float64
	irisCm  float64
	capCm   float64
	nearest *float64
}

// DistanceOption configures a Distance detector.
type DistanceOption func(*Distance)

// WithFocalLength switches the detector to centimetre mode.
func WithFocalLength(focal, irisCm, capCm float64) DistanceOption {
	return func(d *Distance) {
		d.focal = focal
		if irisCm > 0 {
			d.irisCm = irisCm
		}
		d.capCm = capCm
	}
}

// NewDistance creates a distance detector in ratio mode unless a focal length option is given.
func NewDistance(thresholdFrames int, factor float64, opts ...DistanceOption) *Distance {
	d := &Distance{stack: stack{threshold: thresholdFrames}, factor: factor, irisCm: DefaultIrisDiameterCm}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Calibrated reports whether the detector works in centimetres.
func (d *Distance) Calibrated() bool { return d.focal > 0 }

// Nearest returns the ratcheted nearest diameter, if any reading was seen.
func (d *Distance) Nearest() (float64, bool) {
	if d.nearest == nil {
		return 0, false
	}
	return *d.nearest, true
}

// RealDistanceCm converts a pixel iris diameter to centimetres.
func (d *Distance) RealDistanceCm(pixels float64) float64 {
	return d.focal * d.irisCm / pixels
}

// Update applies one frame and returns the alert flag.
func (d *Distance) Update(f model.FeatureFrame, b *model.Baseline) bool {
	if !f.FaceDetected {
		d.reset()
		return d.Alert()
	}
	if v, ok := model.MaxOf(f.DiameterRight, f.DiameterLeft, d.nearest); ok {
		d.nearest = &v
	}
	if d.nearest == nil || *d.nearest <= 0 {
		return d.Alert()
	}

	if d.Calibrated() {
		d.step(d.RealDistanceCm(*d.nearest) > d.capCm)
		return d.Alert()
	}

	if b == nil {
		return d.Alert()
	}
	ref, ok := b.NearestDiameter()
	if !ok {
		return d.Alert()
	}
	d.step(*d.nearest >= ref*d.factor)
	return d.Alert()
}

func (d *Distance) step(cond bool) {
	if cond {
		d.push()
		return
	}
	d.reset()
}
