// Package calibration derives a personal baseline from the first frames of a session.
package calibration

import (
	"gonum.org/v1/gonum/stat"

	"github.com/okian/sitwell/internal/domain/model"
)

// Calibrator collects the first K frames and freezes their means.
type Calibrator struct {
	frames int
	seen   int

	shoulder []float64
	right    []float64
	left     []float64

	baseline *model.Baseline
}

// New creates a calibrator over frames calibration frames. frames must be positive.
func New(frames int) *Calibrator {
	return &Calibrator{frames: frames}
}

// Observe feeds one frame. It returns true when this frame completed calibration.
// Frames observed after completion are ignored.
func (c *Calibrator) Observe(f model.FeatureFrame) bool {
	if c.Done() {
		return false
	}
	if f.ShoulderPosition != nil {
		c.shoulder = append(c.shoulder, *f.ShoulderPosition)
	}
	if f.DiameterRight != nil {
		c.right = append(c.right, *f.DiameterRight)
	}
	if f.DiameterLeft != nil {
		c.left = append(c.left, *f.DiameterLeft)
	}
	return c.advance()
}

// Skip counts a calibration slot consumed by a rejected frame.
func (c *Calibrator) Skip() bool {
	if c.Done() {
		return false
	}
	return c.advance()
}

func (c *Calibrator) advance() bool {
	c.seen++
	if c.seen < c.frames {
		return false
	}
	c.baseline = &model.Baseline{
		ShoulderPosition: mean(c.shoulder),
		DiameterRight:    mean(c.right),
		DiameterLeft:     mean(c.left),
	}
	c.shoulder, c.right, c.left = nil, nil, nil
	return true
}

// Done reports whether the baseline is frozen.
func (c *Calibrator) Done() bool { return c.baseline != nil }

// Baseline returns the frozen baseline, or nil while calibrating.
func (c *Calibrator) Baseline() *model.Baseline {
	if c.baseline == nil {
		return nil
	}
	b := *c.baseline
	return &b
}

// Complete reports whether every baseline field has a value.
func (c *Calibrator) Complete() bool {
	b := c.baseline
	return b != nil && b.ShoulderPosition != nil && b.DiameterRight != nil && b.DiameterLeft != nil
}

func mean(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	m := stat.Mean(xs, nil)
	return &m
}
