package detector

import "github.com/okian/sitwell/internal/domain/model"

// BlinkState is the hysteresis state of the blink detector.
type BlinkState int

// Blink hysteresis states.
const (
	// BlinkIdle means no eye has closed since the last completed blink.
	BlinkIdle BlinkState = iota
	// BlinkBelow means an eye went at or under the low EAR threshold.
	BlinkBelow
)

func (s BlinkState) String() string {
	if s == BlinkBelow {
		return "below_threshold"
	}
	return "idle"
}

// Blink counts frames since the last completed close-then-open eye cycle.
type Blink struct {
	stack
	low, high float64
	state     BlinkState
	completed bool
}

// NewBlink creates a blink detector. low must be below high.
func NewBlink(thresholdFrames int, low, high float64) *Blink {
	return &Blink{stack: stack{threshold: thresholdFrames}, low: low, high: high}
}

// State returns the hysteresis state.
func (b *Blink) State() BlinkState { return b.state }

// Completed reports whether the latest frame completed a blink cycle and the
// run-length is latched against another reset.
func (b *Blink) Completed() bool { return b.completed }

// Update applies one frame and returns the alert flag.
func (b *Blink) Update(f model.FeatureFrame) bool {
	if !f.FaceDetected {
		b.reset()
		b.state = BlinkIdle
		b.completed = false
		return b.Alert()
	}
	if f.EARRight == nil && f.EARLeft == nil {
		return b.Alert()
	}

	switch {
	case anyAtMost(b.low, f.EARRight, f.EARLeft):
		b.state = BlinkBelow
		b.push()
	case b.state == BlinkBelow && anyAtLeast(b.high, f.EARRight, f.EARLeft):
		if !b.completed {
			b.reset()
			b.completed = true
		}
		b.state = BlinkIdle
	default:
		b.completed = false
		b.push()
	}
	return b.Alert()
}

func anyAtMost(limit float64, vals ...*float64) bool {
	for _, v := range vals {
		if v != nil && *v <= limit {
			return true
		}
	}
	return false
}

func anyAtLeast(limit float64, vals ...*float64) bool {
	for _, v := range vals {
		if v != nil && *v >= limit {
			return true
		}
	}
	return false
}
