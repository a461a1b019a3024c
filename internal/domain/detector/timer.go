package detector

// Timer counts every post-calibration frame and latches once the cap is hit.
type Timer struct {
	count   int
	limit   int
	tripped bool
}

// NewTimer creates a session length timer.
func NewTimer(capFrames int) *Timer {
	return &Timer{limit: capFrames}
}

// Count returns the frames counted so far.
func (t *Timer) Count() int { return t.count }

// Tick counts one frame and returns the latched flag.
func (t *Timer) Tick() bool {
	t.count++
	if t.count >= t.limit {
		t.tripped = true
	}
	return t.tripped
}

// Alert returns the latched flag.
func (t *Timer) Alert() bool { return t.tripped }
