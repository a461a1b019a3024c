// Package detector implements the per-channel run-length state machines.
//
// Every detector is fed post-calibration frames only, one at a time, and owns
// its state exclusively. None of them lock.
package detector

import "math"

// Frames converts a duration in seconds to a whole number of frames.
// The result is at least one frame.
func Frames(seconds, fps float64) int {
	n := int(math.Ceil(seconds*fps - 1e-9))
	if n < 1 {
		return 1
	}
	return n
}

// stack is a run-length counter with a frame threshold.
type stack struct {
	run       int
	threshold int
}

func (s *stack) push()  { s.run++ }
func (s *stack) reset() { s.run = 0 }

// Run returns the current run-length in frames.
func (s *stack) Run() int { return s.run }

// Threshold returns the run-length at which the channel alerts.
func (s *stack) Threshold() int { return s.threshold }

// Alert reports whether the run-length reached the threshold.
func (s *stack) Alert() bool { return s.run >= s.threshold }
