// Package timeline records the frame intervals during which each channel alerted.
package timeline

import "github.com/okian/sitwell/internal/domain/model"

type track struct {
	threshold int
	prev      bool
	intervals []model.Interval
}

// Recorder keeps one ordered, non-overlapping interval list per channel.
type Recorder struct {
	tracks map[model.Channel]*track
	order  []model.Channel
	final  bool
}

// New creates an empty recorder.
func New() *Recorder {
	return &Recorder{tracks: make(map[model.Channel]*track)}
}

// Register adds a channel whose intervals are backdated by thresholdFrames.
// Registering a channel twice keeps the first registration.
func (r *Recorder) Register(ch model.Channel, thresholdFrames int) {
	if _, ok := r.tracks[ch]; ok {
		return
	}
	r.tracks[ch] = &track{threshold: thresholdFrames}
	r.order = append(r.order, ch)
}

// OnFrame records the alert flag of ch at frameIndex. Unregistered channels
// and calls after Finalize are ignored.
func (r *Recorder) OnFrame(ch model.Channel, alert bool, frameIndex int) {
	t, ok := r.tracks[ch]
	if !ok || r.final {
		return
	}
	switch {
	case alert && !t.prev:
		t.open(frameIndex)
	case !alert && t.prev:
		t.close(frameIndex)
	}
	t.prev = alert
}

func (t *track) open(frameIndex int) {
	if n := len(t.intervals); n > 0 && t.intervals[n-1].Open {
		return
	}
	start := frameIndex - t.threshold
	if n := len(t.intervals); n > 0 && start < t.intervals[n-1].End {
		start = t.intervals[n-1].End
	}
	if start < 0 {
		start = 0
	}
	t.intervals = append(t.intervals, model.Interval{Start: start, Open: true})
}

func (t *track) close(frameIndex int) {
	n := len(t.intervals)
	if n == 0 || !t.intervals[n-1].Open {
		return
	}
	t.intervals[n-1].End = frameIndex
	t.intervals[n-1].Open = false
}

// Open reports whether ch has an unterminated interval.
func (r *Recorder) Open(ch model.Channel) bool {
	t, ok := r.tracks[ch]
	if !ok {
		return false
	}
	n := len(t.intervals)
	return n > 0 && t.intervals[n-1].Open
}

// Finalize closes every open interval at finalFrame. Later calls are no-ops.
func (r *Recorder) Finalize(finalFrame int) {
	if r.final {
		return
	}
	for _, ch := range r.order {
		r.tracks[ch].close(finalFrame)
		r.tracks[ch].prev = false
	}
	r.final = true
}

// Timeline returns a copy of the recorded intervals of every registered channel.
func (r *Recorder) Timeline() model.Timeline {
	out := make(model.Timeline, len(r.tracks))
	for _, ch := range r.order {
		out[ch] = append([]model.Interval{}, r.tracks[ch].intervals...)
	}
	return out
}
