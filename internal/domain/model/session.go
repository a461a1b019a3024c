package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Interval is a closed or open range of frame indices during which a channel alerted.
// It serializes as [start, end] or [start, null] while open.
type Interval struct {
	Start int
	End   int
	Open  bool
}

// Len returns the interval length in frames; open intervals measure up to upto.
func (iv Interval) Len(upto int) int {
	end := iv.End
	if iv.Open {
		end = upto
	}
	if end < iv.Start {
		return 0
	}
	return end - iv.Start
}

// MarshalJSON encodes the interval as a two element array.
func (iv Interval) MarshalJSON() ([]byte, error) {
	if iv.Open {
		return json.Marshal([2]any{iv.Start, nil})
	}
	return json.Marshal([2]int{iv.Start, iv.End})
}

// UnmarshalJSON decodes a two element array.
func (iv *Interval) UnmarshalJSON(b []byte) error {
	var raw []*int
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 2 || raw[0] == nil {
		return fmt.Errorf("interval: want [start, end|null], got %s", b)
	}
	iv.Start = *raw[0]
	iv.Open = raw[1] == nil
	iv.End = 0
	if raw[1] != nil {
		iv.End = *raw[1]
	}
	return nil
}

// Timeline holds the recorded intervals per channel.
type Timeline map[Channel][]Interval

// Clone returns a deep copy of t.
func (t Timeline) Clone() Timeline {
	out := make(Timeline, len(t))
	for ch, ivs := range t {
		if ivs == nil {
			out[ch] = nil
			continue
		}
		out[ch] = make([]Interval, len(ivs))
		copy(out[ch], ivs)
	}
	return out
}

// Flags are the per-frame alert booleans of every channel.
type Flags struct {
	Blink     bool `json:"blink_alert"`
	Sitting   bool `json:"sitting_alert"`
	Distance  bool `json:"distance_alert"`
	Thoracic  bool `json:"thoracic_alert"`
	TimeLimit bool `json:"time_limit_exceed"`
}

// Get returns the flag of ch.
func (f Flags) Get(ch Channel) bool {
	switch ch {
	case ChannelBlink:
		return f.Blink
	case ChannelSitting:
		return f.Sitting
	case ChannelDistance:
		return f.Distance
	case ChannelThoracic:
		return f.Thoracic
	case ChannelTimeLimit:
		return f.TimeLimit
	default:
		return false
	}
}

// Reason tells whether a notification starts an alert or repeats it.
type Reason string

// Notification reasons.
const (
	ReasonNew         Reason = "new"
	ReasonRetriggered Reason = "retriggered"
)

// Notification is a user-facing alert emitted by the dispatcher.
type Notification struct {
	Channel    Channel   `json:"channel"`
	Reason     Reason    `json:"reason"`
	At         time.Time `json:"at"`
	FrameIndex int       `json:"frame_index"`
}

// FrameResult is the per-frame output of a session.
type FrameResult struct {
	FrameIndex    int            `json:"frame_index"`
	Calibrating   bool           `json:"calibrating"`
	Flags         Flags          `json:"flags"`
	Notifications []Notification `json:"notifications"`
	Warning       string         `json:"warning,omitempty"`
}

// Summary is the end-of-session (or on-demand) output of a session.
type Summary struct {
	TotalFrames    int       `json:"total_frames"`
	RejectedFrames int       `json:"rejected_frames"`
	Baseline       *Baseline `json:"baseline"`
	Timeline       Timeline  `json:"timeline"`
}

// SessionRecord is the persisted view of a session.
type SessionRecord struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	FPS       float64   `json:"fps"`
	Finalized bool      `json:"finalized"`
	Summary
}

// Snapshot carries a record to the persistence workers. Done, when set, is
// called once with the save result.
type Snapshot struct {
	Record SessionRecord
	Done   func(error)
}
