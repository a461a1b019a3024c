// Package dispatch turns per-frame alert flags into rate-limited notifications.
package dispatch

import (
	"time"

	"github.com/okian/sitwell/internal/domain/model"
)

type cooldownState struct {
	notifying   bool
	lastTrigger time.Time
}

// Dispatcher gates notifications per channel with an independent cooldown.
type Dispatcher struct {
	cooldowns map[model.Channel]time.Duration
	state     map[model.Channel]*cooldownState
}

// New creates a dispatcher. Channels missing from cooldowns use a zero
// cooldown, which re-notifies on every frame the flag stays up.
func New(cooldowns map[model.Channel]time.Duration) *Dispatcher {
	d := &Dispatcher{
		cooldowns: make(map[model.Channel]time.Duration, len(model.AllChannels)),
		state:     make(map[model.Channel]*cooldownState, len(model.AllChannels)),
	}
	for _, ch := range model.AllChannels {
		d.cooldowns[ch] = cooldowns[ch]
		d.state[ch] = &cooldownState{}
	}
	return d
}

// Evaluate applies the flags observed at now and returns the notifications to
// deliver, in channel order. frameIndex is stamped on each notification.
func (d *Dispatcher) Evaluate(flags model.Flags, now time.Time, frameIndex int) []model.Notification {
	var out []model.Notification
	for _, ch := range model.AllChannels {
		st := d.state[ch]
		on := flags.Get(ch)
		switch {
		case on && !st.notifying:
			st.notifying = true
			st.lastTrigger = now
			out = append(out, model.Notification{Channel: ch, Reason: model.ReasonNew, At: now, FrameIndex: frameIndex})
		case !on && st.notifying:
			st.notifying = false
			st.lastTrigger = time.Time{}
		case on && now.Sub(st.lastTrigger) >= d.cooldowns[ch]:
			st.lastTrigger = now
			out = append(out, model.Notification{Channel: ch, Reason: model.ReasonRetriggered, At: now, FrameIndex: frameIndex})
		}
	}
	return out
}

// Notifying reports whether ch currently has an active notification.
func (d *Dispatcher) Notifying(ch model.Channel) bool {
	st, ok := d.state[ch]
	return ok && st.notifying
}
