package detector

import "github.com/okian/sitwell/internal/domain/model"

// Set groups the detectors of one session.
type Set struct {
	Blink    *Blink
	Sitting  *Sitting
	Distance *Distance
	Thoracic *Thoracic
	Timer    *Timer
}

// Update applies one frame to every detector. Channels are evaluated
// independently of each other.
func (s *Set) Update(f model.FeatureFrame, b *model.Baseline) model.Flags {
	return model.Flags{
		Blink:     s.Blink.Update(f),
		Sitting:   s.Sitting.Update(f),
		Distance:  s.Distance.Update(f, b),
		Thoracic:  s.Thoracic.Update(f, b),
		TimeLimit: s.Timer.Tick(),
	}
}

// Flags returns the current flags without applying a frame.
func (s *Set) Flags() model.Flags {
	return model.Flags{
		Blink:     s.Blink.Alert(),
		Sitting:   s.Sitting.Alert(),
		Distance:  s.Distance.Alert(),
		Thoracic:  s.Thoracic.Alert(),
		TimeLimit: s.Timer.Alert(),
	}
}

// Threshold returns the alert threshold in frames of a timeline channel.
func (s *Set) Threshold(ch model.Channel) int {
	switch ch {
	case model.ChannelBlink:
		return s.Blink.Threshold()
	case model.ChannelSitting:
		return s.Sitting.Threshold()
	case model.ChannelDistance:
		return s.Distance.Threshold()
	case model.ChannelThoracic:
		return s.Thoracic.Threshold()
	default:
		return 0
	}
}
