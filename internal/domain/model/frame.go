// Package model contains domain models passed between layers.
package model

// Channel names one alert stream of a session.
type Channel string

// Alert channels.
const (
	ChannelBlink     Channel = "blink"
	ChannelSitting   Channel = "sitting"
	ChannelDistance  Channel = "distance"
	ChannelThoracic  Channel = "thoracic"
	ChannelTimeLimit Channel = "time_limit_exceed"
)

// TimelineChannels are the channels whose on/off intervals are recorded.
var TimelineChannels = []Channel{ChannelBlink, ChannelSitting, ChannelDistance, ChannelThoracic} //nolint:gochecknoglobals // fixed channel set

// AllChannels are the channels evaluated by the dispatcher, in output order.
var AllChannels = []Channel{ChannelBlink, ChannelSitting, ChannelDistance, ChannelThoracic, ChannelTimeLimit} //nolint:gochecknoglobals // fixed channel set

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	for _, k := range AllChannels {
		if k == c {
			return true
		}
	}
	return false
}

// FeatureFrame is one sampled instant of ergonomics signals.
// Nil scalars mean the signal was not observed in this frame.
type FeatureFrame struct {
	Index            int      `json:"frame_index"`
	ShoulderPosition *float64 `json:"shoulder_position"`
	DiameterRight    *float64 `json:"diameter_right"`
	DiameterLeft     *float64 `json:"diameter_left"`
	EARRight         *float64 `json:"ear_right"`
	EARLeft          *float64 `json:"ear_left"`
	FaceDetected     bool     `json:"face_detected"`
}

// Baseline is the personal reference computed from the calibration frames.
type Baseline struct {
	ShoulderPosition *float64 `json:"shoulder_position"`
	DiameterRight    *float64 `json:"diameter_right"`
	DiameterLeft     *float64 `json:"diameter_left"`
}

// NearestDiameter returns the larger of the available baseline diameters.
func (b Baseline) NearestDiameter() (float64, bool) {
	return MaxOf(b.DiameterRight, b.DiameterLeft)
}

// MaxOf returns the largest non-nil value.
func MaxOf(vals ...*float64) (float64, bool) {
	var (
		best float64
		ok   bool
	)
	for _, v := range vals {
		if v == nil {
			continue
		}
		if !ok || *v > best {
			best, ok = *v, true
		}
	}
	return best, ok
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
