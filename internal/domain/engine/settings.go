package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/okian/sitwell/internal/domain/detector"
	"github.com/okian/sitwell/internal/domain/model"
)

// Cooldowns are per-channel notification cooldowns in seconds.
type Cooldowns struct {
	Blink     float64 `json:"blink" koanf:"blink"`
	Sitting   float64 `json:"sitting" koanf:"sitting"`
	Distance  float64 `json:"distance" koanf:"distance"`
	Thoracic  float64 `json:"thoracic" koanf:"thoracic"`
	TimeLimit float64 `json:"time_limit_exceed" koanf:"time_limit_exceed"`
}

// Durations returns the cooldowns keyed by channel.
func (c Cooldowns) Durations() map[model.Channel]time.Duration {
	return map[model.Channel]time.Duration{
		model.ChannelBlink:     seconds(c.Blink),
		model.ChannelSitting:   seconds(c.Sitting),
		model.ChannelDistance:  seconds(c.Distance),
		model.ChannelThoracic:  seconds(c.Thoracic),
		model.ChannelTimeLimit: seconds(c.TimeLimit),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Settings configure one session. Every field has a default and may be
// overridden per session.
type Settings struct {
	CalibrationFrames int     `json:"calibration_frames" koanf:"calibration_frames"`
	FPS               float64 `json:"fps" koanf:"fps"`

	BlinkSeconds      float64 `json:"blink_seconds" koanf:"blink_seconds"`
	SittingSeconds    float64 `json:"sitting_seconds" koanf:"sitting_seconds"`
	DistanceSeconds   float64 `json:"distance_seconds" koanf:"distance_seconds"`
	ThoracicSeconds   float64 `json:"thoracic_seconds" koanf:"thoracic_seconds"`
	SessionCapSeconds float64 `json:"session_cap_seconds" koanf:"session_cap_seconds"`
	NotSittingSeconds float64 `json:"not_sitting_seconds" koanf:"not_sitting_seconds"`

	EARLow  float64 `json:"ear_low" koanf:"ear_low"`
	EARHigh float64 `json:"ear_high" koanf:"ear_high"`

	ProximityFactor float64 `json:"proximity_factor" koanf:"proximity_factor"`
	// FocalLength in pixels switches the distance channel to centimetres when positive.
	FocalLength    float64 `json:"focal_length" koanf:"focal_length"`
	DistanceCapCm  float64 `json:"distance_cap_cm" koanf:"distance_cap_cm"`
	IrisDiameterCm float64 `json:"iris_diameter_cm" koanf:"iris_diameter_cm"`

	ThoracicMargin float64 `json:"thoracic_margin" koanf:"thoracic_margin"`

	Cooldowns Cooldowns `json:"cooldowns" koanf:"cooldowns"`
}

// DefaultSettings returns the stock session settings.
func DefaultSettings() Settings {
	return Settings{
		CalibrationFrames: 15,
		FPS:               15,
		BlinkSeconds:      5,
		SittingSeconds:    2700,
		DistanceSeconds:   30,
		ThoracicSeconds:   2,
		SessionCapSeconds: 7200,
		NotSittingSeconds: 5,
		EARLow:            0.4,
		EARHigh:           0.5,
		ProximityFactor:   1.10,
		DistanceCapCm:     40,
		IrisDiameterCm:    detector.DefaultIrisDiameterCm,
		ThoracicMargin:    0.05,
		Cooldowns: Cooldowns{
			Blink:     60,
			Sitting:   120,
			Distance:  60,
			Thoracic:  60,
			TimeLimit: 120,
		},
	}
}

// Validate reports every problem with s joined into one error. Each problem
// wraps ErrInvalidSettings.
func (s Settings) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidSettings}, args...)...))
	}

	if s.CalibrationFrames <= 0 {
		bad("calibration_frames must be positive, got %d", s.CalibrationFrames)
	}
	positive := []struct {
		name string
		v    float64
	}{
		{"fps", s.FPS},
		{"blink_seconds", s.BlinkSeconds},
		{"sitting_seconds", s.SittingSeconds},
		{"distance_seconds", s.DistanceSeconds},
		{"thoracic_seconds", s.ThoracicSeconds},
		{"session_cap_seconds", s.SessionCapSeconds},
		{"not_sitting_seconds", s.NotSittingSeconds},
		{"proximity_factor", s.ProximityFactor},
	}
	for _, p := range positive {
		if !finite(p.v) || p.v <= 0 {
			bad("%s must be a positive number, got %v", p.name, p.v)
		}
	}

	nonNegative := []struct {
		name string
		v    float64
	}{
		{"ear_low", s.EARLow},
		{"ear_high", s.EARHigh},
		{"focal_length", s.FocalLength},
		{"thoracic_margin", s.ThoracicMargin},
		{"cooldowns.blink", s.Cooldowns.Blink},
		{"cooldowns.sitting", s.Cooldowns.Sitting},
		{"cooldowns.distance", s.Cooldowns.Distance},
		{"cooldowns.thoracic", s.Cooldowns.Thoracic},
		{"cooldowns.time_limit_exceed", s.Cooldowns.TimeLimit},
	}
	for _, p := range nonNegative {
		if !finite(p.v) || p.v < 0 {
			bad("%s must be a non-negative number, got %v", p.name, p.v)
		}
	}

	if s.EARLow >= s.EARHigh {
		bad("ear_low (%v) must be below ear_high (%v)", s.EARLow, s.EARHigh)
	}
	if s.FocalLength > 0 {
		if !finite(s.DistanceCapCm) || s.DistanceCapCm <= 0 {
			bad("distance_cap_cm must be positive with a focal length, got %v", s.DistanceCapCm)
		}
		if !finite(s.IrisDiameterCm) || s.IrisDiameterCm <= 0 {
			bad("iris_diameter_cm must be positive with a focal length, got %v", s.IrisDiameterCm)
		}
	}
	return errors.Join(errs...)
}

// Overlay returns s with the fields present in raw replaced. Unknown fields
// are rejected. An empty overlay returns s unchanged.
func (s Settings) Overlay(raw json.RawMessage) (Settings, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return s, nil
	}
	out := s
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return s, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return out, nil
}

// Frames converts seconds to frames at the configured rate.
func (s Settings) Frames(seconds float64) int {
	return detector.Frames(seconds, s.FPS)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
