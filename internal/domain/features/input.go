package features

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/okian/sitwell/internal/domain/engine"
	"github.com/okian/sitwell/internal/domain/model"
)

// Input is one client frame: either raw landmarks in Data or precomputed
// Features. Features wins when both are set.
type Input struct {
	Data     json.RawMessage `json:"data,omitempty"`
	Features *Precomputed    `json:"features,omitempty"`
}

// Precomputed is a feature frame computed by the client. Like faceDetect on
// landmarks, face_detected must be present.
type Precomputed struct {
	ShoulderPosition *float64 `json:"shoulder_position"`
	DiameterRight    *float64 `json:"diameter_right"`
	DiameterLeft     *float64 `json:"diameter_left"`
	EARRight         *float64 `json:"ear_right"`
	EARLeft          *float64 `json:"ear_left"`
	FaceDetected     *bool    `json:"face_detected"`
}

// FromFrame wraps an engine frame for sending as precomputed features.
func FromFrame(f model.FeatureFrame) *Precomputed { //nolint:gocritic // hugeParam
	face := f.FaceDetected
	return &Precomputed{
		ShoulderPosition: f.ShoulderPosition,
		DiameterRight:    f.DiameterRight,
		DiameterLeft:     f.DiameterLeft,
		EARRight:         f.EARRight,
		EARLeft:          f.EARLeft,
		FaceDetected:     &face,
	}
}

// Extract returns the engine frame; a missing face_detected is malformed.
func (p Precomputed) Extract() (model.FeatureFrame, error) {
	if p.FaceDetected == nil {
		return model.FeatureFrame{}, fmt.Errorf("%w: face_detected is required", engine.ErrMalformedFrame)
	}
	return model.FeatureFrame{
		ShoulderPosition: p.ShoulderPosition,
		DiameterRight:    p.DiameterRight,
		DiameterLeft:     p.DiameterLeft,
		EARRight:         p.EARRight,
		EARLeft:          p.EARLeft,
		FaceDetected:     *p.FaceDetected,
	}, nil
}

// UnmarshalJSON accepts either the {"data", "features"} envelope or a bare
// landmark payload. Anything else is kept as Data and fails in Decode.
func (in *Input) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(b, &keys); err == nil {
		_, hasData := keys["data"]
		_, hasFeatures := keys["features"]
		if hasData || hasFeatures {
			type envelope Input
			var env envelope
			if err := json.Unmarshal(b, &env); err != nil {
				return err
			}
			*in = Input(env)
			return nil
		}
	}

	in.Data = append(json.RawMessage(nil), b...)
	in.Features = nil
	return nil
}

// Decode returns the feature frame carried by in.
func (in Input) Decode() (model.FeatureFrame, error) {
	if in.Features != nil {
		return in.Features.Extract()
	}
	data := bytes.TrimSpace(in.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return model.FeatureFrame{}, fmt.Errorf("%w: frame carries neither data nor features", engine.ErrMalformedFrame)
	}
	return Parse(data)
}
