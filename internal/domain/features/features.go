// Package features converts face and pose landmarks into engine feature frames.
package features

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/okian/sitwell/internal/domain/engine"
	"github.com/okian/sitwell/internal/domain/model"
)

// Point is a normalized landmark position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) vec() r2.Vec { return r2.Vec{X: p.X, Y: p.Y} }

// Landmarks is one frame of tracked landmarks keyed by mesh index.
type Landmarks struct {
	LeftShoulder  *Point            `json:"leftShoulder"`
	RightShoulder *Point            `json:"rightShoulder"`
	RightEye      map[string]*Point `json:"rightEye"`
	LeftEye       map[string]*Point `json:"leftEye"`
	RightIris     map[string]*Point `json:"rightIris"`
	LeftIris      map[string]*Point `json:"leftIris"`
	FaceDetect    *bool             `json:"faceDetect"`
}

// Eye contour indices in p1..p6 order: p1 and p4 are the corners, p2/p6 and
// p3/p5 are the vertical pairs.
//
//nolint:gochecknoglobals // mesh layout
var (
	rightEyeIdx  = [6]string{"33", "160", "158", "133", "153", "144"}
	leftEyeIdx   = [6]string{"362", "385", "387", "263", "373", "380"}
	rightIrisIdx = [2]string{"469", "471"}
	leftIrisIdx  = [2]string{"474", "476"}
)

// Parse decodes a landmark payload and extracts its features.
func Parse(raw json.RawMessage) (model.FeatureFrame, error) {
	var l Landmarks
	if err := json.Unmarshal(raw, &l); err != nil {
		return model.FeatureFrame{}, fmt.Errorf("%w: %w", engine.ErrMalformedFrame, err)
	}
	return l.Extract()
}

// Extract computes the feature frame. Missing landmarks give nil features;
// a missing faceDetect flag is malformed.
func (l Landmarks) Extract() (model.FeatureFrame, error) {
	if l.FaceDetect == nil {
		return model.FeatureFrame{}, fmt.Errorf("%w: faceDetect is required", engine.ErrMalformedFrame)
	}
	return model.FeatureFrame{
		ShoulderPosition: l.shoulder(),
		EARRight:         ear(l.RightEye, rightEyeIdx),
		EARLeft:          ear(l.LeftEye, leftEyeIdx),
		DiameterRight:    diameter(l.RightIris, rightIrisIdx),
		DiameterLeft:     diameter(l.LeftIris, leftIrisIdx),
		FaceDetected:     *l.FaceDetect,
	}, nil
}

func (l Landmarks) shoulder() *float64 {
	switch {
	case l.LeftShoulder != nil && l.RightShoulder != nil:
		return model.Float((l.LeftShoulder.Y + l.RightShoulder.Y) / 2)
	case l.LeftShoulder != nil:
		return model.Float(l.LeftShoulder.Y)
	case l.RightShoulder != nil:
		return model.Float(l.RightShoulder.Y)
	default:
		return nil
	}
}

// ear is (|p2-p6| + |p3-p5|) / |p1-p4|.
func ear(eye map[string]*Point, idx [6]string) *float64 {
	var p [6]r2.Vec
	for i, k := range idx {
		pt := eye[k]
		if pt == nil {
			return nil
		}
		p[i] = pt.vec()
	}
	width := dist(p[0], p[3])
	if width == 0 {
		return nil
	}
	return model.Float((dist(p[1], p[5]) + dist(p[2], p[4])) / width)
}

func diameter(iris map[string]*Point, idx [2]string) *float64 {
	a, b := iris[idx[0]], iris[idx[1]]
	if a == nil || b == nil {
		return nil
	}
	return model.Float(dist(a.vec(), b.vec()))
}

func dist(a, b r2.Vec) float64 { return r2.Norm(r2.Sub(a, b)) }
