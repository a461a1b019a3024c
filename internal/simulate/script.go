package simulate

import (
	"encoding/json"
	"math"
	"math/rand/v2"

	"github.com/okian/sitwell/internal/domain/features"
	"github.com/okian/sitwell/internal/domain/model"
)

// Pose describes what the camera sees during a phase.
type Pose struct {
	Face     bool
	Shoulder float64 // normalized shoulder height, larger is lower
	EAR      float64 // open-eye aspect ratio
	Iris     float64 // normalized iris diameter, larger is nearer
	// BlinkEvery is the blink period in seconds; zero means the eyes never close.
	BlinkEvery float64
	// Glitch produces payloads without a faceDetect flag.
	Glitch bool
}

// Stock poses.
//
//nolint:gochecknoglobals // fixed poses
var (
	Upright  = Pose{Face: true, Shoulder: 0.50, EAR: 0.60, Iris: 0.030, BlinkEvery: 3}
	Slouched = Pose{Face: true, Shoulder: 0.58, EAR: 0.60, Iris: 0.030, BlinkEvery: 3}
	LeanIn   = Pose{Face: true, Shoulder: 0.50, EAR: 0.60, Iris: 0.040, BlinkEvery: 3}
	Staring  = Pose{Face: true, Shoulder: 0.50, EAR: 0.60, Iris: 0.030}
	Away     = Pose{}
	Glitch   = Pose{Glitch: true}
)

const closedEAR = 0.20

// Phase holds a pose for a number of seconds. Expect names the channels that
// must alert at some point during the phase.
type Phase struct {
	Name    string
	Seconds float64
	Pose    Pose
	Expect  []model.Channel
}

// Script is a scripted recording with the settings it is meant to run under.
type Script struct {
	Settings json.RawMessage
	Phases   []Phase
}

// Span is the 1-based frame range [First, Last] of a phase.
type Span struct {
	Phase
	First, Last int
}

// DefaultScript walks a user through every alert channel except the long
// sitting timer.
func DefaultScript() Script {
	return Script{
		Settings: json.RawMessage(`{"distance_seconds": 5}`),
		Phases: []Phase{
			{Name: "calibrate", Seconds: 6, Pose: Upright},
			{Name: "slouch", Seconds: 5, Pose: Slouched, Expect: []model.Channel{model.ChannelThoracic}},
			{Name: "recover", Seconds: 4, Pose: Upright},
			{Name: "stare", Seconds: 8, Pose: Staring, Expect: []model.Channel{model.ChannelBlink}},
			{Name: "glitch", Seconds: 0.2, Pose: Glitch},
			{Name: "lean-in", Seconds: 8, Pose: LeanIn, Expect: []model.Channel{model.ChannelDistance}},
			{Name: "away", Seconds: 6, Pose: Away},
			{Name: "return", Seconds: 3, Pose: Upright},
		},
	}
}

// Spans lays the phases out on frame indices at fps.
func (s Script) Spans(fps float64) []Span {
	out := make([]Span, 0, len(s.Phases))
	next := 1
	for _, p := range s.Phases {
		n := phaseFrames(p.Seconds, fps)
		out = append(out, Span{Phase: p, First: next, Last: next + n - 1})
		next += n
	}
	return out
}

// Rejected returns the number of frames the script sends without a usable payload.
func (s Script) Rejected(fps float64) int {
	var n int
	for _, sp := range s.Spans(fps) {
		if sp.Pose.Glitch {
			n += sp.Last - sp.First + 1
		}
	}
	return n
}

// Generate renders the script into landmark frames. Equal seeds give equal
// frames. Blinks follow one clock across phases so a blinking user never goes
// longer than one period without closing the eyes.
func (s Script) Generate(fps float64, seed uint64) []features.Landmarks {
	rng := rand.New(rand.NewPCG(seed, seed^0x5eed))
	var out []features.Landmarks
	for _, sp := range s.Spans(fps) {
		period := 0
		if sp.Pose.BlinkEvery > 0 {
			period = phaseFrames(sp.Pose.BlinkEvery, fps)
		}
		for idx := sp.First; idx <= sp.Last; idx++ {
			closed := period > 1 && idx%period == 0
			out = append(out, render(sp.Pose, closed, rng))
		}
	}
	return out
}

// SettingsFor returns the script settings with the frame rate set to fps.
func (s Script) SettingsFor(fps float64) (json.RawMessage, error) {
	settings := map[string]any{}
	if len(s.Settings) > 0 {
		if err := json.Unmarshal(s.Settings, &settings); err != nil {
			return nil, err
		}
	}
	settings["fps"] = fps
	return json.Marshal(settings)
}

func phaseFrames(seconds, fps float64) int {
	n := int(math.Round(seconds * fps))
	if n < 1 {
		return 1
	}
	return n
}

func jitter(rng *rand.Rand, amp float64) float64 {
	return (rng.Float64()*2 - 1) * amp
}

func render(p Pose, closed bool, rng *rand.Rand) features.Landmarks {
	if p.Glitch {
		return features.Landmarks{LeftShoulder: &features.Point{X: 0.3, Y: 0.5}}
	}
	face := p.Face
	l := features.Landmarks{FaceDetect: &face}
	if !p.Face {
		return l
	}

	y := p.Shoulder + jitter(rng, 0.003)
	l.LeftShoulder = &features.Point{X: 0.30, Y: y + jitter(rng, 0.001)}
	l.RightShoulder = &features.Point{X: 0.70, Y: y + jitter(rng, 0.001)}

	ear := p.EAR
	if closed {
		ear = closedEAR
	}
	iris := p.Iris + jitter(rng, 0.0003)
	l.RightEye = eye(0.40, 0.35, ear, [6]string{"33", "160", "158", "133", "153", "144"})
	l.LeftEye = eye(0.60, 0.35, ear, [6]string{"362", "385", "387", "263", "373", "380"})
	l.RightIris = irisPoints(0.40, 0.35, iris, "469", "471")
	l.LeftIris = irisPoints(0.60, 0.35, iris, "474", "476")
	return l
}

// eye places six contour points so that (|p2-p6| + |p3-p5|) / |p1-p4| == ear.
func eye(cx, cy, ear float64, idx [6]string) map[string]*features.Point {
	const width = 0.06
	h := ear * width / 2
	return map[string]*features.Point{
		idx[0]: {X: cx - width/2, Y: cy},
		idx[1]: {X: cx - width/6, Y: cy - h/2},
		idx[2]: {X: cx + width/6, Y: cy - h/2},
		idx[3]: {X: cx + width/2, Y: cy},
		idx[4]: {X: cx + width/6, Y: cy + h/2},
		idx[5]: {X: cx - width/6, Y: cy + h/2},
	}
}

func irisPoints(cx, cy, d float64, a, b string) map[string]*features.Point {
	return map[string]*features.Point{
		a: {X: cx - d/2, Y: cy},
		b: {X: cx + d/2, Y: cy},
	}
}
