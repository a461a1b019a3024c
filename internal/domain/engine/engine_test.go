package engine_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/okian/sitwell/internal/domain/engine"
	"github.com/okian/sitwell/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

var epoch = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func at(i int, fps float64) time.Time {
	return epoch.Add(time.Duration(float64(i) / fps * float64(time.Second)))
}

func present() model.FeatureFrame { return model.FeatureFrame{FaceDetected: true} }

func TestSettings(t *testing.T) {
	convey.Convey("Given default settings", t, func() {
		s := engine.DefaultSettings()

		convey.Convey("Then they should be valid", func() {
			convey.So(s.Validate(), convey.ShouldBeNil)
			convey.So(s.Frames(s.SittingSeconds), convey.ShouldEqual, 40500)
		})

		convey.Convey("When several fields are invalid", func() {
			s.CalibrationFrames = 0
			s.FPS = -1
			s.BlinkSeconds = -5
			s.EARLow = 0.6
			s.ProximityFactor = 0
			s.FocalLength = -10
			err := s.Validate()

			convey.Convey("Then every problem should be reported", func() {
				convey.So(errors.Is(err, engine.ErrInvalidSettings), convey.ShouldBeTrue)
				for _, field := range []string{"calibration_frames", "fps", "blink_seconds", "ear_low", "proximity_factor", "focal_length"} {
					convey.So(err.Error(), convey.ShouldContainSubstring, field)
				}
			})
		})

		convey.Convey("When a focal length is set without a distance cap", func() {
			s.FocalLength = 650
			s.DistanceCapCm = 0

			convey.Convey("Then validation should fail", func() {
				convey.So(s.Validate(), convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When a value is not finite", func() {
			s.ThoracicMargin = math.NaN()
			convey.So(errors.Is(s.Validate(), engine.ErrInvalidSettings), convey.ShouldBeTrue)
		})

		convey.Convey("When overrides are overlaid", func() {
			out, err := s.Overlay(json.RawMessage(`{"fps": 30, "cooldowns": {"blink": 10}}`))

			convey.Convey("Then only the given fields should change", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out.FPS, convey.ShouldEqual, 30)
				convey.So(out.Cooldowns.Blink, convey.ShouldEqual, 10)
				convey.So(out.Cooldowns.Sitting, convey.ShouldEqual, 120)
				convey.So(out.CalibrationFrames, convey.ShouldEqual, 15)
				convey.So(s.FPS, convey.ShouldEqual, 15)
			})
		})

		convey.Convey("When overrides carry an unknown field", func() {
			_, err := s.Overlay(json.RawMessage(`{"fsp": 30}`))
			convey.So(errors.Is(err, engine.ErrInvalidSettings), convey.ShouldBeTrue)
		})

		convey.Convey("When the overlay is empty", func() {
			out, err := s.Overlay(json.RawMessage(` null `))
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldResemble, s)
		})

		convey.Convey("Then cooldowns should convert to durations", func() {
			d := s.Cooldowns.Durations()
			convey.So(d[model.ChannelBlink], convey.ShouldEqual, time.Minute)
			convey.So(d[model.ChannelTimeLimit], convey.ShouldEqual, 2*time.Minute)
		})
	})
}

func TestNewSession(t *testing.T) {
	convey.Convey("Given invalid settings", t, func() {
		s := engine.DefaultSettings()
		s.CalibrationFrames = 0
		sess, err := engine.NewSession(s)

		convey.Convey("Then no session should be created", func() {
			convey.So(sess, convey.ShouldBeNil)
			convey.So(errors.Is(err, engine.ErrInvalidSettings), convey.ShouldBeTrue)
		})
	})
}

func TestCalibrationPhase(t *testing.T) {
	convey.Convey("Given a session calibrating over 3 frames", t, func() {
		s := engine.DefaultSettings()
		s.CalibrationFrames = 3
		sess, err := engine.NewSession(s)
		convey.So(err, convey.ShouldBeNil)

		slouch := model.FeatureFrame{FaceDetected: true, ShoulderPosition: model.Float(0.9)}
		var results []model.FrameResult
		for i := 0; i < 3; i++ {
			r, err := sess.Process(at(i, s.FPS), model.FeatureFrame{FaceDetected: true, ShoulderPosition: model.Float(0.5)})
			convey.So(err, convey.ShouldBeNil)
			results = append(results, r)
		}

		convey.Convey("Then calibration frames should not be detected", func() {
			for i, r := range results {
				convey.So(r.FrameIndex, convey.ShouldEqual, i+1)
				convey.So(r.Calibrating, convey.ShouldBeTrue)
				convey.So(r.Flags, convey.ShouldResemble, model.Flags{})
			}
			convey.So(sess.Detectors().Sitting.Run(), convey.ShouldEqual, 0)
			convey.So(*sess.Snapshot().Baseline.ShoulderPosition, convey.ShouldAlmostEqual, 0.5)
		})

		convey.Convey("When the first detection frame arrives", func() {
			r, _ := sess.Process(at(3, s.FPS), slouch)

			convey.Convey("Then detectors should run", func() {
				convey.So(r.Calibrating, convey.ShouldBeFalse)
				convey.So(r.FrameIndex, convey.ShouldEqual, 4)
				convey.So(sess.Detectors().Sitting.Run(), convey.ShouldEqual, 1)
				convey.So(sess.Detectors().Thoracic.Run(), convey.ShouldEqual, 1)
			})
		})
	})
}

func TestSittingScenario(t *testing.T) {
	convey.Convey("Given a 15 fps session with the default sitting threshold", t, func() {
		s := engine.DefaultSettings()
		sess, err := engine.NewSession(s)
		convey.So(err, convey.ShouldBeNil)

		for i := 0; i < s.CalibrationFrames; i++ {
			_, _ = sess.Process(at(i, s.FPS), present())
		}

		convey.Convey("When the user stays present for 40501 frames", func() {
			tripped := 0
			var notes []model.Notification
			for n := 1; n <= 40501; n++ {
				idx := s.CalibrationFrames + n
				r, err := sess.Process(at(idx, s.FPS), present())
				if err != nil {
					t.Fatalf("frame %d: %v", idx, err)
				}
				if r.Flags.Sitting && tripped == 0 {
					tripped = n
				}
				notes = append(notes, r.Notifications...)
			}

			convey.Convey("Then the flag should trip on the frame reaching 2700 s", func() {
				convey.So(tripped, convey.ShouldEqual, 40500)
			})

			convey.Convey("Then one backdated open interval should be recorded", func() {
				iv := sess.Snapshot().Timeline[model.ChannelSitting]
				convey.So(iv, convey.ShouldResemble, []model.Interval{{Start: s.CalibrationFrames + 40500 - 40500, Open: true}})
			})

			convey.Convey("Then exactly one new sitting notification should be sent", func() {
				convey.So(notes, convey.ShouldHaveLength, 1)
				convey.So(notes[0].Channel, convey.ShouldEqual, model.ChannelSitting)
				convey.So(notes[0].Reason, convey.ShouldEqual, model.ReasonNew)
				convey.So(notes[0].FrameIndex, convey.ShouldEqual, s.CalibrationFrames+40500)
			})
		})
	})
}

func TestBlinkScenario(t *testing.T) {
	convey.Convey("Given a session fed an EAR sequence after calibration", t, func() {
		s := engine.DefaultSettings()
		s.CalibrationFrames = 2
		sess, _ := engine.NewSession(s)
		for i := 0; i < 2; i++ {
			_, _ = sess.Process(at(i, s.FPS), present())
		}

		var runs []int
		for i, ear := range []float64{0.6, 0.6, 0.3, 0.3, 0.6, 0.6} {
			_, _ = sess.Process(at(i+2, s.FPS), model.FeatureFrame{FaceDetected: true, EARRight: model.Float(ear), EARLeft: model.Float(ear)})
			runs = append(runs, sess.Detectors().Blink.Run())
		}

		convey.Convey("Then the blink run-length should follow the hysteresis", func() {
			convey.So(runs, convey.ShouldResemble, []int{1, 2, 3, 4, 0, 1})
		})
	})
}

func TestMalformedFrames(t *testing.T) {
	convey.Convey("Given a calibrated session", t, func() {
		s := engine.DefaultSettings()
		s.CalibrationFrames = 1
		s.FPS = 1
		s.SessionCapSeconds = 3
		sess, _ := engine.NewSession(s)
		_, _ = sess.Process(epoch, present())

		convey.Convey("When a frame carries a NaN EAR", func() {
			_, _ = sess.Process(at(1, 1), present())
			r, err := sess.Process(at(2, 1), model.FeatureFrame{FaceDetected: true, EARLeft: model.Float(math.NaN())})

			convey.Convey("Then it should be skipped with a warning and the index should advance", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(r.FrameIndex, convey.ShouldEqual, 3)
				convey.So(r.Warning, convey.ShouldContainSubstring, "malformed frame")
				convey.So(r.Notifications, convey.ShouldBeEmpty)
				convey.So(sess.Detectors().Sitting.Run(), convey.ShouldEqual, 1)
				convey.So(sess.Snapshot().RejectedFrames, convey.ShouldEqual, 1)
			})

			convey.Convey("Then the session timer should still count it", func() {
				convey.So(sess.Detectors().Timer.Count(), convey.ShouldEqual, 2)
				r, _ := sess.Process(at(3, 1), present())
				convey.So(r.Flags.TimeLimit, convey.ShouldBeTrue)
				convey.So(r.Notifications, convey.ShouldContain, model.Notification{
					Channel: model.ChannelTimeLimit, Reason: model.ReasonNew, At: at(3, 1), FrameIndex: 4,
				})
			})
		})

		convey.Convey("When an upstream decoder rejects a frame", func() {
			r, err := sess.Skip(errors.New("bad landmarks"))

			convey.Convey("Then the result should carry the cause", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(r.Warning, convey.ShouldEqual, "bad landmarks")
				convey.So(sess.Frames(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("Then negative scalars should be malformed", func() {
			err := engine.CheckFrame(model.FeatureFrame{DiameterRight: model.Float(-1)})
			convey.So(errors.Is(err, engine.ErrMalformedFrame), convey.ShouldBeTrue)
			convey.So(engine.CheckFrame(model.FeatureFrame{DiameterRight: model.Float(3)}), convey.ShouldBeNil)
		})
	})
}

func TestFinalize(t *testing.T) {
	convey.Convey("Given a session with an ongoing thoracic alert", t, func() {
		s := engine.DefaultSettings()
		s.CalibrationFrames = 2
		s.FPS = 1
		s.ThoracicSeconds = 2
		s.Cooldowns.Thoracic = 5
		sess, _ := engine.NewSession(s)
		for i := 0; i < 2; i++ {
			_, _ = sess.Process(at(i, 1), model.FeatureFrame{FaceDetected: true, ShoulderPosition: model.Float(0.5)})
		}

		var notes []model.Notification
		for i := 2; i < 12; i++ {
			r, _ := sess.Process(at(i, 1), model.FeatureFrame{FaceDetected: true, ShoulderPosition: model.Float(0.6)})
			notes = append(notes, r.Notifications...)
		}

		convey.Convey("Then notifications should respect the cooldown", func() {
			want := []model.Notification{
				{Channel: model.ChannelThoracic, Reason: model.ReasonNew, At: at(3, 1), FrameIndex: 4},
				{Channel: model.ChannelThoracic, Reason: model.ReasonRetriggered, At: at(8, 1), FrameIndex: 9},
			}
			if diff := cmp.Diff(want, notes); diff != "" {
				t.Errorf("notifications (-want +got):\n%s", diff)
			}
		})

		convey.Convey("When the session is finalized twice", func() {
			first := sess.Finalize()
			second := sess.Finalize()

			convey.Convey("Then the open interval should close at the last frame once", func() {
				convey.So(first, convey.ShouldResemble, second)
				convey.So(first.TotalFrames, convey.ShouldEqual, 12)
				convey.So(first.Timeline[model.ChannelThoracic], convey.ShouldResemble, []model.Interval{{Start: 2, End: 12}})
				convey.So(sess.Finalized(), convey.ShouldBeTrue)
			})

			convey.Convey("Then further frames should be refused", func() {
				_, err := sess.Process(at(20, 1), present())
				convey.So(errors.Is(err, engine.ErrSessionFinalized), convey.ShouldBeTrue)
				_, err = sess.Skip(errors.New("late"))
				convey.So(errors.Is(err, engine.ErrSessionFinalized), convey.ShouldBeTrue)
			})
		})
	})
}
