package calibration_test

import (
	"testing"

	"github.com/okian/sitwell/internal/domain/calibration"
	"github.com/okian/sitwell/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func frame(shoulder, right, left *float64) model.FeatureFrame {
	return model.FeatureFrame{ShoulderPosition: shoulder, DiameterRight: right, DiameterLeft: left, FaceDetected: true}
}

func TestCalibrator(t *testing.T) {
	convey.Convey("Given a calibrator over 4 frames", t, func() {
		c := calibration.New(4)

		convey.Convey("When frames with gaps are observed", func() {
			done := []bool{
				c.Observe(frame(model.Float(0.4), model.Float(10), nil)),
				c.Observe(frame(model.Float(0.6), nil, nil)),
				c.Observe(frame(nil, model.Float(14), nil)),
			}
			convey.So(c.Done(), convey.ShouldBeFalse)
			convey.So(c.Baseline(), convey.ShouldBeNil)
			done = append(done, c.Observe(frame(model.Float(0.5), nil, nil)))

			convey.Convey("Then only the last frame should complete calibration", func() {
				convey.So(done, convey.ShouldResemble, []bool{false, false, false, true})
			})

			convey.Convey("Then nulls should be excluded from each mean", func() {
				b := c.Baseline()
				convey.So(*b.ShoulderPosition, convey.ShouldAlmostEqual, 0.5)
				convey.So(*b.DiameterRight, convey.ShouldAlmostEqual, 12)
				convey.So(b.DiameterLeft, convey.ShouldBeNil)
				convey.So(c.Complete(), convey.ShouldBeFalse)
			})

			convey.Convey("Then later frames should not move the baseline", func() {
				convey.So(c.Observe(frame(model.Float(9), model.Float(99), model.Float(99))), convey.ShouldBeFalse)
				b := c.Baseline()
				convey.So(*b.ShoulderPosition, convey.ShouldAlmostEqual, 0.5)
				convey.So(b.DiameterLeft, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a rejected frame takes a calibration slot", func() {
			c.Observe(frame(model.Float(1), model.Float(1), model.Float(1)))
			c.Skip()
			c.Skip()
			done := c.Observe(frame(model.Float(3), model.Float(3), model.Float(3)))

			convey.Convey("Then calibration should end on schedule with the valid frames", func() {
				convey.So(done, convey.ShouldBeTrue)
				convey.So(*c.Baseline().ShoulderPosition, convey.ShouldAlmostEqual, 2)
				convey.So(c.Complete(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given two calibrators fed the same frames", t, func() {
		a, b := calibration.New(3), calibration.New(3)
		for i := 0; i < 3; i++ {
			f := frame(model.Float(float64(i)*0.1), model.Float(float64(10+i)), nil)
			a.Observe(f)
			b.Observe(f)
		}

		convey.Convey("Then they should produce the same baseline", func() {
			convey.So(a.Baseline(), convey.ShouldResemble, b.Baseline())
		})
	})
}
