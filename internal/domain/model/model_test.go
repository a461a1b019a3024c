package model_test

import (
	"encoding/json"
	"testing"

	model "github.com/okian/sitwell/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestInterval(t *testing.T) {
	convey.Convey("Given timeline intervals", t, func() {
		convey.Convey("When an interval is open", func() {
			iv := model.Interval{Start: 10, Open: true}
			b, err := json.Marshal(iv)

			convey.Convey("Then it should encode a null end", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(string(b), convey.ShouldEqual, "[10,null]")
				convey.So(iv.Len(25), convey.ShouldEqual, 15)
			})
		})

		convey.Convey("When a timeline is decoded", func() {
			var tl model.Timeline
			err := json.Unmarshal([]byte(`{"blink":[[0,4],[9,null]]}`), &tl)

			convey.Convey("Then closed and open intervals should be restored", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(tl[model.ChannelBlink], convey.ShouldResemble, []model.Interval{
					{Start: 0, End: 4},
					{Start: 9, Open: true},
				})
			})
		})

		convey.Convey("When an interval has the wrong shape", func() {
			var iv model.Interval
			err := json.Unmarshal([]byte(`[1]`), &iv)

			convey.Convey("Then decoding should fail", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When a timeline is cloned", func() {
			tl := model.Timeline{model.ChannelSitting: {{Start: 1, End: 2}}}
			cp := tl.Clone()
			cp[model.ChannelSitting][0].End = 99

			convey.Convey("Then the original should be untouched", func() {
				convey.So(tl[model.ChannelSitting][0].End, convey.ShouldEqual, 2)
			})
		})
	})
}

func TestFlagsAndBaseline(t *testing.T) {
	convey.Convey("Given alert flags", t, func() {
		f := model.Flags{Blink: true, TimeLimit: true}

		convey.Convey("Then Get should follow the channel", func() {
			convey.So(f.Get(model.ChannelBlink), convey.ShouldBeTrue)
			convey.So(f.Get(model.ChannelSitting), convey.ShouldBeFalse)
			convey.So(f.Get(model.ChannelTimeLimit), convey.ShouldBeTrue)
			convey.So(f.Get(model.Channel("posture")), convey.ShouldBeFalse)
		})

		convey.Convey("Then the wire names should be stable", func() {
			b, err := json.Marshal(f)
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(b), convey.ShouldEqual,
				`{"blink_alert":true,"sitting_alert":false,"distance_alert":false,"thoracic_alert":false,"time_limit_exceed":true}`)
		})
	})

	convey.Convey("Given a baseline", t, func() {
		convey.Convey("When only the left diameter is known", func() {
			b := model.Baseline{DiameterLeft: model.Float(12)}
			d, ok := b.NearestDiameter()
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(d, convey.ShouldEqual, 12)
		})

		convey.Convey("When no diameter is known", func() {
			_, ok := model.Baseline{}.NearestDiameter()
			convey.So(ok, convey.ShouldBeFalse)
		})
	})

	convey.Convey("Given channel names", t, func() {
		convey.So(model.ChannelDistance.Valid(), convey.ShouldBeTrue)
		convey.So(model.Channel("slouch").Valid(), convey.ShouldBeFalse)
		convey.So(model.TimelineChannels, convey.ShouldNotContain, model.ChannelTimeLimit)
	})
}
