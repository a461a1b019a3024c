package dispatch_test

import (
	"testing"
	"time"

	"github.com/okian/sitwell/internal/domain/dispatch"
	"github.com/okian/sitwell/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestDispatcher(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	convey.Convey("Given a dispatcher with a 60s blink cooldown", t, func() {
		d := dispatch.New(map[model.Channel]time.Duration{
			model.ChannelBlink:   time.Minute,
			model.ChannelSitting: 2 * time.Minute,
		})

		convey.Convey("When the blink flag rises", func() {
			got := d.Evaluate(model.Flags{Blink: true}, start, 100)

			convey.Convey("Then a new notification should be emitted", func() {
				convey.So(got, convey.ShouldResemble, []model.Notification{
					{Channel: model.ChannelBlink, Reason: model.ReasonNew, At: start, FrameIndex: 100},
				})
				convey.So(d.Notifying(model.ChannelBlink), convey.ShouldBeTrue)
			})

			convey.Convey("Then frames inside the cooldown should stay silent", func() {
				convey.So(d.Evaluate(model.Flags{Blink: true}, start.Add(59*time.Second), 101), convey.ShouldBeEmpty)
			})

			convey.Convey("Then the cooldown boundary should retrigger", func() {
				got := d.Evaluate(model.Flags{Blink: true}, start.Add(time.Minute), 102)
				convey.So(got, convey.ShouldHaveLength, 1)
				convey.So(got[0].Reason, convey.ShouldEqual, model.ReasonRetriggered)
			})

			convey.Convey("Then clearing the flag should emit nothing and rearm", func() {
				convey.So(d.Evaluate(model.Flags{}, start.Add(time.Second), 103), convey.ShouldBeEmpty)
				convey.So(d.Notifying(model.ChannelBlink), convey.ShouldBeFalse)
				got := d.Evaluate(model.Flags{Blink: true}, start.Add(2*time.Second), 104)
				convey.So(got[0].Reason, convey.ShouldEqual, model.ReasonNew)
			})
		})

		convey.Convey("When several channels rise together", func() {
			got := d.Evaluate(model.Flags{Sitting: true, Blink: true, TimeLimit: true}, start, 1)

			convey.Convey("Then each should notify independently in channel order", func() {
				convey.So(got, convey.ShouldHaveLength, 3)
				convey.So(got[0].Channel, convey.ShouldEqual, model.ChannelBlink)
				convey.So(got[1].Channel, convey.ShouldEqual, model.ChannelSitting)
				convey.So(got[2].Channel, convey.ShouldEqual, model.ChannelTimeLimit)
			})
		})
	})
}

func TestDispatcherRateLimit(t *testing.T) {
	convey.Convey("Given a flag held for D seconds at 15 fps", t, func() {
		start := time.Unix(0, 0).UTC()
		cooldown := 60 * time.Second

		for _, seconds := range []int{0, 59, 60, 61, 299, 300, 301} {
			d := dispatch.New(map[model.Channel]time.Duration{model.ChannelThoracic: cooldown})
			frames := seconds*15 + 1
			count := 0
			for i := 0; i < frames; i++ {
				now := start.Add(time.Duration(i) * time.Second / 15)
				count += len(d.Evaluate(model.Flags{Thoracic: true}, now, i))
			}
			dur := time.Duration(frames-1) * time.Second / 15

			convey.So(count, convey.ShouldEqual, int(dur/cooldown)+1)
		}
	})
}
