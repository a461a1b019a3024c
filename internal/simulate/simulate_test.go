package simulate_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/sitwell/internal/adapters/http/api"
	service "github.com/okian/sitwell/internal/app"
	"github.com/okian/sitwell/internal/domain/engine"
	"github.com/okian/sitwell/internal/domain/model"
	"github.com/okian/sitwell/internal/simulate"
	"github.com/okian/sitwell/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestScriptLayout(t *testing.T) {
	Convey("Given the default script at 15 fps", t, func() {
		s := simulate.DefaultScript()
		spans := s.Spans(15)

		Convey("Then phases should tile the frame indices", func() {
			So(spans, ShouldHaveLength, len(s.Phases))
			So(spans[0].First, ShouldEqual, 1)
			So(spans[0].Last, ShouldEqual, 90)
			for i := 1; i < len(spans); i++ {
				So(spans[i].First, ShouldEqual, spans[i-1].Last+1)
			}
			So(spans[len(spans)-1].Last, ShouldEqual, 603)
			So(s.Rejected(15), ShouldEqual, 3)
		})

		Convey("Then generation should follow the seed", func() {
			a := s.Generate(15, 7)
			So(a, ShouldHaveLength, 603)
			So(s.Generate(15, 7), ShouldResemble, a)
			So(s.Generate(15, 8), ShouldNotResemble, a)
		})

		Convey("Then settings should carry the frame rate", func() {
			raw, err := s.SettingsFor(10)
			So(err, ShouldBeNil)
			settings, err := engine.DefaultSettings().Overlay(raw)
			So(err, ShouldBeNil)
			So(settings.FPS, ShouldEqual, 10)
			So(settings.DistanceSeconds, ShouldEqual, 5)
		})
	})
}

func TestScriptThroughEngine(t *testing.T) {
	for _, fps := range []float64{15, 10} {
		Convey("Given the default script replayed through an engine session", t, func() {
			s := simulate.DefaultScript()
			raw, err := s.SettingsFor(fps)
			So(err, ShouldBeNil)
			settings, err := engine.DefaultSettings().Overlay(raw)
			So(err, ShouldBeNil)
			sess, err := engine.NewSession(settings)
			So(err, ShouldBeNil)

			now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
			for i, l := range s.Generate(fps, 1) {
				at := now.Add(time.Duration(float64(i) / fps * float64(time.Second)))
				f, err := l.Extract()
				if err != nil {
					_, err = sess.Skip(err)
				} else {
					_, err = sess.Process(at, f)
				}
				So(err, ShouldBeNil)
			}
			sum := sess.Finalize()

			Convey("Then every scripted alert should show up", func() {
				So(simulate.Verify(s, fps, sum), ShouldBeEmpty)
				So(sum.Timeline[model.ChannelSitting], ShouldBeEmpty)
			})
		})
	}
}

func TestVerifyMismatch(t *testing.T) {
	Convey("Given a summary without alerts", t, func() {
		s := simulate.DefaultScript()
		sum := model.Summary{
			TotalFrames: 600,
			Timeline:    model.Timeline{model.ChannelBlink: {{Start: 10, Open: true}}},
		}

		problems := simulate.Verify(s, 15, sum)

		Convey("Then every difference should be reported", func() {
			So(problems, ShouldContain, "total frames: want 603, got 600")
			So(problems, ShouldContain, "rejected frames: want 3, got 0")
			So(problems, ShouldContain, "baseline: missing shoulder position")
			So(problems, ShouldContain, "phase slouch: no thoracic alert in frames 91-165")
			So(problems, ShouldContain, "phase lean-in: no distance alert in frames 349-468")
			So(problems, ShouldContain, "blink: interval starting at 10 left open")
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a running service", t, func() {
		svc := service.New(service.WithWorkerCount(2))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()

		r := api.NewRouter()
		api.NewServer(svc, svc).Register(context.Background(), r)
		srv := httptest.NewServer(r)
		defer srv.Close()

		cfg := &simulate.Config{
			BaseURL:    srv.URL,
			Sessions:   3,
			Workers:    2,
			Mode:       simulate.ModeUpload,
			FPS:        15,
			Seed:       1,
			Timeout:    30 * time.Second,
			OutputFile: filepath.Join(t.TempDir(), "out", "outcomes.json"),
		}

		Convey("When users upload their recordings", func() {
			stats, outcomes, err := simulate.Run(context.Background(), cfg)

			Convey("Then every session should verify", func() {
				So(err, ShouldBeNil)
				So(stats.SessionsVerified, ShouldEqual, 3)
				So(stats.FramesSent, ShouldEqual, 3*603)
				for _, o := range outcomes {
					So(o.OK(), ShouldBeTrue)
				}
				So(cfg.OutputFile, ShouldNotBeEmpty)
			})
		})

		Convey("When users stream their sessions", func() {
			cfg.Mode = simulate.ModeStream
			cfg.Sessions = 2
			stats, _, err := simulate.Run(context.Background(), cfg)

			Convey("Then every session should verify", func() {
				So(err, ShouldBeNil)
				So(stats.SessionsVerified, ShouldEqual, 2)
			})
		})

		Convey("When the service is unreachable", func() {
			cfg.BaseURL = "http://127.0.0.1:1"
			_, _, err := simulate.Run(context.Background(), cfg)

			Convey("Then the run should fail the health check", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, simulate.ErrMismatch), ShouldBeFalse)
			})
		})
	})
}
