package repository_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/okian/sitwell/internal/adapters/repository"
	"github.com/okian/sitwell/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

func record(id string, frames int, final bool) model.SessionRecord {
	return model.SessionRecord{
		ID:        id,
		StartedAt: t0,
		UpdatedAt: t0.Add(time.Duration(frames) * time.Second),
		FPS:       15,
		Finalized: final,
		Summary: model.Summary{
			TotalFrames: frames,
			Baseline:    &model.Baseline{ShoulderPosition: model.Float(0.5)},
			Timeline: model.Timeline{
				model.ChannelBlink:    {{Start: 1, End: 5}, {Start: 9, Open: !final, End: endIf(final, frames)}},
				model.ChannelSitting:  {},
				model.ChannelDistance: {},
				model.ChannelThoracic: {},
			},
		},
	}
}

func endIf(final bool, frames int) int {
	if final {
		return frames
	}
	return 0
}

func storeContract(t *testing.T, name string, open func() repository.Store) {
	ctx := context.Background()

	Convey("Given a "+name+" store", t, func() {
		s := open()
		Reset(func() { _ = s.Close() })

		Convey("When a record is saved and read back", func() {
			rec := record("s-1", 30, false)
			stored, err := s.Save(ctx, rec)
			So(err, ShouldBeNil)
			So(stored, ShouldBeTrue)

			got, err := s.Get(ctx, "s-1")

			Convey("Then it should round-trip unchanged", func() {
				So(err, ShouldBeNil)
				if diff := cmp.Diff(rec, got); diff != "" {
					t.Errorf("record (-want +got):\n%s", diff)
				}
				So(s.Count(ctx), ShouldEqual, 1)
			})
		})

		Convey("When an older snapshot arrives late", func() {
			_, _ = s.Save(ctx, record("s-1", 60, false))
			stored, err := s.Save(ctx, record("s-1", 30, false))

			Convey("Then it should be ignored", func() {
				So(err, ShouldBeNil)
				So(stored, ShouldBeFalse)
				got, _ := s.Get(ctx, "s-1")
				So(got.TotalFrames, ShouldEqual, 60)
			})
		})

		Convey("When a snapshot arrives after finalization", func() {
			_, _ = s.Save(ctx, record("s-1", 60, true))
			stored, _ := s.Save(ctx, record("s-1", 90, false))

			Convey("Then the final record should be kept", func() {
				So(stored, ShouldBeFalse)
				got, _ := s.Get(ctx, "s-1")
				So(got.Finalized, ShouldBeTrue)
				So(got.TotalFrames, ShouldEqual, 60)
			})
		})

		Convey("When the final record replaces a snapshot with the same frame count", func() {
			_, _ = s.Save(ctx, record("s-1", 60, false))
			stored, _ := s.Save(ctx, record("s-1", 60, true))

			Convey("Then it should be stored", func() {
				So(stored, ShouldBeTrue)
				got, _ := s.Get(ctx, "s-1")
				So(got.Finalized, ShouldBeTrue)
			})
		})

		Convey("When several sessions are listed", func() {
			for i := 0; i < 5; i++ {
				rec := record(fmt.Sprintf("s-%d", i), 10, true)
				rec.StartedAt = t0.Add(time.Duration(i) * time.Minute)
				_, _ = s.Save(ctx, rec)
			}

			Convey("Then they should come newest first and page correctly", func() {
				page, err := s.List(ctx, 2, 1)
				So(err, ShouldBeNil)
				So(page, ShouldHaveLength, 2)
				So(page[0].ID, ShouldEqual, "s-3")
				So(page[1].ID, ShouldEqual, "s-2")

				all, _ := s.List(ctx, 0, 0)
				So(all, ShouldHaveLength, 5)

				empty, err := s.List(ctx, 10, 50)
				So(err, ShouldBeNil)
				So(empty, ShouldBeEmpty)

				_, err = s.List(ctx, 1, -1)
				So(errors.Is(err, repository.ErrInvalidPage), ShouldBeTrue)
			})
		})

		Convey("When a record is deleted", func() {
			_, _ = s.Save(ctx, record("s-1", 10, true))
			err := s.Delete(ctx, "s-1")

			Convey("Then it should be gone", func() {
				So(err, ShouldBeNil)
				_, err := s.Get(ctx, "s-1")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				So(errors.Is(s.Delete(ctx, "s-1"), repository.ErrNotFound), ShouldBeTrue)
				So(s.Count(ctx), ShouldEqual, 0)
			})
		})

		Convey("When a record has no baseline yet", func() {
			rec := record("s-2", 3, false)
			rec.Baseline = nil
			_, _ = s.Save(ctx, rec)
			got, err := s.Get(ctx, "s-2")

			Convey("Then the baseline should stay nil", func() {
				So(err, ShouldBeNil)
				So(got.Baseline, ShouldBeNil)
			})
		})
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, "memory", func() repository.Store {
		return repository.NewMemoryStore(context.Background())
	})
}

func TestSQLiteStore(t *testing.T) {
	storeContract(t, "sqlite", func() repository.Store {
		s, err := repository.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		return s
	})
}

func TestSQLiteReopen(t *testing.T) {
	Convey("Given a sqlite file with a saved session", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "sessions.db")

		s, err := repository.OpenSQLite(ctx, path)
		So(err, ShouldBeNil)
		_, err = s.Save(ctx, record("kept", 20, true))
		So(err, ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		Convey("When the database is reopened", func() {
			again, err := repository.OpenSQLite(ctx, path)
			So(err, ShouldBeNil)
			defer again.Close()

			Convey("Then migrations should be a no-op and the data should remain", func() {
				got, err := again.Get(ctx, "kept")
				So(err, ShouldBeNil)
				So(got.TotalFrames, ShouldEqual, 20)
			})
		})
	})
}

func TestOpen(t *testing.T) {
	Convey("Given storage drivers", t, func() {
		ctx := context.Background()

		Convey("Then memory should be the default", func() {
			s, err := repository.Open(ctx, "", "")
			So(err, ShouldBeNil)
			So(s, ShouldHaveSameTypeAs, &repository.MemoryStore{})
			So(s.Close(), ShouldBeNil)
		})

		Convey("Then unknown drivers should be rejected", func() {
			_, err := repository.Open(ctx, "postgres", "")
			So(errors.Is(err, repository.ErrUnknownDriver), ShouldBeTrue)
		})
	})
}
