package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	queue "github.com/okian/sitwell/internal/adapters/mq/queue"
	worker "github.com/okian/sitwell/internal/adapters/mq/worker"
	model "github.com/okian/sitwell/internal/domain/model"
	logging "github.com/okian/sitwell/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	ch chan queue.Snapshot
}

func newMockQueue() *mockQueue {
	return &mockQueue{ch: make(chan queue.Snapshot, 16)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan queue.Snapshot { return mq.ch }

func (mq *mockQueue) Close() error {
	close(mq.ch)
	return nil
}

type mockSaver struct {
	mu    sync.Mutex
	saved map[string]model.SessionRecord
	errs  map[string]error
	stale map[string]bool
	delay time.Duration
	calls atomic.Int64
}

func newMockSaver() *mockSaver {
	return &mockSaver{
		saved: make(map[string]model.SessionRecord),
		errs:  make(map[string]error),
		stale: make(map[string]bool),
	}
}

func (ms *mockSaver) Save(ctx context.Context, rec model.SessionRecord) (bool, error) { //nolint:gocritic // hugeParam
	ms.calls.Add(1)
	if ms.delay > 0 {
		select {
		case <-time.After(ms.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.errs[rec.ID]; err != nil {
		return false, err
	}
	if ms.stale[rec.ID] {
		return false, nil
	}
	ms.saved[rec.ID] = rec
	return true, nil
}

func (ms *mockSaver) get(id string) (model.SessionRecord, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	rec, ok := ms.saved[id]
	return rec, ok
}

func (ms *mockSaver) count() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.saved)
}

func snapshot(id string, frames int, done func(error)) queue.Snapshot {
	return queue.Snapshot{
		Record: model.SessionRecord{
			ID:      id,
			FPS:     15,
			Summary: model.Summary{TotalFrames: frames},
		},
		Done: done,
	}
}

// result collects the error passed to a snapshot's Done callback.
func result() (func(error), <-chan error) {
	ch := make(chan error, 1)
	return func(err error) { ch <- err }, ch
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		_ = logging.Init()
		mq := newMockQueue()
		saver := newMockSaver()

		convey.Convey("When creating a worker with options", func() {
			w := worker.NewInMemoryWorker(mq, saver,
				worker.WithName("w-test"),
				worker.WithSaveTimeout(time.Second),
				worker.WithLogger(logging.Get()),
			)

			convey.Convey("Then it should be created successfully", func() {
				convey.So(w, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When running a worker", func() {
			w := worker.NewInMemoryWorker(mq, saver)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			convey.Convey("And a snapshot is queued", func() {
				done, errc := result()
				mq.ch <- snapshot("s-1", 120, done)

				convey.Convey("Then the record should be saved and acknowledged", func() {
					select {
					case err := <-errc:
						convey.So(err, convey.ShouldBeNil)
					case <-time.After(time.Second):
						t.Fatal("snapshot was not acknowledged")
					}
					rec, ok := saver.get("s-1")
					convey.So(ok, convey.ShouldBeTrue)
					convey.So(rec.TotalFrames, convey.ShouldEqual, 120)
				})
			})

			convey.Convey("And saving fails", func() {
				saver.errs["s-bad"] = errors.New("disk full")
				done, errc := result()
				mq.ch <- snapshot("s-bad", 10, done)

				convey.Convey("Then Done should receive the error", func() {
					select {
					case err := <-errc:
						convey.So(err, convey.ShouldNotBeNil)
						convey.So(err.Error(), convey.ShouldContainSubstring, "disk full")
						convey.So(err.Error(), convey.ShouldContainSubstring, "s-bad")
					case <-time.After(time.Second):
						t.Fatal("snapshot was not acknowledged")
					}
					_, ok := saver.get("s-bad")
					convey.So(ok, convey.ShouldBeFalse)
				})
			})

			convey.Convey("And the store refuses a stale snapshot", func() {
				saver.stale["s-old"] = true
				done, errc := result()
				mq.ch <- snapshot("s-old", 5, done)

				convey.Convey("Then Done should receive no error", func() {
					select {
					case err := <-errc:
						convey.So(err, convey.ShouldBeNil)
					case <-time.After(time.Second):
						t.Fatal("snapshot was not acknowledged")
					}
				})
			})

			convey.Convey("And a snapshot has no Done callback", func() {
				mq.ch <- snapshot("s-2", 1, nil)
				convey.So(mq.Close(), convey.ShouldBeNil)

				convey.Convey("Then the worker should drain and stop", func() {
					sctx, scancel := context.WithTimeout(context.Background(), time.Second)
					defer scancel()
					convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
					_, ok := saver.get("s-2")
					convey.So(ok, convey.ShouldBeTrue)
				})
			})
		})

		convey.Convey("When a save exceeds the timeout", func() {
			saver.delay = 200 * time.Millisecond
			w := worker.NewInMemoryWorker(mq, saver, worker.WithSaveTimeout(20*time.Millisecond))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			done, errc := result()
			mq.ch <- snapshot("s-slow", 1, done)

			convey.Convey("Then Done should receive a deadline error", func() {
				select {
				case err := <-errc:
					convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
				case <-time.After(time.Second):
					t.Fatal("snapshot was not acknowledged")
				}
			})
		})

		convey.Convey("When context is cancelled", func() {
			w := worker.NewInMemoryWorker(mq, saver)
			ctx, cancel := context.WithCancel(context.Background())
			go w.Run(ctx)
			cancel()

			convey.Convey("Then worker should stop", func() {
				sctx, scancel := context.WithTimeout(context.Background(), time.Second)
				defer scancel()
				convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
			})
		})

		convey.Convey("When shutdown times out", func() {
			w := worker.NewInMemoryWorker(mq, saver)
			sctx, scancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer scancel()

			convey.Convey("Then Shutdown should report it", func() {
				convey.So(w.Shutdown(sctx), convey.ShouldNotBeNil)
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool over a real queue", t, func() {
		_ = logging.Init()
		q := queue.NewInMemoryQueue(queue.WithCapacity(256))
		saver := newMockSaver()

		convey.Convey("When creating a pool with a non-positive count", func() {
			p := worker.NewPool(0, q, saver)

			convey.Convey("Then it should size itself to the CPUs", func() {
				convey.So(p.Size(), convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When many sessions are persisted concurrently", func() {
			p := worker.NewPool(4, q, saver)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			p.Start(ctx)

			const sessions = 50
			var wg sync.WaitGroup
			for i := 0; i < sessions; i++ {
				wg.Add(1)
				err := q.Enqueue(ctx, snapshot(fmt.Sprintf("s-%d", i), i, func(error) { wg.Done() }))
				convey.So(err, convey.ShouldBeNil)
			}
			wg.Wait()

			convey.Convey("Then every snapshot should be saved", func() {
				convey.So(saver.count(), convey.ShouldEqual, sessions)
				convey.So(saver.calls.Load(), convey.ShouldEqual, sessions)
			})

			convey.Convey("And when shutting down", func() {
				sctx, scancel := context.WithTimeout(context.Background(), time.Second)
				defer scancel()

				convey.Convey("Then the queue should be closed and workers drained", func() {
					convey.So(p.Shutdown(sctx), convey.ShouldBeNil)
					convey.So(q.IsClosed(), convey.ShouldBeTrue)
					convey.So(errors.Is(q.Enqueue(ctx, snapshot("late", 1, nil)), queue.ErrClosed), convey.ShouldBeTrue)
				})
			})
		})

		convey.Convey("When snapshots are buffered before shutdown", func() {
			ctx := context.Background()
			for i := 0; i < 10; i++ {
				convey.So(q.Enqueue(ctx, snapshot(fmt.Sprintf("b-%d", i), i, nil)), convey.ShouldBeNil)
			}
			p := worker.NewPool(2, q, saver)
			p.Start(ctx)

			sctx, scancel := context.WithTimeout(ctx, 2*time.Second)
			defer scancel()

			convey.Convey("Then Shutdown should persist them all", func() {
				convey.So(p.Shutdown(sctx), convey.ShouldBeNil)
				convey.So(saver.count(), convey.ShouldEqual, 10)
			})
		})
	})
}
