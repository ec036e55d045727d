package queue

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	finished []int
}

func (r *recorder) add(id int) {
	r.mu.Lock()
	r.finished = append(r.finished, id)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.finished...)
}

func wait(t *testing.T, f *Future) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("timed out waiting for job")
	}
	return v
}

func TestQueue_Scenario(t *testing.T) {
	ctx := context.Background()
	q := New(4)
	rec := &recorder{}

	blocking := func(id int, release <-chan struct{}) Job {
		return func(ctx context.Context) (any, error) {
			<-release
			rec.add(id)
			return id, nil
		}
	}
	immediate := func(id int) Job {
		return func(ctx context.Context) (any, error) {
			rec.add(id)
			return id, nil
		}
	}

	release1 := make(chan struct{})
	release2 := make(chan struct{})
	release5 := make(chan struct{})
	release6 := make(chan struct{})
	release7 := make(chan struct{})

	var countAtJob3 int
	job3 := func(ctx context.Context) (any, error) {
		rec.add(3)
		countAtJob3 = q.Count()
		return 3, nil
	}

	f1 := q.Execute(ctx, blocking(1, release1))
	f2 := q.ExecuteKeyed(ctx, "mykey", blocking(2, release2))
	f3 := q.ExecuteKeyed(ctx, "mykey", job3)
	f4 := q.ExecuteKeyed(ctx, "mykey2", immediate(4))
	f5 := q.Execute(ctx, blocking(5, release5))
	f6 := q.Execute(ctx, blocking(6, release6))
	f7 := q.Execute(ctx, blocking(7, release7))
	f8 := q.Execute(ctx, immediate(8))

	wait(t, f4)
	if got := rec.snapshot(); !reflect.DeepEqual(got, []int{4}) {
		t.Fatalf("after submission finished = %v, want [4]", got)
	}

	close(release1)
	wait(t, f1)
	if got := rec.snapshot(); !reflect.DeepEqual(got, []int{4, 1}) {
		t.Fatalf("after releasing 1 finished = %v, want [4 1]", got)
	}

	close(release2)
	wait(t, f2)
	wait(t, f3)
	if countAtJob3 != 5 {
		t.Errorf("Count() while job 3 ran = %d, want 5", countAtJob3)
	}
	if got := rec.snapshot()[:4]; !reflect.DeepEqual(got, []int{4, 1, 2, 3}) {
		t.Fatalf("after releasing 2 finished = %v, want [4 1 2 3]", got)
	}

	wait(t, f8)
	if got := rec.snapshot(); !reflect.DeepEqual(got, []int{4, 1, 2, 3, 8}) {
		t.Errorf("finished = %v, want [4 1 2 3 8]", got)
	}
	if got := q.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}

	close(release5)
	close(release6)
	close(release7)
	for _, f := range []*Future{f5, f6, f7} {
		wait(t, f)
	}
	if got := q.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestQueue_FailureFreesSlotAndKey(t *testing.T) {
	ctx := context.Background()
	q := New(1)
	boom := errors.New("boom")

	failed := q.ExecuteKeyed(ctx, "k", func(ctx context.Context) (any, error) {
		return nil, boom
	})
	next := q.ExecuteKeyed(ctx, "k", func(ctx context.Context) (any, error) {
		return "ok", nil
	})

	if _, err := failed.Wait(ctx); !errors.Is(err, boom) {
		t.Fatalf("failed job error = %v, want %v", err, boom)
	}
	if v := wait(t, next); v != "ok" {
		t.Errorf("next job value = %v, want ok", v)
	}
	if q.Count() != 0 {
		t.Errorf("Count() = %d, want 0", q.Count())
	}
}

func TestQueue_PanicBecomesError(t *testing.T) {
	ctx := context.Background()
	q := New(1)

	f := q.Execute(ctx, func(ctx context.Context) (any, error) {
		panic("kaboom")
	})
	_, err := f.Wait(ctx)
	if !errors.Is(err, ErrJobPanicked) {
		t.Fatalf("error = %v, want ErrJobPanicked", err)
	}

	after := q.Execute(ctx, func(ctx context.Context) (any, error) { return 1, nil })
	if v := wait(t, after); v != 1 {
		t.Errorf("job after panic = %v, want 1", v)
	}
}

func TestQueue_CancelledBeforeAdmission(t *testing.T) {
	q := New(1)
	release := make(chan struct{})
	blocker := q.Execute(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	f := q.Execute(ctx, func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	cancel()
	close(release)
	wait(t, blocker)

	_, err := f.Wait(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if ran.Load() {
		t.Error("cancelled job should not run")
	}
}

func TestQueue_KeyedJobsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	q := New(8)

	var active, maxActive atomic.Int32
	var futures []*Future
	for i := 0; i < 20; i++ {
		futures = append(futures, q.ExecuteKeyed(ctx, "device", func(ctx context.Context) (any, error) {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			return nil, nil
		}))
	}
	for _, f := range futures {
		wait(t, f)
	}
	if maxActive.Load() != 1 {
		t.Errorf("max concurrent jobs for one key = %d, want 1", maxActive.Load())
	}
}

func TestQueue_ConcurrencyLimit(t *testing.T) {
	ctx := context.Background()
	q := New(3)

	var active, maxActive atomic.Int32
	var futures []*Future
	for i := 0; i < 12; i++ {
		futures = append(futures, q.Execute(ctx, func(ctx context.Context) (any, error) {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
			return nil, nil
		}))
	}
	for _, f := range futures {
		wait(t, f)
	}
	if maxActive.Load() > 3 {
		t.Errorf("max concurrent jobs = %d, want <= 3", maxActive.Load())
	}
}

func TestFuture_ResultBeforeSettlement(t *testing.T) {
	q := New(1)
	release := make(chan struct{})
	f := q.Execute(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return 42, nil
	})

	if _, err := f.Result(); !errors.Is(err, ErrPending) {
		t.Fatalf("Result() error = %v, want ErrPending", err)
	}
	close(release)
	<-f.Done()
	if v, err := f.Result(); err != nil || v != 42 {
		t.Errorf("Result() = (%v, %v), want (42, nil)", v, err)
	}
}

func TestDo(t *testing.T) {
	q := New(2)
	got, err := Do(context.Background(), q, "", func(ctx context.Context) (string, error) {
		return "pong", nil
	})
	if err != nil || got != "pong" {
		t.Errorf("Do() = (%q, %v), want (pong, nil)", got, err)
	}
}

func TestNew_PanicsOnInvalidConcurrency(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New(0) should panic")
		}
	}()
	New(0)
}
