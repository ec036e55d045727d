package waitress

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func validator(payload string, matcher int) bool {
	return (payload == "one" && matcher == 1) || (payload == "two" && matcher == 2)
}

func formatter(_ int, timeout time.Duration) string {
	return fmt.Sprintf("Timedout '%d'", timeout.Milliseconds())
}

func await(t *testing.T, w *Wait[string]) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	payload, err := w.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("waiter never settled")
	}
	return payload, err
}

func TestWaitress_Resolve(t *testing.T) {
	w := New[string, int](validator, formatter, WithClock(clockwork.NewFakeClock()))

	wait := w.WaitFor(1, 10*time.Second).Start()
	if !w.Resolve("one") {
		t.Fatal("Resolve() = false, want true")
	}
	payload, err := await(t, wait)
	if err != nil || payload != "one" {
		t.Errorf("Wait() = (%q, %v), want (one, nil)", payload, err)
	}
	if w.Len() != 0 {
		t.Errorf("Len() = %d, want 0", w.Len())
	}
}

func TestWaitress_FanOutAndTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := New[string, int](validator, formatter, WithClock(clock))

	h1 := w.WaitFor(2, 10000*time.Millisecond)
	h2 := w.WaitFor(2, 10000*time.Millisecond)
	h3 := w.WaitFor(2, 10000*time.Millisecond)
	h4 := w.WaitFor(2, 5000*time.Millisecond)
	h5 := w.WaitFor(2, 5000*time.Millisecond)
	wait1, wait2, wait3, wait4, wait5 := h1.Start(), h2.Start(), h3.Start(), h4.Start(), h5.Start()

	w.Remove(h3.ID)
	clock.Advance(6000 * time.Millisecond)

	for i, wait := range []*Wait[string]{wait4, wait5} {
		_, err := await(t, wait)
		var timeoutErr *TimeoutError
		if !errors.As(err, &timeoutErr) {
			t.Fatalf("waiter %d error = %v, want *TimeoutError", i+4, err)
		}
		if err.Error() != "Timedout '5000'" {
			t.Errorf("waiter %d error = %q, want %q", i+4, err.Error(), "Timedout '5000'")
		}
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("waiter %d error should match ErrTimeout", i+4)
		}
	}

	// Removing an already timed out waiter is a no-op.
	w.Remove(h5.ID)

	if !w.Resolve("two") {
		t.Fatal("Resolve(two) = false, want true")
	}
	for i, wait := range []*Wait[string]{wait1, wait2} {
		payload, err := await(t, wait)
		if err != nil || payload != "two" {
			t.Errorf("waiter %d = (%q, %v), want (two, nil)", i+1, payload, err)
		}
	}

	select {
	case <-wait3.Done():
		t.Error("removed waiter must never settle")
	default:
	}

	if w.Reject("tree", "drop") {
		t.Error("Reject(tree) = true, want false")
	}
	if payload, err := wait1.Wait(context.Background()); err != nil || payload != "two" {
		t.Error("Reject must not touch settled waiters")
	}
	if w.Len() != 0 {
		t.Errorf("Len() = %d, want 0", w.Len())
	}
}

func TestWaitress_Reject(t *testing.T) {
	w := New[string, int](validator, formatter, WithClock(clockwork.NewFakeClock()))

	wait := w.WaitFor(1, 5*time.Second).Start()
	if !w.Reject("one", "drop") {
		t.Fatal("Reject(one) = false, want true")
	}

	_, err := await(t, wait)
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Reason != "drop" {
		t.Fatalf("error = %v, want RejectedError(drop)", err)
	}
	if !errors.Is(err, ErrRejected) {
		t.Error("error should match ErrRejected")
	}
	if w.Resolve("one") {
		t.Error("Resolve after Reject should find no waiter")
	}
}

func TestWaitress_RejectAfterTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := New[string, int](validator, formatter, WithClock(clock))

	wait := w.WaitFor(2, 5*time.Second).Start()
	if w.Reject("tree", "drop") {
		t.Error("Reject(tree) = true, want false")
	}
	clock.Advance(6 * time.Second)
	if _, err := await(t, wait); !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if w.Reject("two", "drop") {
		t.Error("Reject(two) after timeout = true, want false")
	}
}

func TestWaitress_TimerStartsOnStart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := New[string, int](validator, formatter, WithClock(clock))

	h := w.WaitFor(1, time.Second)
	clock.Advance(5 * time.Second)

	wait := h.Start()
	if h.Start() != wait {
		t.Error("Start() should return the same Wait")
	}
	select {
	case <-wait.Done():
		t.Fatal("waiter timed out before Start")
	default:
	}

	clock.Advance(2 * time.Second)
	if _, err := await(t, wait); !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

func TestWaitress_CancelIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := New[string, int](validator, formatter, WithClock(clock))

	h := w.WaitFor(1, time.Second)
	wait := h.Start()
	wait.Cancel()
	wait.Cancel()
	w.Remove(h.ID)
	w.Remove(12345)

	clock.Advance(2 * time.Second)
	if w.Resolve("one") {
		t.Error("Resolve should not reach a cancelled waiter")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := wait.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("cancelled waiter settled with %v", err)
	}
}

func TestWaitress_RegisteredDuringResolveNotEligible(t *testing.T) {
	var w *Waitress[string, int]
	var late *Handle[string, int]
	w = New[string, int](func(payload string, matcher int) bool {
		if late == nil {
			late = w.WaitFor(matcher, time.Second)
		}
		return validator(payload, matcher)
	}, formatter, WithClock(clockwork.NewFakeClock()))

	early := w.WaitFor(1, time.Second).Start()
	w.Resolve("one")

	if _, err := await(t, early); err != nil {
		t.Fatalf("early waiter error = %v", err)
	}
	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want the late waiter still registered", w.Len())
	}
	w.Remove(late.ID)
}
