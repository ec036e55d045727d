package waitress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/muurk/zradio/internal/logging"
	"go.uber.org/zap"
)

var (
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("waitress: timed out")

	// ErrRejected matches every *RejectedError.
	ErrRejected = errors.New("waitress: rejected")
)

// TimeoutError settles a waiter whose timer fired first.
type TimeoutError struct {
	Message string        // Produced by the Waitress formatter
	Timeout time.Duration // The waiter's timeout
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return e.Message
}

// Unwrap returns ErrTimeout for errors.Is
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// RejectedError settles waiters matched by Reject.
type RejectedError struct {
	Reason string
}

// Error implements the error interface
func (e *RejectedError) Error() string {
	return e.Reason
}

// Unwrap returns ErrRejected for errors.Is
func (e *RejectedError) Unwrap() error {
	return ErrRejected
}

// Validator reports whether payload satisfies matcher.
type Validator[P, M any] func(payload P, matcher M) bool

// Formatter describes a timed out waiter.
type Formatter[M any] func(matcher M, timeout time.Duration) string

// Option configures a Waitress.
type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock replaces the wall clock, e.g. with clockwork.NewFakeClock in tests.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// Waitress correlates incoming payloads with registered expectations.
type Waitress[P, M any] struct {
	validator Validator[P, M]
	formatter Formatter[M]
	clock     clockwork.Clock
	log       *zap.Logger

	mu      sync.Mutex
	nextID  uint64
	waiters map[uint64]*waiter[P, M]
}

type waiter[P, M any] struct {
	id      uint64
	matcher M
	timeout time.Duration
	wait    *Wait[P]
	timer   clockwork.Timer
}

// New creates a Waitress. validator is shared by every waiter; formatter
// builds the message of timeout errors.
func New[P, M any](validator Validator[P, M], formatter Formatter[M], opts ...Option) *Waitress[P, M] {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Waitress[P, M]{
		validator: validator,
		formatter: formatter,
		clock:     o.clock,
		log:       logging.Named("waitress"),
		waiters:   make(map[uint64]*waiter[P, M]),
	}
}

// Handle is a registered but not yet armed waiter.
type Handle[P, M any] struct {
	ID uint64

	w  *Waitress[P, M]
	wt *waiter[P, M]
}

// Start arms the timeout and returns the settlement handle. Calling it more
// than once returns the same Wait without re-arming.
func (h *Handle[P, M]) Start() *Wait[P] {
	h.w.arm(h.wt)
	return h.wt.wait
}

// Wait is the settlement handle of one waiter.
type Wait[P any] struct {
	done    chan struct{}
	payload P
	err     error
	cancel  func()
}

// Done is closed once the waiter is resolved, rejected or timed out. It is
// never closed for a removed waiter.
func (w *Wait[P]) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the waiter settles or ctx is done. Returning on ctx
// does not remove the waiter; call Cancel for that.
func (w *Wait[P]) Wait(ctx context.Context) (P, error) {
	select {
	case <-w.done:
		return w.payload, w.err
	case <-ctx.Done():
		var zero P
		return zero, ctx.Err()
	}
}

// Cancel removes the waiter without settling it.
func (w *Wait[P]) Cancel() {
	w.cancel()
}

func (w *Wait[P]) settle(payload P, err error) {
	w.payload = payload
	w.err = err
	close(w.done)
}

// WaitFor registers a waiter for matcher. Its timer starts with Handle.Start,
// so a caller can register before sending the request that triggers the
// response.
func (w *Waitress[P, M]) WaitFor(matcher M, timeout time.Duration) *Handle[P, M] {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	wt := &waiter[P, M]{
		id:      id,
		matcher: matcher,
		timeout: timeout,
		wait:    &Wait[P]{done: make(chan struct{})},
	}
	wt.wait.cancel = func() { w.Remove(id) }
	w.waiters[id] = wt
	w.mu.Unlock()

	w.log.Debug("waiter registered", zap.Uint64("id", id), zap.Any("matcher", matcher), zap.Duration("timeout", timeout))
	return &Handle[P, M]{ID: id, w: w, wt: wt}
}

func (w *Waitress[P, M]) arm(wt *waiter[P, M]) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if wt.timer != nil {
		return
	}
	if _, ok := w.waiters[wt.id]; !ok {
		return
	}
	wt.timer = w.clock.AfterFunc(wt.timeout, func() { w.expire(wt) })
}

func (w *Waitress[P, M]) expire(wt *waiter[P, M]) {
	if !w.claim(wt) {
		return
	}
	message := w.formatter(wt.matcher, wt.timeout)
	w.log.Debug("waiter timed out", zap.Uint64("id", wt.id), zap.String("reason", message))

	var zero P
	wt.wait.settle(zero, &TimeoutError{Message: message, Timeout: wt.timeout})
}

// claim evicts wt if it is still registered. Only the caller that evicts a
// waiter may settle it.
func (w *Waitress[P, M]) claim(wt *waiter[P, M]) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if current, ok := w.waiters[wt.id]; !ok || current != wt {
		return false
	}
	delete(w.waiters, wt.id)
	if wt.timer != nil {
		wt.timer.Stop()
	}
	return true
}

// snapshot returns the currently registered waiters. Waiters added after
// the snapshot are not considered by the ongoing Resolve or Reject.
func (w *Waitress[P, M]) snapshot() []*waiter[P, M] {
	w.mu.Lock()
	defer w.mu.Unlock()
	waiters := make([]*waiter[P, M], 0, len(w.waiters))
	for _, wt := range w.waiters {
		waiters = append(waiters, wt)
	}
	return waiters
}

// Resolve settles every waiter whose matcher accepts payload and reports
// whether any did.
func (w *Waitress[P, M]) Resolve(payload P) bool {
	resolved := false
	for _, wt := range w.snapshot() {
		if !w.validator(payload, wt.matcher) || !w.claim(wt) {
			continue
		}
		wt.wait.settle(payload, nil)
		resolved = true
		w.log.Debug("waiter resolved", zap.Uint64("id", wt.id))
	}
	return resolved
}

// Reject fails every waiter whose matcher accepts payload with reason and
// reports whether any did.
func (w *Waitress[P, M]) Reject(payload P, reason string) bool {
	rejected := false
	for _, wt := range w.snapshot() {
		if !w.validator(payload, wt.matcher) || !w.claim(wt) {
			continue
		}
		var zero P
		wt.wait.settle(zero, &RejectedError{Reason: reason})
		rejected = true
		w.log.Debug("waiter rejected", zap.Uint64("id", wt.id), zap.String("reason", reason))
	}
	return rejected
}

// Remove stops the waiter's timer and evicts it without settling. Unknown or
// already settled ids are ignored.
func (w *Waitress[P, M]) Remove(id uint64) {
	w.mu.Lock()
	wt, ok := w.waiters[id]
	if ok {
		delete(w.waiters, id)
		if wt.timer != nil {
			wt.timer.Stop()
		}
	}
	w.mu.Unlock()

	if ok {
		w.log.Debug("waiter removed", zap.Uint64("id", id))
	}
}

// Len returns the number of registered, unsettled waiters.
func (w *Waitress[P, M]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiters)
}
