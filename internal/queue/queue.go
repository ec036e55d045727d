package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/muurk/zradio/internal/logging"
	"go.uber.org/zap"
)

var (
	// ErrPending is returned by Future.Result before the job has settled.
	ErrPending = errors.New("queue: job not settled")

	// ErrJobPanicked wraps the value recovered from a panicking job.
	ErrJobPanicked = errors.New("queue: job panicked")
)

// Job is one unit of work. It runs on its own goroutine, outside the queue
// lock, with the context passed to Execute.
type Job func(ctx context.Context) (any, error)

// Future is the settlement handle returned by Execute.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) settle(value any, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done is closed once the job has completed or failed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the job settles or ctx is done. Giving up on the wait
// does not cancel the job.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking, or ErrPending.
func (f *Future) Result() (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
		return nil, ErrPending
	}
}

type entry struct {
	ctx    context.Context
	key    string
	keyed  bool
	run    Job
	future *Future
}

// Queue runs jobs with bounded concurrency. Jobs sharing a key never run
// at the same time; jobs without a key only wait for a free slot.
type Queue struct {
	limit int
	log   *zap.Logger

	mu         sync.Mutex
	running    int
	activeKeys map[string]struct{}
	pending    []*entry
}

// New creates a queue running at most concurrency jobs at once.
// It panics if concurrency is below 1.
func New(concurrency int) *Queue {
	if concurrency < 1 {
		panic(fmt.Sprintf("queue: concurrency must be positive, got %d", concurrency))
	}
	return &Queue{
		limit:      concurrency,
		log:        logging.Named("queue"),
		activeKeys: make(map[string]struct{}),
	}
}

// Execute submits an unkeyed job. It never blocks.
func (q *Queue) Execute(ctx context.Context, job Job) *Future {
	return q.submit(&entry{ctx: ctx, run: job, future: newFuture()})
}

// ExecuteKeyed submits a job that will not run while another job with the
// same key is running. An empty key behaves like Execute.
func (q *Queue) ExecuteKeyed(ctx context.Context, key string, job Job) *Future {
	return q.submit(&entry{ctx: ctx, key: key, keyed: key != "", run: job, future: newFuture()})
}

// Count returns the number of jobs not yet settled, running or pending.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running + len(q.pending)
}

func (q *Queue) submit(e *entry) *Future {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.admissibleLocked(e) {
		q.startLocked(e)
	} else {
		q.pending = append(q.pending, e)
		q.log.Debug("job queued",
			zap.String("key", e.key),
			zap.Int("running", q.running),
			zap.Int("pending", len(q.pending)),
		)
	}
	return e.future
}

func (q *Queue) admissibleLocked(e *entry) bool {
	if q.running >= q.limit {
		return false
	}
	if e.keyed {
		if _, busy := q.activeKeys[e.key]; busy {
			return false
		}
	}
	return true
}

func (q *Queue) startLocked(e *entry) {
	q.running++
	if e.keyed {
		q.activeKeys[e.key] = struct{}{}
	}
	go q.run(e)
}

func (q *Queue) run(e *entry) {
	var (
		value any
		err   error
	)
	if ctxErr := e.ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else {
		value, err = invoke(e)
	}

	q.finish(e)
	e.future.settle(value, err)
}

func invoke(e *entry) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return e.run(e.ctx)
}

// finish releases the slot and key held by e, then starts every pending
// job that has become admissible, in submission order.
func (q *Queue) finish(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.running--
	if e.keyed {
		delete(q.activeKeys, e.key)
	}

	kept := q.pending[:0]
	for i, next := range q.pending {
		if q.running >= q.limit {
			kept = append(kept, q.pending[i:]...)
			break
		}
		if q.admissibleLocked(next) {
			q.startLocked(next)
			continue
		}
		kept = append(kept, next)
	}
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = kept
}

// Do runs fn through q and returns its typed result. An empty key submits
// an unkeyed job.
func Do[T any](ctx context.Context, q *Queue, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	future := q.ExecuteKeyed(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})

	var zero T
	value, err := future.Wait(ctx)
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}
