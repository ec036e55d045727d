// Package queue provides bounded, keyed admission control for requests sent
// to a coordinator.
//
// At most N jobs run at once. A job submitted with a key never runs while
// another job holding the same key is running, which keeps requests to one
// device or endpoint strictly sequential. Jobs that cannot start yet wait in
// a FIFO; each completion rescans it in submission order, starting every job
// that is now admissible. A job blocked only by its key keeps its place.
//
// Usage:
//
//	q := queue.New(4)
//	future := q.ExecuteKeyed(ctx, "0x1234", func(ctx context.Context) (any, error) {
//	    return sendZCL(ctx, frame)
//	})
//	result, err := future.Wait(ctx)
//
// Execute never blocks. Failures, including panics, settle only the
// failing job's Future and release its slot and key like a success would.
package queue
