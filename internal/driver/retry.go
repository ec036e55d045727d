package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/muurk/zradio/internal/protocol"
	"github.com/muurk/zradio/internal/waitress"
	"go.uber.org/zap"
)

// Failure classifies why one request attempt failed.
type Failure int

const (
	FailureSend     Failure = iota // The frame could not be written to the port
	FailureTimeout                 // No matching response arrived in time
	FailureRejected                // The radio answered with an error
	FailureFatal                   // Closed driver or cancelled context; never retried
)

func (f Failure) String() string {
	switch f {
	case FailureSend:
		return "send"
	case FailureTimeout:
		return "timeout"
	case FailureRejected:
		return "rejected"
	default:
		return "fatal"
	}
}

// RetryPolicy bounds how often one failure class is retried.
type RetryPolicy struct {
	Attempts    int           // Total attempts including the first
	Interval    time.Duration // Delay before the first retry
	MaxInterval time.Duration // Cap for exponential growth; zero keeps Interval constant
}

// RetryPolicies maps failure classes to their policy. Classes missing from
// the table are not retried.
type RetryPolicies map[Failure]RetryPolicy

// DefaultRetryPolicies retries a failed write with backoff and a missing
// response once.
func DefaultRetryPolicies() RetryPolicies {
	return RetryPolicies{
		FailureSend:    {Attempts: 3, Interval: 50 * time.Millisecond, MaxInterval: 500 * time.Millisecond},
		FailureTimeout: {Attempts: 2},
	}
}

var errSendFailed = errors.New("send failed")

func classify(err error) Failure {
	switch {
	case errors.Is(err, ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureFatal
	case errors.Is(err, waitress.ErrTimeout):
		return FailureTimeout
	case errors.Is(err, waitress.ErrRejected):
		return FailureRejected
	case errors.Is(err, errSendFailed):
		return FailureSend
	default:
		return FailureFatal
	}
}

// newBackOff returns nil when policy allows no retry.
func (d *Driver) newBackOff(policy RetryPolicy) backoff.BackOff {
	if policy.Attempts <= 1 {
		return nil
	}

	var b backoff.BackOff
	switch {
	case policy.Interval <= 0:
		b = &backoff.ZeroBackOff{}
	case policy.MaxInterval <= policy.Interval:
		b = backoff.NewConstantBackOff(policy.Interval)
	default:
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = policy.Interval
		exp.MaxInterval = policy.MaxInterval
		exp.MaxElapsedTime = 0
		exp.Clock = d.clock
		exp.Reset()
		b = exp
	}
	return backoff.WithMaxRetries(b, uint64(policy.Attempts-1))
}

// withRetry runs attempt until it succeeds, fails with a class that has no
// retries left, or ctx ends. Each class keeps its own attempt budget.
func (d *Driver) withRetry(ctx context.Context, name string, attempt func(context.Context) (*protocol.Frame, error)) (*protocol.Frame, error) {
	budgets := make(map[Failure]backoff.BackOff)

	for n := 1; ; n++ {
		result, err := attempt(ctx)
		if err == nil {
			return result, nil
		}

		failure := classify(err)
		b, seen := budgets[failure]
		if !seen {
			b = d.newBackOff(d.cfg.Retry[failure])
			budgets[failure] = b
		}
		if b == nil {
			return nil, err
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return nil, fmt.Errorf("%s failed after %d attempts: %w", name, n, err)
		}

		d.log.Warn("request failed, retrying",
			zap.String("request", name),
			zap.Int("attempt", n),
			zap.Stringer("failure", failure),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if delay > 0 {
			select {
			case <-d.clock.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-d.done:
				return nil, ErrClosed
			}
		}
	}
}
