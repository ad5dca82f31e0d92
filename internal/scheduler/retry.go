package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/leapgeo/citetrack/internal/scan"
)

// Policy bounds retries of a scheduled scan
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultPolicy retries three times, five minutes apart
var DefaultPolicy = Policy{MaxAttempts: 3, Delay: 5 * time.Minute}

// Outcome reports how a retried call ended
type Outcome struct {
	Attempts int
	Err      error
}

// OK reports whether the final attempt succeeded
func (o Outcome) OK() bool { return o.Err == nil }

// Retryable reports whether err may succeed on a later attempt. Invalid
// requests and cancellation are permanent.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, scan.ErrInvalidRequest),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

// WithRetry calls fn until it succeeds, fails permanently, or the policy
// runs out of attempts. The delay between attempts is cut short when ctx ends.
func WithRetry(ctx context.Context, p Policy, fn func(ctx context.Context) error) Outcome {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var out Outcome
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		out.Attempts = attempt
		out.Err = fn(ctx)
		if !Retryable(out.Err) || attempt == p.MaxAttempts {
			return out
		}

		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			out.Err = errors.Join(out.Err, ctx.Err())
			return out
		case <-timer.C:
		}
	}
	return out
}
