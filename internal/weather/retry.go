package weather

import (
	"context"
	"math"
	"time"
)

// RetryPolicy describes how many attempts a fetch gets and how long to wait
// between them. The batch orchestrator and the bulk updater share the same
// policy type; live fetches run with SingleAttempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Backoff returns the delay before the given retry; attempt counts from
	// zero for the first retry.
	Backoff func(attempt int) time.Duration
}

// SingleAttempt disables retries.
var SingleAttempt = RetryPolicy{MaxAttempts: 1}

// ConstantBackoff retries with a fixed delay.
func ConstantBackoff(attempts int, delay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		Backoff:     func(int) time.Duration { return delay },
	}
}

// ExponentialBackoff doubles the delay per retry, capped at max.
func ExponentialBackoff(attempts int, initial, max time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		Backoff: func(attempt int) time.Duration {
			delay := initial * time.Duration(math.Pow(2, float64(attempt)))
			if max > 0 && delay > max {
				delay = max
			}
			return delay
		},
	}
}

// attempts normalizes MaxAttempts so a zero-value policy still fetches once.
func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// wait sleeps for the backoff delay of the given retry, honoring context
// cancellation.
func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	if p.Backoff == nil {
		return ctx.Err()
	}
	delay := p.Backoff(attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	return sleepCtx(ctx, delay)
}
