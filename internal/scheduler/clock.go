package scheduler

import (
	"context"
	"time"
)

// Clock abstracts the scheduler's time source so tests can drive the loop
// with logical time.
type Clock interface {
	Now() time.Time

	// Sleep pauses for d or until ctx is done, returning ctx.Err() when
	// interrupted.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
