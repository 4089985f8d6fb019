// Package retry runs fallible operations with bounded attempts and
// exponential backoff with jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// SubmitPolicy is used for result delivery to the control plane.
var SubmitPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    3 * time.Second,
}

// Overridden in tests.
var (
	sleep  = sleepContext
	jitter = func() float64 { return 0.5 + rand.Float64() }
)

// Do calls op until it succeeds or MaxAttempts calls have failed, in which
// case the last error is returned. Attempts never overlap.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if attempt >= maxAttempts {
			return result, err
		}

		delay := time.Duration(float64(Backoff(p, attempt)) * jitter())
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return result, errors.Join(fmt.Errorf("retry aborted after attempt %d: %w", attempt, sleepErr), err)
		}
	}
}

// Backoff returns the delay after the given failed attempt before jitter:
// BaseDelay doubled per attempt, capped at MaxDelay.
func Backoff(p Policy, attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
