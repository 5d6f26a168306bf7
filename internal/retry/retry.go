// Package retry provides the bounded retry policy shared by every
// component that re-attempts a flaky operation with a sleep in between.
package retry

import (
	"context"
	"time"
)

// Policy bounds a retried operation: at most Attempts tries, sleeping Delay
// between failures, with Delay multiplied by Backoff after each failed
// attempt when Backoff is greater than 1.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Backoff  float64
}

// Do runs op until it succeeds or the attempt budget is spent, returning
// the last error. Sleeps are context-aware and cancellation surfaces as
// ctx.Err().
func (p Policy) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.Delay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
		if p.Backoff > 1 {
			delay = time.Duration(float64(delay) * p.Backoff)
		}
	}
	return lastErr
}

// Sleep waits for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
