package backoff

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Policy describes a geometric backoff schedule with a bounded attempt
// budget. The zero value is not usable; construct via the named policies
// in config or fill every field.
type Policy struct {
	Base        time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// Delay returns the wait before the given attempt. Attempts are counted
// from 1; attempt 1 waits Base, attempt 2 waits Base*Multiplier, and so
// on, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Exhausted reports whether the attempt counter has used up the budget.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Retry runs fn until it succeeds, the policy is exhausted, or the context
// is canceled. The first attempt runs immediately; each subsequent attempt
// waits the policy delay for its attempt number.
func Retry(ctx context.Context, p Policy, fn func() error) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry canceled: %w", ctx.Err())
		default:
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if p.Exhausted(attempt) {
			return fmt.Errorf("max attempts (%d) exceeded: %w", p.MaxAttempts, lastErr)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry canceled during wait: %w", ctx.Err())
		case <-time.After(p.Delay(attempt)):
		}
	}
}
