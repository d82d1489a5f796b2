package retry

import (
	"context"
	"time"
)

// Policy bounds how an operation is retried.
// Multiplier 0 or 1 keeps the delay fixed; 2 doubles it after every failure.
type Policy struct {
	Attempts   int
	Delay      time.Duration
	Multiplier int
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay, Multiplier: 1}
}

// Backoff returns a policy that doubles the delay after every failure.
func Backoff(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay, Multiplier: 2}
}

// Do runs fn until it succeeds or the attempts are exhausted, returning the last error.
// onFailure, when set, is called after every failed attempt with the 1-based attempt number.
func Do(ctx context.Context, p Policy, fn func(context.Context) error, onFailure func(attempt int, err error)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	if delay < 0 {
		delay = 0
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if onFailure != nil {
			onFailure(attempt, err)
		}
		if attempt >= attempts {
			return err
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}

		if p.Multiplier > 1 {
			delay *= time.Duration(p.Multiplier)
		}
	}
}
