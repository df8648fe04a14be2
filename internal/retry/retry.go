// Package retry wraps cenkalti/backoff with the attempt/delay/predicate shape
// used for read-after-write races against the record store.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned (wrapped with the last failure) once every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy describes a bounded retry loop.
type Policy struct {
	// Attempts is the total number of calls, including the first. Values below 1 mean 1.
	Attempts int
	// Delay is the wait between attempts.
	Delay time.Duration
	// InitialDelay is waited once before the first attempt.
	InitialDelay time.Duration
	// Multiplier > 1 grows the delay exponentially; otherwise the delay is fixed.
	Multiplier float64
	// Retryable decides whether a failure is worth another attempt. Nil retries every error.
	Retryable func(error) bool
	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, next time.Duration)
}

// Fixed is a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay}
}

// Do runs op until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts. Waits are context-aware timers.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	if p.InitialDelay > 0 {
		if err := wait(ctx, p.InitialDelay); err != nil {
			return zero, err
		}
	}

	tries := 0
	permanent := false
	operation := func() (T, error) {
		tries++
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			permanent = true
			return val, backoff.Permanent(err)
		}
		return val, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, next time.Duration) {
			p.OnRetry(tries, err, next)
		}))
	}

	val, err := backoff.Retry(ctx, operation, opts...)
	if err == nil {
		return val, nil
	}
	if permanent {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) && perm.Err != nil {
			return zero, perm.Err
		}
		return zero, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, ctxErr
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, tries, err)
}

func (p Policy) backOff() backoff.BackOff {
	if p.Multiplier > 1 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.Delay
		b.Multiplier = p.Multiplier
		b.RandomizationFactor = 0
		b.MaxInterval = p.Delay * time.Duration(p.Attempts+1)
		return b
	}
	return backoff.NewConstantBackOff(p.Delay)
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
