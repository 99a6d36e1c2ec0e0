// Package retry repeats an operation with Fibonacci backoff while a
// predicate says the failure is transient.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 19 * time.Second
)

type Policy struct {
	// BaseDelay is the unit of the Fibonacci sequence: 1, 1, 2, 3, 5, ...
	BaseDelay time.Duration
	// MaxDelay caps a single wait, <= 0 means DefaultMaxDelay.
	MaxDelay time.Duration
	// MaxAttempts <= 0 retries until success, a permanent error or ctx end.
	MaxAttempts int
	// Jitter maps the computed delay to the one actually slept. nil sleeps
	// the exact Fibonacci value.
	Jitter func(time.Duration) time.Duration

	Retryable func(error) bool
	OnRetry   func(attempt int, delay time.Duration, err error)
	Sleep     func(ctx context.Context, d time.Duration) error
}

// FullJitter picks a random delay in [0, d].
func FullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return rand.N(d + 1)
}

// Fibonacci returns the delay before retry number n (1-based), capped at
// maxDelay. Without a cap the result saturates instead of overflowing.
func Fibonacci(n int, base, maxDelay time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = math.MaxInt64
	}

	a, b := time.Duration(1), time.Duration(1)
	for i := 1; i < n; i++ {
		if b > maxDelay/base || a > math.MaxInt64-b {
			return maxDelay
		}
		a, b = b, a+b
	}
	return min(a*base, maxDelay)
}

// Do calls fn until it succeeds or returns an error the policy does not
// retry. The last error stays reachable through errors.Is.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 1; ; attempt++ {
		res, err := fn(ctx, attempt)
		if err == nil {
			return res, nil
		}

		if p.Retryable == nil || !p.Retryable(err) {
			return res, err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return res, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		if ctx.Err() != nil {
			return res, err
		}

		delay := Fibonacci(attempt, base, maxDelay)
		if p.Jitter != nil {
			delay = p.Jitter(delay)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return res, err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
