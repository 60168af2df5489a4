package retry

import (
	"context"
	"fmt"
	"time"

	"token-broker/internal/common/errors"
)

// ExhaustedError is returned when every attempt failed with a retryable error
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the error of the final attempt
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Config holds the retry policy for one call site.
type Config struct {
	// Strategy computes the wait between attempts
	Strategy Strategy

	// MaxAttempts counts the initial attempt. Values below 1 mean 1.
	MaxAttempts int

	// ShouldRetry filters retryable errors. Nil retries everything.
	ShouldRetry func(error) bool

	// OnRetry runs before each backoff sleep with the zero based index of
	// the attempt that just failed
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Legacy is the policy used when a destination configures neither retry nor
// circuit breaker: three attempts, waits of 1s then 2s, network errors only.
func Legacy() Config {
	return Config{
		Strategy:    ExponentialBackoff{Initial: time.Second, Multiplier: 2},
		MaxAttempts: 3,
		ShouldRetry: errors.IsRetryable,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempt budget is spent.
//
// Returns:
//   - nil on success
//   - the original error when ShouldRetry rejects it
//   - *ExhaustedError wrapping the last error once attempts run out
//   - the context error if ctx is cancelled while waiting
func (c Config) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Execute is Do for operations that produce a value.
func Execute[T any](ctx context.Context, c Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := c.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if c.ShouldRetry != nil && !c.ShouldRetry(err) {
			return zero, err
		}

		if attempt == attempts-1 {
			break
		}

		var delay time.Duration
		if c.Strategy != nil {
			delay = c.Strategy.Delay(attempt)
		}
		if c.OnRetry != nil {
			c.OnRetry(attempt, err, delay)
		}

		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("retry cancelled after %d attempts: %w", attempt+1, err)
		}
	}

	return zero, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
