package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"taskorch/internal/logging"
)

// RetryPolicy configures retry behavior. MaxAttempts counts retries after the
// first call, so the zero value calls the function exactly once.
type RetryPolicy struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	JitterFactor float64       `mapstructure:"jitter"`
}

// DefaultRetryPolicy performs no retries; backoff fields are populated so
// raising MaxAttempts alone yields a sensible schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  0,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryWithResult calls fn until it succeeds, returns a non-transient error,
// the policy is exhausted or ctx is done.
func RetryWithResult[T any](ctx context.Context, policy RetryPolicy, logger logging.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	logger = logging.OrNop(logger)

	var zero T
	var lastErr error
	attempts := policy.MaxAttempts
	if attempts < 0 {
		attempts = 0
	}

	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			logger.Debug("Retrying (attempt %d/%d)", attempt+1, attempts+1)
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("Retry succeeded after %d attempts", attempt+1)
			}
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := backoff(attempt, policy)
		logger.Debug("Attempt %d failed: %v; waiting %v", attempt+1, err, delay)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	if attempts == 0 {
		return zero, lastErr
	}
	logger.Warn("Max retries (%d) exhausted", attempts+1)
	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// backoff is base * 2^attempt capped at MaxDelay, with ±JitterFactor jitter.
func backoff(attempt int, policy RetryPolicy) time.Duration {
	delay := time.Duration(float64(policy.BaseDelay) * math.Pow(2, float64(attempt)))
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if policy.JitterFactor > 0 {
		jitter := float64(delay) * policy.JitterFactor
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
		if delay < 0 {
			delay = policy.BaseDelay
		}
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return delay
}
