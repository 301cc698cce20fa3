package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDefaultPolicyCallsOnce(t *testing.T) {
	calls := 0
	boom := NewTransient(errors.New("boom"))
	_, err := RetryWithResult(context.Background(), DefaultRetryPolicy(), nil, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Same(t, boom, err, "single attempt returns the error unwrapped")
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastPolicy(3), nil, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransient(errors.New("flaky"))
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := RetryWithResult(context.Background(), fastPolicy(5), nil, func(context.Context) (int, error) {
		calls++
		return 0, NewPermanent(errors.New("invalid"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustion(t *testing.T) {
	calls := 0
	_, err := RetryWithResult(context.Background(), fastPolicy(2), nil, func(context.Context) (int, error) {
		calls++
		return 0, NewTransient(errors.New("flaky"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.True(t, IsTransient(err))
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
	_, err := RetryWithResult(ctx, policy, nil, func(context.Context) (int, error) {
		cancel()
		return 0, NewTransient(errors.New("flaky"))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffIsCapped(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, time.Second, backoff(0, policy))
	assert.Equal(t, 2*time.Second, backoff(1, policy))
	assert.Equal(t, 3*time.Second, backoff(5, policy))
}
