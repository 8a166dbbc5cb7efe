package resilience_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lapak-dev/backend-lapak/internal/common"
	"github.com/lapak-dev/backend-lapak/internal/resilience"
)

var errPermanent = &common.AppError{
	Code:       "PERMANENT",
	Message:    "permanent failure",
	HTTPStatus: http.StatusBadRequest,
}

func fastPolicy(attempts int) resilience.RetryPolicy {
	return resilience.RetryPolicy{MaxAttempts: attempts, Base: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := resilience.Retry(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	retries := 0
	sentinel := errors.New("still down")
	err := resilience.Retry(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return sentinel
	}, func(int, error) { retries++ })
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 3, calls)
	require.Equal(t, 2, retries)
}

func TestRetryAbortsOnNonRetryable(t *testing.T) {
	calls := 0
	err := resilience.Retry(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return errPermanent
	}, nil)
	require.ErrorIs(t, err, errPermanent)
	require.Equal(t, 1, calls)
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := resilience.Retry(ctx, resilience.RetryPolicy{MaxAttempts: 5, Base: time.Minute, MaxDelay: time.Minute},
		func(context.Context) error {
			calls++
			cancel() // cancel while the first backoff pause is pending
			return errors.New("transient")
		}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	ctx := context.Background()
	b := resilience.NewBreaker(2, 0.5, 10*time.Millisecond)
	boom := errors.New("db down")

	for i := 0; i < 2; i++ {
		err := b.Do(ctx, func(context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
	}

	// Threshold reached: requests are refused without running fn.
	ran := false
	err := b.Do(ctx, func(context.Context) error { ran = true; return nil })
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.False(t, ran)

	// After the cool-off a probe runs and a success closes the breaker.
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, b.Do(ctx, func(context.Context) error { return nil }))
	require.NoError(t, b.Do(ctx, func(context.Context) error { return nil }))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	b := resilience.NewBreaker(1, 0.5, 10*time.Millisecond)
	boom := errors.New("db down")

	require.ErrorIs(t, b.Do(ctx, func(context.Context) error { return boom }), boom)
	require.ErrorIs(t, b.Do(ctx, func(context.Context) error { return nil }), resilience.ErrOpenCircuit)

	time.Sleep(15 * time.Millisecond)
	require.ErrorIs(t, b.Do(ctx, func(context.Context) error { return boom }), boom)
	require.ErrorIs(t, b.Do(ctx, func(context.Context) error { return nil }), resilience.ErrOpenCircuit)
}

func TestBreakerIgnoresNonRetryableFailures(t *testing.T) {
	ctx := context.Background()
	b := resilience.NewBreaker(2, 0.5, time.Minute)

	// Business rejections mean the dependency answered; they must not
	// accumulate toward opening.
	for i := 0; i < 10; i++ {
		require.ErrorIs(t, b.Do(ctx, func(context.Context) error { return errPermanent }), errPermanent)
	}
	ran := false
	require.NoError(t, b.Do(ctx, func(context.Context) error { ran = true; return nil }))
	require.True(t, ran)
}

func TestBackoffDoubles(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, 100*time.Millisecond, resilience.Backoff(base, 1, 0))
	require.Equal(t, 200*time.Millisecond, resilience.Backoff(base, 2, 0))
	require.Equal(t, 400*time.Millisecond, resilience.Backoff(base, 3, 0))

	jittered := resilience.Backoff(base, 2, 0.2)
	require.InDelta(t, float64(200*time.Millisecond), float64(jittered), float64(40*time.Millisecond))
}
