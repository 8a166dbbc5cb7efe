package resilience

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lapak-dev/backend-lapak/internal/common"
)

// RetryPolicy describes the bounded retry behaviour for transient failures.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the callback commit budget: up to three attempts
// with exponential delays of 1s and 2s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: time.Second, MaxDelay: 10 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	return p
}

// delay returns the pause before the given retry (attempt is 1-based and
// refers to the attempt that just failed). Delays double per attempt and are
// capped at MaxDelay.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := Backoff(p.Base, attempt, 0)
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Retry runs fn up to MaxAttempts times. A non-retryable error aborts
// immediately; retryable errors are retried after an exponential delay that
// respects context cancellation. OnRetry, when set, fires before each pause.
func Retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error, onRetry func(attempt int, err error)) error {
	p := policy.normalized()
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !common.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, lastErr)
		}
		zerolog.Ctx(ctx).Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Int("max_attempts", p.MaxAttempts).
			Msg("transient failure, retrying")
		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
