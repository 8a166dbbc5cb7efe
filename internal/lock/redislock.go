package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by TryLock when another holder owns the key.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker provides a Redis-backed distributed lock. The delivery worker uses it
// to serialise per-order fulfilment so two workers never ship the same order.
type Locker struct {
	R            *redis.Client
	Prefix       string
	RetryBackoff time.Duration
}

func (l Locker) key(name string) string {
	if l.Prefix == "" {
		return "lock:" + name
	}
	return l.Prefix + ":lock:" + name
}

// WithLock executes fn while holding a lock for the provided key. The lock is
// released automatically even if fn returns an error. When the lock cannot be
// acquired before the context is cancelled an error is returned.
func (l Locker) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	for {
		token, err := l.acquire(ctx, name, ttl)
		if err == nil {
			defer l.release(context.Background(), name, token)
			return fn(ctx)
		}
		if !errors.Is(err, ErrNotAcquired) {
			return err
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryLock attempts a single non-blocking acquisition and runs fn on success.
func (l Locker) TryLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token, err := l.acquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	defer l.release(context.Background(), name, token)
	return fn(ctx)
}

func (l Locker) acquire(ctx context.Context, name string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.R.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotAcquired
	}
	return token, nil
}

func (l Locker) release(ctx context.Context, name, token string) {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	if err := l.R.Eval(ctx, script, []string{l.key(name)}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			_ = l.R.Del(ctx, l.key(name)).Err()
		}
	}
}
