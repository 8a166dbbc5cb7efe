package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lapak-dev/backend-lapak/internal/lock"
)

func newLocker(t *testing.T) lock.Locker {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
}

func TestWithLockSerialises(t *testing.T) {
	locker := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})

	go func() {
		err := locker.WithLock(ctx, "order:ord-1", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
		require.NoError(t, err)
	}()

	<-firstDone

	go func() {
		err := locker.WithLock(ctx, "order:ord-1", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}()

	close(releaseFirst)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestTryLockRefusesHeldKey(t *testing.T) {
	locker := newLocker(t)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- locker.TryLock(ctx, "order:ord-1", time.Second, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := locker.TryLock(ctx, "order:ord-1", time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, lock.ErrNotAcquired)

	close(release)
	require.NoError(t, <-done)

	// Released: a fresh acquisition succeeds.
	require.NoError(t, locker.TryLock(ctx, "order:ord-1", time.Second, func(context.Context) error { return nil }))
}

func TestWithLockReleasesOnError(t *testing.T) {
	locker := newLocker(t)
	ctx := context.Background()

	sentinel := context.DeadlineExceeded
	err := locker.WithLock(ctx, "order:ord-1", time.Second, func(context.Context) error { return sentinel })
	require.ErrorIs(t, err, sentinel)

	require.NoError(t, locker.TryLock(ctx, "order:ord-1", time.Second, func(context.Context) error { return nil }))
}
