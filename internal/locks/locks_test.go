package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyed_SerialisesSameKey(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := k.WithLock(ctx, "447700000001", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, k.Len())
}

func TestKeyed_DifferentKeysDoNotBlock(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = k.WithLock(ctx, "a", func(context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := k.WithLock(ctx, "b", func(context.Context) error { return nil })
	assert.NoError(t, err)
	close(done)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLocker_ExclusiveUntilUnlock(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewRedisLocker(client, "hubflo:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "sender-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("hubflo:lock:sender-1"))

	short, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(short, "sender-1", time.Minute)
	assert.ErrorIs(t, err, ErrLockAcquire)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("hubflo:lock:sender-1"))

	unlock, err = locker.Lock(ctx, "sender-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

func TestRedisLocker_UnlockLeavesForeignToken(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewRedisLocker(client, "")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)

	// Simulate expiry followed by another holder.
	require.NoError(t, mr.Set("lock:k", "someone-else"))
	require.NoError(t, unlock(ctx))

	got, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestKeyed_WithRedisLocker(t *testing.T) {
	mr, client := newRedis(t)
	k := NewKeyed(WithLocker(NewRedisLocker(client, "hubflo:")), WithTTL(10*time.Second))

	err := k.WithLock(context.Background(), "s1", func(context.Context) error {
		assert.True(t, mr.Exists("hubflo:lock:s1"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("hubflo:lock:s1"))
}
