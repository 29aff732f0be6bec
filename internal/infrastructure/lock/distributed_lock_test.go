package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestTryLockIsExclusive(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	a := NewDistributedLock(client, "k", "a", time.Second)
	b := NewDistributedLock(client, "k", "b", time.Second)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Unlock(ctx))
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlockKeepsOtherHoldersLock(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	a := NewDistributedLock(client, "k", "a", time.Second)
	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	b := NewDistributedLock(client, "k", "b", time.Second)
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Unlock(ctx))
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "b", got)
}

func TestLockGivesUp(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	holder := NewDistributedLock(client, "k", "a", time.Minute)
	_, err := holder.TryLock(ctx)
	require.NoError(t, err)

	waiter := NewDistributedLock(client, "k", "b", time.Minute)
	err = waiter.Lock(ctx, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
}

func TestWithUserLockSerialises(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithUserLock(ctx, client, 7, time.Second, func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestWithUserLockNilClient(t *testing.T) {
	called := false
	err := WithUserLock(context.Background(), nil, 1, time.Second, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
