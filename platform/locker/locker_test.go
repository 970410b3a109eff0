package locker

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

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "lead:1")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
}

func TestMemoryLockSerialisesSameKey(t *testing.T) {
	exerciseMutualExclusion(t, NewMemory())
}

func TestMemoryLockIndependentKeys(t *testing.T) {
	l := NewMemory()
	unlockA, err := l.Lock(context.Background(), "lead:a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx, "lead:b")
	require.NoError(t, err)
	unlockB()
}

func TestMemoryLockHonoursContext(t *testing.T) {
	l := NewMemory()
	unlock, err := l.Lock(context.Background(), "deal:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "deal:1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.slots)
}

func newMiniredisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, time.Second), mr
}

func TestRedisLockSerialisesSameKey(t *testing.T) {
	l, _ := newMiniredisLocker(t)
	exerciseMutualExclusion(t, l)
}

func TestRedisUnlockOnlyReleasesOwnToken(t *testing.T) {
	l, mr := newMiniredisLocker(t)

	unlock, err := l.Lock(context.Background(), "deal:7")
	require.NoError(t, err)
	require.True(t, mr.Exists(redisKeyPrefix+"deal:7"))

	// Simulate expiry followed by another holder.
	mr.Del(redisKeyPrefix + "deal:7")
	require.NoError(t, mr.Set(redisKeyPrefix+"deal:7", "someone-else"))

	unlock()

	value, err := mr.Get(redisKeyPrefix + "deal:7")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", value)
}

func TestRedisLockTimesOutWhileHeld(t *testing.T) {
	l, _ := newMiniredisLocker(t)

	unlock, err := l.Lock(context.Background(), "lead:9")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "lead:9")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
