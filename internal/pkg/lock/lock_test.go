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
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, mr, cleanup
}

// assertMutualExclusion 并发获取同一把锁，临界区内同时只能有一个协程
func assertMutualExclusion(t *testing.T, locker Locker) {
	t.Helper()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), OrganizationKey(1))
			if !assert.NoError(t, err) {
				return
			}

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestOrganizationKey(t *testing.T) {
	assert.Equal(t, "org:42", OrganizationKey(42))
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	assertMutualExclusion(t, locker)
	assert.Equal(t, 0, locker.size())
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	locker := NewLocalLocker()

	unlock1, err := locker.Lock(context.Background(), OrganizationKey(1))
	require.NoError(t, err)
	defer unlock1()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// 不同组织不受影响
	unlock2, err := locker.Lock(ctx, OrganizationKey(2))
	require.NoError(t, err)
	unlock2()
}

func TestLocalLocker_ContextTimeout(t *testing.T) {
	locker := NewLocalLocker()

	unlock, err := locker.Lock(context.Background(), OrganizationKey(1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, OrganizationKey(1))
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock() // 重复调用无副作用
	assert.Equal(t, 0, locker.size())
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	assertMutualExclusion(t, NewRedisLocker(client, time.Second, time.Millisecond, nil))
}

func TestRedisLocker_ReleaseDeletesKey(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	locker := NewRedisLocker(client, time.Second, time.Millisecond, nil)

	unlock, err := locker.Lock(context.Background(), OrganizationKey(7))
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:org:7"))

	unlock()
	assert.False(t, mr.Exists("lock:org:7"))
}

func TestRedisLocker_ContextTimeout(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	locker := NewRedisLocker(client, time.Second, 5*time.Millisecond, nil)

	unlock, err := locker.Lock(context.Background(), OrganizationKey(3))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, OrganizationKey(3))
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestRedisLocker_DoesNotReleaseForeignLock(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	locker := NewRedisLocker(client, time.Second, time.Millisecond, nil)

	unlock, err := locker.Lock(context.Background(), OrganizationKey(9))
	require.NoError(t, err)

	// 锁过期后被其他实例获得
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("lock:org:9", "someone-else"))

	unlock()
	value, err := mr.Get("lock:org:9")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", value)
}

func TestRedisLocker_WarnsWhenLockExpiredBeforeRelease(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	core, logs := observer.New(zapcore.WarnLevel)
	locker := NewRedisLocker(client, time.Second, time.Millisecond, zap.New(core))

	unlock, err := locker.Lock(context.Background(), OrganizationKey(11))
	require.NoError(t, err)

	// 持有时间超过 ttl
	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("lock:org:11"))

	unlock()
	entries := logs.FilterMessage("lock expired before release").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "lock:org:11", entries[0].ContextMap()["key"])
}

func TestRedisLocker_LogsFailedRelease(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	core, logs := observer.New(zapcore.WarnLevel)
	locker := NewRedisLocker(client, time.Second, time.Millisecond, zap.New(core))

	unlock, err := locker.Lock(context.Background(), OrganizationKey(12))
	require.NoError(t, err)

	mr.Close()
	unlock()

	entries := logs.FilterMessage("failed to release lock").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestRedisLocker_ReleaseLogsNothingOnSuccess(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	core, logs := observer.New(zapcore.DebugLevel)
	locker := NewRedisLocker(client, time.Second, time.Millisecond, zap.New(core))

	unlock, err := locker.Lock(context.Background(), OrganizationKey(13))
	require.NoError(t, err)
	unlock()

	assert.Zero(t, logs.Len())
}
