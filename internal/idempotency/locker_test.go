package idempotency_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/carrierbridge/internal/idempotency"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

func setupRedisLocker(t *testing.T) (*idempotency.RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locker := idempotency.NewRedisLocker(client, otelzap.New(zap.NewNop()),
		idempotency.WithTTL(time.Minute),
		idempotency.WithRetryPeriod(5*time.Millisecond),
	)
	return locker, mr
}

// exclusive runs workers that each hold the lock for key and reports the
// highest number of workers seen inside the critical section at once.
func exclusive(t *testing.T, locker idempotency.Locker, workers int) int32 {
	t.Helper()
	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "ORD-1")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	return peak.Load()
}

func TestMemoryLocker_Exclusive(t *testing.T) {
	locker := idempotency.NewMemoryLocker()

	assert.Equal(t, int32(1), exclusive(t, locker, 8))
	assert.Equal(t, 0, locker.Held())
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	locker := idempotency.NewMemoryLocker()

	unlockA, err := locker.Lock(context.Background(), "A")
	require.NoError(t, err)
	unlockB, err := locker.Lock(context.Background(), "B")
	require.NoError(t, err)

	assert.Equal(t, 2, locker.Held())
	unlockA()
	unlockB()
	assert.Equal(t, 0, locker.Held())
}

func TestMemoryLocker_ContextCancelled(t *testing.T) {
	locker := idempotency.NewMemoryLocker()
	unlock, err := locker.Lock(context.Background(), "ORD-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "ORD-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryLocker_UnlockTwice(t *testing.T) {
	locker := idempotency.NewMemoryLocker()
	unlock, err := locker.Lock(context.Background(), "ORD-1")
	require.NoError(t, err)

	unlock()
	assert.NotPanics(t, func() { unlock() })

	again, err := locker.Lock(context.Background(), "ORD-1")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_Exclusive(t *testing.T) {
	locker, mr := setupRedisLocker(t)

	assert.Equal(t, int32(1), exclusive(t, locker, 4))
	assert.False(t, mr.Exists("carrierbridge:lock:ORD-1"))
}

func TestRedisLocker_SetsTTL(t *testing.T) {
	locker, mr := setupRedisLocker(t)

	unlock, err := locker.Lock(context.Background(), "ORD-1")
	require.NoError(t, err)
	defer unlock()

	assert.True(t, mr.Exists("carrierbridge:lock:ORD-1"))
	assert.Equal(t, time.Minute, mr.TTL("carrierbridge:lock:ORD-1"))
}

func TestRedisLocker_ContextCancelled(t *testing.T) {
	locker, _ := setupRedisLocker(t)
	unlock, err := locker.Lock(context.Background(), "ORD-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "ORD-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	locker, mr := setupRedisLocker(t)

	unlock, err := locker.Lock(context.Background(), "ORD-1")
	require.NoError(t, err)

	// The lock expired and another process took it.
	require.NoError(t, mr.Set("carrierbridge:lock:ORD-1", "someone-else"))
	unlock()

	value, err := mr.Get("carrierbridge:lock:ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", value)
}

func TestRedisLocker_ExpiredLockCanBeRetaken(t *testing.T) {
	locker, mr := setupRedisLocker(t)

	_, err := locker.Lock(context.Background(), "ORD-1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	unlock, err := locker.Lock(context.Background(), "ORD-1")
	require.NoError(t, err)
	unlock()
}
