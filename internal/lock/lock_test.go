package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/studyhub/backend/internal/config"
	"github.com/studyhub/backend/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func exerciseMutualExclusion(t *testing.T, l Locker, key string) {
	t.Helper()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), key, time.Minute)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestKeyed_MutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, NewKeyed(), "regen:problem:1")
}

func TestKeyed_DistinctKeysDoNotBlock(t *testing.T) {
	k := NewKeyed()
	r1, err := k.Acquire(context.Background(), "a", 0)
	require.NoError(t, err)
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r2, err := k.Acquire(ctx, "b", 0)
	require.NoError(t, err)
	r2()
}

func TestKeyed_ContextCancelWhileWaiting(t *testing.T) {
	k := NewKeyed()
	release, err := k.Acquire(context.Background(), "a", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Acquire(ctx, "a", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()

	k.mu.Lock()
	assert.Empty(t, k.entries)
	k.mu.Unlock()
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	l, err := NewRedisLocker(config.RedisConfig{Enabled: true, Addr: addr}, logger.NewNop())
	require.NoError(t, err)
	defer l.Close()

	exerciseMutualExclusion(t, l, "test:"+t.Name())
}
