package lock

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_Exclusive(t *testing.T) {
	l := NewLocal()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "acme/widgets#42")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLocal_IndependentKeys(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocal_ContextCancel(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.True(t, errors.Is(err, ErrNotAcquired))
}

func TestLocal_UnlockIdempotent(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
	unlock()

	unlock, err = l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
}

// syncBuffer is a log sink safe for the renewal goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newRedisLocker(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis, *syncBuffer) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	logs := &syncBuffer{}
	return NewRedis(client, ttl, slog.New(slog.NewTextHandler(logs, nil))), mr, logs
}

func TestRedis_ExclusiveAndRelease(t *testing.T) {
	l, mr, _ := newRedisLocker(t, time.Second)
	key := "prguard:lock:acme/widgets#42"

	unlock, err := l.Lock(context.Background(), "acme/widgets#42")
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "acme/widgets#42")
	assert.ErrorIs(t, err, ErrNotAcquired)

	unlock()
	unlock()
	assert.False(t, mr.Exists(key))

	unlock, err = l.Lock(context.Background(), "acme/widgets#42")
	require.NoError(t, err)
	unlock()
}

func TestRedis_RenewsTTLWhileHeld(t *testing.T) {
	l, mr, logs := newRedisLocker(t, 300*time.Millisecond)
	key := "prguard:lock:k"

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	mr.SetTTL(key, time.Millisecond)
	assert.Eventually(t, func() bool {
		return mr.TTL(key) > 200*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	unlock()
	assert.False(t, mr.Exists(key))
	assert.NotContains(t, logs.String(), "level=ERROR")
}

func TestRedis_ForeignHolderKeptOnRelease(t *testing.T) {
	l, mr, logs := newRedisLocker(t, time.Minute)
	key := "prguard:lock:k"

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, mr.Set(key, "someone-else"))

	unlock()
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
	assert.Contains(t, logs.String(), "lock expired before release")
}

func TestRedis_ReleaseErrorIsLogged(t *testing.T) {
	l, mr, logs := newRedisLocker(t, time.Minute)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	mr.Close()

	unlock()
	assert.Contains(t, logs.String(), "lock release failed")
}
