package data

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestMutexExclusive(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)

	release, err := AcquireMutex(ctx, rdb, "sweep:all", time.Minute)
	require.NoError(t, err)
	_, err = AcquireMutex(ctx, rdb, "sweep:all", time.Minute)
	require.ErrorIs(t, err, ErrMutexHeld)

	other, err := AcquireMutex(ctx, rdb, "sweep:locks", time.Minute)
	require.NoError(t, err)
	other()

	release()
	require.False(t, mr.Exists(mutexPrefix+"sweep:all"))
	again, err := AcquireMutex(ctx, rdb, "sweep:all", time.Minute)
	require.NoError(t, err)
	again()
}

func TestMutexReleaseKeepsNewOwner(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)

	stale, err := AcquireMutex(ctx, rdb, "sweep:all", time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	current, err := AcquireMutex(ctx, rdb, "sweep:all", time.Minute)
	require.NoError(t, err)
	owner, err := mr.Get(mutexPrefix + "sweep:all")
	require.NoError(t, err)

	// The lease ran out under the first holder; its release must not
	// remove the second holder's key.
	stale()
	got, err := mr.Get(mutexPrefix + "sweep:all")
	require.NoError(t, err)
	require.Equal(t, owner, got)

	current()
	require.False(t, mr.Exists(mutexPrefix+"sweep:all"))
}

func TestHitRateCountsPerKey(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)

	for want := int64(1); want <= 3; want++ {
		n, err := HitRate(ctx, rdb, "uid:1", time.Hour)
		require.NoError(t, err)
		require.Equal(t, want, n)
	}
	n, err := HitRate(ctx, rdb, "uid:2", time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	for _, k := range mr.Keys() {
		require.Positive(t, mr.TTL(k), k)
	}

	_, err = HitRate(ctx, rdb, "uid:1", 0)
	require.Error(t, err)
}

func TestCacheExpires(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)

	require.NoError(t, CacheSet(ctx, rdb, "k", []byte("v"), 3*time.Second))
	b, ok := CacheGet(ctx, rdb, "k")
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	mr.FastForward(4 * time.Second)
	_, ok = CacheGet(ctx, rdb, "k")
	require.False(t, ok)
}

func TestPublishEventAppendsToStream(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)

	require.NoError(t, PublishEvent(ctx, rdb, "lock.created", map[string]interface{}{"lock": 7}))
	msgs, err := rdb.XRange(ctx, streamEvents, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "lock.created", msgs[0].Values["kind"])
	require.Equal(t, "7", msgs[0].Values["lock"])
}
