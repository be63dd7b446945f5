package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tywin1104/crew-gatekeeper/cache"
)

func runPassStoreSuite(t *testing.T, store cache.PassStore) {
	ctx := context.Background()

	t.Run("no pass is denied", func(t *testing.T) {
		ok, err := store.Consume(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("one pass grants exactly one consume", func(t *testing.T) {
		_, err := store.Grant(ctx, "u1")
		require.NoError(t, err)

		ok, err := store.Consume(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Consume(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("passes accumulate", func(t *testing.T) {
		first, err := store.Grant(ctx, "u2")
		require.NoError(t, err)
		second, err := store.Grant(ctx, "u2")
		require.NoError(t, err)
		assert.NotEqual(t, first, second)

		count, err := store.Count(ctx, "u2")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		for i := 0; i < 2; i++ {
			ok, err := store.Consume(ctx, "u2")
			require.NoError(t, err)
			assert.True(t, ok)
		}
		count, err = store.Count(ctx, "u2")
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("passes are per user", func(t *testing.T) {
		_, err := store.Grant(ctx, "u3")
		require.NoError(t, err)
		ok, err := store.Consume(ctx, "u4")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// runPassExpirySuite checks a store created with a one hour ttl. advance
// moves the store's clock forward.
func runPassExpirySuite(t *testing.T, store cache.PassStore, advance func(time.Duration)) {
	ctx := context.Background()

	_, err := store.Grant(ctx, "u1")
	require.NoError(t, err)
	advance(30 * time.Minute)
	count, err := store.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	advance(time.Hour)
	count, err = store.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	ok, err := store.Consume(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	// A fresh grant after expiry is usable
	_, err = store.Grant(ctx, "u1")
	require.NoError(t, err)
	ok, err = store.Consume(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryPassStore(t *testing.T) {
	runPassStoreSuite(t, cache.NewMemoryPassStore(0))
}

func TestMemoryPassExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := cache.NewMemoryPassStore(time.Hour).WithClock(func() time.Time { return now })
	runPassExpirySuite(t, store, func(d time.Duration) { now = now.Add(d) })
}

func newRedisService(t *testing.T, ttl time.Duration) (*cache.Service, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	pool := cache.NewPool(mr.Addr())
	t.Cleanup(func() { pool.Close() })
	svc := cache.NewService(pool, ttl, logrus.NewEntry(logrus.New()))
	require.NoError(t, svc.Ping(context.Background()))
	return svc, mr
}

func TestRedisPassStore(t *testing.T) {
	svc, _ := newRedisService(t, 0)
	runPassStoreSuite(t, svc)
}

func TestRedisPassExpires(t *testing.T) {
	svc, mr := newRedisService(t, time.Hour)
	_, err := svc.Grant(context.Background(), "u0")
	require.NoError(t, err)
	assert.True(t, mr.TTL("gatepass:u0") > 0)

	runPassExpirySuite(t, svc, mr.FastForward)
}
