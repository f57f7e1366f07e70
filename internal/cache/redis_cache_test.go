package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCache_GetSetDel(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), b)

	require.NoError(t, c.Del(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_TTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_SetNXAndDelIfEqual(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err := c.DelIfEqual(ctx, "lock", "b")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = c.DelIfEqual(ctx, "lock", "a")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestRedisCache_LPushTrim(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for _, v := range []string{"1", "2", "3", "4"} {
		require.NoError(t, c.LPushTrim(ctx, "inbox", []byte(v), 3))
	}

	items, err := c.LRange(ctx, "inbox", 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "4", string(items[0]))
	assert.Equal(t, "2", string(items[2]))
}

func TestLock_TryAcquire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	lock := NewLock(c, SweepLockKey(""), time.Minute)

	release, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	assert.False(t, mr.Exists(SweepLockKey("")))

	release2, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestKeys(t *testing.T) {
	tenant, doc := uuid.New(), uuid.New()
	assert.Equal(t, "sync:registered:"+tenant.String()+":"+doc.String(), RegisteredDocumentKey(tenant, doc))
	assert.Equal(t, "sync:retry:lock:all", SweepLockKey(" "))
	assert.Equal(t, "notify:patient:1234%2F5", PatientInboxKey("1234/5"))
}

func TestParseUsedMemory(t *testing.T) {
	n, ok := parseUsedMemory("# Memory\r\nused_memory:1024\r\nused_memory_human:1K\r\n")
	assert.True(t, ok)
	assert.Equal(t, int64(1024), n)

	_, ok = parseUsedMemory("# Memory\r\n")
	assert.False(t, ok)
}
