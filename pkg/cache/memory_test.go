package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGetStruct(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	type status struct {
		Created int `json:"created"`
	}
	require.NoError(t, mc.Set(ctx, "k", status{Created: 3}, time.Minute))

	var got status
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.Equal(t, 3, got.Created)

	require.NoError(t, mc.Delete(ctx, "k"))
	assert.ErrorIs(t, mc.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestMemoryCache_Expiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
}

func TestMemoryCache_Increment(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := mc.Increment(ctx, "seq")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	require.NoError(t, mc.Set(ctx, "text", "abc", 0))
	_, err := mc.Increment(ctx, "text")
	assert.Error(t, err)
}

func TestMemoryCache_Lock(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "merge:1:0", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "merge:1:0", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, "merge:1:0"))
	assert.ErrorIs(t, mc.Unlock(ctx, "merge:1:0"), ErrLockNotHeld)

	ok, _ = mc.TryLock(ctx, "short", time.Millisecond)
	assert.True(t, ok)
	time.Sleep(5 * time.Millisecond)
	ok, _ = mc.TryLock(ctx, "short", time.Minute)
	assert.True(t, ok, "expired lock can be taken again")
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	time.Sleep(time.Millisecond)
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &s))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "merge:12:0", Key("merge", int64(12), 0))
	assert.Equal(t, "seq", Key("seq"))
}

func TestMemoryCache_RaiseTo(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.RaiseTo(ctx, "seq", 100))
	n, err := mc.Increment(ctx, "seq")
	require.NoError(t, err)
	assert.Equal(t, int64(101), n)

	require.NoError(t, mc.RaiseTo(ctx, "seq", 50))
	n, _ = mc.Increment(ctx, "seq")
	assert.Equal(t, int64(102), n)
}
