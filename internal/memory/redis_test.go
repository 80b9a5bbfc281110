package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRedisTestStore connects to a local Redis, skipping the test when
// none is reachable.
func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	store, err := NewRedisStore(&RedisConfig{Addr: "localhost:6379", DB: 15})
	if err != nil {
		t.Skipf("Skipping test - Redis not available: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestRedisRoundTrip tests insert, lookup and dedup against a live Redis
func TestRedisRoundTrip(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	entry := testEntry("redis backed content")
	t.Cleanup(func() { _ = store.Delete(ctx, entry.ContentHash) })

	inserted, err := store.PutIfAbsent(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.PutIfAbsent(ctx, entry)
	require.NoError(t, err)
	assert.False(t, inserted, "SETNX must reject the duplicate")

	got, err := store.Get(ctx, entry.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, entry.Content, got.Content)
	assert.Equal(t, entry.Embedding, got.Embedding)
}

// TestRedisDeleteNotFound tests not-found errors on a live Redis
func TestRedisDeleteNotFound(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, HashContent("never stored in redis"))
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, HashContent("never stored in redis")), ErrNotFound)
}
