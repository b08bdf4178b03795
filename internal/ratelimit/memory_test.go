package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreIncrementAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	n, err := store.Increment(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = store.Increment(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	used, ttl, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.EqualValues(t, 5, used)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestMemoryStoreMissingKey(t *testing.T) {
	store := NewMemoryStore()

	used, ttl, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Zero(t, used)
	assert.Zero(t, ttl)
}

func TestMemoryStoreWindowExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Increment(ctx, "k", 1, 20*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	used, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, used)

	// A fresh window starts from the increment amount.
	n, err := store.Increment(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Increment(ctx, "k", 4, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "k"))

	used, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Increment(ctx, "k", 1, time.Minute)
		}()
	}
	wg.Wait()

	used, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.EqualValues(t, 50, used)
}
