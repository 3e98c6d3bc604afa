package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ StateStore = (*MemoryStateStore)(nil)

func TestMemoryStateStore_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newMemoryStateStore(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "assign:a:e", []byte("x"), time.Minute))
	require.NoError(t, store.Set(ctx, "forever", []byte("y"), 0))

	got, err := store.Get(ctx, "assign:a:e")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	now = now.Add(2 * time.Minute)

	got, err = store.Get(ctx, "assign:a:e")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), got)
}

func TestMemoryStateStore_SweepDropsUnreadExpiredKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newMemoryStateStore(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		require.NoError(t, store.Set(ctx, fmt.Sprintf("assign:a:%d", i), []byte("x"), time.Minute))
	}
	require.NoError(t, store.Set(ctx, "assign:a:late", []byte("x"), time.Hour))
	require.NoError(t, store.Set(ctx, "forever", []byte("y"), 0))

	now = now.Add(2 * time.Minute)

	assert.Equal(t, 1000, store.sweep())
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStateStore_SweeperRunsUntilClosed(t *testing.T) {
	var clock = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newMemoryStateStore(func() time.Time { return clock })
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "assign:a:e", []byte("x"), time.Nanosecond))
	store.mu.Lock()
	clock = clock.Add(time.Second)
	store.mu.Unlock()

	go store.sweepEvery(5 * time.Millisecond)
	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}

func TestMemoryStateStore_Delete(t *testing.T) {
	store := NewMemoryStateStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, store.Delete(ctx, "k"))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}
