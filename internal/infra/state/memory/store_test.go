package memorystate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memorystate "collab-codespace/internal/infra/state/memory"
	"collab-codespace/internal/repository"
)

func TestMemoryStore_SaveGetDelete(t *testing.T) {
	store := memorystate.NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "room:R1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, store.Save(ctx, "room:R1", "v1", time.Hour))
	require.NoError(t, store.Save(ctx, "room:R1", "v2", time.Hour))
	val, err := store.Get(ctx, "room:R1")
	require.NoError(t, err)
	assert.Equal(t, "v2", val)

	require.NoError(t, store.Delete(ctx, "room:R1"))
	require.NoError(t, store.Delete(ctx, "room:R1"))
	_, err = store.Get(ctx, "room:R1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMemoryStore_ScheduledExpiry(t *testing.T) {
	store := memorystate.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "short", "v", 20*time.Millisecond))
	require.NoError(t, store.Save(ctx, "long", "v", time.Hour))

	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, "short")
		return err == repository.ErrNotFound
	}, time.Second, 5*time.Millisecond)

	_, err := store.Get(ctx, "long")
	assert.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_RewriteCancelsPreviousExpiry(t *testing.T) {
	store := memorystate.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "k", "old", 20*time.Millisecond))
	require.NoError(t, store.Save(ctx, "k", "new", time.Hour))

	time.Sleep(60 * time.Millisecond)
	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "new", val)
}

func TestMemoryStore_SetsAndExpire(t *testing.T) {
	store := memorystate.NewMemoryStore()
	ctx := context.Background()
	key := repository.UserRoomsKey("u1")

	members, err := store.MembersOfSet(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, store.AddToSet(ctx, key, "R2"))
	require.NoError(t, store.AddToSet(ctx, key, "R1"))
	require.NoError(t, store.AddToSet(ctx, key, "R1"))
	members, err = store.MembersOfSet(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2"}, members)

	require.NoError(t, store.RemoveFromSet(ctx, key, "R1"))
	require.NoError(t, store.RemoveFromSet(ctx, key, "R2"))
	assert.Equal(t, 0, store.Len(), "empty set removes the key")

	require.NoError(t, store.AddToSet(ctx, key, "R3"))
	require.NoError(t, store.Expire(ctx, key, 20*time.Millisecond))
	assert.Eventually(t, func() bool {
		m, _ := store.MembersOfSet(ctx, key)
		return len(m) == 0
	}, time.Second, 5*time.Millisecond)
}
