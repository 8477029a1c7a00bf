package redisstate_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstate "collab-codespace/internal/infra/state/redis"
	"collab-codespace/internal/repository"
)

func newTestStore(t *testing.T, prefix string) (*redisstate.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstate.NewRedisStore(client, prefix), mr
}

func TestRedisStore_SaveGetWithTTL(t *testing.T) {
	store, mr := newTestStore(t, "")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "room:R1", `{"code":"x"}`, time.Hour))
	val, err := store.Get(ctx, "room:R1")
	require.NoError(t, err)
	assert.Equal(t, `{"code":"x"}`, val)
	assert.Equal(t, time.Hour, mr.TTL("room:R1"))

	mr.FastForward(time.Hour + time.Second)
	_, err = store.Get(ctx, "room:R1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	store, mr := newTestStore(t, "cs:")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "room:R1", "v", 0))
	assert.True(t, mr.Exists("cs:room:R1"))
	assert.False(t, mr.Exists("room:R1"))
}

func TestRedisStore_Sets(t *testing.T) {
	store, mr := newTestStore(t, "")
	ctx := context.Background()
	key := repository.UserRoomsKey("u1")

	require.NoError(t, store.AddToSet(ctx, key, "R1"))
	require.NoError(t, store.AddToSet(ctx, key, "R2"))
	require.NoError(t, store.AddToSet(ctx, key, "R1"))
	require.NoError(t, store.Expire(ctx, key, 24*time.Hour))

	members, err := store.MembersOfSet(ctx, key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"R1", "R2"}, members)
	assert.Equal(t, 24*time.Hour, mr.TTL(key))

	require.NoError(t, store.RemoveFromSet(ctx, key, "R1"))
	members, err = store.MembersOfSet(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"R2"}, members)

	require.NoError(t, store.Delete(ctx, key))
	members, err = store.MembersOfSet(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRedisStore_PingFailsWhenServerDown(t *testing.T) {
	store, mr := newTestStore(t, "")
	require.NoError(t, store.Ping(context.Background()))
	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}

func TestRedisStore_PruneUserIndexes(t *testing.T) {
	store, mr := newTestStore(t, "")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, repository.RoomKey("alive"), "{}", time.Hour))
	require.NoError(t, store.Save(ctx, repository.RoomKey("short"), "{}", time.Minute))
	key := repository.UserRoomsKey("u1")
	for _, id := range []string{"alive", "short", "gone"} {
		require.NoError(t, store.AddToSet(ctx, key, id))
	}

	mr.FastForward(2 * time.Minute)

	removed, err := store.PruneUserIndexes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	members, err := store.MembersOfSet(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"alive"}, members)
}
