package redisstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"collab-codespace/internal/repository"
)

// RedisStore 是 repository.Store 的 Redis 实现，TTL 由 Redis 原生过期机制保证。
type RedisStore struct {
	client *redis.Client
	// 可选的 key 前缀，方便与其他应用共用同一个 Redis 实例
	keyPrefix string
}

var (
	_ repository.Store       = (*RedisStore)(nil)
	_ repository.IndexPruner = (*RedisStore)(nil)
)

// NewRedisStore 创建 RedisStore 实例。keyPrefix 可以为空。
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil for RedisStore")
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisStore) key(k string) string {
	return r.keyPrefix + k
}

// Save 写入值并设置 TTL。
func (r *RedisStore) Save(ctx context.Context, key, value string, ttl time.Duration) error {
	k := r.key(key)
	if err := r.client.Set(ctx, k, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set %s: %w", k, err)
	}
	return nil
}

// Get 读取值，key 不存在时返回 repository.ErrNotFound。
func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	k := r.key(key)
	val, err := r.client.Get(ctx, k).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis: failed to get %s: %w", k, err)
	}
	return val, nil
}

// Delete 删除 key。
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	k := r.key(key)
	if err := r.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete %s: %w", k, err)
	}
	return nil
}

// AddToSet 向集合添加成员。
func (r *RedisStore) AddToSet(ctx context.Context, key, member string) error {
	k := r.key(key)
	if err := r.client.SAdd(ctx, k, member).Err(); err != nil {
		return fmt.Errorf("redis: failed to add %q to set %s: %w", member, k, err)
	}
	return nil
}

// RemoveFromSet 从集合移除成员，Redis 会在集合为空时自动删除 key。
func (r *RedisStore) RemoveFromSet(ctx context.Context, key, member string) error {
	k := r.key(key)
	if err := r.client.SRem(ctx, k, member).Err(); err != nil {
		return fmt.Errorf("redis: failed to remove %q from set %s: %w", member, k, err)
	}
	return nil
}

// MembersOfSet 返回集合成员。
func (r *RedisStore) MembersOfSet(ctx context.Context, key string) ([]string, error) {
	k := r.key(key)
	members, err := r.client.SMembers(ctx, k).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read set %s: %w", k, err)
	}
	return members, nil
}

// Expire 刷新 key 的过期时间。
func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	k := r.key(key)
	if err := r.client.Expire(ctx, k, ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to expire %s: %w", k, err)
	}
	return nil
}

// Ping 检查 Redis 连通性。
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// PruneUserIndexes 扫描所有用户房间索引，移除快照已过期的房间 ID。
// 索引的 TTL 在每次保存时刷新，因此可能比其中某些房间快照活得更久。
// 返回被移除的索引条目数。
func (r *RedisStore) PruneUserIndexes(ctx context.Context) (int, error) {
	logCtx := logrus.WithField("operation", "PruneUserIndexes")
	removed := 0

	iter := r.client.Scan(ctx, 0, r.key(repository.UserRoomsPattern), 100).Iterator()
	for iter.Next(ctx) {
		indexKey := iter.Val()
		roomIDs, err := r.client.SMembers(ctx, indexKey).Result()
		if err != nil {
			logCtx.WithError(err).WithField("key", indexKey).Warn("Failed to read user room index")
			continue
		}
		if len(roomIDs) == 0 {
			continue
		}

		// 使用 Pipeline 批量检查快照是否仍然存在
		pipe := r.client.Pipeline()
		checks := make([]*redis.IntCmd, len(roomIDs))
		for i, roomID := range roomIDs {
			checks[i] = pipe.Exists(ctx, r.key(repository.RoomKey(roomID)))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			logCtx.WithError(err).WithField("key", indexKey).Warn("Failed to check room snapshots for index")
			continue
		}

		stale := make([]interface{}, 0)
		for i, cmd := range checks {
			if cmd.Val() == 0 {
				stale = append(stale, roomIDs[i])
			}
		}
		if len(stale) == 0 {
			continue
		}
		if err := r.client.SRem(ctx, indexKey, stale...).Err(); err != nil {
			logCtx.WithError(err).WithField("key", indexKey).Warn("Failed to prune user room index")
			continue
		}
		removed += len(stale)
		logCtx.WithFields(logrus.Fields{"key": indexKey, "removed": len(stale)}).Debug("Pruned stale rooms from user index")
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis: failed to scan user room indexes: %w", err)
	}
	return removed, nil
}
