package repository

import (
	"context"
	"time"
)

// Store 定义了持久化网关的键值/集合操作，带 TTL 语义。
// 主存储 (Redis) 与进程内备用存储都实现此接口，调用方无法区分由谁提供服务。
type Store interface {
	// Save 写入字符串值并设置过期时间。ttl 为 0 表示不过期。
	Save(ctx context.Context, key, value string, ttl time.Duration) error

	// Get 读取值。key 不存在或已过期时返回 ErrNotFound。
	Get(ctx context.Context, key string) (string, error)

	// Delete 删除 key (值或集合)，key 不存在时不报错。
	Delete(ctx context.Context, key string) error

	// AddToSet 将成员加入集合，集合不存在时创建。
	AddToSet(ctx context.Context, key, member string) error

	// RemoveFromSet 从集合移除成员。集合变空时整个 key 被删除。
	RemoveFromSet(ctx context.Context, key, member string) error

	// MembersOfSet 返回集合的所有成员，集合不存在时返回空切片。
	MembersOfSet(ctx context.Context, key string) ([]string, error)

	// Expire 刷新 key 的过期时间。key 不存在时为 no-op。
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Ping 检查存储连通性。
	Ping(ctx context.Context) error
}

// IndexPruner 由支持扫描的主存储实现，用于清理指向已过期快照的用户房间索引。
type IndexPruner interface {
	PruneUserIndexes(ctx context.Context) (int, error)
}
