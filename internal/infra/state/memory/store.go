// Package memorystate 提供进程内的备用存储，在 Redis 不可用时接管持久化网关。
// 数据在进程重启后丢失。
package memorystate

import (
	"context"
	"sort"
	"sync"
	"time"

	"collab-codespace/internal/repository"
)

type entry struct {
	value string
	set   map[string]struct{}
	timer *time.Timer
	gen   uint64 // 每次写入/刷新 TTL 递增，过期回调据此判断是否仍然有效
}

// MemoryStore 是 repository.Store 的内存实现。
// TTL 通过为每个 key 调度的过期回调执行，而不是读时检查。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
}

var _ repository.Store = (*MemoryStore)(nil)

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*entry)}
}

// schedule 为 key 安排过期。调用方必须持有 mu。
func (m *MemoryStore) schedule(key string, e *entry, ttl time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	m.gen++
	e.gen = m.gen
	if ttl <= 0 {
		return
	}
	gen := e.gen
	e.timer = time.AfterFunc(ttl, func() { m.expire(key, gen) })
}

func (m *MemoryStore) expire(key string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && e.gen == gen {
		delete(m.entries, key)
	}
}

func (m *MemoryStore) drop(key string) {
	if e, ok := m.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(m.entries, key)
	}
}

// Save 写入值并安排过期。
func (m *MemoryStore) Save(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop(key)
	e := &entry{value: value}
	m.entries[key] = e
	m.schedule(key, e, ttl)
	return nil
}

// Get 读取值。集合 key 与不存在的 key 一样返回 ErrNotFound。
func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.set != nil {
		return "", repository.ErrNotFound
	}
	return e.value, nil
}

// Delete 删除 key。
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	m.drop(key)
	m.mu.Unlock()
	return nil
}

// AddToSet 向集合添加成员，不改变已有的过期时间 (与 Redis SADD 一致)。
func (m *MemoryStore) AddToSet(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.set == nil {
		m.drop(key)
		e = &entry{set: make(map[string]struct{})}
		m.entries[key] = e
		m.schedule(key, e, 0)
	}
	e.set[member] = struct{}{}
	return nil
}

// RemoveFromSet 移除成员，集合为空时删除 key。
func (m *MemoryStore) RemoveFromSet(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.set == nil {
		return nil
	}
	delete(e.set, member)
	if len(e.set) == 0 {
		m.drop(key)
	}
	return nil
}

// MembersOfSet 返回集合成员 (已排序)。
func (m *MemoryStore) MembersOfSet(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.set == nil {
		return []string{}, nil
	}
	members := make([]string, 0, len(e.set))
	for member := range e.set {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

// Expire 重新安排 key 的过期时间。
func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		m.schedule(key, e, ttl)
	}
	return nil
}

// Ping 内存存储始终可用。
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len 返回当前未过期的 key 数量。
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
