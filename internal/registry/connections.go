package registry

import (
	"sync"

	"collab-codespace/internal/domain"
)

// Connections 是进程级的连接注册表: connection id -> 显示名称。
// 仅存在于内存中，进程重启即丢失。
type Connections struct {
	mu    sync.RWMutex
	conns map[string]domain.Connection
}

// NewConnections 创建空的连接注册表。
func NewConnections() *Connections {
	return &Connections{conns: make(map[string]domain.Connection)}
}

// Register 记录连接的显示名称。显示名称在连接生命周期内不可变，
// 重复注册同一个 id 时保留第一次的名称 (用户 ID 为空时允许补充)。
func (c *Connections) Register(id, displayName, userID string) domain.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.conns[id]; ok {
		if existing.UserID == "" && userID != "" {
			existing.UserID = userID
			c.conns[id] = existing
		}
		return existing
	}
	conn := domain.Connection{ID: id, DisplayName: displayName, UserID: userID}
	c.conns[id] = conn
	return conn
}

// Lookup 查找连接，不存在时返回 false。
func (c *Connections) Lookup(id string) (domain.Connection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.conns[id]
	return conn, ok
}

// Unregister 删除连接，未知 id 为 no-op。
func (c *Connections) Unregister(id string) {
	c.mu.Lock()
	delete(c.conns, id)
	c.mu.Unlock()
}

// Len 返回当前注册的连接数。
func (c *Connections) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}
