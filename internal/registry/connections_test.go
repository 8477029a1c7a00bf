package registry_test

import (
	"testing"

	"collab-codespace/internal/registry"

	"github.com/stretchr/testify/assert"
)

func TestConnections_RegisterLookupUnregister(t *testing.T) {
	conns := registry.NewConnections()
	conns.Register("s1", "alice", "u-1")

	conn, ok := conns.Lookup("s1")
	assert.True(t, ok)
	assert.Equal(t, "alice", conn.DisplayName)
	assert.Equal(t, "u-1", conn.UserID)

	// 显示名称不可变
	conns.Register("s1", "mallory", "")
	conn, _ = conns.Lookup("s1")
	assert.Equal(t, "alice", conn.DisplayName)

	conns.Unregister("s1")
	conns.Unregister("unknown")
	_, ok = conns.Lookup("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, conns.Len())
}
