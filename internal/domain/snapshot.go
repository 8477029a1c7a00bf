package domain

import (
	"encoding/json"
	"fmt"
)

// CodespaceSnapshot 是房间持久化的代码空间状态，存储于 room:{roomId}。
type CodespaceSnapshot struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	AdminID  string `json:"adminId"` // 执行保存的管理员的用户标识
}

// Encode 将快照序列化为存储格式。
func (s CodespaceSnapshot) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal codespace snapshot: %w", err)
	}
	return string(b), nil
}

// DecodeSnapshot 解析存储中的快照记录。
func DecodeSnapshot(raw string) (CodespaceSnapshot, error) {
	var s CodespaceSnapshot
	if raw == "" {
		return s, fmt.Errorf("codespace snapshot record is empty")
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return s, fmt.Errorf("failed to unmarshal codespace snapshot: %w", err)
	}
	return s, nil
}
