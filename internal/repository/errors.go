package repository

import "errors"

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的 key 不存在或已过期
	ErrNotFound = errors.New("repository: record not found")
	// ErrUnavailable 表示存储后端当前不可用
	ErrUnavailable = errors.New("repository: store unavailable")
)

