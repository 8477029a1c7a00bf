package service

import (
	"errors"

	"collab-codespace/internal/repository"
)

var (
	ErrInvalidRequest   = errors.New("invalid request: room id and user id are required")
	ErrSnapshotNotFound = errors.New("no saved codespace for this room")
	ErrPersistence      = errors.New("codespace storage is unavailable, please try again")
	ErrCorruptSnapshot  = errors.New("saved codespace record is malformed")

	ErrInvalidExecutionRequest = errors.New("Code and language are required")
	ErrExecutionUnavailable    = errors.New("code execution service is not configured")
	ErrExecutionFailed         = errors.New("code execution failed")
)

// mapRepoError 将仓库层的错误映射为服务层错误。
func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return ErrSnapshotNotFound
	}
	return ErrPersistence
}
