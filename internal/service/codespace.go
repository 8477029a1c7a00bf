package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"collab-codespace/internal/domain"
	"collab-codespace/internal/repository"
)

// DefaultSnapshotTTL 是快照与用户索引的默认生存时间。
const DefaultSnapshotTTL = 24 * time.Hour

// CodespaceService 负责房间快照与用户房间索引的持久化。
type CodespaceService struct {
	store repository.Store
	ttl   time.Duration
}

// NewCodespaceService 创建 CodespaceService 实例。ttl <= 0 时使用 DefaultSnapshotTTL。
func NewCodespaceService(store repository.Store, ttl time.Duration) *CodespaceService {
	if store == nil {
		panic("Store cannot be nil for CodespaceService")
	}
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &CodespaceService{store: store, ttl: ttl}
}

// TTL 返回快照的生存时间。
func (s *CodespaceService) TTL() time.Duration { return s.ttl }

// Save 写入房间快照并把房间加入所有者的索引 (刷新索引 TTL)。
// ownerID 必须是执行保存的管理员的身份。房间所有者变化时，房间会从旧所有者的索引中移除。
func (s *CodespaceService) Save(ctx context.Context, roomID, ownerID, code, language string) error {
	if roomID == "" || ownerID == "" {
		return ErrInvalidRequest
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "owner_id": ownerID, "operation": "SaveCodespace"})

	// 读取旧快照只为维护索引，失败不影响保存
	if prev, err := s.Load(ctx, roomID); err == nil && prev.AdminID != "" && prev.AdminID != ownerID {
		if err := s.store.RemoveFromSet(ctx, repository.UserRoomsKey(prev.AdminID), roomID); err != nil {
			logCtx.WithError(err).Warn("Failed to remove room from previous owner's index")
		}
	}

	record, err := domain.CodespaceSnapshot{Code: code, Language: language, AdminID: ownerID}.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := s.store.Save(ctx, repository.RoomKey(roomID), record, s.ttl); err != nil {
		logCtx.WithError(err).Error("Failed to write codespace snapshot")
		return mapRepoError(err)
	}

	indexKey := repository.UserRoomsKey(ownerID)
	if err := s.store.AddToSet(ctx, indexKey, roomID); err != nil {
		logCtx.WithError(err).Error("Failed to add room to user index")
		return mapRepoError(err)
	}
	if err := s.store.Expire(ctx, indexKey, s.ttl); err != nil {
		logCtx.WithError(err).Error("Failed to refresh user index TTL")
		return mapRepoError(err)
	}
	logCtx.Info("Codespace snapshot saved")
	return nil
}

// Load 读取房间快照。没有快照时返回 ErrSnapshotNotFound。
func (s *CodespaceService) Load(ctx context.Context, roomID string) (*domain.CodespaceSnapshot, error) {
	if roomID == "" {
		return nil, ErrInvalidRequest
	}
	raw, err := s.store.Get(ctx, repository.RoomKey(roomID))
	if err != nil {
		return nil, mapRepoError(err)
	}
	snap, err := domain.DecodeSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return &snap, nil
}

// Owner 返回快照所有者的用户 ID。
func (s *CodespaceService) Owner(ctx context.Context, roomID string) (string, error) {
	snap, err := s.Load(ctx, roomID)
	if err != nil {
		return "", err
	}
	return snap.AdminID, nil
}

// Delete 删除房间快照并从用户索引中移除该房间。
func (s *CodespaceService) Delete(ctx context.Context, roomID, userID string) error {
	if roomID == "" || userID == "" {
		return ErrInvalidRequest
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "operation": "DeleteCodespace"})

	owner := ""
	if snap, err := s.Load(ctx, roomID); err == nil {
		owner = snap.AdminID
	} else if !errors.Is(err, ErrSnapshotNotFound) && !errors.Is(err, ErrCorruptSnapshot) {
		logCtx.WithError(err).Error("Failed to read codespace snapshot before delete")
		return err
	}

	if err := s.store.Delete(ctx, repository.RoomKey(roomID)); err != nil {
		logCtx.WithError(err).Error("Failed to delete codespace snapshot")
		return mapRepoError(err)
	}
	if err := s.store.RemoveFromSet(ctx, repository.UserRoomsKey(userID), roomID); err != nil {
		logCtx.WithError(err).Error("Failed to remove room from user index")
		return mapRepoError(err)
	}
	if owner != "" && owner != userID {
		if err := s.store.RemoveFromSet(ctx, repository.UserRoomsKey(owner), roomID); err != nil {
			logCtx.WithError(err).Warn("Failed to remove room from owner's index")
		}
	}
	logCtx.Info("Codespace snapshot deleted")
	return nil
}

// ListUserRooms 返回用户保存过的房间 ID (已排序)，未知用户返回空列表。
func (s *CodespaceService) ListUserRooms(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return []string{}, nil
	}
	rooms, err := s.store.MembersOfSet(ctx, repository.UserRoomsKey(userID))
	if err != nil {
		return nil, mapRepoError(err)
	}
	if rooms == nil {
		rooms = []string{}
	}
	sort.Strings(rooms)
	return rooms, nil
}
