package repository

import "strings"

const (
	roomKeyPrefix      = "room:"
	userKeyPrefix      = "user:"
	userRoomsKeySuffix = ":rooms"
)

// RoomKey 返回房间快照的 key: room:{roomId}
func RoomKey(roomID string) string {
	return roomKeyPrefix + roomID
}

// UserRoomsKey 返回用户房间索引的 key: user:{userId}:rooms
func UserRoomsKey(userID string) string {
	return userKeyPrefix + userID + userRoomsKeySuffix
}

// UserRoomsPattern 是用于扫描所有用户索引的通配模式。
const UserRoomsPattern = userKeyPrefix + "*" + userRoomsKeySuffix

// IsUserRoomsKey 判断 key 是否为用户房间索引。
func IsUserRoomsKey(key string) bool {
	return strings.HasPrefix(key, userKeyPrefix) && strings.HasSuffix(key, userRoomsKeySuffix) &&
		len(key) > len(userKeyPrefix)+len(userRoomsKeySuffix)
}
