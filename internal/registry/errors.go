package registry

import "errors"

var (
	// ErrRoomFull 表示房间已达到容量上限
	ErrRoomFull = errors.New("room is full")
	// ErrNotAdmin 表示请求者不是房间管理员
	ErrNotAdmin = errors.New("only the room admin can perform this action")
	// ErrNotMember 表示目标连接不在房间内
	ErrNotMember = errors.New("connection is not a member of the room")
	// ErrAdminPermission 表示试图撤销管理员自身的运行权限
	ErrAdminPermission = errors.New("the admin's run permission cannot be revoked")
	// ErrInvalidRoom 表示房间 ID 为空
	ErrInvalidRoom = errors.New("room id is required")
)

// ErrInOtherRoom 表示连接已在另一个房间内 (每个连接同时最多属于一个房间)
var ErrInOtherRoom = errors.New("connection already belongs to another room")
