package registry

import (
	"sort"
	"sync"

	"collab-codespace/internal/domain"
)

// DefaultCapacity 是房间默认的最大成员数。
const DefaultCapacity = 10

// membership 记录连接在房间内的状态。seq 为加入顺序号，用于管理员继任的确定性排序。
type membership struct {
	seq        uint64
	canRunCode bool
}

type roomState struct {
	members map[string]*membership
	admin   string
}

// Departure 描述一次离开房间的结果。
type Departure struct {
	RoomID     string
	WasAdmin   bool
	NewAdmin   string // 继任的管理员，空表示没有发生继任
	RoomClosed bool   // 最后一个成员离开，房间的实时状态已被丢弃
}

// Directory 是房间目录: 房间 -> 成员集合、管理员、运行权限。
// 房间在第一个成员加入时隐式创建，最后一个成员离开时销毁。
//
// 所有修改都在 Hub 的事件循环中串行执行；mu 仅保证循环外的只读调用者
// (worker、测试) 看到一致的状态。
type Directory struct {
	mu       sync.RWMutex
	conns    *Connections
	capacity int
	rooms    map[string]*roomState
	memberOf map[string]string // connection id -> room id
	seq      uint64
}

// NewDirectory 创建房间目录。capacity <= 0 时使用 DefaultCapacity。
func NewDirectory(conns *Connections, capacity int) *Directory {
	if conns == nil {
		panic("Connections cannot be nil for Directory")
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Directory{
		conns:    conns,
		capacity: capacity,
		rooms:    make(map[string]*roomState),
		memberOf: make(map[string]string),
	}
}

// Capacity 返回配置的房间容量。
func (d *Directory) Capacity() int { return d.capacity }

// Join 将连接加入房间。房间已满时返回 ErrRoomFull 且不修改任何状态。
// 没有管理员的房间由加入者成为管理员并获得运行权限，其余成员默认无运行权限。
func (d *Directory) Join(roomID, connID string) error {
	if roomID == "" {
		return ErrInvalidRoom
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if current, ok := d.memberOf[connID]; ok {
		if current == roomID {
			return nil // 重复加入同一房间是幂等的
		}
		return ErrInOtherRoom
	}

	room, ok := d.rooms[roomID]
	if ok && len(room.members) >= d.capacity {
		return ErrRoomFull
	}
	if !ok {
		room = &roomState{members: make(map[string]*membership)}
		d.rooms[roomID] = room
	}

	d.seq++
	m := &membership{seq: d.seq}
	if room.admin == "" {
		room.admin = connID
		m.canRunCode = true
	}
	room.members[connID] = m
	d.memberOf[connID] = roomID
	return nil
}

// Leave 将连接移出房间并丢弃其权限记录。
// 如果离开的是管理员，加入顺序最早 (seq 最小) 的剩余成员继任并获得运行权限；
// 没有剩余成员时房间被销毁。连接不在该房间时返回 false。
func (d *Directory) Leave(roomID, connID string) (Departure, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, ok := d.rooms[roomID]
	if !ok {
		return Departure{}, false
	}
	if _, ok := room.members[connID]; !ok {
		return Departure{}, false
	}
	delete(room.members, connID)
	delete(d.memberOf, connID)

	dep := Departure{RoomID: roomID, WasAdmin: room.admin == connID}
	if len(room.members) == 0 {
		delete(d.rooms, roomID)
		dep.RoomClosed = true
		return dep, true
	}
	if dep.WasAdmin {
		next := successor(room)
		room.admin = next
		room.members[next].canRunCode = true
		dep.NewAdmin = next
	}
	return dep, true
}

// successor 按加入顺序选出继任者。seq 全局唯一，因此这是剩余成员上的全序。
func successor(room *roomState) string {
	var (
		best    string
		bestSeq uint64
	)
	for id, m := range room.members {
		if best == "" || m.seq < bestSeq {
			best, bestSeq = id, m.seq
		}
	}
	return best
}

// SetPermission 修改目标成员的运行权限，仅管理员可以调用。
func (d *Directory) SetPermission(roomID, requesterID, targetID string, canRunCode bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, ok := d.rooms[roomID]
	if !ok || room.admin != requesterID {
		return ErrNotAdmin
	}
	target, ok := room.members[targetID]
	if !ok {
		return ErrNotMember
	}
	if targetID == room.admin && !canRunCode {
		return ErrAdminPermission
	}
	target.canRunCode = canRunCode
	return nil
}

// Members 返回房间的实时花名册，按加入顺序排列。
func (d *Directory) Members(roomID string) []domain.Member {
	d.mu.RLock()
	defer d.mu.RUnlock()

	room, ok := d.rooms[roomID]
	if !ok {
		return []domain.Member{}
	}
	ids := sortedMembers(room)
	members := make([]domain.Member, 0, len(ids))
	for _, id := range ids {
		conn, _ := d.conns.Lookup(id)
		members = append(members, domain.Member{
			SocketID:   id,
			Username:   conn.DisplayName,
			IsAdmin:    room.admin == id,
			Permission: domain.Permission{CanRunCode: room.members[id].canRunCode},
		})
	}
	return members
}

// MemberIDs 返回房间成员的连接 ID，按加入顺序排列。
func (d *Directory) MemberIDs(roomID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	return sortedMembers(room)
}

func sortedMembers(room *roomState) []string {
	ids := make([]string, 0, len(room.members))
	for id := range room.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return room.members[ids[i]].seq < room.members[ids[j]].seq
	})
	return ids
}

// RoomsOf 返回连接所属的全部房间 (本系统中最多一个)，用于断开连接时的清理。
func (d *Directory) RoomsOf(connID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if roomID, ok := d.memberOf[connID]; ok {
		return []string{roomID}
	}
	return nil
}

// RoomOf 返回连接当前所在的房间。
func (d *Directory) RoomOf(connID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	roomID, ok := d.memberOf[connID]
	return roomID, ok
}

// IsMember 判断连接是否在指定房间内。
func (d *Directory) IsMember(roomID, connID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.memberOf[connID] == roomID && roomID != ""
}

// AdminOf 返回房间当前的管理员。
func (d *Directory) AdminOf(roomID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[roomID]
	if !ok {
		return "", false
	}
	return room.admin, true
}

// IsAdmin 判断连接是否为房间管理员。
func (d *Directory) IsAdmin(roomID, connID string) bool {
	admin, ok := d.AdminOf(roomID)
	return ok && admin == connID
}

// CanRunCode 返回成员的运行权限。
func (d *Directory) CanRunCode(roomID, connID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	m, ok := room.members[connID]
	return ok && m.canRunCode
}

// Size 返回房间当前成员数。
func (d *Directory) Size(roomID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if room, ok := d.rooms[roomID]; ok {
		return len(room.members)
	}
	return 0
}

// ActiveRooms 返回所有非空房间的 ID (已排序)。
func (d *Directory) ActiveRooms() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.rooms))
	for id := range d.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
