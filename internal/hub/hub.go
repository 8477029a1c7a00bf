package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"collab-codespace/internal/domain"
	"collab-codespace/internal/registry"
	"collab-codespace/internal/service"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. 整个文档随 code_change 一起发送。
	maxMessageSize = 1 << 20
)

// HubMessage 的类型
const (
	MsgRegister   = "register"
	MsgUnregister = "unregister"
	MsgEvent      = "event"
	MsgDeliver    = "deliver" // 异步操作完成后的续体，回到事件循环中执行
)

// HubMessage 定义了在 Hub 内部通道传递的消息
type HubMessage struct {
	Type    string
	Client  *Client
	RawData []byte // MsgEvent: 原始帧

	// MsgDeliver: 在循环内重新校验后执行
	Deliver func()
}

// CodespaceStore 是 Hub 使用的持久化操作，由 service.CodespaceService 实现。
type CodespaceStore interface {
	Save(ctx context.Context, roomID, ownerID, code, language string) error
	Load(ctx context.Context, roomID string) (*domain.CodespaceSnapshot, error)
	Owner(ctx context.Context, roomID string) (string, error)
	Delete(ctx context.Context, roomID, userID string) error
	ListUserRooms(ctx context.Context, userID string) ([]string, error)
}

// Options 配置 Hub 的可选行为。
type Options struct {
	// EnforceRunAuthority 为 true 时，sync_running/sync_output 只接受有运行权限的成员。
	EnforceRunAuthority bool
	// PersistTimeout 是单次持久化操作的超时。
	PersistTimeout time.Duration
}

// Hub 是会话 Broker：所有入站事件都在 Run 的单个 goroutine 中按到达顺序处理，
// 因此房间目录的修改相对于其他事件是原子的。持久化调用在循环外按房间串行执行，
// 其续体以 MsgDeliver 重新进入循环，并在发出事件前重新校验连接与房间。
type Hub struct {
	messageChan chan HubMessage
	done        chan struct{}
	stopped     chan struct{} // Run 返回后关闭
	stopOnce    sync.Once
	running     atomic.Bool

	// 仅在 Run 循环中访问
	clients map[string]*Client

	conns      *registry.Connections
	dir        *registry.Directory
	codespaces CodespaceStore
	opts       Options

	// pending 跟踪未完成的持久化任务，Shutdown 时等待它们
	pending sync.WaitGroup
	persist *persistQueue
	log     *logrus.Entry
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(conns *registry.Connections, dir *registry.Directory, codespaces CodespaceStore, opts Options) *Hub {
	if conns == nil || dir == nil {
		panic("Connections and Directory cannot be nil for Hub")
	}
	if codespaces == nil {
		panic("CodespaceStore cannot be nil for Hub")
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	h := &Hub{
		messageChan: make(chan HubMessage, 512),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		clients:     make(map[string]*Client),
		conns:       conns,
		dir:         dir,
		codespaces:  codespaces,
		opts:        opts,
		log:         logrus.WithField("component", "hub"),
	}
	h.persist = newPersistQueue(opts.PersistTimeout, &h.pending, h.deliver)
	return h
}

// Run 启动 Hub 的主事件处理循环，应在单独的 goroutine 中运行。
func (h *Hub) Run() {
	h.running.Store(true)
	defer close(h.stopped)
	h.log.Info("Hub is running...")
	for {
		select {
		case msg := <-h.messageChan:
			h.dispatch(msg)
		case <-h.done:
			h.log.Info("Hub is shutting down...")
			return
		}
	}
}

// Shutdown 停止事件循环并等待未完成的持久化操作。
// 持久化任务只在事件循环中入队，因此先等 Run 返回再等待 pending。
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.done) })
	if h.running.Load() {
		<-h.stopped
	}
	h.pending.Wait()
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。
// 返回 false 表示队列已满或 Hub 已停止。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.messageChan <- msg:
		return true
	default:
		h.log.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}

// Stats 返回当前活跃房间数和已加入房间的连接数。
func (h *Hub) Stats() (rooms int, connections int) {
	return len(h.dir.ActiveRooms()), h.conns.Len()
}

func (h *Hub) dispatch(msg HubMessage) {
	switch msg.Type {
	case MsgRegister:
		h.registerClient(msg.Client)
	case MsgUnregister:
		h.unregisterClient(msg.Client)
	case MsgEvent:
		h.handleEvent(msg.Client, msg.RawData)
	case MsgDeliver:
		if msg.Deliver != nil {
			msg.Deliver()
		}
	default:
		h.log.Warnf("Hub: Received unknown message type: %s", msg.Type)
	}
}

// registerClient 记录传输层连接。显示名称在 join 时才注册。
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		h.log.Error("Hub: Attempted to register a nil client")
		return
	}
	h.clients[client.id] = client
	h.log.WithField("socket_id", client.id).Info("Client registered to Hub")
}

// unregisterClient 处理传输层断开：离开所属的每个房间，然后丢弃连接。
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		return
	}
	if _, ok := h.clients[client.id]; !ok {
		return
	}
	for _, roomID := range h.dir.RoomsOf(client.id) {
		h.leaveRoom(client.id, roomID)
	}
	h.conns.Unregister(client.id)
	delete(h.clients, client.id)
	close(client.send)
	h.log.WithField("socket_id", client.id).Info("Client unregistered from Hub")
}

func (h *Hub) handleEvent(client *Client, raw []byte) {
	if client == nil {
		return
	}
	if _, ok := h.clients[client.id]; !ok {
		return
	}
	env, err := DecodeEnvelope(raw)
	if err != nil {
		h.replyError(client, "", err)
		return
	}
	logCtx := h.log.WithFields(logrus.Fields{"socket_id": client.id, "event": env.Event})
	logCtx.Debugf("Processing event (data size: %d)", len(env.Data))

	switch env.Event {
	case EventJoin:
		var p JoinPayload
		if err := decodeAndValidate(env, &p, p.validate); err != nil {
			h.replyError(client, env.Event, err)
			return
		}
		h.handleJoin(client, p)
	case EventLeave:
		var p LeavePayload
		if err := decodePayload(env, &p); err != nil {
			h.replyError(client, env.Event, err)
			return
		}
		if h.dir.IsMember(p.RoomID, client.id) {
			h.leaveRoom(client.id, p.RoomID)
		}
	case EventCodeChange:
		var p CodeChangePayload
		if err := decodeAndValidate(env, &p, func() error { return checkRoomID(p.RoomID) }); err != nil {
			h.replyError(client, env.Event, err)
			return
		}
		h.relay(client, env.Event, p.RoomID, codeOut{Code: p.Code}, false)
	case EventLanguageChange:
		var p LanguageChangePayload
		if err := decodeAndValidate(env, &p, p.validate); err != nil {
			h.replyError(client, env.Event, err)
			return
		}
		h.relay(client, env.Event, p.RoomID, languageOut{Language: p.Language, Code: p.Code}, false)
	case EventSyncRunning:
		var p SyncRunningPayload
		if err := decodeAndValidate(env, &p, func() error { return checkRoomID(p.RoomID) }); err != nil {
			h.replyError(client, env.Event, err)
			return
		}
		h.relay(client, env.Event, p.RoomID, runningOut{IsRunning: p.IsRunning}, h.opts.EnforceRunAuthority)
	case EventSyncOutput:
		var p SyncOutputPayload
		if err := decodeAndValidate(env, &p, func() error { return checkRoomID(p.RoomID) }); err != nil {
			h.replyError(client, env.Event, err)
			return
		}
		h.relay(client, env.Event, p.RoomID, outputOut{Output: p.Output}, h.opts.EnforceRunAuthority)
	case EventSyncCode:
		var p SyncCodePayload
		if err := decodeAndValidate(env, &p, p.validate); err != nil {
			h.replyError(client, env.Event, err)
			return
		}
		h.handleSyncCode(client, p)
	case EventRequestAuthority:
		var p RequestAuthorityPayload
		if err := decodeAndValidate(env, &p, p.validate); err != nil {
			h.replyError(client, env.Event, err)
			return
		}
		h.handleRequestAuthority(client, p)
	case EventSaveRoom:
		var p SaveRoomPayload
		if err := decodeAndValidate(env, &p, p.validate); err != nil {
			h.emit(client, EventRoomSaveError, MessageReply{Message: "Invalid save request"})
			return
		}
		h.handleSave(client, p)
	case EventDeleteRoom:
		var p DeleteRoomPayload
		if err := decodeAndValidate(env, &p, func() error { return checkRoomID(p.RoomID) }); err != nil {
			h.emit(client, EventRoomDeleteError, MessageReply{Message: "Invalid delete request"})
			return
		}
		h.handleDelete(client, p)
	case EventGetUserRooms:
		var p GetUserRoomsPayload
		if err := decodePayload(env, &p); err != nil {
			h.replyError(client, env.Event, err)
			return
		}
		h.handleGetUserRooms(client, p)
	default:
		h.replyError(client, env.Event, fmt.Errorf("%w: unknown event %q", ErrMalformedPayload, env.Event))
	}
}

func decodeAndValidate(env Envelope, v interface{}, validate func() error) error {
	if err := decodePayload(env, v); err != nil {
		return err
	}
	return validate()
}

// --- join / leave ---

func (h *Hub) handleJoin(client *Client, p JoinPayload) {
	logCtx := h.log.WithFields(logrus.Fields{"socket_id": client.id, "room_id": p.RoomID})

	// 容量检查必须在任何状态修改 (包括离开当前房间) 之前完成
	if !h.dir.IsMember(p.RoomID, client.id) && h.dir.Size(p.RoomID) >= h.dir.Capacity() {
		logCtx.Info("Join rejected, room is full")
		h.emit(client, EventRoomFull, MessageReply{
			Message: fmt.Sprintf("Room is full. Maximum capacity is %d users.", h.dir.Capacity()),
		})
		return
	}
	if current, ok := h.dir.RoomOf(client.id); ok && current != p.RoomID {
		h.leaveRoom(client.id, current)
	}

	if err := h.dir.Join(p.RoomID, client.id); err != nil {
		if errors.Is(err, registry.ErrRoomFull) {
			h.emit(client, EventRoomFull, MessageReply{
				Message: fmt.Sprintf("Room is full. Maximum capacity is %d users.", h.dir.Capacity()),
			})
			return
		}
		logCtx.WithError(err).Warn("Join failed")
		h.replyError(client, EventJoin, err)
		return
	}
	conn := h.conns.Register(client.id, p.Username, p.UserID)
	logCtx.WithField("username", conn.DisplayName).Info("Client joined room")

	h.broadcast(p.RoomID, EventJoined, JoinedMessage{
		Clients:  h.dir.Members(p.RoomID),
		Username: conn.DisplayName,
		SocketID: client.id,
	}, "")

	h.sendSavedCodespace(client.id, p.RoomID)
}

// sendSavedCodespace 异步加载房间快照，仅发送给加入者本人 (点对点追赶，不广播)。
// 读取失败按 "没有保存的状态" 处理。
func (h *Hub) sendSavedCodespace(socketID, roomID string) {
	h.persist.enqueue(roomID, func(ctx context.Context) func() {
		snap, err := h.codespaces.Load(ctx, roomID)
		if err != nil {
			if !errors.Is(err, service.ErrSnapshotNotFound) {
				h.log.WithError(err).WithField("room_id", roomID).Warn("Failed to load saved codespace, skipping catch-up")
			}
			return nil
		}
		return func() {
			// 等待期间连接可能已断开或离开房间
			client, ok := h.clients[socketID]
			if !ok || !h.dir.IsMember(roomID, socketID) {
				return
			}
			h.emit(client, EventCodeChange, codeOut{Code: snap.Code})
			h.emit(client, EventLanguageChange, languageOut{Language: snap.Language, Code: snap.Code})
			h.log.WithFields(logrus.Fields{"socket_id": socketID, "room_id": roomID}).Debug("Saved codespace sent to joiner")
		}
	})
}

// leaveRoom 把连接移出房间，通知剩余成员，并在发生管理员继任时广播新的花名册。
func (h *Hub) leaveRoom(socketID, roomID string) {
	conn, _ := h.conns.Lookup(socketID)
	dep, ok := h.dir.Leave(roomID, socketID)
	if !ok {
		return
	}
	logCtx := h.log.WithFields(logrus.Fields{"socket_id": socketID, "room_id": roomID})

	if dep.RoomClosed {
		logCtx.Info("Room empty, live state discarded")
		return
	}
	h.broadcast(roomID, EventDisconnected, DisconnectedMessage{SocketID: socketID, Username: conn.DisplayName}, "")
	if dep.NewAdmin != "" {
		logCtx.WithField("new_admin", dep.NewAdmin).Info("Admin left, succession applied")
		h.broadcast(roomID, EventAuthorityChanged, AuthorityChangedMessage{Clients: h.dir.Members(roomID)}, "")
	}
}

// --- relay ---

// relay 将事件原样转发给房间内除发送者以外的所有成员。
func (h *Hub) relay(sender *Client, event, roomID string, data interface{}, requireRunAuthority bool) {
	if !h.dir.IsMember(roomID, sender.id) {
		h.replyError(sender, event, registry.ErrNotMember)
		return
	}
	if requireRunAuthority && !h.dir.CanRunCode(roomID, sender.id) {
		h.emit(sender, EventError, ErrorMessage{Event: event, Message: "You do not have permission to run code in this room"})
		return
	}
	h.broadcast(roomID, event, data, sender.id)
}

// handleSyncCode 把发送者的当前文档点对点发送给指定的新加入者。
func (h *Hub) handleSyncCode(sender *Client, p SyncCodePayload) {
	roomID, ok := h.dir.RoomOf(sender.id)
	if !ok || !h.dir.IsMember(roomID, p.SocketID) {
		h.log.WithFields(logrus.Fields{"socket_id": sender.id, "target": p.SocketID}).Debug("sync_code target not in sender's room, dropped")
		return
	}
	target, ok := h.clients[p.SocketID]
	if !ok {
		return
	}
	h.emit(target, EventCodeChange, codeOut{Code: p.Code})
	if p.Language != "" {
		h.emit(target, EventLanguageChange, languageOut{Language: p.Language, Code: p.Code})
	}
}

// --- authority ---

func (h *Hub) handleRequestAuthority(sender *Client, p RequestAuthorityPayload) {
	logCtx := h.log.WithFields(logrus.Fields{"socket_id": sender.id, "room_id": p.RoomID, "target": p.TargetSocketID})
	if err := h.dir.SetPermission(p.RoomID, sender.id, p.TargetSocketID, p.CanRunCode); err != nil {
		logCtx.WithError(err).Info("Authority change denied")
		h.emit(sender, EventAuthorityError, MessageReply{Message: err.Error()})
		return
	}
	logCtx.WithField("can_run_code", p.CanRunCode).Info("Authority changed")
	h.broadcast(p.RoomID, EventAuthorityChanged, AuthorityChangedMessage{Clients: h.dir.Members(p.RoomID)}, "")
}

// --- persistence ---

// ownerIdentity 返回连接的用户身份：优先使用 join 时提供的 userId。
func (h *Hub) ownerIdentity(socketID, supplied string) string {
	if conn, ok := h.conns.Lookup(socketID); ok && conn.UserID != "" {
		return conn.UserID
	}
	return supplied
}

func (h *Hub) handleSave(client *Client, p SaveRoomPayload) {
	if !h.dir.IsAdmin(p.RoomID, client.id) {
		h.emit(client, EventRoomSaveError, MessageReply{Message: "Only the room admin can save this room"})
		return
	}
	owner := h.ownerIdentity(client.id, p.UserID)
	if owner == "" {
		h.emit(client, EventRoomSaveError, MessageReply{Message: "You must be signed in to save a room"})
		return
	}

	socketID := client.id
	h.persist.enqueue(p.RoomID, func(ctx context.Context) func() {
		err := h.codespaces.Save(ctx, p.RoomID, owner, p.Code, p.Language)
		return func() {
			c, ok := h.clients[socketID]
			if !ok {
				return
			}
			if err != nil {
				h.emit(c, EventRoomSaveError, MessageReply{Message: persistenceMessage(err, "Failed to save room")})
				return
			}
			h.emit(c, EventRoomSaved, MessageReply{Message: "Room saved successfully"})
		}
	})
}

// handleDelete 删除快照。房间在线时只有当前管理员可以删除；
// 房间不在线时 (例如从首页删除) 请求者必须是快照的所有者。
func (h *Hub) handleDelete(client *Client, p DeleteRoomPayload) {
	userID := h.ownerIdentity(client.id, p.UserID)
	if userID == "" {
		h.emit(client, EventRoomDeleteError, MessageReply{Message: "You must be signed in to delete a room"})
		return
	}
	live := h.dir.Size(p.RoomID) > 0
	if live && !h.dir.IsAdmin(p.RoomID, client.id) {
		h.emit(client, EventRoomDeleteError, MessageReply{Message: "Only the room admin can delete this room"})
		return
	}

	socketID := client.id
	h.persist.enqueue(p.RoomID, func(ctx context.Context) func() {
		var err error
		if !live {
			var owner string
			owner, err = h.codespaces.Owner(ctx, p.RoomID)
			switch {
			case errors.Is(err, service.ErrSnapshotNotFound):
				// 快照已过期但索引仍指向它：只清理请求者自己的索引条目
				err = nil
			case err == nil && owner != userID:
				err = errNotOwner
			}
		}
		if err == nil {
			err = h.codespaces.Delete(ctx, p.RoomID, userID)
		}
		return func() {
			c, ok := h.clients[socketID]
			if !ok {
				return
			}
			if err != nil {
				h.emit(c, EventRoomDeleteError, MessageReply{Message: persistenceMessage(err, "Failed to delete room")})
				return
			}
			h.emit(c, EventRoomDeleted, RoomDeletedMessage{Message: "Room deleted successfully", RoomID: p.RoomID})
		}
	})
}

var errNotOwner = errors.New("only the room owner can delete this room")

func (h *Hub) handleGetUserRooms(client *Client, p GetUserRoomsPayload) {
	userID := h.ownerIdentity(client.id, p.UserID)
	socketID := client.id
	h.persist.enqueue(userIndexQueueKey(userID), func(ctx context.Context) func() {
		rooms, err := h.codespaces.ListUserRooms(ctx, userID)
		if err != nil {
			h.log.WithError(err).WithField("user_id", userID).Warn("Failed to list user rooms, returning empty list")
			rooms = []string{}
		}
		return func() {
			if c, ok := h.clients[socketID]; ok {
				h.emit(c, EventUserRoomsList, UserRoomsMessage{RoomIDs: rooms})
			}
		}
	})
}

// persistenceMessage 把错误转换为可展示给用户的信息，内部错误使用通用提示。
func persistenceMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, errNotOwner):
		return "Only the room owner can delete this room"
	case errors.Is(err, service.ErrSnapshotNotFound):
		return "No saved codespace found for this room"
	case errors.Is(err, service.ErrInvalidRequest):
		return err.Error()
	default:
		return fallback
	}
}

// deliver 把持久化任务的续体送回事件循环。Hub 停止后丢弃。
func (h *Hub) deliver(cont func()) {
	select {
	case h.messageChan <- HubMessage{Type: MsgDeliver, Deliver: cont}:
	case <-h.done:
	}
}

// userIndexQueueKey 区分用户索引查询与房间 ID 的队列 key。
func userIndexQueueKey(userID string) string {
	return "user:" + userID
}

// --- emission ---

// broadcast 将事件发送给房间内所有成员，exclude 非空时排除该连接。
func (h *Hub) broadcast(roomID, event string, data interface{}, exclude string) {
	frame, err := Encode(event, data)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("Failed to encode broadcast")
		return
	}
	recipients := 0
	for _, id := range h.dir.MemberIDs(roomID) {
		if id == exclude {
			continue
		}
		if client, ok := h.clients[id]; ok {
			h.sendFrame(client, frame)
			recipients++
		}
	}
	h.log.WithFields(logrus.Fields{
		"room_id":         roomID,
		"event":           event,
		"message_size":    len(frame),
		"recipient_count": recipients,
	}).Debug("Broadcasting message to clients")
}

// emit 将事件发送给单个连接。
func (h *Hub) emit(client *Client, event string, data interface{}) {
	frame, err := Encode(event, data)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("Failed to encode message")
		return
	}
	h.sendFrame(client, frame)
}

func (h *Hub) replyError(client *Client, event string, err error) {
	h.emit(client, EventError, ErrorMessage{Event: event, Message: err.Error()})
}

// sendFrame 非阻塞发送，避免单个慢客户端阻塞整个事件循环。
func (h *Hub) sendFrame(client *Client, frame []byte) {
	select {
	case client.send <- frame:
	default:
		h.log.WithField("socket_id", client.id).Warn("Client send channel full, message dropped")
	}
}
