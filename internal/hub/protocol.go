package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"collab-codespace/internal/domain"
)

// 事件名称。客户端与 Broker 之间的每一帧都是 {"event": <name>, "data": {...}}。
const (
	EventJoin             = "join"
	EventJoined           = "joined"
	EventLeave            = "leave"
	EventRoomFull         = "room_full"
	EventDisconnected     = "disconnected"
	EventCodeChange       = "code_change"
	EventLanguageChange   = "language_change"
	EventSyncRunning      = "sync_running"
	EventSyncOutput       = "sync_output"
	EventSyncCode         = "sync_code"
	EventRequestAuthority = "request_authority"
	EventAuthorityChanged = "authority_changed"
	EventAuthorityError   = "authority_error"
	EventSaveRoom         = "save_room"
	EventRoomSaved        = "room_saved"
	EventRoomSaveError    = "room_save_error"
	EventDeleteRoom       = "delete_room"
	EventRoomDeleted      = "room_deleted"
	EventRoomDeleteError  = "room_delete_error"
	EventGetUserRooms     = "get_user_rooms"
	EventUserRoomsList    = "user_rooms_list"
	EventError            = "error"
)

const (
	maxRoomIDLength   = 128
	maxUsernameLength = 64
	maxUserIDLength   = 128
	maxLanguageLength = 64
)

// ErrMalformedPayload 表示事件帧或其 payload 无法解析或校验失败。
var ErrMalformedPayload = errors.New("malformed payload")

// Envelope 是事件通道上的帧格式。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// --- 客户端 -> Broker ---

type JoinPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	UserID   string `json:"userId,omitempty"`
}

func (p *JoinPayload) validate() error {
	p.RoomID = strings.TrimSpace(p.RoomID)
	p.Username = strings.TrimSpace(p.Username)
	if err := checkRoomID(p.RoomID); err != nil {
		return err
	}
	if p.Username == "" || len(p.Username) > maxUsernameLength {
		return fmt.Errorf("%w: username must be 1-%d characters", ErrMalformedPayload, maxUsernameLength)
	}
	if len(p.UserID) > maxUserIDLength {
		return fmt.Errorf("%w: userId too long", ErrMalformedPayload)
	}
	return nil
}

type LeavePayload struct {
	RoomID string `json:"roomId"`
}

type CodeChangePayload struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type LanguageChangePayload struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

func (p *LanguageChangePayload) validate() error {
	if err := checkRoomID(p.RoomID); err != nil {
		return err
	}
	return checkLanguage(p.Language)
}

type SyncRunningPayload struct {
	RoomID    string `json:"roomId"`
	IsRunning bool   `json:"isRunning"`
}

type SyncOutputPayload struct {
	RoomID string `json:"roomId"`
	Output string `json:"output"`
}

type SyncCodePayload struct {
	SocketID string `json:"socketId"`
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

func (p *SyncCodePayload) validate() error {
	if p.SocketID == "" {
		return fmt.Errorf("%w: socketId is required", ErrMalformedPayload)
	}
	if len(p.Language) > maxLanguageLength {
		return fmt.Errorf("%w: language too long", ErrMalformedPayload)
	}
	return nil
}

type RequestAuthorityPayload struct {
	RoomID         string `json:"roomId"`
	TargetSocketID string `json:"targetSocketId"`
	CanRunCode     bool   `json:"canRunCode"`
}

func (p *RequestAuthorityPayload) validate() error {
	if err := checkRoomID(p.RoomID); err != nil {
		return err
	}
	if p.TargetSocketID == "" {
		return fmt.Errorf("%w: targetSocketId is required", ErrMalformedPayload)
	}
	return nil
}

type SaveRoomPayload struct {
	RoomID   string `json:"roomId"`
	Code     string `json:"code"`
	Language string `json:"language"`
	UserID   string `json:"userId"`
}

func (p *SaveRoomPayload) validate() error {
	if err := checkRoomID(p.RoomID); err != nil {
		return err
	}
	return checkLanguage(p.Language)
}

type DeleteRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type GetUserRoomsPayload struct {
	UserID string `json:"userId"`
}

// --- Broker -> 客户端 ---

type JoinedMessage struct {
	Clients  []domain.Member `json:"clients"`
	Username string          `json:"username"`
	SocketID string          `json:"socketId"`
}

type DisconnectedMessage struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
}

type AuthorityChangedMessage struct {
	Clients []domain.Member `json:"clients"`
}

type MessageReply struct {
	Message string `json:"message"`
}

type RoomDeletedMessage struct {
	Message string `json:"message"`
	RoomID  string `json:"roomId"`
}

type UserRoomsMessage struct {
	RoomIDs []string `json:"roomIds"`
}

type ErrorMessage struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

type codeOut struct {
	Code string `json:"code"`
}

type languageOut struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type runningOut struct {
	IsRunning bool `json:"isRunning"`
}

type outputOut struct {
	Output string `json:"output"`
}

// --- 编解码 ---

// DecodeEnvelope 解析一帧原始消息。
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("%w: event name is required", ErrMalformedPayload)
	}
	return env, nil
}

// decodePayload 将 Envelope 的 data 解析到 v。
func decodePayload(env Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s requires a payload", ErrMalformedPayload, env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// Encode 构造一帧 Broker -> 客户端消息。
func Encode(event string, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}

func checkRoomID(roomID string) error {
	if roomID == "" || len(roomID) > maxRoomIDLength {
		return fmt.Errorf("%w: roomId must be 1-%d characters", ErrMalformedPayload, maxRoomIDLength)
	}
	return nil
}

func checkLanguage(language string) error {
	if language == "" || len(language) > maxLanguageLength {
		return fmt.Errorf("%w: language must be 1-%d characters", ErrMalformedPayload, maxLanguageLength)
	}
	return nil
}
