package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RoomStats 由 hub.Hub 实现。
type RoomStats interface {
	Stats() (rooms int, connections int)
}

// StoreStatus 由 failover.Store 实现，返回当前服务请求的后端。
type StoreStatus interface {
	Backend() string
}

// HealthHandler 处理 GET /ping
type HealthHandler struct {
	rooms RoomStats
	store StoreStatus
}

// NewHealthHandler 创建 HealthHandler 实例
func NewHealthHandler(rooms RoomStats, store StoreStatus) *HealthHandler {
	if rooms == nil || store == nil {
		panic("RoomStats and StoreStatus cannot be nil for HealthHandler")
	}
	return &HealthHandler{rooms: rooms, store: store}
}

// PingResponse 是存活检查的响应
type PingResponse struct {
	Message     string `json:"message"`
	Store       string `json:"store"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}

// Ping 是存活检查，同时报告当前存储后端和房间概况。
func (h *HealthHandler) Ping(c *gin.Context) {
	rooms, connections := h.rooms.Stats()
	SuccessResponse(c, http.StatusOK, PingResponse{
		Message:     "pong",
		Store:       h.store.Backend(),
		Rooms:       rooms,
		Connections: connections,
	})
}
