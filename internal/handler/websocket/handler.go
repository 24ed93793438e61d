package websocket

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	httpHandler "github.com/jairofilho79/coldigom/internal/handler/http"
	"github.com/jairofilho79/coldigom/internal/service"
	"github.com/jairofilho79/coldigom/internal/stream"
)

// WebSocketHandler 负责 WebSocket 升级，并把房间事件流写到连接上
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	roomService *service.RoomService
	stream      *stream.Stream
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigin 为空或 "*" 时接受任意来源。
func NewWebSocketHandler(roomService *service.RoomService, st *stream.Stream, allowedOrigin string) *WebSocketHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for WebSocketHandler")
	}
	if st == nil {
		panic("Stream cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			return origin == allowedOrigin
		},
	}

	return &WebSocketHandler{
		upgrader:    upgrader,
		roomService: roomService,
		stream:      st,
	}
}

// HandleConnection 处理 GET /ws/rooms/:id
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	// 1. 获取认证用户 ID (由 Auth 中间件设置)
	userIDAny, exists := c.Get("user_id")
	if !exists {
		logrus.Warn("WS Handler: User ID not found in context")
		httpHandler.ErrorResponse(c, http.StatusUnauthorized, "unauthorized", "User not authenticated")
		return
	}
	userID, ok := userIDAny.(uint)
	if !ok {
		logrus.Error("WS Handler: User ID in context is not uint")
		httpHandler.ErrorResponse(c, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}
	logCtx := logrus.WithField("user_id", userID)

	// 2. 解析房间 ID
	roomIDStr := c.Param("id")
	roomIDUint64, err := strconv.ParseUint(roomIDStr, 10, 64)
	if err != nil || roomIDUint64 == 0 {
		logCtx.Warnf("WS Handler: Invalid room ID format: %s", roomIDStr)
		httpHandler.ErrorResponse(c, http.StatusBadRequest, "invalid_id", "Invalid room ID format")
		return
	}
	roomID := uint(roomIDUint64)
	logCtx = logCtx.WithField("room_id", roomID)

	// 3. 升级前校验参与者身份，此时还能返回普通 HTTP 错误
	if err := h.roomService.RequireParticipant(c.Request.Context(), roomID, userID); err != nil {
		logCtx.WithError(err).Warn("WS Handler: Access denied")
		httpHandler.HandleMemberOnlyError(c, err)
		return
	}

	// 4. 升级 HTTP 连接到 WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写了 HTTP 错误响应
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}
	logCtx.Info("WS Handler: Connection upgraded to WebSocket")

	// 5. 读循环负责发现断开，写由 Serve 驱动
	client := NewClient(conn, roomID, userID, 2*h.stream.HeartbeatInterval())
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go client.ReadPump(cancel)

	err = h.stream.Serve(ctx, roomID, client)
	switch {
	case errors.Is(err, stream.ErrSubscriptionDropped):
		client.Close(websocket.CloseTryAgainLater, "subscription dropped")
	case err != nil:
		client.Close(websocket.CloseGoingAway, "")
	default:
		client.Close(websocket.CloseNormalClosure, "")
	}
	logCtx.WithError(err).Info("WS Handler: Client disconnected")
}
