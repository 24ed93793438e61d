package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jairofilho79/coldigom/internal/domain"
	"github.com/jairofilho79/coldigom/internal/service"
	"github.com/jairofilho79/coldigom/internal/stream"
)

// EventsHandler 以 Server-Sent Events 推送房间事件
type EventsHandler struct {
	roomService *service.RoomService
	stream      *stream.Stream
}

func NewEventsHandler(roomService *service.RoomService, st *stream.Stream) *EventsHandler {
	if roomService == nil || st == nil {
		panic("EventsHandler dependencies cannot be nil")
	}
	return &EventsHandler{roomService: roomService, stream: st}
}

// sseSink 把事件写成 "data: <json>\n\n"，心跳写成注释帧
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) WriteEvent(event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) WriteHeartbeat() error {
	if _, err := io.WriteString(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Stream 处理 GET /rooms/:id/events，连接期间阻塞。
func (h *EventsHandler) Stream(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID})

	// 1. 只有参与者可以订阅
	if err := h.roomService.RequireParticipant(c.Request.Context(), roomID, userID); err != nil {
		HandleMemberOnlyError(c, err)
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		logCtx.Error("Response writer does not support flushing")
		ErrorResponse(c, http.StatusInternalServerError, "internal_error", "Streaming unsupported")
		return
	}

	// 2. 写响应头
	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	flusher.Flush()

	// 3. 驱动事件流直到客户端断开
	logCtx.Info("SSE client connected")
	err := h.stream.Serve(c.Request.Context(), roomID, &sseSink{w: c.Writer, flusher: flusher})
	if err != nil {
		logCtx.WithError(err).Info("SSE stream ended")
		return
	}
	logCtx.Info("SSE client disconnected")
}
