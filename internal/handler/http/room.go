package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jairofilho79/coldigom/internal/domain"
	"github.com/jairofilho79/coldigom/internal/service"
)

// RoomHandler 封装了与房间相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	return &RoomHandler{roomService: roomService}
}

// CreateRoomRequest 定义创建房间请求的结构体
type CreateRoomRequest struct {
	Name                string              `json:"name" binding:"required"`
	Description         string              `json:"description"`
	AccessPolicy        domain.AccessPolicy `json:"access_policy"`
	Password            *string             `json:"password"`
	AcceptsJoinRequests bool                `json:"accepts_join_requests"`
	AutoDestroyOnEmpty  *bool               `json:"auto_destroy_on_empty"`
}

// CreateRoom 处理创建新房间的请求
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.CreateRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), userID, service.CreateRoomInput{
		Name:                req.Name,
		Description:         req.Description,
		AccessPolicy:        req.AccessPolicy,
		Password:            req.Password,
		AcceptsJoinRequests: req.AcceptsJoinRequests,
		AutoDestroyOnEmpty:  req.AutoDestroyOnEmpty,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, room)
}

// ListMyRooms 返回当前用户创建或参与的房间
func (h *RoomHandler) ListMyRooms(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	rooms, err := h.roomService.ListRoomsForUser(c.Request.Context(), userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, rooms)
}

// ListPublicRooms 分页返回公开房间
func (h *RoomHandler) ListPublicRooms(c *gin.Context) {
	skip, ok := intQuery(c, "skip", 0)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return
	}
	rooms, err := h.roomService.ListPublicRooms(c.Request.Context(), skip, limit)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, rooms)
}

// GetRoom 返回房间详情
func (h *RoomHandler) GetRoom(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	detail, err := h.roomService.GetRoom(c.Request.Context(), roomID, userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, detail)
}

// GetRoomByCode 通过房间码返回房间详情
func (h *RoomHandler) GetRoomByCode(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	detail, err := h.roomService.GetRoomByCode(c.Request.Context(), c.Param("code"), userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, detail)
}

// UpdateRoomRequest 中省略的字段保持不变
type UpdateRoomRequest struct {
	Name                *string              `json:"name"`
	Description         *string              `json:"description"`
	AccessPolicy        *domain.AccessPolicy `json:"access_policy"`
	Password            *string              `json:"password"`
	AcceptsJoinRequests *bool                `json:"accepts_join_requests"`
	AutoDestroyOnEmpty  *bool                `json:"auto_destroy_on_empty"`
}

// UpdateRoom 处理房主修改房间设置的请求
func (h *RoomHandler) UpdateRoom(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	room, err := h.roomService.UpdateRoom(c.Request.Context(), roomID, userID, service.UpdateRoomInput{
		Name:                req.Name,
		Description:         req.Description,
		AccessPolicy:        req.AccessPolicy,
		Password:            req.Password,
		AcceptsJoinRequests: req.AcceptsJoinRequests,
		AutoDestroyOnEmpty:  req.AutoDestroyOnEmpty,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, room)
}

// DeleteRoom 处理房主删除房间的请求
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.roomService.DeleteRoom(c.Request.Context(), roomID, userID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// JoinRoomRequest 是加入房间的可选请求体
type JoinRoomRequest struct {
	Password *string `json:"password"`
}

// bindOptionalJSON 允许空请求体
func bindOptionalJSON(c *gin.Context, obj interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		ErrorResponse(c, http.StatusBadRequest, "invalid_input", err.Error())
		return false
	}
	return true
}

// JoinRoom 通过房间 ID 加入
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req JoinRoomRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	detail, err := h.roomService.JoinByID(c.Request.Context(), roomID, userID, req.Password)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, detail)
}

// JoinRoomByCode 通过房间码加入
func (h *RoomHandler) JoinRoomByCode(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req JoinRoomRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	detail, err := h.roomService.JoinByCode(c.Request.Context(), c.Param("code"), userID, req.Password)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, detail)
}

// RequestJoin 为 approval 房间提交加入申请
func (h *RoomHandler) RequestJoin(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	req, err := h.roomService.RequestJoin(c.Request.Context(), c.Param("code"), userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, req)
}

// ApproveJoinRequest 批准加入申请
func (h *RoomHandler) ApproveJoinRequest(c *gin.Context) {
	h.review(c, domain.ReviewApprove)
}

// RejectJoinRequest 拒绝加入申请
func (h *RoomHandler) RejectJoinRequest(c *gin.Context) {
	h.review(c, domain.ReviewReject)
}

func (h *RoomHandler) review(c *gin.Context, decision domain.ReviewDecision) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	requestID, ok := uintParam(c, "request_id")
	if !ok {
		return
	}
	req, err := h.roomService.ReviewJoinRequest(c.Request.Context(), roomID, requestID, userID, decision)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, req)
}

// ListJoinRequests 返回房间的加入申请，可按 status 过滤
func (h *RoomHandler) ListJoinRequests(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var status *domain.JoinRequestStatus
	if raw := c.Query("status"); raw != "" {
		st, err := domain.ParseJoinRequestStatus(raw)
		if err != nil {
			ErrorResponse(c, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}
		status = &st
	}
	requests, err := h.roomService.ListJoinRequests(c.Request.Context(), roomID, userID, status)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, requests)
}

// ListParticipants 返回房间参与者
func (h *RoomHandler) ListParticipants(c *gin.Context) {
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	participants, err := h.roomService.ListParticipants(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, participants)
}

// LeaveRoom 让当前用户离开房间
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.roomService.LeaveRoom(c.Request.Context(), roomID, userID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListSongs 返回房间歌单
func (h *RoomHandler) ListSongs(c *gin.Context) {
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	songs, err := h.roomService.ListSongs(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, songs)
}

// AddSong 把歌曲加入房间歌单
func (h *RoomHandler) AddSong(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	songID, ok := uintParam(c, "song_id")
	if !ok {
		return
	}
	song, err := h.roomService.AddSong(c.Request.Context(), roomID, userID, songID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, song)
}

// RemoveSong 从房间歌单中移除歌曲
func (h *RoomHandler) RemoveSong(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	songID, ok := uintParam(c, "song_id")
	if !ok {
		return
	}
	if err := h.roomService.RemoveSong(c.Request.Context(), roomID, userID, songID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReorderSongsRequest 是重新排序的请求体
type ReorderSongsRequest struct {
	SongOrders []domain.SongOrder `json:"song_orders" binding:"required"`
}

// ReorderSongs 原子地修改歌曲顺序
func (h *RoomHandler) ReorderSongs(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req ReorderSongsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	songs, err := h.roomService.ReorderSongs(c.Request.Context(), roomID, userID, req.SongOrders)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, songs)
}

// ImportPlaylist 把房主的歌单导入房间
func (h *RoomHandler) ImportPlaylist(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	playlistID, ok := uintParam(c, "playlist_id")
	if !ok {
		return
	}
	result, err := h.roomService.ImportPlaylist(c.Request.Context(), roomID, userID, playlistID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, result)
}

// GetMessages 返回最近的聊天消息（从旧到新）
func (h *RoomHandler) GetMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset", 0)
	if !ok {
		return
	}
	messages, err := h.roomService.GetMessages(c.Request.Context(), roomID, userID, limit, offset)
	if err != nil {
		HandleMemberOnlyError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, messages)
}

// SendMessageRequest 是发送消息的请求体，长度由 service 校验
type SendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessage 发送聊天消息
func (h *RoomHandler) SendMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	roomID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	msg, err := h.roomService.SendMessage(c.Request.Context(), roomID, userID, req.Message)
	if err != nil {
		HandleMemberOnlyError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, msg)
}
