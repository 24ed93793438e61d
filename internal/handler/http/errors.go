package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jairofilho79/coldigom/internal/service"
)

// statusFor 把业务错误种类映射为 HTTP 状态码
func statusFor(kind error) int {
	switch kind {
	case service.ErrValidation, service.ErrInvalidState:
		return http.StatusBadRequest
	case service.ErrUnauthorized:
		return http.StatusUnauthorized
	case service.ErrForbidden, service.ErrApprovalRequired:
		return http.StatusForbidden
	case service.ErrNotParticipant, service.ErrNotFound:
		return http.StatusNotFound
	case service.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HandleServiceError 根据错误种类写入 {"error", "code"} 响应。内部错误只记录日志，不向客户端暴露细节。
func HandleServiceError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("Unhandled internal server error")
		ErrorResponse(c, status, "internal_error", "An unexpected error occurred")
		return
	}
	ErrorResponse(c, status, service.CodeOf(err), err.Error())
}

// HandleMemberOnlyError 用于消息和事件流接口：非参与者返回 403 而不是 404
func HandleMemberOnlyError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrNotParticipant) {
		ErrorResponse(c, http.StatusForbidden, service.CodeOf(err), err.Error())
		return
	}
	HandleServiceError(c, err)
}
