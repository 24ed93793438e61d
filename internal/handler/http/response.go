package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func ErrorResponse(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": message, "code": code})
}

func SuccessResponse(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// currentUserID 读取认证中间件设置的 user_id，失败时写入响应并返回 false
func currentUserID(c *gin.Context) (uint, bool) {
	userIDAny, exists := c.Get("user_id")
	if !exists {
		logrus.WithField("path", c.FullPath()).Warn("User ID not found in context, middleware missing or failed?")
		ErrorResponse(c, http.StatusUnauthorized, "unauthorized", "User not authenticated")
		return 0, false
	}
	userID, ok := userIDAny.(uint)
	if !ok {
		logrus.Error("User ID in context is not uint")
		ErrorResponse(c, http.StatusInternalServerError, "internal_error", "Internal server error processing user ID")
		return 0, false
	}
	return userID, true
}

// uintParam 解析路径参数，失败时写入 400
func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		ErrorResponse(c, http.StatusBadRequest, "invalid_"+name, "Invalid "+name)
		return 0, false
	}
	return uint(v), true
}

// intQuery 解析可选的整数查询参数，缺省时返回 def
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid_"+name, "Invalid "+name)
		return 0, false
	}
	return v, true
}
