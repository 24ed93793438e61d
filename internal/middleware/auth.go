package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// TokenVerifier 把 token 解析为用户 ID，由 AuthService 实现
type TokenVerifier interface {
	Verify(token string) (uint, error)
}

// ErrMissingAuthHeader 表示请求中没有任何凭证
var ErrMissingAuthHeader = errors.New("missing Authorization header")

// Auth 返回一个 Gin 中间件，用于验证 Bearer token 并把 user_id 写入上下文。
// allowQueryToken 为 true 时也接受 ?token=，供浏览器无法设置请求头的 SSE 和 WebSocket 使用。
func Auth(verifier TokenVerifier, allowQueryToken bool) gin.HandlerFunc {
	if verifier == nil {
		panic("token verifier cannot be nil for Auth middleware")
	}

	return func(c *gin.Context) {
		// 1. 提取 Token
		tokenStr, err := extractToken(c, allowQueryToken)
		if err != nil {
			if errors.Is(err, ErrMissingAuthHeader) {
				logrus.Warn("Auth middleware: Missing Authorization header")
				abortUnauthorized(c, "Authorization header is required")
			} else {
				logrus.Warnf("Auth middleware: Malformed token format: %v", err)
				abortUnauthorized(c, "Invalid token format")
			}
			return
		}

		// 2. 验证 Token
		userID, err := verifier.Verify(tokenStr)
		if err != nil {
			logrus.WithError(err).Warn("Auth middleware: Invalid token")
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		// 3. 写入上下文
		c.Set("user_id", userID)
		logrus.WithField("user_id", userID).Debug("Auth middleware: User authenticated via JWT")
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message, "code": "unauthorized"})
}

// extractToken 从 Authorization 头提取 Bearer Token，必要时回退到查询参数
func extractToken(c *gin.Context, allowQueryToken bool) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if allowQueryToken {
			if token := c.Query("token"); token != "" {
				return token, nil
			}
		}
		return "", ErrMissingAuthHeader
	}
	// 格式应为 "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", jwt.ErrTokenMalformed
	}
	return parts[1], nil
}
