package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RateLimiter 对 key 计数并报告本窗口内是否超限，由 RedisStateRepository 实现
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// KeyFunc 从请求中得出限流键，返回空串表示不限流
type KeyFunc func(c *gin.Context) string

// ByClientIP 以客户端 IP 为键
func ByClientIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// ByUser 以认证用户为键，需放在 Auth 之后
func ByUser(scope string) KeyFunc {
	return func(c *gin.Context) string {
		userID, ok := c.Get("user_id")
		if !ok {
			return ""
		}
		return fmt.Sprintf("user:%s:%v", scope, userID)
	}
}

// RateLimit 返回一个 Gin 中间件，在窗口内请求数超过 maxRequests 时返回 429。
func RateLimit(limiter RateLimiter, key KeyFunc, maxRequests int, window time.Duration) gin.HandlerFunc {
	if limiter == nil {
		panic("RateLimiter cannot be nil for RateLimit middleware")
	}
	if maxRequests <= 0 {
		panic("maxRequests must be positive for RateLimit middleware")
	}
	if window <= 0 {
		panic("window duration must be positive for RateLimit middleware")
	}

	return func(c *gin.Context) {
		k := key(c)
		if k == "" {
			c.Next()
			return
		}
		exceeded, err := limiter.CheckRateLimit(c.Request.Context(), k, maxRequests, window)
		if err != nil {
			logrus.WithError(err).WithField("key", k).Error("RateLimit: limiter failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Rate limiting error", "code": "internal_error"})
			return
		}
		if exceeded {
			logrus.WithField("key", k).Warn("RateLimit: Too many requests")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}
