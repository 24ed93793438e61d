package bootstrap

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	httpHandler "github.com/jairofilho79/coldigom/internal/handler/http"
	wsHandler "github.com/jairofilho79/coldigom/internal/handler/websocket"
	"github.com/jairofilho79/coldigom/internal/middleware"
)

// Handlers 汇总路由需要的处理器
type Handlers struct {
	Auth      *httpHandler.AuthHandler
	Room      *httpHandler.RoomHandler
	Events    *httpHandler.EventsHandler
	WebSocket *wsHandler.WebSocketHandler
}

// RouterDeps 是路由中间件的依赖
type RouterDeps struct {
	Verifier            middleware.TokenVerifier
	Limiter             middleware.RateLimiter
	RateLimitMax        int
	RateLimitWindow     time.Duration
	MessageRateLimitMax int
	CORSAllowedOrigin   string
}

// NewRouter 创建 Gin Engine 并注册全部路由
func NewRouter(log *logrus.Logger, h Handlers, deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(deps.CORSAllowedOrigin))
	router.Use(middleware.RateLimit(deps.Limiter, middleware.ByClientIP, deps.RateLimitMax, deps.RateLimitWindow))

	api := router.Group("/api")
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", h.Auth.Register)
		authRoutes.POST("/login", h.Auth.Login)
	}

	rooms := api.Group("/rooms", middleware.Auth(deps.Verifier, false))
	{
		rooms.POST("", h.Room.CreateRoom)
		rooms.GET("", h.Room.ListMyRooms)
		rooms.GET("/public", h.Room.ListPublicRooms)

		rooms.GET("/code/:code", h.Room.GetRoomByCode)
		rooms.POST("/code/:code/join", h.Room.JoinRoomByCode)
		rooms.POST("/code/:code/request-join", h.Room.RequestJoin)

		rooms.GET("/:id", h.Room.GetRoom)
		rooms.PUT("/:id", h.Room.UpdateRoom)
		rooms.DELETE("/:id", h.Room.DeleteRoom)
		rooms.POST("/:id/join", h.Room.JoinRoom)
		rooms.POST("/:id/leave", h.Room.LeaveRoom)
		rooms.GET("/:id/participants", h.Room.ListParticipants)

		rooms.GET("/:id/join-requests", h.Room.ListJoinRequests)
		rooms.POST("/:id/approve/:request_id", h.Room.ApproveJoinRequest)
		rooms.POST("/:id/reject/:request_id", h.Room.RejectJoinRequest)

		rooms.GET("/:id/songs", h.Room.ListSongs)
		rooms.PUT("/:id/songs/reorder", h.Room.ReorderSongs)
		rooms.POST("/:id/songs/:song_id", h.Room.AddSong)
		rooms.DELETE("/:id/songs/:song_id", h.Room.RemoveSong)
		rooms.POST("/:id/import-playlist/:playlist_id", h.Room.ImportPlaylist)

		rooms.GET("/:id/messages", h.Room.GetMessages)
		rooms.POST("/:id/messages",
			middleware.RateLimit(deps.Limiter, middleware.ByUser("messages"), deps.MessageRateLimitMax, time.Minute),
			h.Room.SendMessage)
	}

	// 浏览器的 EventSource 和 WebSocket 无法设置请求头，允许 ?token=
	streams := api.Group("/rooms", middleware.Auth(deps.Verifier, true))
	{
		streams.GET("/:id/events", h.Events.Stream)
	}
	ws := router.Group("/ws", middleware.Auth(deps.Verifier, true))
	{
		ws.GET("/rooms/:id", h.WebSocket.HandleConnection)
	}

	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	return router
}

// CORSMiddleware 只允许配置的来源
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志，并为每个请求分配 request_id
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" && c.Query("token") == "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		if errorMessage != "" {
			entry.Error(errorMessage)
		} else if statusCode >= 500 {
			entry.Error("Server error")
		} else if statusCode >= 400 {
			entry.Warn("Client error")
		} else {
			entry.Info("Request handled")
		}
	}
}
