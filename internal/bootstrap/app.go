package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "github.com/jairofilho79/coldigom/internal/handler/http"
	wsHandler "github.com/jairofilho79/coldigom/internal/handler/websocket"
	"github.com/jairofilho79/coldigom/internal/hub"
	gormpersistence "github.com/jairofilho79/coldigom/internal/infra/persistence/gorm"
	"github.com/jairofilho79/coldigom/internal/infra/setup"
	redisstate "github.com/jairofilho79/coldigom/internal/infra/state/redis"
	"github.com/jairofilho79/coldigom/internal/service"
	"github.com/jairofilho79/coldigom/internal/stream"
	"github.com/jairofilho79/coldigom/internal/tasks"
	"github.com/jairofilho79/coldigom/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	Relay       *hub.Relay // EVENT_RELAY=redis 时非空
	HttpServer  *http.Server

	redisClientOpt asynq.RedisClientOpt
	scheduler      *asynq.Scheduler
	cancelRelay    context.CancelFunc
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := newLogger(cfg)
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Infrastructure initialized successfully")

	// 4. 初始化 Repositories
	userRepo := gormpersistence.NewGormUserRepository(db)
	roomRepo := gormpersistence.NewGormRoomRepository(db)
	catalog := gormpersistence.NewGormSongCatalog(db)
	stateRepo := redisstate.NewRedisStateRepository(redisClient, cfg.KeyPrefix)

	// 5. 初始化事件总线
	metrics, err := hub.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create hub metrics: %w", err)
	}
	hubInstance := hub.NewHub(cfg.EventMailboxSize, metrics)
	var bus hub.Bus = hubInstance
	var relay *hub.Relay
	if cfg.EventRelay == "redis" {
		relay = hub.NewRelay(hubInstance, stateRepo, 0)
		bus = relay
		log.Info("Cross-process event relay enabled")
	}

	// 6. 初始化 Services
	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	roomService := service.NewRoomService(roomRepo, userRepo, catalog, service.NewBcryptHasher(0), bus)
	eventStream := stream.New(bus, cfg.EventHeartbeat)
	log.Info("Services initialized")

	// 7. 初始化 Handlers 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := NewRouter(log, Handlers{
		Auth:      httpHandler.NewAuthHandler(authService),
		Room:      httpHandler.NewRoomHandler(roomService),
		Events:    httpHandler.NewEventsHandler(roomService, eventStream),
		WebSocket: wsHandler.NewWebSocketHandler(roomService, eventStream, cfg.CORSAllowedOrigin),
	}, RouterDeps{
		Verifier:            authService,
		Limiter:             stateRepo,
		RateLimitMax:        cfg.RateLimitMax,
		RateLimitWindow:     cfg.RateLimitWindow,
		MessageRateLimitMax: cfg.MessageRateLimitMax,
		CORSAllowedOrigin:   cfg.CORSAllowedOrigin,
	})
	log.Info("Router setup complete")

	// 8. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(redisClientOpt, roomService, log)

	// 9. 初始化 HTTP Server；事件流是长连接，不设置 WriteTimeout
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		AsynqClient:    asynqClient,
		AsynqServer:    workerServer,
		Hub:            hubInstance,
		Relay:          relay,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	// 业务代码使用包级 logrus，保持同样的格式和级别
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(logLevel)
	log.Infof("Logger initialized (Level: %s, Format: %T)", logLevel.String(), log.Formatter)
	return log
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")

	if a.Relay != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancelRelay = cancel
		go func() {
			if err := a.Relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Log.Errorf("Event relay stopped: %v", err)
			}
		}()
		a.Log.Info("Event relay routine started")
	}

	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

func (a *App) registerPeriodicTasks() {
	scheduler := asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{
		Logger: a.Log.WithField("component", "scheduler"),
	})

	task, err := tasks.NewRoomSweepTask(tasks.DefaultSweepBatchSize)
	if err != nil {
		a.Log.Errorf("Failed to create room sweep task: %v", err)
		return
	}

	schedule := a.Config.RoomSweepSchedule
	entryID, err := scheduler.Register(schedule, task, asynq.Queue("low"))
	if err != nil {
		a.Log.Errorf("Could not register periodic room sweep task: %v", err)
		return
	}
	a.Log.Infof("Periodic room sweep task registered with schedule '%s' (EntryID: %s)", schedule, entryID)

	if err := scheduler.Start(); err != nil {
		a.Log.Errorf("Asynq scheduler failed to start: %v", err)
		return
	}
	a.scheduler = scheduler
	a.Log.Info("Asynq scheduler started")
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 关闭所有事件流，长连接的 handler 会随之返回
	if a.Hub != nil {
		a.Hub.Shutdown()
	}
	if a.cancelRelay != nil {
		a.cancelRelay()
	}

	// 2. 停止调度器和 Worker
	if a.scheduler != nil {
		a.scheduler.Shutdown()
		a.Log.Info("Asynq scheduler stopped.")
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 3. 优雅关闭 HTTP 服务器
	a.Log.Info("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 4. 关闭 Asynq Client
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}

	// 5. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}

	// 6. 关闭数据库连接
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
	}

	a.Log.Info("Application shutdown complete.")
}
