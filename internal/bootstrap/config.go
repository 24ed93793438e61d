package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/jairofilho79/coldigom/internal/infra/setup"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	AppEnv     string // development/production
	ServerPort string
	LogLevel   string

	DB setup.DBConfig

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string // Redis Key 前缀

	JWTSecret      string
	JWTExpiryHours int

	RateLimitMax        int
	RateLimitWindow     time.Duration
	MessageRateLimitMax int

	EventHeartbeat   time.Duration
	EventMailboxSize int
	EventRelay       string // local 或 redis

	RoomSweepSchedule string
	CORSAllowedOrigin string
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:     envOr("APP_ENV", "development"),
		ServerPort: envOr("SERVER_PORT", "8080"),
		LogLevel:   envOr("LOG_LEVEL", "info"),
		DB: setup.DBConfig{
			Driver:     envOr("DB_DRIVER", "mysql"),
			User:       os.Getenv("DB_USER"),
			Password:   os.Getenv("DB_PASSWORD"),
			Host:       os.Getenv("DB_HOST"),
			Port:       os.Getenv("DB_PORT"),
			Name:       os.Getenv("DB_NAME"),
			SQLitePath: os.Getenv("SQLITE_PATH"),
		},
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:         envOr("REDIS_KEY_PREFIX", "rooms:"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		EventRelay:        envOr("EVENT_RELAY", "local"),
		RoomSweepSchedule: envOr("ROOM_SWEEP_SCHEDULE", "@every 5m"),
		CORSAllowedOrigin: envOr("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.JWTExpiryHours, err = envInt("JWT_EXPIRY_HOURS", 24); err != nil {
		return nil, err
	}
	if cfg.RateLimitMax, err = envInt("RATE_LIMIT_MAX", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = envDuration("RATE_LIMIT_WINDOW", time.Second); err != nil {
		return nil, err
	}
	if cfg.MessageRateLimitMax, err = envInt("MESSAGE_RATE_LIMIT_MAX", 10); err != nil {
		return nil, err
	}
	if cfg.EventHeartbeat, err = envDuration("EVENT_HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.EventMailboxSize, err = envInt("EVENT_MAILBOX_SIZE", 64); err != nil {
		return nil, err
	}

	// --- 必要检查 ---
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	if cfg.EventRelay != "local" && cfg.EventRelay != "redis" {
		return nil, fmt.Errorf("EVENT_RELAY must be 'local' or 'redis', got %q", cfg.EventRelay)
	}
	if cfg.RateLimitMax <= 0 || cfg.MessageRateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("rate limit settings must be positive")
	}
	if cfg.EventHeartbeat <= 0 || cfg.EventMailboxSize <= 0 {
		return nil, fmt.Errorf("EVENT_HEARTBEAT_INTERVAL and EVENT_MAILBOX_SIZE must be positive")
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
