package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "mysql", cfg.DB.Driver)
	assert.Equal(t, 30*time.Second, cfg.EventHeartbeat)
	assert.Equal(t, 64, cfg.EventMailboxSize)
	assert.Equal(t, "local", cfg.EventRelay)
	assert.Equal(t, "@every 5m", cfg.RoomSweepSchedule)
	assert.Equal(t, 24, cfg.JWTExpiryHours)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/rooms.db")
	t.Setenv("EVENT_HEARTBEAT_INTERVAL", "5s")
	t.Setenv("EVENT_RELAY", "redis")
	t.Setenv("MESSAGE_RATE_LIMIT_MAX", "3")
	t.Setenv("LOG_LEVEL", "verbose")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "/tmp/rooms.db", cfg.DB.SQLitePath)
	assert.Equal(t, 5*time.Second, cfg.EventHeartbeat)
	assert.Equal(t, "redis", cfg.EventRelay)
	assert.Equal(t, 3, cfg.MessageRateLimitMax)
	assert.Equal(t, "info", cfg.LogLevel, "非法日志级别回退到 info")
}

func TestLoadConfig_Errors(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"Missing JWT secret", map[string]string{"REDIS_ADDR": "localhost:6379"}},
		{"Missing redis", map[string]string{"JWT_SECRET": "secret"}},
		{"Bad relay", map[string]string{"REDIS_ADDR": "x", "JWT_SECRET": "s", "EVENT_RELAY": "nats"}},
		{"Bad duration", map[string]string{"REDIS_ADDR": "x", "JWT_SECRET": "s", "EVENT_HEARTBEAT_INTERVAL": "soon"}},
		{"Bad int", map[string]string{"REDIS_ADDR": "x", "JWT_SECRET": "s", "EVENT_MAILBOX_SIZE": "many"}},
		{"Non-positive limit", map[string]string{"REDIS_ADDR": "x", "JWT_SECRET": "s", "RATE_LIMIT_MAX": "0"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("REDIS_ADDR", "")
			t.Setenv("JWT_SECRET", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
