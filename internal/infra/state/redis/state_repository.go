package redisstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisStateRepository 封装房间子系统在 Redis 中的共享状态：限流计数器和跨进程事件频道。
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStateRepository 创建 RedisStateRepository 实例
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "rooms:"
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// --- Key Generation Helpers ---

func (r *RedisStateRepository) rateLimitKey(key string) string {
	return r.keyPrefix + "ratelimit:" + key
}

func (r *RedisStateRepository) eventChannel() string {
	return r.keyPrefix + "room:events"
}

// fixedWindowScript 递增计数器，只在窗口的第一次请求时设置过期时间，
// 之后的请求不会推迟窗口结束。没有 TTL 的残留 key 也会被补上过期时间。
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// CheckRateLimit 递增 key 在当前固定窗口内的计数器，返回是否已超限。
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := r.rateLimitKey(key)
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	count, err := fixedWindowScript.Run(ctx, r.client, []string{fullKey}, windowMs).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit script failed on key %s: %w", fullKey, err)
	}
	return count > int64(limit), nil
}

// PublishEvent 把序列化后的房间事件发布到共享频道
func (r *RedisStateRepository) PublishEvent(ctx context.Context, payload []byte) error {
	channel := r.eventChannel()
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"channel":      channel,
			"payload_size": len(payload),
		}).WithError(err).Error("Redis Publish failed")
		return fmt.Errorf("redis: failed to publish event to channel %s: %w", channel, err)
	}
	return nil
}

// ReceiveEvents 订阅共享频道并对每条消息调用 handle，直到 ctx 结束。
func (r *RedisStateRepository) ReceiveEvents(ctx context.Context, handle func(payload []byte)) error {
	channel := r.eventChannel()
	pubsub := r.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	// 等待订阅确认，确保之后发布的消息不会丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: failed to subscribe to channel %s: %w", channel, err)
	}
	logrus.WithField("channel", channel).Info("Subscribed to room event channel")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("redis: event channel closed")
			}
			handle([]byte(msg.Payload))
		}
	}
}
