// Package stream 把一个房间订阅转换成连接上的事件序列：
// 先发送 connected，之后转发事件，空闲时发送心跳。
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jairofilho79/coldigom/internal/domain"
	"github.com/jairofilho79/coldigom/internal/hub"
)

// DefaultHeartbeatInterval 是没有事件时发送心跳的间隔
const DefaultHeartbeatInterval = 30 * time.Second

// ErrSubscriptionDropped 表示订阅被 Hub 移除（邮箱满或 Hub 关闭）
var ErrSubscriptionDropped = errors.New("stream: subscription dropped")

// Sink 是一个连接的写端，SSE 和 WebSocket 各有实现。
type Sink interface {
	WriteEvent(event domain.Event) error
	WriteHeartbeat() error
}

// Stream 为每个连接驱动一个订阅
type Stream struct {
	bus       hub.Subscriber
	heartbeat time.Duration
}

func New(bus hub.Subscriber, heartbeat time.Duration) *Stream {
	if bus == nil {
		panic("subscriber cannot be nil for Stream")
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Stream{bus: bus, heartbeat: heartbeat}
}

// HeartbeatInterval 返回空闲心跳间隔
func (s *Stream) HeartbeatInterval() time.Duration { return s.heartbeat }

// Serve 阻塞直到 ctx 结束、写入失败或订阅被移除，返回时一定已取消订阅。
// ctx 结束时返回 nil。
func (s *Stream) Serve(ctx context.Context, roomID uint, sink Sink) error {
	sub := s.bus.Subscribe(roomID)
	defer s.bus.Unsubscribe(sub)

	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":         roomID,
		"subscription_id": sub.ID(),
	})
	logCtx.Debug("Event stream started")

	if err := sink.WriteEvent(domain.Event{Type: domain.EventConnected, RoomID: roomID}); err != nil {
		logCtx.WithError(err).Debug("Failed to write connected event")
		return err
	}

	timer := time.NewTimer(s.heartbeat)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logCtx.Debug("Event stream cancelled by client")
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				logCtx.Info("Event stream subscription dropped")
				return ErrSubscriptionDropped
			}
			if err := sink.WriteEvent(ev); err != nil {
				logCtx.WithError(err).Debug("Failed to write event, closing stream")
				return err
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.heartbeat)

		case <-timer.C:
			if err := sink.WriteHeartbeat(); err != nil {
				logCtx.WithError(err).Debug("Failed to write heartbeat, closing stream")
				return err
			}
			timer.Reset(s.heartbeat)
		}
	}
}
