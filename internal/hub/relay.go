package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jairofilho79/coldigom/internal/domain"
)

// EventTransport 是跨进程的事件通道，Redis 实现见 infra/state/redis。
type EventTransport interface {
	PublishEvent(ctx context.Context, payload []byte) error
	ReceiveEvents(ctx context.Context, handle func(payload []byte)) error
}

// envelope 是在进程间传递的事件，Origin 用于忽略本进程自己发出的消息
type envelope struct {
	Origin string       `json:"origin"`
	RoomID uint         `json:"room_id"`
	Event  domain.Event `json:"event"`
}

// Relay 在本地 Hub 的基础上把事件转发给其他进程，对调用方保持与 Hub 相同的契约。
// Publish 先投递本地订阅者，再把事件放进有界发件箱，由 Run 异步发送。
type Relay struct {
	local     *Hub
	transport EventTransport
	origin    string
	outbox    chan []byte
}

var _ Bus = (*Relay)(nil)

func NewRelay(local *Hub, transport EventTransport, outboxSize int) *Relay {
	if local == nil || transport == nil {
		panic("hub and transport cannot be nil for Relay")
	}
	if outboxSize <= 0 {
		outboxSize = 256
	}
	return &Relay{
		local:     local,
		transport: transport,
		origin:    uuid.NewString(),
		outbox:    make(chan []byte, outboxSize),
	}
}

func (r *Relay) Subscribe(roomID uint) *Subscription { return r.local.Subscribe(roomID) }

func (r *Relay) Unsubscribe(sub *Subscription) { r.local.Unsubscribe(sub) }

func (r *Relay) Publish(roomID uint, event domain.Event) {
	r.local.Publish(roomID, event)

	event.RoomID = roomID
	payload, err := json.Marshal(envelope{Origin: r.origin, RoomID: roomID, Event: event})
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Relay: failed to marshal event")
		return
	}
	select {
	case r.outbox <- payload:
	default:
		logrus.WithFields(logrus.Fields{
			"room_id":    roomID,
			"event_type": event.Type,
		}).Warn("Relay outbox full, event not forwarded to other instances")
	}
}

// Run 发送发件箱中的事件并接收其他进程的事件，直到 ctx 结束。
func (r *Relay) Run(ctx context.Context) error {
	go r.drainOutbox(ctx)

	logCtx := logrus.WithField("component", "relay")
	logCtx.WithField("origin", r.origin).Info("Event relay is running...")
	for {
		err := r.transport.ReceiveEvents(ctx, r.handleRemote)
		if ctx.Err() != nil {
			logCtx.Info("Event relay stopped")
			return nil
		}
		logCtx.WithError(err).Warn("Event relay receive loop exited, retrying")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func (r *Relay) drainOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-r.outbox:
			sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := r.transport.PublishEvent(sendCtx, payload); err != nil {
				logrus.WithError(err).Warn("Relay: failed to forward event")
			}
			cancel()
		}
	}
}

func (r *Relay) handleRemote(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logrus.WithError(err).Warn("Relay: received malformed event")
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.local.Publish(env.RoomID, env.Event)
}
