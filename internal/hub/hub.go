package hub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jairofilho79/coldigom/internal/domain"
)

// DefaultMailboxSize 是每个订阅的邮箱容量
const DefaultMailboxSize = 64

// Publisher 把房间事件投递给订阅者，永远不会阻塞或失败。
type Publisher interface {
	Publish(roomID uint, event domain.Event)
}

// Subscriber 管理事件流的订阅。
type Subscriber interface {
	Subscribe(roomID uint) *Subscription
	Unsubscribe(sub *Subscription)
}

// Bus 同时提供发布和订阅
type Bus interface {
	Publisher
	Subscriber
}

// Subscription 是一个连接在某个房间上的订阅，内部是有界邮箱。
type Subscription struct {
	id      string
	roomID  uint
	mailbox chan domain.Event
	closed  bool // 由 Hub.mu 保护
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) RoomID() uint { return s.roomID }

// Events 返回邮箱。邮箱被关闭表示订阅已被 Hub 移除（慢消费者或关闭）。
func (s *Subscription) Events() <-chan domain.Event { return s.mailbox }

// Hub 维护按房间组织的订阅集合，并把事件非阻塞地投递到每个邮箱。
type Hub struct {
	// map[roomID]map[*Subscription]struct{}
	rooms map[uint]map[*Subscription]struct{}
	mu    sync.Mutex

	mailboxSize int
	metrics     *Metrics
	closed      bool
}

var _ Bus = (*Hub)(nil)

// NewHub 创建 Hub。metrics 可以为 nil。
func NewHub(mailboxSize int, metrics *Metrics) *Hub {
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	return &Hub{
		rooms:       make(map[uint]map[*Subscription]struct{}),
		mailboxSize: mailboxSize,
		metrics:     metrics,
	}
}

// Subscribe 为房间注册一个新订阅。Hub 已关闭时返回一个邮箱已关闭的订阅。
func (h *Hub) Subscribe(roomID uint) *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		roomID:  roomID,
		mailbox: make(chan domain.Event, h.mailboxSize),
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":         roomID,
		"subscription_id": sub.id,
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.closed = true
		close(sub.mailbox)
		logCtx.Warn("Subscribe called on closed hub")
		return sub
	}
	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.rooms[roomID] = subs
		logCtx.Debug("Subscriber set created for room")
	}
	subs[sub] = struct{}{}
	h.metrics.subscriberAdded()
	logCtx.Debug("Subscription registered")
	return sub
}

// Unsubscribe 移除订阅并关闭其邮箱，可重复调用。
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// removeLocked 需要持有 h.mu
func (h *Hub) removeLocked(sub *Subscription) {
	if subs, ok := h.rooms[sub.roomID]; ok {
		if _, exists := subs[sub]; exists {
			delete(subs, sub)
			h.metrics.subscriberRemoved()
		}
		if len(subs) == 0 {
			delete(h.rooms, sub.roomID)
			logrus.WithField("room_id", sub.roomID).Debug("Room has no subscribers, removed from hub")
		}
	}
	if !sub.closed {
		sub.closed = true
		close(sub.mailbox)
	}
}

// Publish 把事件投递给房间当前的所有订阅。
// 邮箱已满的订阅被视为断开，直接移除并关闭邮箱。
func (h *Hub) Publish(roomID uint, event domain.Event) {
	event.RoomID = roomID

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.rooms[roomID]
	if !ok || len(subs) == 0 {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":         roomID,
		"event_type":      event.Type,
		"recipient_count": len(subs),
	})
	logCtx.Debug("Publishing event to subscribers")

	var dropped []*Subscription
	for sub := range subs {
		select {
		case sub.mailbox <- event:
			h.metrics.eventDelivered(event.Type)
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		logCtx.WithField("subscription_id", sub.id).Warn("Subscriber mailbox full, dropping subscription")
		h.metrics.eventDropped(event.Type)
		h.removeLocked(sub)
	}
}

// SubscriberCount 返回房间当前的订阅数
func (h *Hub) SubscriberCount(roomID uint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}

// RoomCount 返回当前有订阅的房间数
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Shutdown 关闭所有订阅的邮箱，之后的 Subscribe 立即得到已关闭的订阅。
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	count := 0
	for _, subs := range h.rooms {
		for sub := range subs {
			h.removeLocked(sub)
			count++
		}
	}
	logrus.WithField("closed_subscriptions", count).Info("Hub shut down")
}
