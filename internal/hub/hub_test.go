package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jairofilho79/coldigom/internal/domain"
)

func event(t domain.EventType) domain.Event {
	return domain.Event{Type: t}
}

// drain 非阻塞地取出邮箱中已有的事件
func drain(sub *Subscription) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHub_PublishDeliversInOrderToRoomOnly(t *testing.T) {
	h := NewHub(8, nil)
	a1 := h.Subscribe(1)
	a2 := h.Subscribe(1)
	b := h.Subscribe(2)

	h.Publish(1, event(domain.EventUserJoined))
	h.Publish(1, event(domain.EventMessageSent))
	h.Publish(1, event(domain.EventUserLeft))

	for _, sub := range []*Subscription{a1, a2} {
		got := drain(sub)
		require.Len(t, got, 3)
		assert.Equal(t, domain.EventUserJoined, got[0].Type)
		assert.Equal(t, domain.EventMessageSent, got[1].Type)
		assert.Equal(t, domain.EventUserLeft, got[2].Type)
		assert.Equal(t, uint(1), got[0].RoomID, "Publish 应填充 room_id")
	}
	assert.Empty(t, drain(b), "其他房间的订阅不应收到事件")
}

func TestHub_UnsubscribeThenPublish(t *testing.T) {
	h := NewHub(8, nil)
	sub := h.Subscribe(1)
	other := h.Subscribe(1)

	h.Unsubscribe(sub)
	assert.NotPanics(t, func() {
		h.Publish(1, event(domain.EventSongAdded))
		h.Unsubscribe(sub)
	})

	_, ok := <-sub.Events()
	assert.False(t, ok, "移除后邮箱应被关闭且没有事件")
	assert.Len(t, drain(other), 1)
}

func TestHub_EmptyRoomBookkeepingDropped(t *testing.T) {
	h := NewHub(8, nil)
	s1 := h.Subscribe(7)
	s2 := h.Subscribe(7)
	assert.Equal(t, 1, h.RoomCount())
	assert.Equal(t, 2, h.SubscriberCount(7))

	h.Unsubscribe(s1)
	assert.Equal(t, 1, h.RoomCount())
	h.Unsubscribe(s2)
	assert.Equal(t, 0, h.RoomCount())
	assert.Equal(t, 0, h.SubscriberCount(7))
}

func TestHub_FullMailboxIsDropped(t *testing.T) {
	h := NewHub(2, nil)
	slow := h.Subscribe(1)
	fast := h.Subscribe(1)

	h.Publish(1, event(domain.EventSongAdded))
	h.Publish(1, event(domain.EventSongAdded))
	// fast 及时消费，slow 不消费
	require.Len(t, drain(fast), 2)

	done := make(chan struct{})
	go func() {
		h.Publish(1, event(domain.EventSongRemoved))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish 不应因慢消费者阻塞")
	}

	assert.Equal(t, 1, h.SubscriberCount(1), "慢订阅应被移除")
	got := drain(fast)
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventSongRemoved, got[0].Type)

	// slow 仍能读到之前的两条，然后看到关闭
	assert.Len(t, drain(slow), 2)
	_, ok := <-slow.Events()
	assert.False(t, ok)
}

func TestHub_ConcurrentSubscribePublishUnsubscribe(t *testing.T) {
	h := NewHub(4, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(room uint) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub := h.Subscribe(room)
				h.Publish(room, event(domain.EventMessageSent))
				h.Unsubscribe(sub)
			}
		}(uint(i % 3))
	}
	wg.Wait()
	assert.Equal(t, 0, h.RoomCount())
}

func TestHub_Shutdown(t *testing.T) {
	h := NewHub(4, nil)
	sub := h.Subscribe(1)
	h.Shutdown()

	_, ok := <-sub.Events()
	assert.False(t, ok)

	late := h.Subscribe(1)
	_, ok = <-late.Events()
	assert.False(t, ok, "关闭后的订阅立即结束")
	assert.Equal(t, 0, h.RoomCount())
}

func TestNewMetrics_Noop(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	h := NewHub(1, m)
	sub := h.Subscribe(1)
	h.Publish(1, event(domain.EventUserJoined))
	h.Publish(1, event(domain.EventUserJoined))
	assert.Equal(t, 0, h.SubscriberCount(1))
	assert.Len(t, drain(sub), 1)
}

// --- Relay ---

// loopbackTransport 把发布的消息交给所有接收者，模拟共享频道
type loopbackTransport struct {
	mu       sync.Mutex
	handlers []func([]byte)
	ready    chan struct{}
}

func newLoopback() *loopbackTransport {
	return &loopbackTransport{ready: make(chan struct{}, 16)}
}

func (l *loopbackTransport) PublishEvent(_ context.Context, payload []byte) error {
	l.mu.Lock()
	handlers := append([]func([]byte){}, l.handlers...)
	l.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (l *loopbackTransport) ReceiveEvents(ctx context.Context, handle func([]byte)) error {
	l.mu.Lock()
	l.handlers = append(l.handlers, handle)
	l.mu.Unlock()
	l.ready <- struct{}{}
	<-ctx.Done()
	return nil
}

func TestRelay_ForwardsToOtherInstances(t *testing.T) {
	transport := newLoopback()
	hubA, hubB := NewHub(8, nil), NewHub(8, nil)
	relayA := NewRelay(hubA, transport, 8)
	relayB := NewRelay(hubB, transport, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relayA.Run(ctx) }()
	go func() { _ = relayB.Run(ctx) }()
	<-transport.ready
	<-transport.ready

	subA := relayA.Subscribe(3)
	subB := relayB.Subscribe(3)

	payload := domain.UserPresencePayload{UserID: 9, Username: "carol"}
	relayA.Publish(3, domain.Event{Type: domain.EventUserJoined, Payload: payload})

	select {
	case ev := <-subB.Events():
		assert.Equal(t, domain.EventUserJoined, ev.Type)
		assert.Equal(t, uint(3), ev.RoomID)
		raw, err := json.Marshal(ev)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"user_joined","room_id":3,"user_id":9,"username":"carol"}`, string(raw))
	case <-time.After(2 * time.Second):
		t.Fatal("其他实例应收到转发的事件")
	}

	// 本实例只收到一次，不会被自己的转发重复投递
	select {
	case ev := <-subA.Events():
		assert.Equal(t, domain.EventUserJoined, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("本地订阅应直接收到事件")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, drain(subA))
}
