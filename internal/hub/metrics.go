package hub

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jairofilho79/coldigom/internal/domain"
)

const meterName = "github.com/jairofilho79/coldigom/internal/hub"

// Metrics 记录事件扇出的指标。nil *Metrics 的所有方法都是空操作。
type Metrics struct {
	delivered   metric.Int64Counter
	dropped     metric.Int64Counter
	subscribers metric.Int64UpDownCounter
}

// NewMetrics 使用全局 MeterProvider 创建指标，未安装 SDK 时为 noop。
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	delivered, err := meter.Int64Counter("rooms.events.delivered",
		metric.WithDescription("Events enqueued into subscriber mailboxes"))
	if err != nil {
		return nil, fmt.Errorf("create delivered counter: %w", err)
	}
	dropped, err := meter.Int64Counter("rooms.events.dropped",
		metric.WithDescription("Subscriptions dropped because their mailbox was full"))
	if err != nil {
		return nil, fmt.Errorf("create dropped counter: %w", err)
	}
	subscribers, err := meter.Int64UpDownCounter("rooms.subscribers",
		metric.WithDescription("Active event stream subscriptions"))
	if err != nil {
		return nil, fmt.Errorf("create subscribers counter: %w", err)
	}
	return &Metrics{delivered: delivered, dropped: dropped, subscribers: subscribers}, nil
}

func (m *Metrics) eventDelivered(t domain.EventType) {
	if m == nil {
		return
	}
	m.delivered.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event_type", string(t))))
}

func (m *Metrics) eventDropped(t domain.EventType) {
	if m == nil {
		return
	}
	m.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event_type", string(t))))
}

func (m *Metrics) subscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Add(context.Background(), 1)
}

func (m *Metrics) subscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Add(context.Background(), -1)
}
