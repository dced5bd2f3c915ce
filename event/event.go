package event

import (
	"sync"
	"time"

	"quantpilot/logger"
)

// EventType 事件类型
type EventType string

const (
	EventTypeSignalAccepted     EventType = "signal_accepted"
	EventTypeSignalRejected     EventType = "signal_rejected"
	EventTypeOrderPlaced        EventType = "order_placed"
	EventTypeOrderFilled        EventType = "order_filled"
	EventTypeOrderCanceled      EventType = "order_canceled"
	EventTypePositionUpdated    EventType = "position_updated"
	EventTypePositionClosed     EventType = "position_closed"
	EventTypeRiskTriggered      EventType = "risk_triggered"
	EventTypeLiquidationWarning EventType = "liquidation_warning"
	EventTypeError              EventType = "error"
	EventTypeSystemStart        EventType = "system_start"
	EventTypeSystemStop         EventType = "system_stop"
)

// Event 事件结构
type Event struct {
	Type      EventType
	Timestamp time.Time
	Message   string
	Data      map[string]interface{}
}

// Bus 事件总线
type Bus struct {
	mu         sync.RWMutex
	closed     bool
	eventCh    chan *Event
	bufferSize int
}

// NewBus 创建事件总线
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1000 // 默认1000
	}
	return &Bus{
		eventCh:    make(chan *Event, bufferSize),
		bufferSize: bufferSize,
	}
}

// Publish 发布事件（非阻塞）
func (b *Bus) Publish(evt *Event) {
	if evt == nil {
		return
	}

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.eventCh <- evt:
		// 成功发布
	default:
		// Channel 满了，记录警告但不阻塞交易路径
		logger.Warn("⚠️ 事件队列已满，丢弃事件: %s", evt.Type)
	}
}

// Subscribe 订阅事件（返回 channel）
func (b *Bus) Subscribe() <-chan *Event {
	return b.eventCh
}

// Close 关闭事件总线, 重复关闭与后续发布均为空操作
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.eventCh)
}
