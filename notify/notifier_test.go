package notify

import (
	"sync"
	"testing"
	"time"

	"quantpilot/config"
	"quantpilot/event"
)

// MockNotifier 记录收到的消息
type MockNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (m *MockNotifier) Name() string { return "Mock" }

func (m *MockNotifier) Send(evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, evt.Message)
	return nil
}

func (m *MockNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func newTestService(cooldownSeconds int) (*NotificationService, *MockNotifier) {
	cfg := &config.Config{}
	cfg.Notifications.CooldownSeconds = cooldownSeconds

	mock := &MockNotifier{}
	ns := &NotificationService{
		cfg:      cfg,
		lastSent: make(map[uint64]time.Time),
		cooldown: time.Duration(cooldownSeconds) * time.Second,
	}
	ns.notifiers = append(ns.notifiers, mock)
	return ns, mock
}

func TestNotificationService_Dedup(t *testing.T) {
	ns, mock := newTestService(300)

	// 相同消息在冷却期内只发送一次
	ns.SendNotification("BTC-USDT 下单成功")
	ns.SendNotification("BTC-USDT 下单成功")
	ns.SendNotification("BTC-USDT 下单成功")

	if mock.Count() != 1 {
		t.Errorf("冷却期内重复消息应只发送 1 次, 实际发送 %d 次", mock.Count())
	}

	// 不同消息不受影响
	ns.SendNotification("ETH-USDT 下单成功")
	if mock.Count() != 2 {
		t.Errorf("不同消息应正常发送, 实际发送 %d 次", mock.Count())
	}
}

func TestNotificationService_DedupExpiry(t *testing.T) {
	ns, mock := newTestService(300)
	ns.cooldown = 10 * time.Millisecond

	ns.SendNotification("持仓接近强平价")
	time.Sleep(20 * time.Millisecond)
	ns.SendNotification("持仓接近强平价")

	if mock.Count() != 2 {
		t.Errorf("冷却期过后相同消息应再次发送, 实际发送 %d 次", mock.Count())
	}
}

func TestNotificationService_Prefixes(t *testing.T) {
	ns, mock := newTestService(300)

	ns.SendWarningNotification("测试警告")
	ns.SendErrorNotification("测试错误")

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if len(mock.messages) != 2 {
		t.Fatalf("应发送 2 条消息, 实际 %d 条", len(mock.messages))
	}
	if mock.messages[0] != "⚠️ WARNING: 测试警告" {
		t.Errorf("警告前缀不正确: %q", mock.messages[0])
	}
	if mock.messages[1] != "❗ ERROR: 测试错误" {
		t.Errorf("错误前缀不正确: %q", mock.messages[1])
	}
}
