package event

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	bus.Publish(&Event{
		Type:    EventTypeOrderPlaced,
		Message: "BTC-USDT 买入",
	})

	select {
	case evt := <-bus.Subscribe():
		if evt.Type != EventTypeOrderPlaced {
			t.Errorf("事件类型应为 %s, 得到 %s", EventTypeOrderPlaced, evt.Type)
		}
		if evt.Timestamp.IsZero() {
			t.Error("发布时应自动填充时间戳")
		}
	case <-time.After(time.Second):
		t.Fatal("未收到已发布的事件")
	}
}

func TestBus_PublishFullBufferDoesNotBlock(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	bus.Publish(&Event{Type: EventTypeError})

	done := make(chan struct{})
	go func() {
		// 缓冲已满，应丢弃而不是阻塞
		bus.Publish(&Event{Type: EventTypeError})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("缓冲满时 Publish 不应阻塞")
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus(10)
	bus.Close()

	// 关闭后发布与重复关闭都应是空操作, 不应 panic
	bus.Publish(&Event{Type: EventTypeSystemStop})
	bus.Close()

	if _, ok := <-bus.Subscribe(); ok {
		t.Error("关闭后的总线不应再产出事件")
	}
}

func TestBus_PublishNil(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	// nil 事件应被忽略
	bus.Publish(nil)

	select {
	case evt := <-bus.Subscribe():
		t.Errorf("nil 事件不应入队, 得到 %v", evt)
	default:
	}
}
