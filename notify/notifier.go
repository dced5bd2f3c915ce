package notify

import (
	"hash/fnv"
	"sync"
	"time"

	"quantpilot/config"
	"quantpilot/event"
	"quantpilot/logger"
)

// Notifier 通知接口
type Notifier interface {
	Send(evt *event.Event) error
	Name() string
}

// NotificationService 通知服务
// 发送为尽力而为：单个渠道失败只记录日志，不向交易核心传播
type NotificationService struct {
	notifiers []Notifier
	cfg       *config.Config

	// 消息去重：相同内容在冷却期内只发送一次
	lastSent map[uint64]time.Time
	cooldown time.Duration
	mu       sync.Mutex
}

// NewNotificationService 创建通知服务
func NewNotificationService(cfg *config.Config) *NotificationService {
	ns := &NotificationService{
		cfg:      cfg,
		lastSent: make(map[uint64]time.Time),
		cooldown: time.Duration(cfg.Notifications.CooldownSeconds) * time.Second,
	}

	if cfg.Notifications.Enabled {
		if cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.BotToken != "" {
			tn, err := NewTelegramNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
			} else {
				ns.notifiers = append(ns.notifiers, tn)
				logger.Info("✅ Telegram 通知已启用")
			}
		}

		if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
			wn, err := NewWebhookNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
			} else {
				ns.notifiers = append(ns.notifiers, wn)
				logger.Info("✅ Webhook 通知已启用")
			}
		}
	}

	return ns
}

// SendNotification 发送普通通知
func (ns *NotificationService) SendNotification(text string) {
	ns.dispatch(&event.Event{Type: event.EventTypeSystemStart, Message: text})
}

// SendWarningNotification 发送警告通知
func (ns *NotificationService) SendWarningNotification(text string) {
	ns.dispatch(&event.Event{Type: event.EventTypeRiskTriggered, Message: "⚠️ WARNING: " + text})
}

// SendErrorNotification 发送错误通知
func (ns *NotificationService) SendErrorNotification(text string) {
	ns.dispatch(&event.Event{Type: event.EventTypeError, Message: "❗ ERROR: " + text})
}

// SendEvent 直接发送事件（供事件总线消费协程使用）
func (ns *NotificationService) SendEvent(evt *event.Event) {
	ns.dispatch(evt)
}

// dispatch 去重后分发到所有渠道
func (ns *NotificationService) dispatch(evt *event.Event) {
	if evt == nil || len(ns.notifiers) == 0 {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	if !ns.shouldSend(evt.Message) {
		logger.Debug("跳过重复通知（冷却期内）: %s", evt.Message)
		return
	}

	for _, n := range ns.notifiers {
		if err := n.Send(evt); err != nil {
			logger.Warn("⚠️ %s 通知发送失败: %v", n.Name(), err)
		}
	}
}

// shouldSend 冷却期去重判断，admit 时记录发送时间
func (ns *NotificationService) shouldSend(message string) bool {
	h := fnv.New64a()
	h.Write([]byte(message))
	key := h.Sum64()

	now := time.Now()

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if last, ok := ns.lastSent[key]; ok && now.Sub(last) < ns.cooldown {
		return false
	}
	ns.lastSent[key] = now

	// 顺带清理过期条目，避免长期运行时 map 无限增长
	if len(ns.lastSent) > 1024 {
		for k, ts := range ns.lastSent {
			if now.Sub(ts) >= ns.cooldown {
				delete(ns.lastSent, k)
			}
		}
	}

	return true
}
