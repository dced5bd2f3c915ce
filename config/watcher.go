package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"quantpilot/logger"
)

// Watcher 配置文件监控器，检测到修改后重新加载并下发新配置
type Watcher struct {
	configPath string
	watcher    *fsnotify.Watcher
	updateChan chan *Config
	mu         sync.Mutex
	isWatching bool
	debounce   time.Duration
}

// NewWatcher 创建配置监控器
func NewWatcher(configPath string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &Watcher{
		configPath: configPath,
		watcher:    fw,
		updateChan: make(chan *Config, 1),
		debounce:   500 * time.Millisecond,
	}, nil
}

// Updates 返回新配置下发通道
func (w *Watcher) Updates() <-chan *Config {
	return w.updateChan
}

// Start 开始监控配置文件
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		return fmt.Errorf("配置监控已在运行")
	}
	w.isWatching = true
	w.mu.Unlock()

	// 监控所在目录而非文件本身，编辑器原子替换时 inode 会变化
	configDir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(configDir); err != nil {
		return fmt.Errorf("监控配置目录失败: %w", err)
	}

	go w.watchLoop(ctx)
	logger.Info("✅ 配置热加载已启用: %s", w.configPath)
	return nil
}

// Close 停止监控
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// watchLoop 事件循环
func (w *Watcher) watchLoop(ctx context.Context) {
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			// 去抖：编辑器保存往往触发多个连续事件
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("❌ 配置监控错误: %v", err)
		}
	}
}

// reload 重新加载配置，非法配置不下发
func (w *Watcher) reload() {
	cfg, err := Load(w.configPath)
	if err != nil {
		logger.Error("❌ 配置重载失败，继续使用旧配置: %v", err)
		return
	}

	select {
	case w.updateChan <- cfg:
		logger.Info("🔄 配置已重载: %s", w.configPath)
	default:
		// 上一份更新尚未被消费，丢弃旧的再放入新的
		select {
		case <-w.updateChan:
		default:
		}
		w.updateChan <- cfg
	}
}
