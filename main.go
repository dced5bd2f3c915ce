package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quantpilot/config"
	"quantpilot/engine"
	"quantpilot/event"
	"quantpilot/exchange"
	"quantpilot/logger"
	"quantpilot/metrics"
	"quantpilot/notify"
	"quantpilot/order"
	"quantpilot/position"
	"quantpilot/risk"
	"quantpilot/strategy"
)

// Version 版本号
var Version = "1.2.0"

func main() {
	logger.Info("🚀 QuantPilot 交易系统启动...")
	logger.Info("📦 版本号: %s", Version)

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("❌ 加载配置失败: %v", err)
	}

	if loc, err := time.LoadLocation(cfg.System.Timezone); err != nil {
		logger.Warn("⚠️ 加载时区 %s 失败: %v, 使用本地时区", cfg.System.Timezone, err)
	} else {
		logger.SetLocation(loc)
	}
	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	if cfg.System.LogToFile {
		logger.EnableFileOutput()
	}
	defer logger.Close()

	logger.Info("✅ 配置加载成功: 交易所=%s 模式=%s", cfg.App.CurrentExchange, cfg.Trading.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 交易所网关
	ex, err := exchange.NewExchange(cfg)
	if err != nil {
		logger.Fatal("❌ 初始化交易所失败: %v", err)
	}
	logger.Info("✅ 交易所已连接: %s", ex.GetName())

	// 启动期权益, 用于折算每日亏损上限
	balances, err := ex.GetAccountBalances(ctx)
	if err != nil {
		logger.Fatal("❌ 获取账户余额失败: %v", err)
	}
	equity := balances.Spot
	if cfg.Trading.Mode == strategy.MarketFutures {
		equity = balances.Futures
	}
	logger.Info("✅ 账户权益: %.2f USDT (现货 %.2f / 合约 %.2f)",
		equity, balances.Spot, balances.Futures)

	// 事件总线与通知
	bus := event.NewBus(1000)
	notifier := notify.NewNotificationService(cfg)

	// 指标服务
	if cfg.Metrics.Enabled {
		go metrics.Serve(cfg.Metrics.Listen)
		collector := metrics.NewSystemCollector(time.Duration(cfg.Metrics.SystemInterval) * time.Second)
		collector.Start()
		defer collector.Stop()
	}

	// 核心组件
	riskMgr := risk.NewManager(cfg, equity)
	posMgr := position.NewManager(ex, cfg, bus)
	executor := order.NewExecutor(ex, cfg)

	strategies := strategy.NewManager(cfg)
	strategies.Register(strategy.NewMomentum(ex, cfg))
	strategies.Register(strategy.NewMeanReversion(ex, cfg))

	eng := engine.New(cfg, ex, riskMgr, posMgr, executor, strategies, notifier, bus)
	if err := eng.Start(); err != nil {
		logger.Fatal("❌ 启动交易引擎失败: %v", err)
	}

	// 配置热更新: 目前只动态应用日志级别, 其余配置重启生效
	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		logger.Warn("⚠️ 配置监听初始化失败: %v", err)
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("⚠️ 配置监听启动失败: %v", err)
		} else {
			defer watcher.Close()
			go func() {
				for fresh := range watcher.Updates() {
					logger.SetLevel(logger.ParseLogLevel(fresh.System.LogLevel))
					logger.Info("🔄 配置已重载, 日志级别=%s (其余改动需重启生效)", fresh.System.LogLevel)
				}
			}()
		}
	}

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("🔄 收到信号 %v, 正在优雅退出...", sig)

	if err := eng.Stop(); err != nil {
		logger.Error("❌ 停止引擎失败: %v", err)
	}
	logger.Info("✅ 退出完成")
}
