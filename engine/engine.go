// Package engine 交易引擎
// 顶层编排: 接收策略信号, 依次通过风控, 订单执行与持仓更新, 并驱动后台循环
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"quantpilot/config"
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

// State 引擎状态
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

// String 状态名
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyRunning 引擎已在运行
	ErrAlreadyRunning = errors.New("engine: already running")
	// ErrNotRunning 引擎未运行
	ErrNotRunning = errors.New("engine: not running")
	// ErrNotWired 关键组件未装配
	ErrNotWired = errors.New("engine: risk manager and order executor must be wired")
)

// 每侧市场最低可用余额, 低于此值跳过该市场
const minTradeBalance = 10.0

// TradeRecord 成交记录, 供绩效统计
type TradeRecord struct {
	Symbol   string
	Side     string
	Strategy string
	Amount   float64
	Price    float64
	Time     time.Time
}

// Engine 交易引擎
type Engine struct {
	cfg        *config.Config
	exchange   exchange.IExchange
	risk       *risk.Manager
	positions  *position.Manager
	executor   *order.Executor
	strategies *strategy.Manager
	notifier   *notify.NotificationService
	bus        *event.Bus
	metrics    *metrics.Metrics

	state  atomic.Int32
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// 引擎层限流状态
	rateMu       sync.Mutex
	lastTrade    map[string]time.Time
	hourlyTrades map[string]int
	hourlyReset  time.Time

	// 活跃订单登记表
	ordersMu     sync.Mutex
	activeOrders map[string]*exchange.Order

	historyMu sync.Mutex
	history   []*TradeRecord
}

// New 创建交易引擎
func New(
	cfg *config.Config,
	ex exchange.IExchange,
	riskMgr *risk.Manager,
	posMgr *position.Manager,
	executor *order.Executor,
	strategies *strategy.Manager,
	notifier *notify.NotificationService,
	bus *event.Bus,
) *Engine {
	return &Engine{
		cfg:          cfg,
		exchange:     ex,
		risk:         riskMgr,
		positions:    posMgr,
		executor:     executor,
		strategies:   strategies,
		notifier:     notifier,
		bus:          bus,
		metrics:      metrics.Get(),
		lastTrade:    make(map[string]time.Time),
		hourlyTrades: make(map[string]int),
		hourlyReset:  time.Now(),
		activeOrders: make(map[string]*exchange.Order),
	}
}

// State 当前状态
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Start 启动引擎与四个后台循环
func (e *Engine) Start() error {
	if !e.state.CompareAndSwap(int32(StateStopped), int32(StateRunning)) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	if err := e.positions.SyncPositions(ctx); err != nil {
		logger.Warn("⚠️ 启动时同步持仓失败: %v", err)
	}

	e.wg.Add(4)
	go e.scanLoop(ctx)
	go e.monitorLoop(ctx)
	go e.cleanupLoop(ctx)
	go e.performanceLoop(ctx)

	// 事件总线 → 通知
	if e.notifier != nil {
		e.wg.Add(1)
		go e.notifyLoop()
	}

	e.bus.Publish(&event.Event{
		Type:    event.EventTypeSystemStart,
		Message: "交易引擎已启动",
	})
	logger.Info("✅ 交易引擎已启动, 模式=%s", e.cfg.Trading.Mode)
	return nil
}

// Stop 停止引擎, 等待所有循环退出
// 已提交到交易所的订单不会回滚
func (e *Engine) Stop() error {
	if !e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrNotRunning
	}

	e.bus.Publish(&event.Event{
		Type:    event.EventTypeSystemStop,
		Message: "交易引擎停止中",
	})
	e.cancel()
	e.bus.Close()
	e.wg.Wait()
	e.state.Store(int32(StateStopped))
	logger.Info("✅ 交易引擎已停止")
	return nil
}

// notifyLoop 把事件总线上的事件转成外部通知
func (e *Engine) notifyLoop() {
	defer e.wg.Done()
	for evt := range e.bus.Subscribe() {
		e.notifier.SendEvent(evt)
	}
}

// ProcessSignal 单条信号的完整流水线
// 任何一步拒绝都只丢弃该信号, 不抛出错误, 不做重试
func (e *Engine) ProcessSignal(ctx context.Context, sig *strategy.Signal) error {
	if e.risk == nil || e.executor == nil {
		return ErrNotWired
	}
	if sig == nil || sig.Symbol == "" {
		return nil
	}

	if !e.checkRateLimits(sig.Symbol) {
		e.metrics.RecordSignal(sig.Strategy, "rate_limited")
		return nil
	}

	if !e.risk.CanOpenPosition(sig.Symbol, sig.RiskScore) {
		e.metrics.RecordSignal(sig.Strategy, "risk_rejected")
		e.metrics.RecordRiskReject("daily_loss_or_score")
		e.bus.Publish(&event.Event{
			Type:    event.EventTypeSignalRejected,
			Message: fmt.Sprintf("信号被风控拒绝: %s %s (%s)", sig.Symbol, sig.Action, sig.Reason),
		})
		return nil
	}

	price := sig.Price
	if price == 0 {
		var err error
		price, err = e.exchange.GetCurrentPrice(ctx, sig.Symbol)
		if err != nil || price == 0 {
			logger.Warn("⚠️ %s 取价失败, 信号丢弃: %v", sig.Symbol, err)
			e.metrics.RecordSignal(sig.Strategy, "error")
			return nil
		}
	}

	size := sig.Size
	if size == 0 {
		balance, ok := e.sideBalance(ctx, sig.Market)
		if !ok {
			e.metrics.RecordSignal(sig.Strategy, "no_balance")
			return nil
		}
		size = e.risk.GetPositionSize(balance) / price
	}

	if !e.positions.CanOpenPosition(ctx, sig.Symbol, size, price) {
		e.metrics.RecordSignal(sig.Strategy, "position_rejected")
		e.metrics.RecordRiskReject("position_limits")
		return nil
	}

	if e.cfg.Trading.Mode == strategy.MarketFutures {
		if err := e.exchange.SetLeverage(ctx, sig.Symbol, e.cfg.Trading.Futures.Leverage); err != nil {
			logger.Warn("⚠️ 设置杠杆失败 %s: %v", sig.Symbol, err)
		}
	}

	start := time.Now()
	ord, err := e.executor.ExecuteOrder(ctx, &exchange.OrderParams{
		Symbol: sig.Symbol,
		Side:   sig.Action,
		Type:   sig.OrderType,
		Amount: size,
		Price:  sig.Price,
	}, sig.Strategy)
	if err != nil {
		e.metrics.RecordSignal(sig.Strategy, "order_failed")
		e.metrics.RecordOrder(sig.Symbol, sig.Action, "failed")
		logger.Warn("⚠️ 信号执行失败 %s: %v", sig.Symbol, err)
		return nil
	}
	if ord == nil || ord.ID == "" {
		e.metrics.RecordSignal(sig.Strategy, "no_order")
		return nil
	}

	e.metrics.RecordSignal(sig.Strategy, "accepted")
	e.metrics.RecordOrder(sig.Symbol, sig.Action, string(ord.Status))
	e.metrics.RecordOrderDuration(sig.Symbol, sig.Action, time.Since(start))

	e.registerOrder(ord)
	e.recordTrade(sig, size, price)

	posSize := size
	if sig.Action == exchange.SideSell && e.cfg.Trading.Mode == strategy.MarketFutures {
		posSize = -size
	}
	upd := &position.TradeUpdate{
		Size:         posSize,
		EntryPrice:   price,
		CurrentPrice: price,
	}
	if e.cfg.Trading.Mode == strategy.MarketFutures {
		upd.Leverage = float64(e.cfg.Trading.Futures.Leverage)
	}
	e.positions.UpdatePosition(ctx, sig.Symbol, upd)

	e.bus.Publish(&event.Event{
		Type: event.EventTypeOrderPlaced,
		Message: fmt.Sprintf("订单已提交: %s %s %.6f @ %.4f [%s] %s",
			sig.Symbol, sig.Action, size, price, sig.Strategy, sig.Reason),
	})
	return nil
}

// sideBalance 按市场取可用余额, 低于最小门槛视为不可交易
func (e *Engine) sideBalance(ctx context.Context, market string) (float64, bool) {
	balances, err := e.exchange.GetAccountBalances(ctx)
	if err != nil {
		logger.Warn("⚠️ 获取余额失败: %v", err)
		return 0, false
	}
	balance := balances.Spot
	if market == strategy.MarketFutures {
		balance = balances.Futures
	}
	if balance < minTradeBalance {
		logger.Debug("%s 市场余额 %.2f 低于最小门槛 %.0f USDT", market, balance, minTradeBalance)
		return 0, false
	}
	return balance, true
}

func (e *Engine) registerOrder(ord *exchange.Order) {
	if ord.Status.IsFinal() {
		return
	}
	e.ordersMu.Lock()
	e.activeOrders[ord.ID] = ord
	e.ordersMu.Unlock()
}

// ActiveOrders 活跃订单快照
func (e *Engine) ActiveOrders() []*exchange.Order {
	e.ordersMu.Lock()
	defer e.ordersMu.Unlock()
	out := make([]*exchange.Order, 0, len(e.activeOrders))
	for _, o := range e.activeOrders {
		out = append(out, o)
	}
	return out
}

func (e *Engine) recordTrade(sig *strategy.Signal, size, price float64) {
	e.historyMu.Lock()
	e.history = append(e.history, &TradeRecord{
		Symbol:   sig.Symbol,
		Side:     sig.Action,
		Strategy: sig.Strategy,
		Amount:   size,
		Price:    price,
		Time:     time.Now(),
	})
	e.historyMu.Unlock()
}

// TradeHistory 成交记录快照
func (e *Engine) TradeHistory() []*TradeRecord {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	out := make([]*TradeRecord, len(e.history))
	copy(out, e.history)
	return out
}

// PerformanceSummary 成交记录汇总
type PerformanceSummary struct {
	Trades     int
	Buys       int
	Sells      int
	Volume     float64 // 成交额(USDT)
	ByStrategy map[string]int
}

// Performance 汇总成交记录, 成交额按下单价估算
func (e *Engine) Performance() PerformanceSummary {
	sum := PerformanceSummary{ByStrategy: make(map[string]int)}
	for _, tr := range e.TradeHistory() {
		sum.Trades++
		switch tr.Side {
		case exchange.SideBuy:
			sum.Buys++
		case exchange.SideSell:
			sum.Sells++
		}
		sum.Volume += tr.Amount * tr.Price
		sum.ByStrategy[tr.Strategy]++
	}
	return sum
}
