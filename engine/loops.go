package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"quantpilot/event"
	"quantpilot/exchange"
	"quantpilot/logger"
	"quantpilot/position"
)

const (
	monitorInterval     = 10 * time.Second
	cleanupInterval     = 60 * time.Second
	performanceInterval = 300 * time.Second
	scanErrorBackoff    = 60 * time.Second

	// 追踪止损重挂滞回: 新旧止损价差超过 delta 的 10% 才更新
	trailingHysteresis = 0.1
)

// scanLoop 行情扫描循环
// 单轮失败只记录并退避, 循环本身直到引擎停止才退出
func (e *Engine) scanLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := time.Duration(e.cfg.TradingEngine.ScanInterval) * time.Second
	for {
		wait := interval
		start := time.Now()
		if err := e.scanOnce(ctx); err != nil {
			logger.Error("❌ 行情扫描失败: %v", err)
			wait = scanErrorBackoff
		}
		e.metrics.RecordScanDuration(time.Since(start))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (e *Engine) scanOnce(ctx context.Context) error {
	mode := e.cfg.Trading.Mode
	if _, ok := e.sideBalance(ctx, mode); !ok {
		logger.Debug("%s 市场余额不足, 跳过本轮扫描", mode)
		return nil
	}

	pairs, err := e.exchange.GetLiquidPairs(ctx, e.cfg.Trading.MinPairVolume)
	if err != nil {
		return fmt.Errorf("获取流动性交易对失败: %w", err)
	}
	if len(pairs) == 0 {
		return nil
	}

	for _, strat := range e.strategies.StrategiesFor(mode) {
		signals, err := strat.GenerateSignals(ctx, pairs)
		if err != nil {
			logger.Warn("⚠️ 策略 %s 信号生成失败: %v", strat.Name(), err)
			continue
		}
		for _, sig := range signals {
			if err := e.ProcessSignal(ctx, sig); err != nil {
				logger.Error("❌ 信号处理失败 %s: %v", sig.Symbol, err)
			}
		}
	}
	return nil
}

// monitorLoop 持仓巡检循环
// 重新同步持仓, 平掉逼近强平的仓位, 并按滞回重挂追踪止损
func (e *Engine) monitorLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.positions.SyncPositions(ctx); err != nil {
				logger.Warn("⚠️ 巡检同步持仓失败: %v", err)
				continue
			}
			e.positions.MonitorPositions(ctx)
			e.checkLiquidations(ctx)
			e.repriceTrailingStops(ctx)
		}
	}
}

func (e *Engine) checkLiquidations(ctx context.Context) {
	for _, pos := range e.positions.All() {
		price := pos.CurrentPrice
		if price == 0 {
			continue
		}
		if !e.positions.InLiquidationBuffer(pos, price) {
			continue
		}
		logger.Warn("⚠️ %s 进入强平缓冲区, 市价平仓", pos.Symbol)
		e.closePosition(ctx, pos)
	}
}

// closePosition 紧急平仓直达交易所, 不经过执行器冷却
func (e *Engine) closePosition(ctx context.Context, pos *position.Position) {
	side := exchange.SideSell
	if !pos.IsLong() {
		side = exchange.SideBuy
	}
	_, err := e.exchange.CreateOrder(ctx, &exchange.OrderParams{
		Symbol: pos.Symbol,
		Side:   side,
		Type:   exchange.OrderTypeMarket,
		Amount: math.Abs(pos.Size),
	})
	if err != nil {
		logger.Error("❌ 紧急平仓失败 %s: %v", pos.Symbol, err)
		return
	}
	e.bus.Publish(&event.Event{
		Type: event.EventTypeRiskTriggered,
		Message: fmt.Sprintf("已紧急平仓 %s (现价 %.4f, 强平价 %.4f)",
			pos.Symbol, pos.CurrentPrice, pos.LiquidationPrice),
	})
}

// repriceTrailingStops 追踪止损随价重挂
// 止损价变化不超过 delta 的 10% 时不更新, 避免下单风暴
func (e *Engine) repriceTrailingStops(ctx context.Context) {
	for _, ord := range e.ActiveOrders() {
		if ord.Type != exchange.OrderTypeTrailingStop {
			continue
		}
		price, err := e.exchange.GetCurrentPrice(ctx, ord.Symbol)
		if err != nil || price == 0 {
			continue
		}

		delta := price * e.cfg.OrderTypes.TrailingStop.TrailPercent / 100
		newStop := price - delta
		if ord.Side == exchange.SideBuy {
			newStop = price + delta
		}
		if math.Abs(newStop-ord.StopPrice) <= trailingHysteresis*delta {
			continue
		}

		updated, err := e.exchange.CreateAdvancedOrder(ctx, &exchange.OrderParams{
			Symbol:       ord.Symbol,
			Side:         ord.Side,
			Type:         exchange.OrderTypeTrailingStop,
			Amount:       ord.Amount,
			StopPrice:    newStop,
			CallbackRate: e.cfg.OrderTypes.TrailingStop.TrailPercent,
		})
		if err != nil {
			logger.Warn("⚠️ 追踪止损重挂失败 %s: %v", ord.Symbol, err)
			continue
		}
		updated.StopPrice = newStop

		e.ordersMu.Lock()
		delete(e.activeOrders, ord.ID)
		e.activeOrders[updated.ID] = updated
		e.ordersMu.Unlock()
		logger.Info("🔄 追踪止损已重挂: %s %.4f -> %.4f", ord.Symbol, ord.StopPrice, newStop)
	}
}

// cleanupLoop 活跃订单清理循环
// 轮询订单状态, 到达终态后移出登记表
func (e *Engine) cleanupLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cleanupOrders(ctx)
			e.positions.CleanupPositions()
		}
	}
}

func (e *Engine) cleanupOrders(ctx context.Context) {
	for _, ord := range e.ActiveOrders() {
		fresh, err := e.exchange.FetchOrder(ctx, ord.ID, ord.Symbol)
		if err != nil {
			logger.Debug("查询订单 %s 失败: %v", ord.ID, err)
			continue
		}
		if !fresh.Status.IsFinal() {
			continue
		}

		e.ordersMu.Lock()
		delete(e.activeOrders, ord.ID)
		e.ordersMu.Unlock()

		logger.Info("✅ 订单 %s 已终态(%s), 移出登记表", ord.ID, fresh.Status)
		if fresh.Status == exchange.OrderStatusFilled {
			e.bus.Publish(&event.Event{
				Type:    event.EventTypeOrderFilled,
				Message: fmt.Sprintf("订单成交: %s %s", ord.Symbol, ord.ID),
			})
		}
	}
}

// performanceLoop 绩效汇总循环
func (e *Engine) performanceLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(performanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.metrics.SetOpenPositions(e.positions.Count())
			e.metrics.SetDailyLoss(e.risk.DailyLoss())

			sum := e.Performance()
			logger.Info("📊 绩效汇总: 成交 %d 笔(买 %d / 卖 %d), 成交额 %.2f USDT, 当前持仓 %d, 当日亏损 %.2f",
				sum.Trades, sum.Buys, sum.Sells, sum.Volume, e.positions.Count(), e.risk.DailyLoss())
			for name, n := range sum.ByStrategy {
				logger.Debug("📊 策略 %s 成交 %d 笔", name, n)
			}
		}
	}
}
