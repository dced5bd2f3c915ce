package position

import (
	"context"
	"fmt"
	"math"

	"quantpilot/event"
	"quantpilot/logger"
)

const (
	// 距强平价 5% 以内发告警
	liquidationWarnBuffer = 0.05
	// 浮动盈亏偏离入场价 3% 以上才重挂止损
	stopRefreshThreshold = 0.03
)

// MonitorPositions 巡检所有持仓
// 刷新现价, 计算浮动盈亏, 逼近强平价时告警, 价格走远后重挂止损
func (m *Manager) MonitorPositions(ctx context.Context) {
	for _, pos := range m.All() {
		price, err := m.exchange.GetCurrentPrice(ctx, pos.Symbol)
		if err != nil || price == 0 {
			logger.Debug("获取 %s 价格失败, 跳过本轮巡检: %v", pos.Symbol, err)
			continue
		}

		if pos.EntryPrice > 0 {
			pnlPct := (price - pos.EntryPrice) / pos.EntryPrice * 100
			if !pos.IsLong() {
				pnlPct = (pos.EntryPrice - price) / pos.EntryPrice * 100
			}
			logger.Debug("📊 %s 现价 %.4f 浮动盈亏 %.2f%%", pos.Symbol, price, pnlPct)
		}

		if m.nearLiquidation(pos, price) {
			msg := fmt.Sprintf("持仓 %s 现价 %.4f 逼近强平价 %.4f",
				pos.Symbol, price, pos.LiquidationPrice)
			logger.Warn("⚠️ %s", msg)
			m.bus.Publish(&event.Event{
				Type:    event.EventTypeLiquidationWarning,
				Message: msg,
				Data: map[string]interface{}{
					"symbol":      pos.Symbol,
					"price":       price,
					"liquidation": pos.LiquidationPrice,
				},
			})
		}

		// 浮动盈亏走出区间后重挂止损
		if pos.EntryPrice > 0 &&
			math.Abs(price-pos.EntryPrice)/pos.EntryPrice > stopRefreshThreshold {
			if err := m.UpdateStopLoss(ctx, pos.Symbol); err != nil {
				logger.Warn("⚠️ 重挂止损失败 %s: %v", pos.Symbol, err)
			}
		}

		m.mu.Lock()
		if p, ok := m.positions[pos.Symbol]; ok {
			p.CurrentPrice = price
		}
		m.mu.Unlock()
	}
}

// nearLiquidation 现价是否已进入强平缓冲区
func (m *Manager) nearLiquidation(pos *Position, price float64) bool {
	liq := pos.LiquidationPrice
	if liq <= 0 || math.IsInf(liq, 1) || price <= 0 {
		return false
	}
	if pos.IsLong() {
		return price <= liq*(1+liquidationWarnBuffer)
	}
	return price >= liq*(1-liquidationWarnBuffer)
}

// InLiquidationBuffer 引擎平仓判定用, 语义同告警但由调用方决定动作
func (m *Manager) InLiquidationBuffer(pos *Position, price float64) bool {
	return m.nearLiquidation(pos, price)
}
