package engine

import (
	"time"

	"quantpilot/logger"
)

// 小时计数窗口
const hourlyWindow = time.Hour

// checkRateLimits 引擎层限流, 与订单执行器的冷却相互独立
// 信号要么被完整接纳(更新时间戳并计数), 要么被拒绝且不改动任何状态
func (e *Engine) checkRateLimits(symbol string) bool {
	e.rateMu.Lock()
	defer e.rateMu.Unlock()

	now := time.Now()
	// 每小时整体清零计数
	if now.Sub(e.hourlyReset) >= hourlyWindow {
		e.hourlyTrades = make(map[string]int)
		e.hourlyReset = now
		logger.Debug("🔄 小时交易计数已清零")
	}

	cooldown := time.Duration(e.cfg.TradingEngine.OrderCooldown) * time.Second
	if last, ok := e.lastTrade[symbol]; ok && now.Sub(last) < cooldown {
		logger.Warn("⚠️ %s 引擎冷却中(剩余 %.0fs), 信号丢弃",
			symbol, (cooldown - now.Sub(last)).Seconds())
		return false
	}

	if e.hourlyTrades[symbol] >= e.cfg.TradingEngine.MaxHourlyTrades {
		logger.Warn("⚠️ %s 小时交易数已达上限 %d, 信号丢弃",
			symbol, e.cfg.TradingEngine.MaxHourlyTrades)
		return false
	}

	e.lastTrade[symbol] = now
	e.hourlyTrades[symbol]++
	return true
}

// 测试用: 回拨限流状态
func (e *Engine) setRateState(symbol string, last time.Time, hourly int) {
	e.rateMu.Lock()
	defer e.rateMu.Unlock()
	e.lastTrade[symbol] = last
	e.hourlyTrades[symbol] = hourly
}
