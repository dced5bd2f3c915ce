// Package risk 全局风控
// 维护当日亏损额度与持仓计数, 是所有信号的第一道闸门
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quantpilot/config"
	"quantpilot/logger"
)

// 风险分超过该值的信号直接拒绝
const maxRiskScore = 0.8

// 每日亏损窗口
const dailyResetInterval = 24 * time.Hour

// Manager 风控管理器
// 亏损累计用 decimal 计算, 避免长时间累加的浮点漂移
type Manager struct {
	mu sync.Mutex

	dailyLoss     decimal.Decimal
	maxDailyLoss  decimal.Decimal
	openPositions int
	maxPositions  int
	orderSizePct  float64
	lastReset     time.Time
}

// NewManager 创建风控管理器, equity 用于折算绝对亏损上限
func NewManager(cfg *config.Config, equity float64) *Manager {
	maxLoss := decimal.NewFromFloat(equity).
		Mul(decimal.NewFromFloat(cfg.TradingEngine.MaxDailyLossPercentage)).
		Div(decimal.NewFromInt(100))
	return &Manager{
		maxDailyLoss: maxLoss,
		maxPositions: cfg.TradingEngine.MaxOpenPositions,
		orderSizePct: cfg.TradingEngine.OrderSizePercentage,
		lastReset:    time.Now(),
	}
}

// SetEquity 按最新权益刷新亏损上限
func (m *Manager) SetEquity(equity, maxDailyLossPct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxDailyLoss = decimal.NewFromFloat(equity).
		Mul(decimal.NewFromFloat(maxDailyLossPct)).
		Div(decimal.NewFromInt(100))
}

// CheckDailyLoss 检查是否还允许继续交易
// 先执行每日重置, 再比较亏损额度与持仓数量
func (m *Manager) CheckDailyLoss() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeResetLocked(time.Now())

	if m.dailyLoss.GreaterThanOrEqual(m.maxDailyLoss) {
		logger.Warn("⚠️ 当日亏损 %s 已达上限 %s, 暂停交易",
			m.dailyLoss.StringFixed(2), m.maxDailyLoss.StringFixed(2))
		return false
	}
	if m.openPositions >= m.maxPositions {
		logger.Warn("⚠️ 持仓数 %d 已达上限 %d, 暂停开仓", m.openPositions, m.maxPositions)
		return false
	}
	return true
}

// 每满 24h 只清零亏损, 持仓计数保留
func (m *Manager) maybeResetLocked(now time.Time) {
	if now.Sub(m.lastReset) < dailyResetInterval {
		return
	}
	logger.Info("🔄 每日风控重置, 昨日累计亏损 %s", m.dailyLoss.StringFixed(2))
	m.dailyLoss = decimal.Zero
	m.lastReset = now
}

// UpdateRisk 按已实现盈亏更新风控状态
// 盈利视为盈利平仓(计数+1), 亏损或持平视为亏损平仓(计数-1, 下限0)
func (m *Manager) UpdateRisk(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pnl < 0 {
		m.dailyLoss = m.dailyLoss.Add(decimal.NewFromFloat(-pnl))
		logger.Info("📊 当日累计亏损: %s / %s",
			m.dailyLoss.StringFixed(2), m.maxDailyLoss.StringFixed(2))
	}

	if pnl > 0 {
		m.openPositions++
	} else if m.openPositions > 0 {
		m.openPositions--
	}
}

// GetPositionSize 按余额计算本次下单金额
func (m *Manager) GetPositionSize(balance float64) float64 {
	return balance * m.orderSizePct / 100
}

// CanOpenPosition 综合检查能否开仓
// riskScore 为 0 表示信号未评估风险分
func (m *Manager) CanOpenPosition(symbol string, riskScore float64) bool {
	if riskScore > maxRiskScore {
		logger.Warn("⚠️ %s 风险分 %.2f 过高, 拒绝信号", symbol, riskScore)
		return false
	}
	return m.CheckDailyLoss()
}

// DailyLoss 当前累计亏损
func (m *Manager) DailyLoss() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, _ := m.dailyLoss.Float64()
	return f
}

// OpenPositions 当前持仓计数
func (m *Manager) OpenPositions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openPositions
}

// 测试用: 回拨重置时间
func (m *Manager) setLastReset(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReset = t
}
