// Package position 持仓管理
// 维护内存中的权威持仓表, 负责保证金计算, 强平价估算与相关性敞口控制
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quantpilot/config"
	"quantpilot/event"
	"quantpilot/exchange"
	"quantpilot/indicators"
	"quantpilot/logger"
)

// Position 单个持仓
// size 带符号: 正数做多, 负数做空, 零仓位不进入持仓表
type Position struct {
	Symbol           string
	Size             float64
	EntryPrice       float64
	CurrentPrice     float64
	LiquidationPrice float64 // 0 表示未知(现货或未计算)
	Margin           float64
	Leverage         float64 // 0 表示现货
	StopLossOrderID  string
	StopLossPrice    float64
	UpdatedAt        time.Time
}

// IsLong 是否多头
func (p *Position) IsLong() bool { return p.Size > 0 }

// TradeUpdate 成交后的持仓更新
type TradeUpdate struct {
	Size         float64
	EntryPrice   float64
	CurrentPrice float64
	Leverage     float64 // 仅合约携带
}

// Manager 持仓管理器
type Manager struct {
	exchange exchange.IExchange
	cfg      *config.Config
	bus      *event.Bus

	mu        sync.RWMutex
	positions map[string]*Position

	// 每个交易对一把锁, 持仓变更必须串行
	locksMu     sync.Mutex
	symbolLocks map[string]*sync.Mutex

	// 相关性缓存, 整体刷新
	corrMu      sync.Mutex
	corrs       map[string]float64
	corrUpdated time.Time

	atr *indicators.ATR
}

// NewManager 创建持仓管理器
func NewManager(ex exchange.IExchange, cfg *config.Config, bus *event.Bus) *Manager {
	return &Manager{
		exchange:    ex,
		cfg:         cfg,
		bus:         bus,
		positions:   make(map[string]*Position),
		symbolLocks: make(map[string]*sync.Mutex),
		corrs:       make(map[string]float64),
		atr:         indicators.NewATR(14),
	}
}

func (m *Manager) symbolLock(symbol string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.symbolLocks[symbol]
	if !ok {
		l = &sync.Mutex{}
		m.symbolLocks[symbol] = l
	}
	return l
}

// SyncPositions 从交易所拉取持仓并整表替换
// 现货返回币种余额, 合约返回带符号仓位, 此处统一归一化, 零仓位丢弃
func (m *Manager) SyncPositions(ctx context.Context) error {
	raws, err := m.exchange.FetchPositions(ctx)
	if err != nil {
		return fmt.Errorf("同步持仓失败: %w", err)
	}

	fresh := make(map[string]*Position)
	now := time.Now()
	for _, raw := range raws {
		pos := m.normalizeRaw(raw, now)
		if pos == nil || pos.Size == 0 {
			continue
		}
		// 保留已有的止损单信息
		if old := m.Get(pos.Symbol); old != nil {
			pos.StopLossOrderID = old.StopLossOrderID
			pos.StopLossPrice = old.StopLossPrice
		}
		fresh[pos.Symbol] = pos
	}

	m.mu.Lock()
	m.positions = fresh
	m.mu.Unlock()

	logger.Debug("🔄 持仓已同步, 当前 %d 个", len(fresh))
	return nil
}

func (m *Manager) normalizeRaw(raw *exchange.RawPosition, now time.Time) *Position {
	switch raw.Kind {
	case exchange.PositionKindSpot:
		// 计价币不是持仓
		if raw.Currency == "USDT" || raw.Currency == "" {
			return nil
		}
		return &Position{
			Symbol:    raw.Currency + "USDT",
			Size:      raw.Balance,
			UpdatedAt: now,
		}
	case exchange.PositionKindFutures:
		pos := &Position{
			Symbol:     raw.Symbol,
			Size:       raw.CurrentQty,
			EntryPrice: raw.AvgEntryPrice,
			Leverage:   raw.Leverage,
			UpdatedAt:  now,
		}
		if pos.EntryPrice > 0 && pos.Size != 0 {
			pos.LiquidationPrice = LiquidationPrice(pos.EntryPrice, pos.Leverage,
				m.cfg.Trading.Futures.MaintenanceMarginRate, pos.IsLong())
		}
		return pos
	default:
		return nil
	}
}

// CanOpenPosition 开仓前检查: 仓位占比, 相关性敞口, 保证金
// 任何计算失败或权益为零都按拒绝处理
func (m *Manager) CanOpenPosition(ctx context.Context, symbol string, size, price float64) bool {
	balances, err := m.exchange.GetAccountBalances(ctx)
	if err != nil {
		logger.Warn("⚠️ 获取余额失败, 拒绝开仓 %s: %v", symbol, err)
		return false
	}
	equity := balances.Spot
	if m.cfg.Trading.Mode == "futures" {
		equity = balances.Futures
	}
	if equity <= 0 {
		logger.Warn("⚠️ 账户权益为零, 拒绝开仓 %s", symbol)
		return false
	}

	value := size * price
	if frac := value / equity; frac > m.cfg.PositionManagement.MaxPositionSizePct {
		logger.Warn("⚠️ %s 仓位占比 %.2f%% 超过上限 %.2f%%, 拒绝开仓",
			symbol, frac*100, m.cfg.PositionManagement.MaxPositionSizePct*100)
		return false
	}

	if !m.CheckCorrelationRisk(ctx, symbol) {
		return false
	}

	margin := m.CalculateRequiredMargin(size, price)
	if margin > equity {
		logger.Warn("⚠️ %s 所需保证金 %.2f 超过可用 %.2f, 拒绝开仓", symbol, margin, equity)
		return false
	}
	return true
}

// UpdatePosition 成交后更新持仓
// 同一交易对的更新串行执行, 合约仓位重算强平价, 随后刷新止损单
func (m *Manager) UpdatePosition(ctx context.Context, symbol string, upd *TradeUpdate) {
	lock := m.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	pos, ok := m.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		m.positions[symbol] = pos
	}
	pos.Size = upd.Size
	pos.EntryPrice = upd.EntryPrice
	pos.CurrentPrice = upd.CurrentPrice
	pos.UpdatedAt = time.Now()

	if upd.Leverage > 0 {
		pos.Leverage = upd.Leverage
		pos.LiquidationPrice = LiquidationPrice(
			upd.EntryPrice, upd.Leverage,
			m.cfg.Trading.Futures.MaintenanceMarginRate, pos.IsLong())
		pos.Margin = m.CalculateRequiredMargin(abs(upd.Size), upd.CurrentPrice)
	}

	if pos.Size == 0 {
		delete(m.positions, symbol)
		m.mu.Unlock()
		logger.Info("✅ 持仓已平: %s", symbol)
		m.bus.Publish(&event.Event{
			Type:    event.EventTypePositionClosed,
			Message: fmt.Sprintf("持仓已平: %s", symbol),
		})
		return
	}
	snapshot := *pos
	m.mu.Unlock()

	logger.Info("📊 持仓更新: %s size=%.6f entry=%.4f liq=%.4f",
		symbol, snapshot.Size, snapshot.EntryPrice, snapshot.LiquidationPrice)

	if err := m.UpdateStopLoss(ctx, symbol); err != nil {
		logger.Warn("⚠️ 刷新止损失败 %s: %v", symbol, err)
	}
}

// UpdateStopLoss 按 2×ATR(14, 1h) 重挂止损单
func (m *Manager) UpdateStopLoss(ctx context.Context, symbol string) error {
	pos := m.Get(symbol)
	if pos == nil {
		return nil
	}

	candles, err := m.exchange.FetchOHLCV(ctx, symbol, "1h", m.atr.Period()+1)
	if err != nil {
		return err
	}
	atrVal := m.atr.CurrentATR(toIndicatorCandles(candles))
	if atrVal <= 0 {
		return nil
	}

	price := pos.CurrentPrice
	if price == 0 {
		price, err = m.exchange.GetCurrentPrice(ctx, symbol)
		if err != nil {
			return err
		}
	}

	distance := 2 * atrVal
	stop := price - distance
	side := exchange.SideSell
	if !pos.IsLong() {
		stop = price + distance
		side = exchange.SideBuy
	}

	order, err := m.exchange.CreateAdvancedOrder(ctx, &exchange.OrderParams{
		Symbol:    symbol,
		Side:      side,
		Type:      exchange.OrderTypeStopLoss,
		Amount:    abs(pos.Size),
		StopPrice: stop,
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	if p, ok := m.positions[symbol]; ok {
		p.StopLossOrderID = order.ID
		p.StopLossPrice = stop
	}
	m.mu.Unlock()

	logger.Info("✅ 止损已更新: %s @ %.4f (ATR=%.4f)", symbol, stop, atrVal)
	return nil
}

// CleanupPositions 清理零仓位残留
func (m *Manager) CleanupPositions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for symbol, pos := range m.positions {
		if pos.Size == 0 {
			delete(m.positions, symbol)
			logger.Debug("清理零仓位: %s", symbol)
		}
	}
}

// Get 读取持仓副本, 不存在返回 nil
func (m *Manager) Get(symbol string) *Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// All 持仓快照
func (m *Manager) All() []*Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Position, 0, len(m.positions))
	for _, pos := range m.positions {
		cp := *pos
		out = append(out, &cp)
	}
	return out
}

// Count 持仓数量
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

func toIndicatorCandles(candles []*exchange.Candle) []indicators.Candle {
	out := make([]indicators.Candle, len(candles))
	for i, c := range candles {
		out[i] = indicators.Candle{
			Time:   c.OpenTime.UnixMilli(),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		}
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
