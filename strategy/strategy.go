// Package strategy 信号生成
// 策略扫描行情并产出交易信号, 由交易引擎统一消费
package strategy

import (
	"context"
	"strings"
	"sync"

	"quantpilot/config"
	"quantpilot/logger"
)

// 市场类型
const (
	MarketSpot    = "spot"
	MarketFutures = "futures"
)

// Signal 交易信号, 产出后不可变
type Signal struct {
	Symbol    string
	Action    string // buy | sell
	Price     float64
	Size      float64 // 0 表示由风控按余额计算
	OrderType string
	Reason    string
	Strategy  string
	Market    string // spot | futures

	RiskScore  float64 // 0 表示未评估
	TakeProfit float64
	StopLoss   float64
}

// Strategy 策略接口
type Strategy interface {
	// Name 策略名称, 与配置及优先级表对应
	Name() string
	// Markets 策略支持的市场
	Markets() []string
	// CanTradeSymbol 该策略是否能交易指定交易对
	CanTradeSymbol(symbol string) bool
	// GenerateSignals 扫描给定交易对并产出信号
	GenerateSignals(ctx context.Context, symbols []string) ([]*Signal, error)
}

// 稳定币对稳定币的交易对没有行情可做
var stableBases = map[string]bool{
	"USDC": true, "BUSD": true, "FDUSD": true, "TUSD": true, "DAI": true,
}

// tradableSymbol 通用交易对过滤: 仅做 USDT 计价且基础币不是稳定币的交易对
func tradableSymbol(symbol string) bool {
	if !strings.HasSuffix(symbol, "USDT") {
		return false
	}
	base := strings.TrimSuffix(symbol, "USDT")
	if base == "" {
		return false
	}
	return !stableBases[base]
}

// Manager 策略管理器, 按配置启用策略并按市场过滤
type Manager struct {
	mu         sync.RWMutex
	strategies []Strategy
	cfg        *config.Config
}

// NewManager 创建策略管理器
func NewManager(cfg *config.Config) *Manager {
	return &Manager{cfg: cfg}
}

// Register 注册策略, 配置中未启用的直接跳过
func (m *Manager) Register(s Strategy) {
	sc, ok := m.cfg.Strategies[s.Name()]
	if !ok || !sc.Enabled {
		logger.Info("策略 %s 未启用, 跳过注册", s.Name())
		return
	}
	m.mu.Lock()
	m.strategies = append(m.strategies, s)
	m.mu.Unlock()
	logger.Info("✅ 策略已注册: %s", s.Name())
}

// StrategiesFor 返回在指定市场启用的策略
func (m *Manager) StrategiesFor(market string) []Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Strategy
	for _, s := range m.strategies {
		if !m.marketEnabled(s, market) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Count 已注册策略数量
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.strategies)
}

func (m *Manager) marketEnabled(s Strategy, market string) bool {
	supported := false
	for _, mk := range s.Markets() {
		if mk == market {
			supported = true
			break
		}
	}
	if !supported {
		return false
	}

	sc, ok := m.cfg.Strategies[s.Name()]
	if !ok {
		return false
	}
	switch market {
	case MarketSpot:
		return sc.EnabledSpot
	case MarketFutures:
		return sc.EnabledFutures
	default:
		return false
	}
}

// Param 读取策略参数, 缺省时返回 fallback
func Param(cfg *config.Config, strategyName, key string, fallback float64) float64 {
	sc, ok := cfg.Strategies[strategyName]
	if !ok {
		return fallback
	}
	v, ok := sc.Params[key]
	if !ok {
		return fallback
	}
	return v
}
