package strategy

import (
	"context"
	"fmt"

	"quantpilot/config"
	"quantpilot/exchange"
	"quantpilot/indicators"
	"quantpilot/logger"
)

// Momentum 动量策略
// 快慢均线金叉做多, 死叉做空(仅合约), 使用 1h K线
type Momentum struct {
	exchange   exchange.IExchange
	cfg        *config.Config
	fastPeriod int
	slowPeriod int
}

// NewMomentum 创建动量策略
func NewMomentum(ex exchange.IExchange, cfg *config.Config) *Momentum {
	return &Momentum{
		exchange:   ex,
		cfg:        cfg,
		fastPeriod: int(Param(cfg, "momentum", "fast_period", 12)),
		slowPeriod: int(Param(cfg, "momentum", "slow_period", 26)),
	}
}

// Name 策略名称
func (s *Momentum) Name() string { return "momentum" }

// Markets 支持的市场
func (s *Momentum) Markets() []string { return []string{MarketSpot, MarketFutures} }

// CanTradeSymbol 是否能交易该交易对
func (s *Momentum) CanTradeSymbol(symbol string) bool { return tradableSymbol(symbol) }

// GenerateSignals 扫描交易对, 检测均线交叉
func (s *Momentum) GenerateSignals(ctx context.Context, symbols []string) ([]*Signal, error) {
	var signals []*Signal
	for _, symbol := range symbols {
		if !s.CanTradeSymbol(symbol) {
			continue
		}
		sig, err := s.scan(ctx, symbol)
		if err != nil {
			logger.Debug("momentum 扫描 %s 失败: %v", symbol, err)
			continue
		}
		if sig != nil {
			signals = append(signals, sig)
		}
	}
	return signals, nil
}

func (s *Momentum) scan(ctx context.Context, symbol string) (*Signal, error) {
	limit := s.slowPeriod + 2
	candles, err := s.exchange.FetchOHLCV(ctx, symbol, "1h", limit)
	if err != nil {
		return nil, err
	}
	if len(candles) < limit {
		return nil, nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fast := indicators.EMA(closes, s.fastPeriod)
	slow := indicators.EMA(closes, s.slowPeriod)
	if len(fast) < 2 || len(slow) < 2 {
		return nil, nil
	}

	// 对齐到最后两个点判断交叉
	fc, fp := fast[len(fast)-1], fast[len(fast)-2]
	sc, sp := slow[len(slow)-1], slow[len(slow)-2]
	price := closes[len(closes)-1]

	switch {
	case fp <= sp && fc > sc:
		return &Signal{
			Symbol:    symbol,
			Action:    exchange.SideBuy,
			Price:     price,
			OrderType: exchange.OrderTypeMarket,
			Reason:    fmt.Sprintf("EMA%d 上穿 EMA%d", s.fastPeriod, s.slowPeriod),
			Strategy:  s.Name(),
			Market:    s.cfg.Trading.Mode,
		}, nil
	case fp >= sp && fc < sc && s.cfg.Trading.Mode == MarketFutures:
		return &Signal{
			Symbol:    symbol,
			Action:    exchange.SideSell,
			Price:     price,
			OrderType: exchange.OrderTypeMarket,
			Reason:    fmt.Sprintf("EMA%d 下穿 EMA%d", s.fastPeriod, s.slowPeriod),
			Strategy:  s.Name(),
			Market:    s.cfg.Trading.Mode,
		}, nil
	}
	return nil, nil
}
