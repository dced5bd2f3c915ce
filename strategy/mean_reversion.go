package strategy

import (
	"context"
	"fmt"

	"quantpilot/config"
	"quantpilot/exchange"
	"quantpilot/indicators"
	"quantpilot/logger"
)

// MeanReversion 均值回归策略
// 价格偏离均线超过阈值时反向入场, 偏离越大风险分越高
type MeanReversion struct {
	exchange  exchange.IExchange
	cfg       *config.Config
	period    int
	deviation float64 // 入场偏离阈值, 百分比
}

// NewMeanReversion 创建均值回归策略
func NewMeanReversion(ex exchange.IExchange, cfg *config.Config) *MeanReversion {
	return &MeanReversion{
		exchange:  ex,
		cfg:       cfg,
		period:    int(Param(cfg, "mean_reversion", "period", 20)),
		deviation: Param(cfg, "mean_reversion", "deviation_pct", 3.0),
	}
}

// Name 策略名称
func (s *MeanReversion) Name() string { return "mean_reversion" }

// Markets 支持的市场
func (s *MeanReversion) Markets() []string { return []string{MarketSpot, MarketFutures} }

// CanTradeSymbol 是否能交易该交易对
func (s *MeanReversion) CanTradeSymbol(symbol string) bool { return tradableSymbol(symbol) }

// GenerateSignals 扫描交易对, 检测超买超卖
func (s *MeanReversion) GenerateSignals(ctx context.Context, symbols []string) ([]*Signal, error) {
	var signals []*Signal
	for _, symbol := range symbols {
		if !s.CanTradeSymbol(symbol) {
			continue
		}
		sig, err := s.scan(ctx, symbol)
		if err != nil {
			logger.Debug("mean_reversion 扫描 %s 失败: %v", symbol, err)
			continue
		}
		if sig != nil {
			signals = append(signals, sig)
		}
	}
	return signals, nil
}

func (s *MeanReversion) scan(ctx context.Context, symbol string) (*Signal, error) {
	candles, err := s.exchange.FetchOHLCV(ctx, symbol, "1h", s.period+1)
	if err != nil {
		return nil, err
	}
	if len(candles) < s.period {
		return nil, nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	sma := indicators.SMA(closes, s.period)
	if len(sma) == 0 {
		return nil, nil
	}

	mean := sma[len(sma)-1]
	price := closes[len(closes)-1]
	if mean == 0 {
		return nil, nil
	}
	devPct := (price - mean) / mean * 100

	// 偏离不足阈值则观望
	if devPct > -s.deviation && devPct < s.deviation {
		return nil, nil
	}

	action := exchange.SideBuy
	if devPct > 0 {
		// 价格远高于均线, 仅合约模式下做空
		if s.cfg.Trading.Mode != MarketFutures {
			return nil, nil
		}
		action = exchange.SideSell
	}

	// 偏离翻倍风险分打满
	risk := devPct / s.deviation / 2
	if risk < 0 {
		risk = -risk
	}
	if risk > 1 {
		risk = 1
	}

	return &Signal{
		Symbol:    symbol,
		Action:    action,
		Price:     price,
		OrderType: exchange.OrderTypeLimit,
		Reason:    fmt.Sprintf("价格偏离 SMA%d %.2f%%", s.period, devPct),
		Strategy:  s.Name(),
		Market:    s.cfg.Trading.Mode,
		RiskScore: risk,
	}, nil
}
