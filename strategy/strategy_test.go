package strategy

import (
	"context"
	"testing"

	"quantpilot/config"
)

type fakeStrategy struct {
	name    string
	markets []string
}

func (f *fakeStrategy) Name() string                      { return f.name }
func (f *fakeStrategy) Markets() []string                 { return f.markets }
func (f *fakeStrategy) CanTradeSymbol(symbol string) bool { return tradableSymbol(symbol) }
func (f *fakeStrategy) GenerateSignals(ctx context.Context, symbols []string) ([]*Signal, error) {
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Strategies: map[string]config.StrategyConfig{
			"momentum": {Enabled: true, EnabledSpot: true, EnabledFutures: true},
			"scalping": {Enabled: true, EnabledSpot: false, EnabledFutures: true},
			"disabled": {Enabled: false},
		},
	}
}

func TestManager_RegisterSkipsDisabled(t *testing.T) {
	m := NewManager(testConfig())
	m.Register(&fakeStrategy{name: "momentum", markets: []string{MarketSpot}})
	m.Register(&fakeStrategy{name: "disabled", markets: []string{MarketSpot}})
	m.Register(&fakeStrategy{name: "unknown", markets: []string{MarketSpot}})

	if m.Count() != 1 {
		t.Errorf("注册数量 = %d, 期望 1", m.Count())
	}
}

func TestManager_StrategiesForMarket(t *testing.T) {
	m := NewManager(testConfig())
	m.Register(&fakeStrategy{name: "momentum", markets: []string{MarketSpot, MarketFutures}})
	m.Register(&fakeStrategy{name: "scalping", markets: []string{MarketSpot, MarketFutures}})

	spot := m.StrategiesFor(MarketSpot)
	if len(spot) != 1 || spot[0].Name() != "momentum" {
		t.Errorf("现货策略 = %v, 期望仅 momentum", names(spot))
	}

	fut := m.StrategiesFor(MarketFutures)
	if len(fut) != 2 {
		t.Errorf("合约策略数量 = %d, 期望 2", len(fut))
	}
}

func TestManager_MarketNotSupported(t *testing.T) {
	m := NewManager(testConfig())
	// 配置启用了现货, 但策略本身只支持合约
	m.Register(&fakeStrategy{name: "momentum", markets: []string{MarketFutures}})

	if got := m.StrategiesFor(MarketSpot); len(got) != 0 {
		t.Errorf("现货策略 = %v, 期望为空", names(got))
	}
}

func TestParam(t *testing.T) {
	cfg := &config.Config{
		Strategies: map[string]config.StrategyConfig{
			"momentum": {Params: map[string]float64{"fast_period": 9}},
		},
	}
	if got := Param(cfg, "momentum", "fast_period", 12); got != 9 {
		t.Errorf("Param = %f, 期望 9", got)
	}
	if got := Param(cfg, "momentum", "missing", 7); got != 7 {
		t.Errorf("Param 缺省 = %f, 期望 7", got)
	}
	if got := Param(cfg, "unknown", "x", 5); got != 5 {
		t.Errorf("未知策略 Param = %f, 期望 5", got)
	}
}

func TestCanTradeSymbol(t *testing.T) {
	cfg := testConfig()
	for _, s := range []Strategy{NewMomentum(nil, cfg), NewMeanReversion(nil, cfg)} {
		if !s.CanTradeSymbol("BTCUSDT") {
			t.Errorf("%s 应可交易 BTCUSDT", s.Name())
		}
		if s.CanTradeSymbol("BTCBUSD") {
			t.Errorf("%s 不应交易非 USDT 计价对", s.Name())
		}
		if s.CanTradeSymbol("USDCUSDT") {
			t.Errorf("%s 不应交易稳定币对", s.Name())
		}
		if s.CanTradeSymbol("USDT") {
			t.Errorf("%s 不应交易空基础币符号", s.Name())
		}
	}
}

func TestGenerateSignals_SkipsUntradable(t *testing.T) {
	// 交易所句柄为 nil, 若未先过滤则会在扫描时崩溃
	s := NewMomentum(nil, testConfig())
	signals, err := s.GenerateSignals(context.Background(), []string{"BTCBUSD", "USDCUSDT"})
	if err != nil {
		t.Fatalf("GenerateSignals 出错: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("不可交易对不应产出信号, 得到 %d", len(signals))
	}
}

func names(list []Strategy) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.Name()
	}
	return out
}
