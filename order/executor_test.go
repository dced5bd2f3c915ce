package order

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"quantpilot/config"
	"quantpilot/exchange"
)

// MockExchange 测试用交易所, 记录收到的下单参数
type MockExchange struct {
	price     float64
	createErr error
	lastOrder *exchange.OrderParams
}

func (m *MockExchange) GetName() string { return "mock" }

func (m *MockExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if m.price == 0 {
		return 0, exchange.ErrPriceUnavailable
	}
	return m.price, nil
}

func (m *MockExchange) CreateOrder(ctx context.Context, params *exchange.OrderParams) (*exchange.Order, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.lastOrder = params
	return &exchange.Order{ID: "42", Symbol: params.Symbol, Status: exchange.OrderStatusOpen}, nil
}

func (m *MockExchange) CreateAdvancedOrder(ctx context.Context, params *exchange.OrderParams) (*exchange.Order, error) {
	return m.CreateOrder(ctx, params)
}

func (m *MockExchange) FetchOrder(ctx context.Context, orderID, symbol string) (*exchange.Order, error) {
	return &exchange.Order{ID: orderID, Status: exchange.OrderStatusFilled}, nil
}

func (m *MockExchange) FetchPositions(ctx context.Context) ([]*exchange.RawPosition, error) {
	return nil, nil
}

func (m *MockExchange) GetAccountBalances(ctx context.Context) (*exchange.AccountBalances, error) {
	return &exchange.AccountBalances{}, nil
}

func (m *MockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (m *MockExchange) GetLiquidPairs(ctx context.Context, minQuoteVolume float64) ([]string, error) {
	return nil, nil
}

func (m *MockExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]*exchange.Candle, error) {
	return nil, nil
}

func testConfig(mode string) *config.Config {
	cfg := &config.Config{}
	cfg.Trading.Mode = mode
	cfg.TradingEngine.OrderCooldown = 300
	cfg.OrderTypes.TrailingStop.ActivationPercent = 1
	cfg.OrderTypes.TrailingStop.TrailPercent = 0.5
	cfg.OrderTypes.OCO.SpreadPercent = 2
	cfg.OrderTypes.Iceberg.MaxVisibleSize = 0.2
	return cfg
}

func marketParams(symbol string) *exchange.OrderParams {
	return &exchange.OrderParams{
		Symbol: symbol,
		Side:   exchange.SideBuy,
		Type:   exchange.OrderTypeMarket,
		Amount: 1,
	}
}

func TestStrategyPriority(t *testing.T) {
	if got := StrategyPriority("spot", "arbitrage"); got != 1 {
		t.Errorf("现货 arbitrage 优先级 = %d, 期望 1", got)
	}
	if got := StrategyPriority("futures", "scalping"); got != 2 {
		t.Errorf("合约 scalping 优先级 = %d, 期望 2", got)
	}
	if got := StrategyPriority("spot", "scalping"); got != 6 {
		t.Errorf("现货 scalping 优先级 = %d, 期望 6", got)
	}
	if got := StrategyPriority("spot", "unknown"); got != 999 {
		t.Errorf("未知策略优先级 = %d, 期望 999", got)
	}
	if got := StrategyPriority("margin", "arbitrage"); got != 999 {
		t.Errorf("未知市场优先级 = %d, 期望 999", got)
	}
}

func TestExecuteOrder_Cooldown(t *testing.T) {
	ctx := context.Background()
	ex := &MockExchange{price: 100}
	e := NewExecutor(ex, testConfig("spot"))

	// 冷却开始后 100s, 低优先级策略被拒
	e.setLastOrder("BTCUSDT", time.Now().Add(-100*time.Second))
	_, err := e.ExecuteOrder(ctx, marketParams("BTCUSDT"), "mean_reversion")
	if !errors.Is(err, ErrCooldownActive) {
		t.Errorf("冷却期内应返回 ErrCooldownActive, 实际 %v", err)
	}

	// 优先级 1 的策略 1s 后即可下单
	e.setLastOrder("BTCUSDT", time.Now().Add(-1*time.Second))
	if _, err := e.ExecuteOrder(ctx, marketParams("BTCUSDT"), "arbitrage"); err != nil {
		t.Errorf("arbitrage 应绕过冷却, 实际 %v", err)
	}

	// 冷却过期后低优先级恢复
	e.setLastOrder("ETHUSDT", time.Now().Add(-301*time.Second))
	if _, err := e.ExecuteOrder(ctx, marketParams("ETHUSDT"), "mean_reversion"); err != nil {
		t.Errorf("冷却过期后应放行, 实际 %v", err)
	}
}

func TestExecuteOrder_StampBeforeDispatch(t *testing.T) {
	ctx := context.Background()
	ex := &MockExchange{price: 100, createErr: errors.New("交易所超时")}
	e := NewExecutor(ex, testConfig("spot"))

	// 第一单失败, 但依然消耗冷却窗口
	if _, err := e.ExecuteOrder(ctx, marketParams("BTCUSDT"), "momentum"); err == nil {
		t.Fatal("第一单应失败")
	}
	_, err := e.ExecuteOrder(ctx, marketParams("BTCUSDT"), "momentum")
	if !errors.Is(err, ErrCooldownActive) {
		t.Errorf("失败单也应占用冷却, 实际 %v", err)
	}
}

func TestExecuteOrder_UnsupportedType(t *testing.T) {
	e := NewExecutor(&MockExchange{price: 100}, testConfig("spot"))
	params := marketParams("BTCUSDT")
	params.Type = "twap"
	_, err := e.ExecuteOrder(context.Background(), params, "momentum")
	if !errors.Is(err, ErrUnsupportedOrderType) {
		t.Errorf("应返回 ErrUnsupportedOrderType, 实际 %v", err)
	}
}

func TestExecuteLimit_DefaultPrice(t *testing.T) {
	ctx := context.Background()
	ex := &MockExchange{price: 100}
	e := NewExecutor(ex, testConfig("spot"))

	buy := marketParams("BTCUSDT")
	buy.Type = exchange.OrderTypeLimit
	if _, err := e.ExecuteOrder(ctx, buy, "momentum"); err != nil {
		t.Fatal(err)
	}
	if math.Abs(ex.lastOrder.Price-99.9) > 1e-9 {
		t.Errorf("买单默认价 = %f, 期望 99.9", ex.lastOrder.Price)
	}

	sell := marketParams("ETHUSDT")
	sell.Type = exchange.OrderTypeLimit
	sell.Side = exchange.SideSell
	if _, err := e.ExecuteOrder(ctx, sell, "momentum"); err != nil {
		t.Fatal(err)
	}
	if math.Abs(ex.lastOrder.Price-100.1) > 1e-9 {
		t.Errorf("卖单默认价 = %f, 期望 100.1", ex.lastOrder.Price)
	}
}

func TestExecuteTrailingStop_ActivationPrice(t *testing.T) {
	ex := &MockExchange{price: 200}
	e := NewExecutor(ex, testConfig("futures"))

	params := marketParams("BTCUSDT")
	params.Type = exchange.OrderTypeTrailingStop
	params.Side = exchange.SideSell
	if _, err := e.ExecuteOrder(context.Background(), params, "momentum"); err != nil {
		t.Fatal(err)
	}
	// 卖出方向激活价下偏 1%
	if math.Abs(ex.lastOrder.ActivationPrice-198) > 1e-9 {
		t.Errorf("激活价 = %f, 期望 198", ex.lastOrder.ActivationPrice)
	}
	if ex.lastOrder.CallbackRate != 0.5 {
		t.Errorf("回调比例 = %f, 期望 0.5", ex.lastOrder.CallbackRate)
	}
}

func TestExecuteOCO_StopPrice(t *testing.T) {
	ex := &MockExchange{price: 100}
	e := NewExecutor(ex, testConfig("spot"))

	params := marketParams("BTCUSDT")
	params.Type = exchange.OrderTypeOCO
	params.Side = exchange.SideSell
	params.Price = 110
	if _, err := e.ExecuteOrder(context.Background(), params, "momentum"); err != nil {
		t.Fatal(err)
	}
	// 卖出 OCO 止损价按价差 2% 下偏
	if math.Abs(ex.lastOrder.StopPrice-107.8) > 1e-9 {
		t.Errorf("止损价 = %f, 期望 107.8", ex.lastOrder.StopPrice)
	}
}

func TestExecuteIceberg_VisibleSize(t *testing.T) {
	ex := &MockExchange{price: 100}
	e := NewExecutor(ex, testConfig("spot"))

	params := marketParams("BTCUSDT")
	params.Type = exchange.OrderTypeIceberg
	params.Amount = 10
	params.Price = 100
	if _, err := e.ExecuteOrder(context.Background(), params, "momentum"); err != nil {
		t.Fatal(err)
	}
	if math.Abs(ex.lastOrder.VisibleSize-2) > 1e-9 {
		t.Errorf("可见数量 = %f, 期望 2", ex.lastOrder.VisibleSize)
	}
}

func TestOrderCounter(t *testing.T) {
	ex := &MockExchange{price: 100}
	e := NewExecutor(ex, testConfig("spot"))
	ctx := context.Background()

	e.ExecuteOrder(ctx, marketParams("BTCUSDT"), "arbitrage")
	e.ExecuteOrder(ctx, marketParams("ETHUSDT"), "arbitrage")
	if got := e.OrderCount(); got != 2 {
		t.Errorf("订单计数 = %d, 期望 2", got)
	}
}
