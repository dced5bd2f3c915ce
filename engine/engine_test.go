package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"quantpilot/config"
	"quantpilot/event"
	"quantpilot/exchange"
	"quantpilot/order"
	"quantpilot/position"
	"quantpilot/risk"
	"quantpilot/strategy"
)

// MockExchange 测试用交易所
type MockExchange struct {
	mu          sync.Mutex
	balances    *exchange.AccountBalances
	balancesErr error
	prices      map[string]float64
	orderCount  int
	createErr   error
}

func newMockExchange() *MockExchange {
	return &MockExchange{
		balances: &exchange.AccountBalances{Spot: 1000, Futures: 1000},
		prices:   map[string]float64{"BTCUSDT": 100, "ETHUSDT": 50},
	}
}

func (m *MockExchange) GetName() string { return "mock" }

func (m *MockExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	p, ok := m.prices[symbol]
	if !ok {
		return 0, exchange.ErrPriceUnavailable
	}
	return p, nil
}

func (m *MockExchange) CreateOrder(ctx context.Context, params *exchange.OrderParams) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.orderCount++
	return &exchange.Order{
		ID:     "7",
		Symbol: params.Symbol,
		Side:   params.Side,
		Type:   params.Type,
		Amount: params.Amount,
		Status: exchange.OrderStatusOpen,
	}, nil
}

func (m *MockExchange) CreateAdvancedOrder(ctx context.Context, params *exchange.OrderParams) (*exchange.Order, error) {
	return m.CreateOrder(ctx, params)
}

func (m *MockExchange) FetchOrder(ctx context.Context, orderID, symbol string) (*exchange.Order, error) {
	return &exchange.Order{ID: orderID, Symbol: symbol, Status: exchange.OrderStatusFilled}, nil
}

func (m *MockExchange) FetchPositions(ctx context.Context) ([]*exchange.RawPosition, error) {
	return nil, nil
}

func (m *MockExchange) GetAccountBalances(ctx context.Context) (*exchange.AccountBalances, error) {
	return m.balances, m.balancesErr
}

func (m *MockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (m *MockExchange) GetLiquidPairs(ctx context.Context, minQuoteVolume float64) ([]string, error) {
	return []string{"BTCUSDT"}, nil
}

func (m *MockExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]*exchange.Candle, error) {
	return nil, errors.New("无K线数据")
}

func (m *MockExchange) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orderCount
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Trading.Mode = "spot"
	cfg.TradingEngine.MaxDailyLossPercentage = 5
	cfg.TradingEngine.MaxOpenPositions = 10
	cfg.TradingEngine.OrderSizePercentage = 10
	cfg.TradingEngine.OrderCooldown = 150
	cfg.TradingEngine.MaxHourlyTrades = 5
	cfg.TradingEngine.ScanInterval = 300
	cfg.PositionManagement.MaxPositionSizePct = 0.5
	cfg.PositionManagement.MaxCorrelationExposure = 2
	cfg.PositionManagement.CorrelationPeriod = 5
	cfg.PositionManagement.HighCorrelationThreshold = 0.7
	cfg.PositionManagement.CorrelationCacheTTL = 300
	cfg.OrderTypes.TrailingStop.TrailPercent = 0.5
	cfg.Strategies = map[string]config.StrategyConfig{}
	return cfg
}

func newTestEngine(ex exchange.IExchange, cfg *config.Config) *Engine {
	bus := event.NewBus(256)
	riskMgr := risk.NewManager(cfg, 1000)
	posMgr := position.NewManager(ex, cfg, bus)
	executor := order.NewExecutor(ex, cfg)
	strategies := strategy.NewManager(cfg)
	return New(cfg, ex, riskMgr, posMgr, executor, strategies, nil, bus)
}

func testSignal(symbol string) *strategy.Signal {
	return &strategy.Signal{
		Symbol:    symbol,
		Action:    exchange.SideBuy,
		Price:     100,
		OrderType: exchange.OrderTypeMarket,
		Strategy:  "arbitrage",
		Market:    "spot",
		Reason:    "测试信号",
	}
}

func TestEngine_StateMachine(t *testing.T) {
	e := newTestEngine(newMockExchange(), testConfig())

	if e.State() != StateStopped {
		t.Fatalf("初始状态 = %s, 期望 stopped", e.State())
	}
	if err := e.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("停止未运行引擎应返回 ErrNotRunning, 实际 %v", err)
	}

	if err := e.Start(); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	if e.State() != StateRunning {
		t.Errorf("启动后状态 = %s, 期望 running", e.State())
	}
	if err := e.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("重复启动应返回 ErrAlreadyRunning, 实际 %v", err)
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("停止失败: %v", err)
	}
	if e.State() != StateStopped {
		t.Errorf("停止后状态 = %s, 期望 stopped", e.State())
	}
}

func TestCheckRateLimits_HourlyCap(t *testing.T) {
	e := newTestEngine(newMockExchange(), testConfig())

	// 连续放行 5 笔(绕过冷却检查需要回拨时间戳)
	for i := 0; i < 5; i++ {
		e.setRateState("BTCUSDT", time.Now().Add(-200*time.Second), i)
		if !e.checkRateLimits("BTCUSDT") {
			t.Fatalf("第 %d 笔应放行", i+1)
		}
	}

	// 第 6 笔即使冷却已过也要被小时上限拒绝
	e.rateMu.Lock()
	e.lastTrade["BTCUSDT"] = time.Now().Add(-200 * time.Second)
	e.rateMu.Unlock()
	if e.checkRateLimits("BTCUSDT") {
		t.Error("第 6 笔应被小时上限拒绝")
	}
}

func TestCheckRateLimits_Cooldown(t *testing.T) {
	e := newTestEngine(newMockExchange(), testConfig())

	if !e.checkRateLimits("BTCUSDT") {
		t.Fatal("首笔应放行")
	}
	// 刚下过单, 冷却中
	if e.checkRateLimits("BTCUSDT") {
		t.Error("冷却期内应拒绝")
	}
	// 拒绝不应改动计数
	e.rateMu.Lock()
	count := e.hourlyTrades["BTCUSDT"]
	e.rateMu.Unlock()
	if count != 1 {
		t.Errorf("拒绝后计数 = %d, 期望保持 1", count)
	}
}

func TestCheckRateLimits_HourlyReset(t *testing.T) {
	e := newTestEngine(newMockExchange(), testConfig())
	e.setRateState("BTCUSDT", time.Now().Add(-200*time.Second), 5)

	// 回拨窗口起点模拟跨小时
	e.rateMu.Lock()
	e.hourlyReset = time.Now().Add(-2 * time.Hour)
	e.rateMu.Unlock()

	if !e.checkRateLimits("BTCUSDT") {
		t.Error("跨小时后计数应清零并放行")
	}
}

func TestProcessSignal_NotWired(t *testing.T) {
	e := newTestEngine(newMockExchange(), testConfig())
	e.risk = nil
	if err := e.ProcessSignal(context.Background(), testSignal("BTCUSDT")); !errors.Is(err, ErrNotWired) {
		t.Errorf("未装配组件应返回 ErrNotWired, 实际 %v", err)
	}
}

func TestProcessSignal_Success(t *testing.T) {
	ex := newMockExchange()
	e := newTestEngine(ex, testConfig())

	if err := e.ProcessSignal(context.Background(), testSignal("BTCUSDT")); err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	if ex.OrderCount() != 1 {
		t.Errorf("下单数 = %d, 期望 1", ex.OrderCount())
	}
	if e.positions.Get("BTCUSDT") == nil {
		t.Error("成交后应有持仓记录")
	}
	if len(e.TradeHistory()) != 1 {
		t.Errorf("成交记录数 = %d, 期望 1", len(e.TradeHistory()))
	}
	if len(e.ActiveOrders()) != 1 {
		t.Errorf("活跃订单数 = %d, 期望 1", len(e.ActiveOrders()))
	}
}

func TestProcessSignal_HighRiskScore(t *testing.T) {
	ex := newMockExchange()
	e := newTestEngine(ex, testConfig())

	sig := testSignal("BTCUSDT")
	sig.RiskScore = 0.95
	if err := e.ProcessSignal(context.Background(), sig); err != nil {
		t.Fatal(err)
	}
	if ex.OrderCount() != 0 {
		t.Error("高风险分信号不应下单")
	}
}

func TestProcessSignal_RateLimited(t *testing.T) {
	ex := newMockExchange()
	e := newTestEngine(ex, testConfig())

	e.setRateState("BTCUSDT", time.Now(), 0)
	if err := e.ProcessSignal(context.Background(), testSignal("BTCUSDT")); err != nil {
		t.Fatal(err)
	}
	if ex.OrderCount() != 0 {
		t.Error("引擎冷却期内信号不应下单")
	}
}

func TestProcessSignal_InsufficientBalance(t *testing.T) {
	ex := newMockExchange()
	ex.balances = &exchange.AccountBalances{Spot: 5} // 低于 10 USDT 门槛
	e := newTestEngine(ex, testConfig())

	sig := testSignal("BTCUSDT")
	sig.Size = 0 // 需要按余额计算
	if err := e.ProcessSignal(context.Background(), sig); err != nil {
		t.Fatal(err)
	}
	if ex.OrderCount() != 0 {
		t.Error("余额不足不应下单")
	}
}

func TestProcessSignal_OrderFailureDropsSignal(t *testing.T) {
	ex := newMockExchange()
	ex.createErr = errors.New("交易所超时")
	e := newTestEngine(ex, testConfig())

	if err := e.ProcessSignal(context.Background(), testSignal("BTCUSDT")); err != nil {
		t.Errorf("下单失败应吞掉错误丢弃信号, 实际 %v", err)
	}
	if e.positions.Get("BTCUSDT") != nil {
		t.Error("失败订单不应产生持仓")
	}
	if len(e.TradeHistory()) != 0 {
		t.Error("失败订单不应进入成交记录")
	}
}

func TestCleanupOrders(t *testing.T) {
	ex := newMockExchange()
	e := newTestEngine(ex, testConfig())

	if err := e.ProcessSignal(context.Background(), testSignal("BTCUSDT")); err != nil {
		t.Fatal(err)
	}
	if len(e.ActiveOrders()) != 1 {
		t.Fatal("应有 1 个活跃订单")
	}

	// mock FetchOrder 返回已成交, 清理后登记表为空
	e.cleanupOrders(context.Background())
	if len(e.ActiveOrders()) != 0 {
		t.Errorf("清理后活跃订单数 = %d, 期望 0", len(e.ActiveOrders()))
	}
}

func TestPerformanceSummary(t *testing.T) {
	ctx := context.Background()
	ex := newMockExchange()
	e := newTestEngine(ex, testConfig())

	if err := e.ProcessSignal(ctx, testSignal("BTCUSDT")); err != nil {
		t.Fatalf("ProcessSignal BTCUSDT: %v", err)
	}
	sell := testSignal("ETHUSDT")
	sell.Action = exchange.SideSell
	sell.Strategy = "momentum"
	e.recordTrade(sell, 0.1, 50)

	sum := e.Performance()
	if sum.Trades != 2 || sum.Buys != 1 || sum.Sells != 1 {
		t.Errorf("汇总 = %+v, 期望 2 笔(买 1 / 卖 1)", sum)
	}
	// BTCUSDT 按余额算量: 1000*10%/100 = 1, 成交额 100; ETHUSDT 0.1*50 = 5
	if math.Abs(sum.Volume-105) > 1e-9 {
		t.Errorf("成交额 = %f, 期望 105", sum.Volume)
	}
	if sum.ByStrategy["arbitrage"] != 1 || sum.ByStrategy["momentum"] != 1 {
		t.Errorf("策略计数 = %+v", sum.ByStrategy)
	}
}
