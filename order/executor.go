// Package order 订单执行
// 把抽象下单意图转成具体交易所调用, 按交易对冷却限流, 高优先级策略可绕过冷却
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quantpilot/config"
	"quantpilot/exchange"
	"quantpilot/logger"
)

var (
	// ErrUnsupportedOrderType 不支持的订单类型
	ErrUnsupportedOrderType = errors.New("order: unsupported order type")
	// ErrCooldownActive 冷却期内拒绝下单
	ErrCooldownActive = errors.New("order: cooldown active")
)

// 未知策略的默认优先级(最低)
const defaultPriority = 999

// 优先级不超过该值的策略绕过冷却
const bypassPriority = 2

// 默认冷却时间
const defaultCooldown = 300 * time.Second

// 策略优先级表, 数字越小优先级越高
// 现货与合约的排序不同: 合约下剥头皮吃资金费节奏, 优先级更高
var priorityTable = map[string]map[string]int{
	"spot": {
		"arbitrage":        1,
		"breakout_trading": 2,
		"momentum":         3,
		"ichimoku":         3,
		"trend_following":  4,
		"mean_reversion":   5,
		"scalping":         6,
	},
	"futures": {
		"arbitrage":        1,
		"scalping":         2,
		"momentum":         2,
		"ichimoku":         3,
		"breakout_trading": 3,
		"trend_following":  4,
		"mean_reversion":   5,
	},
}

// StrategyPriority 查询策略优先级
func StrategyPriority(marketType, strategyName string) int {
	table, ok := priorityTable[marketType]
	if !ok {
		return defaultPriority
	}
	p, ok := table[strategyName]
	if !ok {
		return defaultPriority
	}
	return p
}

// Executor 订单执行器
type Executor struct {
	exchange exchange.IExchange
	cfg      *config.Config
	cooldown time.Duration

	mu           sync.Mutex
	lastOrders   map[string]time.Time
	orderCounter int64
}

// NewExecutor 创建订单执行器
// 执行器层的冷却固定 300s, 与引擎层更粗粒度的限流相互独立
func NewExecutor(ex exchange.IExchange, cfg *config.Config) *Executor {
	return &Executor{
		exchange:   ex,
		cfg:        cfg,
		cooldown:   defaultCooldown,
		lastOrders: make(map[string]time.Time),
	}
}

// ExecuteOrder 执行一笔订单
// 先做冷却检查(高优先级策略豁免), 通过后立刻记录时间戳再分发,
// 慢单或失败单同样消耗冷却窗口
func (e *Executor) ExecuteOrder(ctx context.Context, params *exchange.OrderParams, strategyName string) (*exchange.Order, error) {
	priority := StrategyPriority(e.cfg.Trading.Mode, strategyName)

	e.mu.Lock()
	if priority > bypassPriority {
		if last, ok := e.lastOrders[params.Symbol]; ok {
			if since := time.Since(last); since < e.cooldown {
				e.mu.Unlock()
				logger.Warn("⚠️ %s 冷却中(剩余 %.0fs), 策略 %s 优先级 %d 不足以绕过",
					params.Symbol, (e.cooldown - since).Seconds(), strategyName, priority)
				return nil, fmt.Errorf("%w: %s", ErrCooldownActive, params.Symbol)
			}
		}
	}
	e.lastOrders[params.Symbol] = time.Now()
	e.orderCounter++
	seq := e.orderCounter
	e.mu.Unlock()

	logger.Info("📋 执行订单 #%d: %s %s %s size=%.6f 策略=%s(优先级 %d)",
		seq, params.Symbol, params.Side, params.Type, params.Amount, strategyName, priority)

	order, err := e.dispatch(ctx, params)
	if err != nil {
		logger.Error("❌ 订单 #%d 失败: %v", seq, err)
		return nil, err
	}
	logger.Info("✅ 订单 #%d 已提交: id=%s status=%s", seq, order.ID, order.Status)
	return order, nil
}

// dispatch 按订单类型分发到对应处理器
func (e *Executor) dispatch(ctx context.Context, params *exchange.OrderParams) (*exchange.Order, error) {
	switch params.Type {
	case exchange.OrderTypeMarket:
		return e.executeMarket(ctx, params)
	case exchange.OrderTypeLimit:
		return e.executeLimit(ctx, params)
	case exchange.OrderTypeOCO:
		return e.executeOCO(ctx, params)
	case exchange.OrderTypeTrailingStop:
		return e.executeTrailingStop(ctx, params)
	case exchange.OrderTypeIceberg:
		return e.executeIceberg(ctx, params)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOrderType, params.Type)
	}
}

func (e *Executor) executeMarket(ctx context.Context, params *exchange.OrderParams) (*exchange.Order, error) {
	return e.exchange.CreateOrder(ctx, params)
}

// executeLimit 限价单, 未给价格时按现价 ±0.1% 取一个易成交的价格
func (e *Executor) executeLimit(ctx context.Context, params *exchange.OrderParams) (*exchange.Order, error) {
	if params.Price == 0 {
		price, err := e.exchange.GetCurrentPrice(ctx, params.Symbol)
		if err != nil || price == 0 {
			return nil, fmt.Errorf("限价单取价失败 %s: %w", params.Symbol, err)
		}
		if params.Side == exchange.SideBuy {
			params.Price = price * 0.999
		} else {
			params.Price = price * 1.001
		}
	}
	return e.exchange.CreateOrder(ctx, params)
}

// executeTrailingStop 追踪止损, 激活价从现价按配置百分比偏移
func (e *Executor) executeTrailingStop(ctx context.Context, params *exchange.OrderParams) (*exchange.Order, error) {
	price, err := e.exchange.GetCurrentPrice(ctx, params.Symbol)
	if err != nil || price == 0 {
		return nil, fmt.Errorf("追踪止损取价失败 %s: %w", params.Symbol, err)
	}
	activation := e.cfg.OrderTypes.TrailingStop.ActivationPercent / 100
	if params.Side == exchange.SideBuy {
		params.ActivationPrice = price * (1 + activation)
	} else {
		params.ActivationPrice = price * (1 - activation)
	}
	if params.CallbackRate == 0 {
		params.CallbackRate = e.cfg.OrderTypes.TrailingStop.TrailPercent
	}
	return e.exchange.CreateAdvancedOrder(ctx, params)
}

// executeOCO 止盈止损组合单, 止损价按配置价差从委托价偏移
func (e *Executor) executeOCO(ctx context.Context, params *exchange.OrderParams) (*exchange.Order, error) {
	if params.Price == 0 {
		price, err := e.exchange.GetCurrentPrice(ctx, params.Symbol)
		if err != nil || price == 0 {
			return nil, fmt.Errorf("OCO 取价失败 %s: %w", params.Symbol, err)
		}
		params.Price = price
	}
	spread := e.cfg.OrderTypes.OCO.SpreadPercent / 100
	if params.StopPrice == 0 {
		if params.Side == exchange.SideSell {
			params.StopPrice = params.Price * (1 - spread)
		} else {
			params.StopPrice = params.Price * (1 + spread)
		}
	}
	return e.exchange.CreateAdvancedOrder(ctx, params)
}

// executeIceberg 冰山单, 可见数量为总量的配置比例
func (e *Executor) executeIceberg(ctx context.Context, params *exchange.OrderParams) (*exchange.Order, error) {
	if params.Price == 0 {
		price, err := e.exchange.GetCurrentPrice(ctx, params.Symbol)
		if err != nil || price == 0 {
			return nil, fmt.Errorf("冰山单取价失败 %s: %w", params.Symbol, err)
		}
		params.Price = price
	}
	if params.VisibleSize == 0 {
		params.VisibleSize = params.Amount * e.cfg.OrderTypes.Iceberg.MaxVisibleSize
	}
	return e.exchange.CreateAdvancedOrder(ctx, params)
}

// OrderCount 已执行订单数
func (e *Executor) OrderCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orderCounter
}

// 测试用: 回拨某交易对的冷却时间戳
func (e *Executor) setLastOrder(symbol string, t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastOrders[symbol] = t
}
