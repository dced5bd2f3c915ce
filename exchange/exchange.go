package exchange

import (
	"context"
	"errors"
	"time"
)

// 订单方向
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// 订单类型
const (
	OrderTypeMarket       = "market"
	OrderTypeLimit        = "limit"
	OrderTypeStopLoss     = "stop_loss"
	OrderTypeOCO          = "oco"
	OrderTypeTrailingStop = "trailing_stop"
	OrderTypeIceberg      = "iceberg"
)

// OrderStatus 订单状态(已归一化, 与具体交易所无关)
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusExpired   OrderStatus = "expired"
)

// IsFinal 订单是否已到终态
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled ||
		s == OrderStatusRejected || s == OrderStatusExpired
}

var (
	// ErrPriceUnavailable 无法获取当前价格
	ErrPriceUnavailable = errors.New("exchange: price unavailable")
	// ErrUnknownExchange 配置了不支持的交易所
	ErrUnknownExchange = errors.New("exchange: unknown exchange")
)

// OrderParams 下单参数, 高级订单类型使用对应的扩展字段
type OrderParams struct {
	Symbol string
	Side   string
	Type   string
	Amount float64
	Price  float64 // 限价单价格, 市价单忽略

	// 高级订单参数
	StopPrice       float64 // stop_loss / oco
	StopLimitPrice  float64 // oco 止损触发后的限价
	ActivationPrice float64 // trailing_stop 激活价
	CallbackRate    float64 // trailing_stop 回调百分比
	VisibleSize     float64 // iceberg 可见数量
}

// Order 交易所返回的订单
type Order struct {
	ID        string
	Symbol    string
	Side      string
	Type      string
	Amount    float64
	Price     float64
	StopPrice float64
	Status    OrderStatus
	CreatedAt time.Time
}

// PositionKind 原始持仓的形态
type PositionKind string

const (
	PositionKindSpot    PositionKind = "spot"
	PositionKindFutures PositionKind = "futures"
)

// RawPosition 交易所原始持仓, 现货与合约字段不同, 由上层归一化
type RawPosition struct {
	Kind PositionKind

	// 现货: 币种余额
	Currency string
	Balance  float64

	// 合约: 带符号仓位
	Symbol        string
	CurrentQty    float64
	AvgEntryPrice float64
	Leverage      float64
}

// AccountBalances 现货与合约账户的 USDT 可用余额
type AccountBalances struct {
	Spot    float64
	Futures float64
}

// Candle K线数据
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// IExchange 交易所网关接口, 所有调用带 context 以便取消
type IExchange interface {
	// GetName 返回交易所名称
	GetName() string

	// GetCurrentPrice 获取当前价格, 获取失败返回 ErrPriceUnavailable
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)

	// CreateOrder 下基础订单(market/limit)
	CreateOrder(ctx context.Context, params *OrderParams) (*Order, error)

	// CreateAdvancedOrder 下高级订单(stop_loss/oco/trailing_stop/iceberg)
	CreateAdvancedOrder(ctx context.Context, params *OrderParams) (*Order, error)

	// FetchOrder 查询订单状态
	FetchOrder(ctx context.Context, orderID, symbol string) (*Order, error)

	// FetchPositions 获取原始持仓列表
	FetchPositions(ctx context.Context) ([]*RawPosition, error)

	// GetAccountBalances 获取现货与合约账户余额
	GetAccountBalances(ctx context.Context) (*AccountBalances, error)

	// SetLeverage 设置合约杠杆
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// GetLiquidPairs 按最小成交额筛选流动性交易对
	GetLiquidPairs(ctx context.Context, minQuoteVolume float64) ([]string, error)

	// FetchOHLCV 获取K线, timeframe 如 "1h"
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]*Candle, error)
}
