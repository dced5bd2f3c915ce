package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"quantpilot/config"
	"quantpilot/logger"
)

// BinanceAdapter 币安网关, 现货与合约共用一个适配器, 按交易模式路由
type BinanceAdapter struct {
	spot    *binance.Client
	fut     *futures.Client
	mode    string // spot | futures
	limiter *rate.Limiter
}

// NewBinanceAdapter 创建币安适配器
func NewBinanceAdapter(cfg config.ExchangeConfig, mode string) *BinanceAdapter {
	if cfg.Testnet {
		binance.UseTestnet = true
		futures.UseTestnet = true
		logger.Warn("⚠️ Binance 测试网模式已启用")
	}
	return &BinanceAdapter{
		spot: binance.NewClient(cfg.APIKey, cfg.SecretKey),
		fut:  futures.NewClient(cfg.APIKey, cfg.SecretKey),
		mode: mode,
		// REST 权重限流, 略低于官方上限
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
}

// GetName 返回交易所名称
func (b *BinanceAdapter) GetName() string { return "binance" }

func (b *BinanceAdapter) wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

func (b *BinanceAdapter) isFutures() bool { return b.mode == "futures" }

// GetCurrentPrice 获取最新成交价
func (b *BinanceAdapter) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	if b.isFutures() {
		prices, err := b.fut.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil || len(prices) == 0 {
			return 0, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
		}
		return parseFloat(prices[0].Price), nil
	}
	prices, err := b.spot.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil || len(prices) == 0 {
		return 0, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
	}
	return parseFloat(prices[0].Price), nil
}

// CreateOrder 下基础订单, 只接受 market 和 limit
func (b *BinanceAdapter) CreateOrder(ctx context.Context, params *OrderParams) (*Order, error) {
	switch params.Type {
	case OrderTypeMarket, OrderTypeLimit:
	default:
		return nil, fmt.Errorf("CreateOrder 不支持订单类型 %s", params.Type)
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	if b.isFutures() {
		return b.createFuturesOrder(ctx, params)
	}
	return b.createSpotOrder(ctx, params)
}

// CreateAdvancedOrder 下高级订单
func (b *BinanceAdapter) CreateAdvancedOrder(ctx context.Context, params *OrderParams) (*Order, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	switch params.Type {
	case OrderTypeStopLoss:
		if b.isFutures() {
			return b.createFuturesStopMarket(ctx, params)
		}
		return b.createSpotStopLossLimit(ctx, params)
	case OrderTypeOCO:
		if b.isFutures() {
			return nil, fmt.Errorf("币安合约不支持 OCO 订单")
		}
		return b.createSpotOCO(ctx, params)
	case OrderTypeTrailingStop:
		if !b.isFutures() {
			return nil, fmt.Errorf("币安现货不支持追踪止损订单")
		}
		return b.createFuturesTrailingStop(ctx, params)
	case OrderTypeIceberg:
		if b.isFutures() {
			return nil, fmt.Errorf("币安合约不支持冰山订单")
		}
		return b.createSpotIceberg(ctx, params)
	default:
		return nil, fmt.Errorf("CreateAdvancedOrder 不支持订单类型 %s", params.Type)
	}
}

func (b *BinanceAdapter) createSpotOrder(ctx context.Context, params *OrderParams) (*Order, error) {
	svc := b.spot.NewCreateOrderService().
		Symbol(params.Symbol).
		Side(spotSide(params.Side)).
		Quantity(fmtNum(params.Amount))
	if params.Type == OrderTypeLimit {
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(fmtNum(params.Price))
	} else {
		svc = svc.Type(binance.OrderTypeMarket)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("现货下单失败 %s %s: %w", params.Symbol, params.Side, err)
	}
	return orderFromParams(strconv.FormatInt(resp.OrderID, 10), params, normalizeStatus(string(resp.Status))), nil
}

func (b *BinanceAdapter) createFuturesOrder(ctx context.Context, params *OrderParams) (*Order, error) {
	svc := b.fut.NewCreateOrderService().
		Symbol(params.Symbol).
		Side(futSide(params.Side)).
		Quantity(fmtNum(params.Amount))
	if params.Type == OrderTypeLimit {
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(fmtNum(params.Price))
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("合约下单失败 %s %s: %w", params.Symbol, params.Side, err)
	}
	return orderFromParams(strconv.FormatInt(resp.OrderID, 10), params, normalizeStatus(string(resp.Status))), nil
}

func (b *BinanceAdapter) createSpotStopLossLimit(ctx context.Context, params *OrderParams) (*Order, error) {
	price := params.StopLimitPrice
	if price == 0 {
		price = params.StopPrice
	}
	resp, err := b.spot.NewCreateOrderService().
		Symbol(params.Symbol).
		Side(spotSide(params.Side)).
		Type(binance.OrderTypeStopLossLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(fmtNum(params.Amount)).
		Price(fmtNum(price)).
		StopPrice(fmtNum(params.StopPrice)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("现货止损单失败 %s: %w", params.Symbol, err)
	}
	return orderFromParams(strconv.FormatInt(resp.OrderID, 10), params, normalizeStatus(string(resp.Status))), nil
}

func (b *BinanceAdapter) createFuturesStopMarket(ctx context.Context, params *OrderParams) (*Order, error) {
	resp, err := b.fut.NewCreateOrderService().
		Symbol(params.Symbol).
		Side(futSide(params.Side)).
		Type(futures.OrderTypeStopMarket).
		Quantity(fmtNum(params.Amount)).
		StopPrice(fmtNum(params.StopPrice)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("合约止损单失败 %s: %w", params.Symbol, err)
	}
	return orderFromParams(strconv.FormatInt(resp.OrderID, 10), params, normalizeStatus(string(resp.Status))), nil
}

func (b *BinanceAdapter) createSpotOCO(ctx context.Context, params *OrderParams) (*Order, error) {
	stopLimit := params.StopLimitPrice
	if stopLimit == 0 {
		stopLimit = params.StopPrice
	}
	resp, err := b.spot.NewCreateOCOService().
		Symbol(params.Symbol).
		Side(spotSide(params.Side)).
		Quantity(fmtNum(params.Amount)).
		Price(fmtNum(params.Price)).
		StopPrice(fmtNum(params.StopPrice)).
		StopLimitPrice(fmtNum(stopLimit)).
		StopLimitTimeInForce(binance.TimeInForceTypeGTC).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("OCO 下单失败 %s: %w", params.Symbol, err)
	}
	return orderFromParams(strconv.FormatInt(resp.OrderListID, 10), params, OrderStatusOpen), nil
}

func (b *BinanceAdapter) createFuturesTrailingStop(ctx context.Context, params *OrderParams) (*Order, error) {
	svc := b.fut.NewCreateOrderService().
		Symbol(params.Symbol).
		Side(futSide(params.Side)).
		Type(futures.OrderTypeTrailingStopMarket).
		Quantity(fmtNum(params.Amount)).
		CallbackRate(fmtNum(params.CallbackRate))
	if params.ActivationPrice > 0 {
		svc = svc.ActivationPrice(fmtNum(params.ActivationPrice))
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("追踪止损单失败 %s: %w", params.Symbol, err)
	}
	return orderFromParams(strconv.FormatInt(resp.OrderID, 10), params, normalizeStatus(string(resp.Status))), nil
}

func (b *BinanceAdapter) createSpotIceberg(ctx context.Context, params *OrderParams) (*Order, error) {
	resp, err := b.spot.NewCreateOrderService().
		Symbol(params.Symbol).
		Side(spotSide(params.Side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(fmtNum(params.Amount)).
		Price(fmtNum(params.Price)).
		IcebergQuantity(fmtNum(params.VisibleSize)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("冰山订单失败 %s: %w", params.Symbol, err)
	}
	return orderFromParams(strconv.FormatInt(resp.OrderID, 10), params, normalizeStatus(string(resp.Status))), nil
}

// FetchOrder 查询订单
func (b *BinanceAdapter) FetchOrder(ctx context.Context, orderID, symbol string) (*Order, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("订单ID无效 %s: %w", orderID, err)
	}
	if b.isFutures() {
		o, err := b.fut.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("查询合约订单失败 %s/%s: %w", symbol, orderID, err)
		}
		return &Order{
			ID:        orderID,
			Symbol:    o.Symbol,
			Side:      strings.ToLower(string(o.Side)),
			Type:      strings.ToLower(string(o.Type)),
			Amount:    parseFloat(o.OrigQuantity),
			Price:     parseFloat(o.Price),
			Status:    normalizeStatus(string(o.Status)),
			CreatedAt: time.UnixMilli(o.Time),
		}, nil
	}
	o, err := b.spot.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询现货订单失败 %s/%s: %w", symbol, orderID, err)
	}
	return &Order{
		ID:        orderID,
		Symbol:    o.Symbol,
		Side:      strings.ToLower(string(o.Side)),
		Type:      strings.ToLower(string(o.Type)),
		Amount:    parseFloat(o.OrigQuantity),
		Price:     parseFloat(o.Price),
		Status:    normalizeStatus(string(o.Status)),
		CreatedAt: time.UnixMilli(o.Time),
	}, nil
}

// FetchPositions 获取原始持仓, 现货返回币种余额, 合约返回带符号仓位
func (b *BinanceAdapter) FetchPositions(ctx context.Context) ([]*RawPosition, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	if b.isFutures() {
		risks, err := b.fut.NewGetPositionRiskService().Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取合约持仓失败: %w", err)
		}
		out := make([]*RawPosition, 0, len(risks))
		for _, r := range risks {
			out = append(out, &RawPosition{
				Kind:          PositionKindFutures,
				Symbol:        r.Symbol,
				CurrentQty:    parseFloat(r.PositionAmt),
				AvgEntryPrice: parseFloat(r.EntryPrice),
				Leverage:      parseFloat(r.Leverage),
			})
		}
		return out, nil
	}
	account, err := b.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取现货账户失败: %w", err)
	}
	out := make([]*RawPosition, 0, len(account.Balances))
	for _, bal := range account.Balances {
		out = append(out, &RawPosition{
			Kind:     PositionKindSpot,
			Currency: bal.Asset,
			Balance:  parseFloat(bal.Free) + parseFloat(bal.Locked),
		})
	}
	return out, nil
}

// GetAccountBalances 获取现货与合约账户的 USDT 可用余额
func (b *BinanceAdapter) GetAccountBalances(ctx context.Context) (*AccountBalances, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	balances := &AccountBalances{}

	account, err := b.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取现货余额失败: %w", err)
	}
	for _, bal := range account.Balances {
		if bal.Asset == "USDT" {
			balances.Spot = parseFloat(bal.Free)
			break
		}
	}

	futBalances, err := b.fut.NewGetBalanceService().Do(ctx)
	if err != nil {
		// 仅现货账户时合约接口可能不可用, 降级处理
		logger.Warn("⚠️ 获取合约余额失败: %v", err)
		return balances, nil
	}
	for _, fb := range futBalances {
		if fb.Asset == "USDT" {
			balances.Futures = parseFloat(fb.AvailableBalance)
			break
		}
	}
	return balances, nil
}

// SetLeverage 设置合约杠杆
func (b *BinanceAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if !b.isFutures() {
		return nil
	}
	if err := b.wait(ctx); err != nil {
		return err
	}
	_, err := b.fut.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return fmt.Errorf("设置杠杆失败 %s %dx: %w", symbol, leverage, err)
	}
	logger.Info("🔄 已设置杠杆: %s %dx", symbol, leverage)
	return nil
}

// GetLiquidPairs 按24h成交额筛选 USDT 交易对
func (b *BinanceAdapter) GetLiquidPairs(ctx context.Context, minQuoteVolume float64) ([]string, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	var pairs []string
	if b.isFutures() {
		stats, err := b.fut.NewListPriceChangeStatsService().Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取合约行情统计失败: %w", err)
		}
		for _, s := range stats {
			if strings.HasSuffix(s.Symbol, "USDT") && parseFloat(s.QuoteVolume) >= minQuoteVolume {
				pairs = append(pairs, s.Symbol)
			}
		}
		return pairs, nil
	}
	stats, err := b.spot.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取现货行情统计失败: %w", err)
	}
	for _, s := range stats {
		if strings.HasSuffix(s.Symbol, "USDT") && parseFloat(s.QuoteVolume) >= minQuoteVolume {
			pairs = append(pairs, s.Symbol)
		}
	}
	return pairs, nil
}

// FetchOHLCV 获取K线数据
func (b *BinanceAdapter) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]*Candle, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	if b.isFutures() {
		klines, err := b.fut.NewKlinesService().
			Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取合约K线失败 %s %s: %w", symbol, timeframe, err)
		}
		candles := make([]*Candle, 0, len(klines))
		for _, k := range klines {
			candles = append(candles, &Candle{
				OpenTime: time.UnixMilli(k.OpenTime),
				Open:     parseFloat(k.Open),
				High:     parseFloat(k.High),
				Low:      parseFloat(k.Low),
				Close:    parseFloat(k.Close),
				Volume:   parseFloat(k.Volume),
			})
		}
		return candles, nil
	}
	klines, err := b.spot.NewKlinesService().
		Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取现货K线失败 %s %s: %w", symbol, timeframe, err)
	}
	candles := make([]*Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, &Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		})
	}
	return candles, nil
}

func spotSide(side string) binance.SideType {
	if side == SideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func futSide(side string) futures.SideType {
	if side == SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

// normalizeStatus 把币安订单状态归一化
func normalizeStatus(s string) OrderStatus {
	switch s {
	case "NEW", "PARTIALLY_FILLED":
		return OrderStatusOpen
	case "FILLED":
		return OrderStatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return OrderStatusCancelled
	case "REJECTED":
		return OrderStatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return OrderStatusExpired
	default:
		return OrderStatusOpen
	}
}

func orderFromParams(id string, params *OrderParams, status OrderStatus) *Order {
	return &Order{
		ID:        id,
		Symbol:    params.Symbol,
		Side:      params.Side,
		Type:      params.Type,
		Amount:    params.Amount,
		Price:     params.Price,
		StopPrice: params.StopPrice,
		Status:    status,
		CreatedAt: time.Now(),
	}
}

func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
