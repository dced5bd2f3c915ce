// Package indicators 技术指标库
// 提供仓位管理所需的波动率指标
package indicators

import "math"

// Candle K线数据
type Candle struct {
	Time   int64   // 时间戳
	Open   float64 // 开盘价
	High   float64 // 最高价
	Low    float64 // 最低价
	Close  float64 // 收盘价
	Volume float64 // 成交量
}

// SMA 简单移动平均
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values)-period+1)
	sum := 0.0

	for i := 0; i < period; i++ {
		sum += values[i]
	}
	result[0] = sum / float64(period)

	// 滑动窗口计算后续均值
	for i := period; i < len(values); i++ {
		sum = sum - values[i-period] + values[i]
		result[i-period+1] = sum / float64(period)
	}

	return result
}

// EMA 指数移动平均
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values)-period+1)
	multiplier := 2.0 / (float64(period) + 1.0)

	// 第一个 EMA 使用 SMA 作为种子
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	result[0] = sum / float64(period)

	for i := period; i < len(values); i++ {
		result[i-period+1] = (values[i]-result[i-period])*multiplier + result[i-period]
	}

	return result
}

// TrueRange 单根K线的真实波幅
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// TrueRangeSeries 真实波幅序列
func TrueRangeSeries(candles []Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}

	result := make([]float64, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		result[i-1] = TrueRange(candles[i].High, candles[i].Low, candles[i-1].Close)
	}

	return result
}

// ATR 平均真实波幅
type ATR struct {
	period int
}

// NewATR 创建 ATR 指标
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

// Name 指标名称
func (a *ATR) Name() string {
	return "ATR"
}

// Period 所需周期数
func (a *ATR) Period() int {
	return a.period + 1
}

// Calculate 计算 ATR 序列
func (a *ATR) Calculate(candles []Candle) []float64 {
	if len(candles) < a.period+1 {
		return nil
	}

	tr := TrueRangeSeries(candles)
	if tr == nil {
		return nil
	}

	return EMA(tr, a.period)
}

// CurrentATR 获取最新 ATR 值, 数据不足返回 0
func (a *ATR) CurrentATR(candles []Candle) float64 {
	atr := a.Calculate(candles)
	if len(atr) == 0 {
		return 0
	}
	return atr[len(atr)-1]
}
