package position

import (
	"math"

	"github.com/shopspring/decimal"
)

// 保证金安全垫
var marginBuffer = decimal.NewFromFloat(1.1)

// CalculateRequiredMargin 计算开仓所需保证金
// 取 初始保证金(value/leverage) 与 维持保证金(value*maintRate) 的较大者, 再上浮 10%
func (m *Manager) CalculateRequiredMargin(size, price float64) float64 {
	leverage := 1.0
	maintRate := m.cfg.Trading.Futures.MaintenanceMarginRate
	if m.cfg.Trading.Mode == "futures" {
		leverage = float64(m.cfg.Trading.Futures.Leverage)
	}
	if leverage < 1 {
		leverage = 1
	}

	value := decimal.NewFromFloat(size).Mul(decimal.NewFromFloat(price))
	initial := value.Div(decimal.NewFromFloat(leverage))
	maintenance := value.Mul(decimal.NewFromFloat(maintRate))

	required := initial
	if maintenance.GreaterThan(initial) {
		required = maintenance
	}
	f, _ := required.Mul(marginBuffer).Float64()
	return f
}

// LiquidationPrice 估算强平价
// 初始保证金率 m=1/L, 维持保证金率 r:
//
//	多头: entry * (1 - m + r)
//	空头: entry * (1 + m - r)
//
// 杠杆 <= 1 视为无强平风险: 多头返回 0, 空头返回 +Inf
func LiquidationPrice(entry, leverage, maintRate float64, isLong bool) float64 {
	if leverage <= 1 {
		if isLong {
			return 0
		}
		return math.Inf(1)
	}
	if maintRate <= 0 {
		maintRate = 0.005
	}

	e := decimal.NewFromFloat(entry)
	im := decimal.NewFromInt(1).Div(decimal.NewFromFloat(leverage))
	r := decimal.NewFromFloat(maintRate)
	one := decimal.NewFromInt(1)

	var liq decimal.Decimal
	if isLong {
		liq = e.Mul(one.Sub(im).Add(r))
	} else {
		liq = e.Mul(one.Add(im).Sub(r))
	}
	f, _ := liq.Float64()
	return f
}
