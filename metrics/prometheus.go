// Package metrics Prometheus 指标
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quantpilot/logger"
)

var (
	once     sync.Once
	instance *Metrics

	// 信号指标
	signalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantpilot_signal_total",
			Help: "Total number of signals processed",
		},
		[]string{"strategy", "result"},
	)

	// 订单指标
	orderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantpilot_order_total",
			Help: "Total number of orders submitted",
		},
		[]string{"symbol", "side", "status"},
	)

	orderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quantpilot_order_duration_seconds",
			Help:    "Order execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"symbol", "side"},
	)

	// 风控与持仓指标
	openPositions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantpilot_open_positions",
			Help: "Number of open positions",
		},
	)

	dailyLoss = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantpilot_daily_loss",
			Help: "Cumulative daily loss in quote currency",
		},
	)

	riskRejectTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantpilot_risk_reject_total",
			Help: "Total number of signals rejected by risk checks",
		},
		[]string{"reason"},
	)

	// 扫描指标
	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quantpilot_scan_duration_seconds",
			Help:    "Market scan iteration duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
	)

	// 系统指标
	cpuUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantpilot_cpu_usage_percent",
			Help: "Process CPU usage percent",
		},
	)

	memUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantpilot_memory_usage_bytes",
			Help: "Process resident memory in bytes",
		},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantpilot_goroutines",
			Help: "Number of goroutines",
		},
	)
)

// Metrics 指标入口
type Metrics struct{}

// Get 获取全局指标实例
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{}
	})
	return instance
}

// RecordSignal 记录信号处理结果
func (m *Metrics) RecordSignal(strategy, result string) {
	signalTotal.WithLabelValues(strategy, result).Inc()
}

// RecordOrder 记录订单提交
func (m *Metrics) RecordOrder(symbol, side, status string) {
	orderTotal.WithLabelValues(symbol, side, status).Inc()
}

// RecordOrderDuration 记录订单执行时长
func (m *Metrics) RecordOrderDuration(symbol, side string, d time.Duration) {
	orderDuration.WithLabelValues(symbol, side).Observe(d.Seconds())
}

// SetOpenPositions 更新持仓数量
func (m *Metrics) SetOpenPositions(n int) {
	openPositions.Set(float64(n))
}

// SetDailyLoss 更新当日累计亏损
func (m *Metrics) SetDailyLoss(v float64) {
	dailyLoss.Set(v)
}

// RecordRiskReject 记录风控拒绝
func (m *Metrics) RecordRiskReject(reason string) {
	riskRejectTotal.WithLabelValues(reason).Inc()
}

// RecordScanDuration 记录扫描耗时
func (m *Metrics) RecordScanDuration(d time.Duration) {
	scanDuration.Observe(d.Seconds())
}

// Serve 启动指标 HTTP 端点, 阻塞运行, 适合放在独立 goroutine
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("📊 指标服务监听 %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("❌ 指标服务退出: %v", err)
	}
}
