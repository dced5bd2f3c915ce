package metrics

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"quantpilot/logger"
)

// SystemCollector 系统指标采集器
// 周期性采集进程 CPU/内存与 goroutine 数量
type SystemCollector struct {
	interval time.Duration
	cancel   context.CancelFunc
}

// NewSystemCollector 创建系统指标采集器
func NewSystemCollector(interval time.Duration) *SystemCollector {
	return &SystemCollector{interval: interval}
}

// Start 启动采集循环
func (sc *SystemCollector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	sc.cancel = cancel
	go sc.loop(ctx)
}

// Stop 停止采集
func (sc *SystemCollector) Stop() {
	if sc.cancel != nil {
		sc.cancel()
	}
}

func (sc *SystemCollector) loop(ctx context.Context) {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	sc.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.collect()
		}
	}
}

func (sc *SystemCollector) collect() {
	goroutineCount.Set(float64(runtime.NumGoroutine()))

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Debug("获取进程信息失败: %v", err)
		return
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		memUsage.Set(float64(memInfo.RSS))
	}
	if pct, err := proc.CPUPercent(); err == nil {
		cpuUsage.Set(pct)
	} else if totals, err := cpu.Percent(0, false); err == nil && len(totals) > 0 {
		// 进程级采集不可用时退回整机占用
		cpuUsage.Set(totals[0])
	}
}
