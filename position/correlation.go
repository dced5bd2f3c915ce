package position

import (
	"context"
	"math"
	"time"

	"quantpilot/logger"
)

// pairKey 无序交易对键
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// CheckCorrelationRisk 相关性敞口检查
// 统计与候选交易对高度相关的已有持仓数量, 达到上限则拒绝
func (m *Manager) CheckCorrelationRisk(ctx context.Context, candidate string) bool {
	open := m.All()
	if len(open) == 0 {
		return true
	}

	m.corrMu.Lock()
	defer m.corrMu.Unlock()

	ttl := time.Duration(m.cfg.PositionManagement.CorrelationCacheTTL) * time.Second
	if time.Since(m.corrUpdated) > ttl {
		symbols := make([]string, 0, len(open)+1)
		symbols = append(symbols, candidate)
		for _, pos := range open {
			if pos.Symbol != candidate {
				symbols = append(symbols, pos.Symbol)
			}
		}
		if err := m.refreshCorrelationsLocked(ctx, symbols); err != nil {
			logger.Warn("⚠️ 相关性计算失败, 拒绝开仓 %s: %v", candidate, err)
			return false
		}
	}

	threshold := m.cfg.PositionManagement.HighCorrelationThreshold
	count := 0
	for _, pos := range open {
		if pos.Symbol == candidate {
			continue
		}
		if corr, ok := m.corrs[pairKey(candidate, pos.Symbol)]; ok && math.Abs(corr) > threshold {
			count++
		}
	}

	if count >= m.cfg.PositionManagement.MaxCorrelationExposure {
		logger.Warn("⚠️ %s 与 %d 个持仓高度相关(上限 %d), 拒绝开仓",
			candidate, count, m.cfg.PositionManagement.MaxCorrelationExposure)
		return false
	}
	return true
}

// refreshCorrelationsLocked 整表重算相关性缓存
// 必须持有 corrMu, 新表构建完成后一次性替换, 缓存不会部分过期
func (m *Manager) refreshCorrelationsLocked(ctx context.Context, symbols []string) error {
	period := m.cfg.PositionManagement.CorrelationPeriod
	returns := make(map[string][]float64, len(symbols))

	for _, symbol := range symbols {
		candles, err := m.exchange.FetchOHLCV(ctx, symbol, "1d", period+1)
		if err != nil {
			logger.Debug("获取 %s 日线失败, 跳过相关性: %v", symbol, err)
			continue
		}
		if len(candles) < 2 {
			continue
		}
		rs := make([]float64, 0, len(candles)-1)
		for i := 1; i < len(candles); i++ {
			if candles[i-1].Close == 0 {
				continue
			}
			rs = append(rs, candles[i].Close/candles[i-1].Close-1)
		}
		returns[symbol] = rs
	}

	fresh := make(map[string]float64)
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			a, okA := returns[symbols[i]]
			b, okB := returns[symbols[j]]
			if !okA || !okB {
				continue
			}
			fresh[pairKey(symbols[i], symbols[j])] = pearson(a, b)
		}
	}

	m.corrs = fresh
	m.corrUpdated = time.Now()
	logger.Debug("🔄 相关性缓存已刷新, %d 对", len(fresh))
	return nil
}

// Correlation 读取一对交易对的缓存相关系数
func (m *Manager) Correlation(a, b string) (float64, bool) {
	m.corrMu.Lock()
	defer m.corrMu.Unlock()
	corr, ok := m.corrs[pairKey(a, b)]
	return corr, ok
}

// pearson 皮尔逊相关系数, 序列按较短一方对齐
func pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a, b = a[len(a)-n:], b[len(b)-n:]

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/float64(n), sumB/float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
