package negotiation

import "math"

// 让步速率相对价格区间宽度的分类阈值。
const (
	stubbornRateRatio    = 0.02
	cooperativeRateRatio = 0.10
)

// InferBelief 根据对手已公开的报价序列重算一份对手信念。
// 输入只包含对手自己的报价，推断方自己的报价不参与计算。
// 每轮都基于完整历史从头重算，因此对同一份历史结果完全一致。
func InferBelief(opponent Role, offers []float64, bounds PriceBounds) OpponentBelief {
	belief := OpponentBelief{
		Strategy: StrategyUnknown,
		Patience: 0.5,
		Observed: len(offers),
	}
	if len(offers) < 2 {
		return belief
	}

	rate := concessionRate(opponent, offers)
	belief.ConcessionRateEstimate = &rate
	belief.Strategy = classifyStrategy(rate, bounds.Width())
	belief.Patience = patienceEstimate(offers, bounds.Width())

	if len(offers) >= 3 {
		target := extrapolateTarget(offers)
		belief.TargetPriceEstimate = &target
	}
	return belief
}

// concessionRate 计算相邻报价差的平均值，符号约定为"向成交方向让步为正"：
// 卖方让步表现为报价下降，买方让步表现为报价上升。
func concessionRate(opponent Role, offers []float64) float64 {
	var sum float64
	for i := 0; i+1 < len(offers); i++ {
		delta := offers[i] - offers[i+1]
		if opponent == RoleBuyer {
			delta = -delta
		}
		sum += delta
	}
	return sum / float64(len(offers)-1)
}

func classifyStrategy(rate, width float64) StrategyLabel {
	if width <= 0 {
		return StrategyUnknown
	}
	ratio := rate / width
	switch {
	case ratio < stubbornRateRatio:
		return StrategyStubborn
	case ratio > cooperativeRateRatio:
		return StrategyCooperative
	default:
		return StrategyModerate
	}
}

// extrapolateTarget 对报价序列做最小二乘线性拟合，并沿拟合趋势向前
// 外推一个观测步长，得到对手目标价的估计。
func extrapolateTarget(offers []float64) float64 {
	n := float64(len(offers))
	var sumX, sumY float64
	for i, y := range offers {
		sumX += float64(i)
		sumY += y
	}
	meanX := sumX / n
	meanY := sumY / n

	var cov, variance float64
	for i, y := range offers {
		dx := float64(i) - meanX
		cov += dx * (y - meanY)
		variance += dx * dx
	}
	if variance == 0 {
		return meanY
	}
	slope := cov / variance
	intercept := meanY - slope*meanX
	return intercept + slope*n
}

// patienceEstimate 比较整体移动量与一个"常规让步节奏"的期望移动量，
// 移动越平缓耐心越高，结果限制在 [0,1]。
func patienceEstimate(offers []float64, width float64) float64 {
	steps := float64(len(offers) - 1)
	expected := defaultConcessionRate * width * steps
	if expected <= 0 {
		return 0.5
	}
	movement := math.Abs(offers[len(offers)-1] - offers[0])
	patience := 1.0 - movement/(2.0*expected)
	if patience < 0 {
		return 0
	}
	if patience > 1 {
		return 1
	}
	return patience
}
