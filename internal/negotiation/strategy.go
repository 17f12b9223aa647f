package negotiation

import "math"

const (
	// stubbornStepFactor/cooperativeStepFactor 根据对手风格缩放让步步长。
	stubbornStepFactor    = 0.5
	cooperativeStepFactor = 1.5
	// minStepFraction 是保底步长比例，确保即使面对顽固对手也能最终收敛。
	minStepFraction = 0.005
	// marketNudgeRatio 限制市场信号对边界的影响幅度，不超过区间宽度的 5%。
	marketNudgeRatio = 0.05
	// fairnessGapRatio 限定公平度终止条件生效时允许的最大报价差距占比。
	fairnessGapRatio = 0.10
)

// proposalTrace 记录一次报价决策中各个因素的实际作用，供解释器复盘。
// 解释器只读取该记录，不会反过来影响价格。
type proposalTrace struct {
	FirstRound        bool
	SelfStep          float64
	FairnessPrice     float64
	FairnessDominated bool
	Belief            *OpponentBelief
	MarketNudged      bool
}

// propose 计算智能体在当前轮的报价。第一轮直接报出目标价；之后每轮
// 以 aggressiveness*concession_rate 的比例向对手上一次报价移动，在启用
// 心智模型时按对手风格放大或收缩步长，再按 fairness_weight 与公平价
// 混合，最后收敛到（可能被市场信号收紧的）价格区间内。
func (a *AgentState) propose(opponentLast *float64, fairnessPrice float64, signal *MarketSignal) (float64, proposalTrace) {
	trace := proposalTrace{Belief: a.Belief, FairnessPrice: fairnessPrice}

	last, ok := a.LastOffer()
	if !ok || opponentLast == nil {
		trace.FirstRound = true
		return a.Bounds.Clamp(a.TargetPrice), trace
	}

	step := a.Aggressiveness * a.ConcessionRate
	if a.Belief != nil && a.Belief.Confident() {
		switch a.Belief.Strategy {
		case StrategyStubborn:
			// 对手让步缓慢时自己也放缓，但保留保底步长避免僵持到底。
			step *= stubbornStepFactor
		case StrategyCooperative:
			step *= cooperativeStepFactor
		}
	}
	if step < minStepFraction {
		step = minStepFraction
	}
	if step > 1 {
		step = 1
	}

	self := last + step*(*opponentLast-last)
	trace.SelfStep = self

	blended := (1-a.FairnessWeight)*self + a.FairnessWeight*fairnessPrice
	trace.FairnessDominated = math.Abs(blended-self) > math.Abs(self-last)

	bounds := a.marketBounds(signal)
	price := bounds.Clamp(blended)
	trace.MarketNudged = price != a.Bounds.Clamp(blended)
	return price, trace
}

// marketBounds 根据市场趋势收紧己方的底线：上涨趋势下卖方抬高地板，
// 下跌趋势下买方压低天花板。调整幅度有硬上限，市场信号只能影响、
// 不能主导谈判价格。
func (a *AgentState) marketBounds(signal *MarketSignal) PriceBounds {
	bounds := a.Bounds
	if signal == nil {
		return bounds
	}
	nudge := marketNudgeRatio * a.Bounds.Width()
	switch {
	case a.Role == RoleSeller && signal.Trend == TrendUp:
		bounds.Min = math.Min(bounds.Min+nudge, bounds.Max)
	case a.Role == RoleBuyer && signal.Trend == TrendDown:
		bounds.Max = math.Max(bounds.Max-nudge, bounds.Min)
	}
	return bounds
}
