package negotiation

import (
	"fmt"
	"math"
)

// explainOffer 根据报价决策实际用到的输入生成一到两句人类可读的理由。
// 理由按固定优先级选择：对手模型 > 公平驱动 > 市场驱动 > 默认让步。
// 解释只描述已经做出的决定，绝不改变价格本身。
func explainOffer(role Role, price float64, previous *float64, trace proposalTrace, signal *MarketSignal) string {
	if trace.FirstRound {
		return fmt.Sprintf("Opening offer at $%.2f, my target price.", price)
	}

	if trace.Belief != nil && trace.Belief.Confident() {
		switch trace.Belief.Strategy {
		case StrategyStubborn:
			return fmt.Sprintf("Opponent is conceding slowly, so I'm holding firm at $%.2f.", price)
		case StrategyCooperative:
			return fmt.Sprintf("Opponent is cooperative, so I'm making a larger concession to $%.2f.", price)
		}
	}

	if trace.FairnessDominated {
		return fmt.Sprintf("Moved to $%.2f, shifting toward the fair split at $%.2f.", price, trace.FairnessPrice)
	}

	if trace.MarketNudged && signal != nil {
		return fmt.Sprintf("Adjusted to $%.2f given the %s market trend around $%.2f.", price, signal.Trend, signal.ReferencePrice)
	}

	if previous != nil && math.Abs(price-*previous) < 1e-9 {
		return fmt.Sprintf("Holding my position at $%.2f.", price)
	}
	return fmt.Sprintf("Conceded to $%.2f to move toward agreement.", price)
}
