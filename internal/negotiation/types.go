package negotiation

import (
	"fmt"

	xerrors "NegoChain/internal/errors"
)

// Role 表示谈判参与方的角色。角色在智能体的生命周期内不可变。
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Trend 表示市场参考价格的走势方向。
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

const (
	// CodeConfigInvalid 表示谈判配置不合法，会在会话创建前被拒绝。
	CodeConfigInvalid xerrors.Code = "NEGOTIATION_CONFIG_INVALID"
	// CodeDomain 表示评分计算超出了数学定义域（例如对非正效用取对数）。
	CodeDomain xerrors.Code = "NEGOTIATION_DOMAIN"
	// CodeState 表示在错误的状态下请求了某个操作。
	CodeState xerrors.Code = "NEGOTIATION_STATE_INVALID"
)

func init() {
	xerrors.Register(CodeConfigInvalid, xerrors.Attributes{
		Message:   "invalid negotiation config",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDomain, xerrors.Attributes{
		Message:   "score outside mathematical domain",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeState, xerrors.Attributes{
		Message:   "operation not allowed in current state",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// PriceBounds 描述角色效用归一化所依据的价格区间。
type PriceBounds struct {
	Min float64 `json:"min_price"`
	Max float64 `json:"max_price"`
}

// Width 返回区间宽度。
func (b PriceBounds) Width() float64 {
	return b.Max - b.Min
}

// Validate 检查区间是否构成一个合法的非零宽度范围。
func (b PriceBounds) Validate() error {
	if b.Min >= b.Max {
		return xerrors.New(CodeConfigInvalid, fmt.Sprintf("价格区间不合法: min=%.2f >= max=%.2f", b.Min, b.Max))
	}
	return nil
}

// Clamp 将价格收敛到区间内。
func (b PriceBounds) Clamp(price float64) float64 {
	if price < b.Min {
		return b.Min
	}
	if price > b.Max {
		return b.Max
	}
	return price
}

// StrategyLabel 是对对手让步风格的分类结果。
type StrategyLabel string

const (
	StrategyCooperative StrategyLabel = "cooperative"
	StrategyModerate    StrategyLabel = "moderate"
	StrategyStubborn    StrategyLabel = "stubborn"
	StrategyUnknown     StrategyLabel = "unknown"
)

// OpponentBelief 保存根据对手历史报价推断出的信念。信念完全由观测序列
// 重算得到，不做增量合并，因此对同一份历史是幂等的。
type OpponentBelief struct {
	TargetPriceEstimate    *float64      `json:"target_price_estimate,omitempty"`
	ConcessionRateEstimate *float64      `json:"concession_rate_estimate,omitempty"`
	Strategy               StrategyLabel `json:"strategy_label"`
	Patience               float64       `json:"patience_estimate"`
	Observed               int           `json:"rounds_observed"`
}

// Confident 判断信念是否已经积累了足够的观测可以用于决策。
func (b OpponentBelief) Confident() bool {
	return b.Strategy != StrategyUnknown && b.ConcessionRateEstimate != nil
}

// MarketSignal 是谈判开始前注入的一次性市场参考信号。引擎内部不做任何
// 行情拉取，信号缺失时市场整合被完全跳过。
type MarketSignal struct {
	ReferencePrice float64 `json:"reference_price"`
	Trend          Trend   `json:"trend"`
}

// AgentState 是单个谈判智能体的全部私有状态。
type AgentState struct {
	Role           Role
	TargetPrice    float64
	Bounds         PriceBounds
	ConcessionRate float64
	FairnessWeight float64
	Aggressiveness float64
	Belief         *OpponentBelief

	offers []float64
}

// LastOffer 返回智能体自己的最近一次报价。第一轮之前返回 false。
func (a *AgentState) LastOffer() (float64, bool) {
	if len(a.offers) == 0 {
		return 0, false
	}
	return a.offers[len(a.offers)-1], true
}

// Offers 返回智能体自己的报价历史副本。
func (a *AgentState) Offers() []float64 {
	out := make([]float64, len(a.offers))
	copy(out, a.offers)
	return out
}

func (a *AgentState) recordOffer(price float64) {
	a.offers = append(a.offers, price)
}

// Round 记录一轮同时报价及其派生评分，写入后不可变。
type Round struct {
	Number               int             `json:"round"`
	BuyerOffer           float64         `json:"buyer_offer"`
	SellerOffer          float64         `json:"seller_offer"`
	BuyerUtility         float64         `json:"buyer_utility"`
	SellerUtility        float64         `json:"seller_utility"`
	SimpleFairness       float64         `json:"simple_fairness"`
	ProportionalFairness *float64        `json:"proportional_fairness,omitempty"`
	BuyerExplanation     string          `json:"buyer_explanation"`
	SellerExplanation    string          `json:"seller_explanation"`
	BuyerBelief          *OpponentBelief `json:"buyer_belief,omitempty"`
	SellerBelief         *OpponentBelief `json:"seller_belief,omitempty"`
	MarketPrice          *float64        `json:"market_price,omitempty"`
}

// OutcomeKind 区分谈判的终局类型。
type OutcomeKind string

const (
	OutcomeAgreement OutcomeKind = "agreement"
	OutcomeNoDeal    OutcomeKind = "no_deal"
)

// NoDealMaxRounds 是轮数耗尽导致无成交时的原因标识。
const NoDealMaxRounds = "max_rounds_exhausted"

// Outcome 是一次谈判的终值，每次谈判只产生一次。
type Outcome struct {
	Kind                 OutcomeKind `json:"kind"`
	Price                float64     `json:"price,omitempty"`
	Quantity             int         `json:"quantity,omitempty"`
	Reason               string      `json:"reason,omitempty"`
	Rounds               int         `json:"rounds"`
	BuyerUtility         float64     `json:"buyer_utility,omitempty"`
	SellerUtility        float64     `json:"seller_utility,omitempty"`
	SimpleFairness       float64     `json:"simple_fairness,omitempty"`
	ProportionalFairness *float64    `json:"proportional_fairness,omitempty"`
}

// Config 汇集一次谈判所需的全部参数。
type Config struct {
	BuyerBounds          PriceBounds   `json:"buyer_bounds"`
	SellerBounds         PriceBounds   `json:"seller_bounds"`
	BuyerTarget          float64       `json:"buyer_target"`
	SellerTarget         float64       `json:"seller_target"`
	Quantity             int           `json:"quantity"`
	MaxRounds            int           `json:"max_rounds"`
	ConcessionRate       float64       `json:"concession_rate"`
	FairnessWeight       float64       `json:"fairness_weight"`
	// Aggressiveness 用指针区分"未配置"与显式的 0：0 是合法取值，
	// 不能在填默认值时被改写。
	Aggressiveness       *float64      `json:"aggressiveness,omitempty"`
	UseTheoryOfMind      bool          `json:"use_theory_of_mind"`
	ConvergenceThreshold float64       `json:"convergence_threshold"`
	FairnessTarget       float64       `json:"fairness_target"`
	Market               *MarketSignal `json:"market,omitempty"`
}

const (
	defaultMaxRounds      = 8
	minRounds             = 6
	maxRounds             = 20
	defaultConcessionRate = 0.05
	minConcessionRate     = 0.01
	maxConcessionRate     = 0.2
	defaultAggressiveness = 0.5
	defaultThreshold      = 1.0
	defaultFairnessTarget = 0.9
)

// Normalize 为未配置的参数填入默认值。显式传入的参数不会被改写，
// 包括合法取值为 0 的 aggressiveness。
func (c *Config) Normalize() {
	if c.MaxRounds == 0 {
		c.MaxRounds = defaultMaxRounds
	}
	if c.ConcessionRate == 0 {
		c.ConcessionRate = defaultConcessionRate
	}
	if c.Aggressiveness == nil {
		v := defaultAggressiveness
		c.Aggressiveness = &v
	}
	if c.ConvergenceThreshold == 0 {
		c.ConvergenceThreshold = defaultThreshold
	}
	if c.FairnessTarget == 0 {
		c.FairnessTarget = defaultFairnessTarget
	}
	if c.Quantity == 0 {
		c.Quantity = 1
	}
}

// Validate 在创建会话前检查所有参数，任何一项越界都会拒绝整个配置，
// 不会触发部分谈判。
func (c Config) Validate() error {
	if err := c.BuyerBounds.Validate(); err != nil {
		return err
	}
	if err := c.SellerBounds.Validate(); err != nil {
		return err
	}
	if c.BuyerTarget < c.BuyerBounds.Min || c.BuyerTarget > c.BuyerBounds.Max {
		return xerrors.New(CodeConfigInvalid, fmt.Sprintf("买方目标价 %.2f 超出区间 [%.2f, %.2f]", c.BuyerTarget, c.BuyerBounds.Min, c.BuyerBounds.Max))
	}
	if c.SellerTarget < c.SellerBounds.Min || c.SellerTarget > c.SellerBounds.Max {
		return xerrors.New(CodeConfigInvalid, fmt.Sprintf("卖方目标价 %.2f 超出区间 [%.2f, %.2f]", c.SellerTarget, c.SellerBounds.Min, c.SellerBounds.Max))
	}
	if c.Quantity < 1 {
		return xerrors.New(CodeConfigInvalid, fmt.Sprintf("数量必须为正整数: %d", c.Quantity))
	}
	if c.MaxRounds < minRounds || c.MaxRounds > maxRounds {
		return xerrors.New(CodeConfigInvalid, fmt.Sprintf("max_rounds 必须在 [%d, %d] 之间: %d", minRounds, maxRounds, c.MaxRounds))
	}
	if c.ConcessionRate < minConcessionRate || c.ConcessionRate > maxConcessionRate {
		return xerrors.New(CodeConfigInvalid, fmt.Sprintf("concession_rate 必须在 [%.2f, %.2f] 之间: %.3f", minConcessionRate, maxConcessionRate, c.ConcessionRate))
	}
	if c.FairnessWeight < 0 || c.FairnessWeight > 1 {
		return xerrors.New(CodeConfigInvalid, fmt.Sprintf("fairness_weight 必须在 [0, 1] 之间: %.3f", c.FairnessWeight))
	}
	if c.Aggressiveness != nil && (*c.Aggressiveness < 0 || *c.Aggressiveness > 1) {
		return xerrors.New(CodeConfigInvalid, fmt.Sprintf("aggressiveness 必须在 [0, 1] 之间: %.3f", *c.Aggressiveness))
	}
	if c.ConvergenceThreshold <= 0 {
		return xerrors.New(CodeConfigInvalid, fmt.Sprintf("convergence_threshold 必须为正数: %.3f", c.ConvergenceThreshold))
	}
	if c.FairnessTarget <= 0 || c.FairnessTarget > 1 {
		return xerrors.New(CodeConfigInvalid, fmt.Sprintf("fairness_target 必须在 (0, 1] 之间: %.3f", c.FairnessTarget))
	}
	if c.Market != nil {
		switch c.Market.Trend {
		case TrendUp, TrendDown, TrendFlat:
		default:
			return xerrors.New(CodeConfigInvalid, fmt.Sprintf("未知的市场趋势: %s", c.Market.Trend))
		}
	}
	return nil
}
