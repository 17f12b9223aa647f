package negotiation

import (
	"context"
	"math"

	xerrors "NegoChain/internal/errors"
)

// State 表示谈判状态机所处的阶段。
type State string

const (
	StateInitialized State = "initialized"
	StateProposing   State = "proposing"
	StateFinalized   State = "finalized"
	StateExhausted   State = "exhausted"
)

// Result 汇总一次谈判的完整时间线与终局。
type Result struct {
	Timeline []Round `json:"timeline"`
	Outcome  Outcome `json:"outcome"`
}

// Engine 驱动一次完整的双边谈判。每个 Engine 只服务一个会话，内部
// 状态不与其他会话共享，多个会话可以并发运行各自的引擎。
type Engine struct {
	cfg           Config
	buyer         *AgentState
	seller        *AgentState
	fairnessPrice float64
	refWidth      float64
	timeline      []Round
	state         State
	outcome       *Outcome
}

// New 校验配置并构造谈判引擎。配置非法时返回 CodeConfigInvalid，
// 不会产生任何部分执行的谈判。
func New(cfg Config) (*Engine, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	buyer := &AgentState{
		Role:           RoleBuyer,
		TargetPrice:    cfg.BuyerTarget,
		Bounds:         cfg.BuyerBounds,
		ConcessionRate: cfg.ConcessionRate,
		FairnessWeight: cfg.FairnessWeight,
		Aggressiveness: *cfg.Aggressiveness,
	}
	seller := &AgentState{
		Role:           RoleSeller,
		TargetPrice:    cfg.SellerTarget,
		Bounds:         cfg.SellerBounds,
		ConcessionRate: cfg.ConcessionRate,
		FairnessWeight: cfg.FairnessWeight,
		Aggressiveness: *cfg.Aggressiveness,
	}

	refMin := math.Min(cfg.BuyerBounds.Min, cfg.SellerBounds.Min)
	refMax := math.Max(cfg.BuyerBounds.Max, cfg.SellerBounds.Max)

	return &Engine{
		cfg:           cfg,
		buyer:         buyer,
		seller:        seller,
		fairnessPrice: FairnessPrice(cfg.BuyerBounds, cfg.SellerBounds),
		refWidth:      refMax - refMin,
		state:         StateInitialized,
	}, nil
}

// Config 返回引擎实际使用的（已填充默认值的）配置。
func (e *Engine) Config() Config {
	return e.cfg
}

// State 返回状态机当前所处的阶段。
func (e *Engine) State() State {
	return e.state
}

// Done 判断谈判是否已经终结。
func (e *Engine) Done() bool {
	return e.state == StateFinalized || e.state == StateExhausted
}

// Timeline 返回时间线的只读快照，谈判进行中也可以调用。
func (e *Engine) Timeline() []Round {
	out := make([]Round, len(e.timeline))
	copy(out, e.timeline)
	return out
}

// Outcome 返回终局结果。谈判尚未结束时第二个返回值为 false。
func (e *Engine) Outcome() (Outcome, bool) {
	if e.outcome == nil {
		return Outcome{}, false
	}
	return *e.outcome, true
}

// Run 执行状态机直到 Finalized 或 Exhausted。对已终结的引擎重复调用
// 直接返回缓存结果，不会重放任何轮次。上下文取消时停止推进后续轮次，
// 已写入的轮次保持完整。
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	for !e.Done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := e.playRound(); err != nil {
			return nil, err
		}
	}
	return &Result{Timeline: e.Timeline(), Outcome: *e.outcome}, nil
}

// playRound 完整执行一轮：同时报价、评分、更新信念、生成解释、
// 追加轮次记录并检查终止条件。一轮只会被计算一次，要么整轮写入，
// 要么完全不产生记录。
func (e *Engine) playRound() (Round, error) {
	if e.Done() {
		return Round{}, xerrors.New(CodeState, "谈判已经终结，无法继续推进轮次")
	}
	e.state = StateProposing
	number := len(e.timeline) + 1

	// 同时报价语义：双方只能看到上一轮为止的报价。
	var oppForBuyer, oppForSeller, prevBuyer, prevSeller *float64
	if v, ok := e.seller.LastOffer(); ok {
		s := v
		oppForBuyer, prevSeller = &s, &s
	}
	if v, ok := e.buyer.LastOffer(); ok {
		b := v
		oppForSeller, prevBuyer = &b, &b
	}

	buyerPrice, buyerTrace := e.buyer.propose(oppForBuyer, e.fairnessPrice, e.cfg.Market)
	sellerPrice, sellerTrace := e.seller.propose(oppForSeller, e.fairnessPrice, e.cfg.Market)
	e.buyer.recordOffer(buyerPrice)
	e.seller.recordOffer(sellerPrice)

	buyerUtility, err := Utility(RoleBuyer, buyerPrice, e.buyer.Bounds)
	if err != nil {
		return Round{}, err
	}
	sellerUtility, err := Utility(RoleSeller, sellerPrice, e.seller.Bounds)
	if err != nil {
		return Round{}, err
	}

	fairness := SimpleFairness(buyerUtility, sellerUtility)
	var proportional *float64
	if v, propErr := ProportionalFairness(buyerUtility, sellerUtility); propErr == nil {
		proportional = &v
	}
	// 非正效用导致的定义域错误用 nil 哨兵记录，不中断谈判。

	// 信念更新只消费刚刚公开的对手报价，影响的是下一轮的策略。
	if e.cfg.UseTheoryOfMind {
		buyerView := InferBelief(RoleSeller, e.seller.Offers(), e.seller.Bounds)
		sellerView := InferBelief(RoleBuyer, e.buyer.Offers(), e.buyer.Bounds)
		e.buyer.Belief = &buyerView
		e.seller.Belief = &sellerView
	}

	round := Round{
		Number:               number,
		BuyerOffer:           buyerPrice,
		SellerOffer:          sellerPrice,
		BuyerUtility:         buyerUtility,
		SellerUtility:        sellerUtility,
		SimpleFairness:       fairness,
		ProportionalFairness: proportional,
		BuyerExplanation:     explainOffer(RoleBuyer, buyerPrice, prevBuyer, buyerTrace, e.cfg.Market),
		SellerExplanation:    explainOffer(RoleSeller, sellerPrice, prevSeller, sellerTrace, e.cfg.Market),
		BuyerBelief:          e.buyer.Belief,
		SellerBelief:         e.seller.Belief,
	}
	if e.cfg.Market != nil {
		price := e.cfg.Market.ReferencePrice
		round.MarketPrice = &price
	}
	e.timeline = append(e.timeline, round)

	gap := math.Abs(buyerPrice - sellerPrice)
	switch {
	case gap <= e.cfg.ConvergenceThreshold:
		e.finalize(round)
	case fairness >= e.cfg.FairnessTarget && gap <= fairnessGapRatio*e.refWidth:
		// 公平度条件只在双方报价已经足够接近时生效，否则对称的开价
		// 会在第一轮就制造出一个虚假的"公平成交"。
		e.finalize(round)
	case number >= e.cfg.MaxRounds:
		e.exhaust(number)
	default:
		e.state = StateProposing
	}
	return round, nil
}

// finalize 以最后一轮两个报价的中点作为成交价。取中点而非精确相等点，
// 是因为终止多由阈值而非严格相等触发。
func (e *Engine) finalize(last Round) {
	price := (last.BuyerOffer + last.SellerOffer) / 2.0
	// Utility 只在角色未知或区间宽度为零时报错，两者都被 Validate 挡在
	// 构造阶段，这里不会出现。
	buyerUtility, _ := Utility(RoleBuyer, price, e.buyer.Bounds)
	sellerUtility, _ := Utility(RoleSeller, price, e.seller.Bounds)

	outcome := &Outcome{
		Kind:           OutcomeAgreement,
		Price:          price,
		Quantity:       e.cfg.Quantity,
		Rounds:         last.Number,
		BuyerUtility:   buyerUtility,
		SellerUtility:  sellerUtility,
		SimpleFairness: SimpleFairness(buyerUtility, sellerUtility),
	}
	if v, err := ProportionalFairness(buyerUtility, sellerUtility); err == nil {
		outcome.ProportionalFairness = &v
	}
	e.outcome = outcome
	e.state = StateFinalized
}

// exhaust 在轮数耗尽且未满足成交条件时产生无成交终局。这是正常的
// 终止路径，不作为错误处理。
func (e *Engine) exhaust(rounds int) {
	e.outcome = &Outcome{
		Kind:   OutcomeNoDeal,
		Reason: NoDealMaxRounds,
		Rounds: rounds,
	}
	e.state = StateExhausted
}
