package session

import (
	"context"
	"log/slog"

	xerrors "NegoChain/internal/errors"
	"NegoChain/internal/ledger"
	"NegoChain/internal/market"
	"NegoChain/internal/negotiation"
	"NegoChain/pkg/logger"
)

// Executor 定义了处理器执行一次谈判所需的能力。
type Executor interface {
	Execute(ctx context.Context, sess *Session) (*ExecutionResult, error)
}

// Negotiator 是默认的 Executor 实现：注入行情信号、驱动谈判引擎、
// 计算协议指纹并在可用时完成链上登记。
type Negotiator struct {
	provider market.Provider
	recorder ledger.Recorder
}

// NegotiatorOption 定义可选配置。
type NegotiatorOption func(*Negotiator)

// WithMarketProvider 指定行情来源。
func WithMarketProvider(provider market.Provider) NegotiatorOption {
	return func(n *Negotiator) {
		n.provider = provider
	}
}

// WithLedgerRecorder 指定链上登记客户端。
func WithLedgerRecorder(recorder ledger.Recorder) NegotiatorOption {
	return func(n *Negotiator) {
		n.recorder = recorder
	}
}

// NewNegotiator 构造 Negotiator。
func NewNegotiator(opts ...NegotiatorOption) *Negotiator {
	n := &Negotiator{}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// Execute 运行一次完整的谈判并返回全部产物。行情不可用时降级为
// 无行情模式继续谈判；链上登记失败不影响谈判结果本身。
func (n *Negotiator) Execute(ctx context.Context, sess *Session) (*ExecutionResult, error) {
	if sess == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "session 不能为空")
	}

	cfg := sess.Config
	var marketPrice *float64
	if cfg.Market == nil && sess.MarketSymbol != "" && n.provider != nil {
		quote, err := n.provider.Price(ctx, sess.MarketSymbol, market.AssetType(sess.MarketAssetType))
		if err != nil {
			logger.L().Warn("获取行情失败，降级为无行情谈判",
				slog.Any("error", err),
				slog.String("session_id", sess.ID),
				slog.String("symbol", sess.MarketSymbol),
			)
		} else {
			cfg.Market = &negotiation.MarketSignal{
				ReferencePrice: quote.Price,
				Trend:          trendFromChange(quote.Change),
			}
			price := quote.Price
			marketPrice = &price
		}
	} else if cfg.Market != nil {
		price := cfg.Market.ReferencePrice
		marketPrice = &price
	}

	engine, err := negotiation.New(cfg)
	if err != nil {
		return nil, err
	}
	result, err := engine.Run(ctx)
	if err != nil {
		return nil, err
	}

	record := &ExecutionResult{
		Timeline:    result.Timeline,
		Outcome:     result.Outcome,
		MarketPrice: marketPrice,
	}
	if result.Outcome.Kind != negotiation.OutcomeAgreement {
		return record, nil
	}

	agreement := ledger.AgreementRecord{
		SessionID: sess.ID,
		Buyer:     sess.BuyerAddress,
		Seller:    sess.SellerAddress,
		Price:     result.Outcome.Price,
		Quantity:  result.Outcome.Quantity,
		Escrow:    true,
	}
	record.AgreementHash = ledger.AgreementHash(agreement)

	if n.recorder != nil {
		receipt, recErr := n.recorder.Record(ctx, agreement)
		if recErr != nil {
			logger.L().Error("链上登记协议失败",
				slog.Any("error", recErr),
				slog.String("session_id", sess.ID),
				slog.String("agreement_hash", record.AgreementHash),
			)
		} else if receipt != nil {
			record.ChainTxHash = receipt.TxHash
			record.ChainBlock = receipt.BlockNumber
		}
	}
	return record, nil
}

func trendFromChange(change float64) negotiation.Trend {
	switch {
	case change > 0:
		return negotiation.TrendUp
	case change < 0:
		return negotiation.TrendDown
	default:
		return negotiation.TrendFlat
	}
}

var _ Executor = (*Negotiator)(nil)
