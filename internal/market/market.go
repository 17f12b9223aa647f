package market

import (
	"context"
	"time"

	xerrors "NegoChain/internal/errors"
)

// AssetType 表示行情标的的类别。
type AssetType string

const (
	AssetStock  AssetType = "stock"
	AssetCrypto AssetType = "crypto"
	AssetForex  AssetType = "forex"
)

// IsValidAssetType 检查标的类别是否受支持。
func IsValidAssetType(assetType AssetType) bool {
	switch assetType {
	case AssetStock, AssetCrypto, AssetForex:
		return true
	default:
		return false
	}
}

// Quote 描述一次行情查询的结果。
type Quote struct {
	Symbol    string    `json:"symbol"`
	AssetType AssetType `json:"asset_type"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change,omitempty"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Provider 抽象行情来源。实现必须在无法取得报价时返回带
// CodeMarketUnavailable 的错误，谈判流程据此决定是否降级为无行情模式。
type Provider interface {
	Price(ctx context.Context, symbol string, assetType AssetType) (*Quote, error)
}

const (
	// CodeMarketUnavailable 表示上游行情源暂时不可用。
	CodeMarketUnavailable xerrors.Code = "MARKET_UNAVAILABLE"
	// CodeMarketBadSymbol 表示标的符号或类别不合法。
	CodeMarketBadSymbol xerrors.Code = "MARKET_BAD_SYMBOL"
)

func init() {
	xerrors.Register(CodeMarketUnavailable, xerrors.Attributes{
		Message:   "market data source unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeMarketBadSymbol, xerrors.Attributes{
		Message:   "invalid market symbol",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}
