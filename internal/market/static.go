package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	xerrors "NegoChain/internal/errors"
)

// StaticProvider 返回固定报价，用于测试与离线部署。
type StaticProvider struct {
	mu     sync.RWMutex
	quotes map[string]float64
}

// NewStaticProvider 创建静态行情源。
func NewStaticProvider(quotes map[string]float64) *StaticProvider {
	normalized := make(map[string]float64, len(quotes))
	for symbol, price := range quotes {
		normalized[strings.ToUpper(strings.TrimSpace(symbol))] = price
	}
	return &StaticProvider{quotes: normalized}
}

// Set 更新指定标的的固定报价。
func (p *StaticProvider) Set(symbol string, price float64) {
	p.mu.Lock()
	p.quotes[strings.ToUpper(strings.TrimSpace(symbol))] = price
	p.mu.Unlock()
}

// Price 实现 Provider 接口。
func (p *StaticProvider) Price(_ context.Context, symbol string, assetType AssetType) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, xerrors.New(CodeMarketBadSymbol, "行情标的不能为空")
	}
	if !IsValidAssetType(assetType) {
		return nil, xerrors.New(CodeMarketBadSymbol, fmt.Sprintf("不支持的标的类别: %s", assetType))
	}
	p.mu.RLock()
	price, ok := p.quotes[symbol]
	p.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(CodeMarketUnavailable, fmt.Sprintf("静态行情缺少标的 %s", symbol))
	}
	return &Quote{
		Symbol:    symbol,
		AssetType: assetType,
		Price:     price,
		Source:    "static",
		FetchedAt: time.Now().UTC(),
	}, nil
}

var _ Provider = (*StaticProvider)(nil)
