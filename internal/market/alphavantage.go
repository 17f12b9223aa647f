package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	xerrors "NegoChain/internal/errors"
)

const (
	defaultBaseURL  = "https://www.alphavantage.co/query"
	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = 60 * time.Second
)

// AlphaVantageConfig 描述调用 AlphaVantage 行情接口所需的信息。
type AlphaVantageConfig struct {
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// AlphaVantageClient 通过 HTTP 调用 AlphaVantage 的免费行情接口。
// 报价按 symbol+assetType 维度缓存，避免触发上游的调用频率限制。
type AlphaVantageClient struct {
	apiKey     string
	baseURL    string
	cacheTTL   time.Duration
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cachedQuote
}

type cachedQuote struct {
	quote   Quote
	fetched time.Time
}

// NewAlphaVantageClient 根据配置创建行情客户端。
func NewAlphaVantageClient(cfg AlphaVantageConfig) (*AlphaVantageClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供 AlphaVantage API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}

	return &AlphaVantageClient{
		apiKey:   apiKey,
		baseURL:  baseURL,
		cacheTTL: cacheTTL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache: make(map[string]cachedQuote),
	}, nil
}

// Price 实现 Provider 接口。
func (c *AlphaVantageClient) Price(ctx context.Context, symbol string, assetType AssetType) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, xerrors.New(CodeMarketBadSymbol, "行情标的不能为空")
	}
	if !IsValidAssetType(assetType) {
		return nil, xerrors.New(CodeMarketBadSymbol, fmt.Sprintf("不支持的标的类别: %s", assetType))
	}

	cacheKey := symbol + "_" + string(assetType)
	c.mu.Lock()
	if entry, ok := c.cache[cacheKey]; ok && time.Since(entry.fetched) < c.cacheTTL {
		quote := entry.quote
		c.mu.Unlock()
		return &quote, nil
	}
	c.mu.Unlock()

	var quote *Quote
	var err error
	switch assetType {
	case AssetStock:
		quote, err = c.fetchStock(ctx, symbol)
	case AssetCrypto:
		quote, err = c.fetchExchangeRate(ctx, symbol, symbol, "USD", AssetCrypto)
	case AssetForex:
		if len(symbol) != 6 {
			return nil, xerrors.New(CodeMarketBadSymbol, "外汇标的必须是 6 个字符，例如 EURUSD")
		}
		quote, err = c.fetchExchangeRate(ctx, symbol, symbol[:3], symbol[3:], AssetForex)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[cacheKey] = cachedQuote{quote: *quote, fetched: time.Now()}
	c.mu.Unlock()
	return quote, nil
}

func (c *AlphaVantageClient) fetchStock(ctx context.Context, symbol string) (*Quote, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)
	params.Set("apikey", c.apiKey)

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		GlobalQuote struct {
			Price  string `json:"05. price"`
			Change string `json:"09. change"`
		} `json:"Global Quote"`
		Note string `json:"Note"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, xerrors.Wrap(CodeMarketUnavailable, err, "解析 AlphaVantage 股票行情失败")
	}
	if decoded.GlobalQuote.Price == "" {
		return nil, xerrors.New(CodeMarketUnavailable, fmt.Sprintf("AlphaVantage 未返回 %s 的股票行情: %s", symbol, decoded.Note))
	}

	price, err := strconv.ParseFloat(decoded.GlobalQuote.Price, 64)
	if err != nil {
		return nil, xerrors.Wrap(CodeMarketUnavailable, err, "解析股票价格失败")
	}
	change := 0.0
	if decoded.GlobalQuote.Change != "" {
		change, _ = strconv.ParseFloat(decoded.GlobalQuote.Change, 64)
	}

	return &Quote{
		Symbol:    symbol,
		AssetType: AssetStock,
		Price:     price,
		Change:    change,
		Source:    "alphavantage",
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (c *AlphaVantageClient) fetchExchangeRate(ctx context.Context, symbol, from, to string, assetType AssetType) (*Quote, error) {
	params := url.Values{}
	params.Set("function", "CURRENCY_EXCHANGE_RATE")
	params.Set("from_currency", from)
	params.Set("to_currency", to)
	params.Set("apikey", c.apiKey)

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Rate struct {
			ExchangeRate string `json:"5. Exchange Rate"`
		} `json:"Realtime Currency Exchange Rate"`
		Note string `json:"Note"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, xerrors.Wrap(CodeMarketUnavailable, err, "解析 AlphaVantage 汇率行情失败")
	}
	if decoded.Rate.ExchangeRate == "" {
		return nil, xerrors.New(CodeMarketUnavailable, fmt.Sprintf("AlphaVantage 未返回 %s 的汇率行情: %s", symbol, decoded.Note))
	}

	price, err := strconv.ParseFloat(decoded.Rate.ExchangeRate, 64)
	if err != nil {
		return nil, xerrors.Wrap(CodeMarketUnavailable, err, "解析汇率价格失败")
	}

	return &Quote{
		Symbol:    symbol,
		AssetType: assetType,
		Price:     price,
		Source:    "alphavantage",
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (c *AlphaVantageClient) get(ctx context.Context, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, xerrors.Wrap(CodeMarketUnavailable, err, "构建 AlphaVantage 请求失败")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(CodeMarketUnavailable, err, "请求 AlphaVantage 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(CodeMarketUnavailable,
			fmt.Sprintf("AlphaVantage 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, xerrors.Wrap(CodeMarketUnavailable, err, "读取 AlphaVantage 响应失败")
	}
	return body, nil
}

var _ Provider = (*AlphaVantageClient)(nil)
