package negochain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the NegoChain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// PriceBounds delimits the acceptable price range of one party.
type PriceBounds struct {
	Min float64 `json:"min_price"`
	Max float64 `json:"max_price"`
}

// SessionConfig mirrors the negotiation parameters accepted by the server.
// Zero values are filled with server side defaults.
type SessionConfig struct {
	BuyerBounds          PriceBounds `json:"buyer_bounds"`
	SellerBounds         PriceBounds `json:"seller_bounds"`
	BuyerTarget          float64     `json:"buyer_target"`
	SellerTarget         float64     `json:"seller_target"`
	Quantity             int         `json:"quantity,omitempty"`
	MaxRounds            int         `json:"max_rounds,omitempty"`
	ConcessionRate       float64     `json:"concession_rate,omitempty"`
	FairnessWeight       float64     `json:"fairness_weight,omitempty"`
	// Aggressiveness 为 nil 时由服务端填默认值；显式的 0 会原样生效。
	Aggressiveness       *float64    `json:"aggressiveness,omitempty"`
	UseTheoryOfMind      bool        `json:"use_theory_of_mind,omitempty"`
	ConvergenceThreshold float64     `json:"convergence_threshold,omitempty"`
	FairnessTarget       float64     `json:"fairness_target,omitempty"`
}

// SessionRequest is the payload required to create a negotiation session.
type SessionRequest struct {
	ID              string        `json:"id,omitempty"`
	BuyerAddress    string        `json:"buyer_address"`
	SellerAddress   string        `json:"seller_address"`
	Config          SessionConfig `json:"config"`
	MarketSymbol    string        `json:"market_symbol,omitempty"`
	MarketAssetType string        `json:"market_asset_type,omitempty"`
}

// Belief is the server's inferred model of one party's opponent.
type Belief struct {
	TargetPriceEstimate    *float64 `json:"target_price_estimate,omitempty"`
	ConcessionRateEstimate *float64 `json:"concession_rate_estimate,omitempty"`
	Strategy               string   `json:"strategy_label"`
	Patience               float64  `json:"patience_estimate"`
	Observed               int      `json:"rounds_observed"`
}

// Round captures one exchange of offers in the session timeline.
type Round struct {
	Number               int      `json:"round"`
	BuyerOffer           float64  `json:"buyer_offer"`
	SellerOffer          float64  `json:"seller_offer"`
	BuyerUtility         float64  `json:"buyer_utility"`
	SellerUtility        float64  `json:"seller_utility"`
	SimpleFairness       float64  `json:"simple_fairness"`
	ProportionalFairness *float64 `json:"proportional_fairness,omitempty"`
	BuyerExplanation     string   `json:"buyer_explanation"`
	SellerExplanation    string   `json:"seller_explanation"`
	BuyerBelief          *Belief  `json:"buyer_belief,omitempty"`
	SellerBelief         *Belief  `json:"seller_belief,omitempty"`
	MarketPrice          *float64 `json:"market_price,omitempty"`
}

// Outcome summarises how a finished negotiation ended.
type Outcome struct {
	Kind                 string   `json:"kind"`
	Price                float64  `json:"price,omitempty"`
	Quantity             int      `json:"quantity,omitempty"`
	Reason               string   `json:"reason,omitempty"`
	Rounds               int      `json:"rounds"`
	BuyerUtility         float64  `json:"buyer_utility,omitempty"`
	SellerUtility        float64  `json:"seller_utility,omitempty"`
	SimpleFairness       float64  `json:"simple_fairness,omitempty"`
	ProportionalFairness *float64 `json:"proportional_fairness,omitempty"`
}

// Session is the server side view of a negotiation session.
type Session struct {
	ID              string        `json:"id"`
	BuyerAddress    string        `json:"buyer_address"`
	SellerAddress   string        `json:"seller_address"`
	Config          SessionConfig `json:"config"`
	MarketSymbol    string        `json:"market_symbol,omitempty"`
	MarketAssetType string        `json:"market_asset_type,omitempty"`
	MarketPrice     *float64      `json:"market_price,omitempty"`
	Status          string        `json:"status"`
	Timeline        []Round       `json:"timeline,omitempty"`
	Outcome         *Outcome      `json:"outcome,omitempty"`
	AgreementHash   string        `json:"agreement_hash,omitempty"`
	ChainTxHash     string        `json:"chain_tx_hash,omitempty"`
	ChainBlock      string        `json:"chain_block,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	ErrorCode       string        `json:"error_code,omitempty"`
	CreatedAt       int64         `json:"created_at"`
	UpdatedAt       int64         `json:"updated_at"`
}

// Stats aggregates session counts by status.
type Stats struct {
	Total           int   `json:"total"`
	Open            int   `json:"open"`
	Running         int   `json:"running"`
	Finalized       int   `json:"finalized"`
	Exhausted       int   `json:"exhausted"`
	Recorded        int   `json:"recorded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at"`
	NewestUpdatedAt int64 `json:"newest_updated_at"`
}

// Quote is a market price observation returned by the server.
type Quote struct {
	Symbol    string    `json:"symbol"`
	AssetType string    `json:"asset_type"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change,omitempty"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("negochain api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("negochain api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the NegoChain API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey stores an access key sent as a bearer token on every request.
// Leave it empty against servers with authentication disabled.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// APIKey returns the currently stored access key.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// CreateSession registers a new negotiation session without executing it.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	var sess Session
	if err := c.post(ctx, "/api/v1/sessions", req, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// GetSession fetches the current state of a session by identifier.
func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	if err := c.get(ctx, "/api/v1/sessions/"+url.PathEscape(id), &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// RunSession executes the negotiation synchronously and returns the finished
// session. Running an already finished session returns its stored result.
func (c *Client) RunSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	if err := c.post(ctx, "/api/v1/sessions/"+url.PathEscape(id)+"/run", nil, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// SubmitSession enqueues the session for asynchronous execution by the
// server's worker pool.
func (c *Client) SubmitSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	if err := c.post(ctx, "/api/v1/sessions/"+url.PathEscape(id)+"/submit", nil, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Timeline returns the per-round offer history of a finished session.
func (c *Client) Timeline(ctx context.Context, id string) ([]Round, error) {
	var rounds []Round
	if err := c.get(ctx, "/api/v1/sessions/"+url.PathEscape(id)+"/timeline", &rounds); err != nil {
		return nil, err
	}
	return rounds, nil
}

// ListSessions returns sessions ordered most recently updated first.
// The options map directly onto the list endpoint's query parameters.
func (c *Client) ListSessions(ctx context.Context, opts ListOptions) ([]Session, error) {
	var sessions []Session
	if err := c.get(ctx, "/api/v1/sessions"+opts.query(), &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Stats returns aggregate session counts, optionally filtered.
func (c *Client) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/sessions/stats"+opts.query(), &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// MarketPrice asks the server for a quote through its configured provider.
// assetType may be empty, in which case the server assumes a stock symbol.
func (c *Client) MarketPrice(ctx context.Context, symbol, assetType string) (Quote, error) {
	values := url.Values{}
	values.Set("symbol", symbol)
	if assetType != "" {
		values.Set("asset_type", assetType)
	}
	var quote Quote
	if err := c.get(ctx, "/api/v1/market/price?"+values.Encode(), &quote); err != nil {
		return Quote{}, err
	}
	return quote, nil
}

// ListOptions filters list and stats calls. The zero value applies no filter.
type ListOptions struct {
	Limit    int
	Statuses []string
	// Ascending orders results oldest update first.
	Ascending bool
}

func (o ListOptions) query() string {
	values := url.Values{}
	if o.Limit > 0 {
		values.Set("limit", fmt.Sprintf("%d", o.Limit))
	}
	if len(o.Statuses) > 0 {
		joined := ""
		for i, status := range o.Statuses {
			if i > 0 {
				joined += ","
			}
			joined += status
		}
		values.Set("status", joined)
	}
	if o.Ascending {
		values.Set("order", "asc")
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if key := c.APIKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
