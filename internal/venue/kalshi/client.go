// Package kalshi implements the cross-platform counterpart venue. Kalshi
// quotes prices in cents (0-100); this client normalizes everything to
// probabilities in [0,1] so the executor sees identical semantics on both
// venues.
package kalshi

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avivsh/polystrat/internal/venue"
	"github.com/avivsh/polystrat/pkg/ratelimit"
	"github.com/avivsh/polystrat/pkg/types"
)

// Client talks to the Kalshi trade API.
type Client struct {
	http    *resty.Client
	limiter *ratelimit.MultiTierLimiter
	logger  *zap.Logger
	apiKey  string
}

// Config holds Kalshi client configuration.
type Config struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
	Limiter     *ratelimit.MultiTierLimiter
	Logger      *zap.Logger
}

// New creates a Kalshi client.
func New(cfg *Config) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.HTTPTimeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		limiter: cfg.Limiter,
		logger:  cfg.Logger,
		apiKey:  cfg.APIKey,
	}
}

// Name identifies the venue.
func (c *Client) Name() types.Venue { return types.VenueKalshi }

// GetAddress returns the API key id standing in for a wallet address.
func (c *Client) GetAddress() string { return c.apiKey }

// wireMarket is a Kalshi market record.
type wireMarket struct {
	Ticker    string `json:"ticker"`
	Title     string `json:"title"`
	Category  string `json:"category"`
	Status    string `json:"status"`
	CloseTime string `json:"close_time"`
}

type marketsResponse struct {
	Markets []wireMarket `json:"markets"`
}

// GetMarkets lists open markets, normalized to the engine's Market type.
// YES and NO tokens are synthesized as <ticker>:yes / <ticker>:no.
func (c *Client) GetMarkets(ctx context.Context, limit int) ([]types.Market, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	var parsed marketsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"limit":  fmt.Sprintf("%d", limit),
			"status": "open",
		}).
		SetResult(&parsed).
		Get("/markets")
	if err != nil {
		return nil, &types.TransientNetworkError{Op: "kalshi markets", Err: err}
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), resp.String())
	}

	markets := make([]types.Market, 0, len(parsed.Markets))
	for _, wm := range parsed.Markets {
		endDate, _ := time.Parse(time.RFC3339, wm.CloseTime)
		markets = append(markets, types.Market{
			ID:       wm.Ticker,
			Question: wm.Title,
			Slug:     wm.Ticker,
			Category: wm.Category,
			Venue:    types.VenueKalshi,
			Active:   wm.Status == "open" || wm.Status == "active",
			Closed:   wm.Status == "closed" || wm.Status == "settled",
			EndDate:  endDate,
			Tokens: []types.OutcomeToken{
				{TokenID: wm.Ticker + ":yes", Outcome: "Yes"},
				{TokenID: wm.Ticker + ":no", Outcome: "No"},
			},
		})
	}

	return markets, nil
}

// wireLevel is a Kalshi orderbook level: price in cents, quantity in
// contracts.
type wireLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

type orderbookResponse struct {
	Orderbook struct {
		Yes []wireLevel `json:"yes"`
		No  []wireLevel `json:"no"`
	} `json:"orderbook"`
}

// GetOrderBook fetches the book for one side of a market. The token id is
// <ticker>:yes or <ticker>:no; the selected side's resting bids become the
// book's bids and the complementary side's bids imply the asks
// (ask_yes = 1 - bid_no).
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBook, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	ticker, side, err := splitToken(tokenID)
	if err != nil {
		return nil, err
	}

	var parsed orderbookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&parsed).
		Get("/markets/" + ticker + "/orderbook")
	if err != nil {
		return nil, &types.TransientNetworkError{Op: "kalshi orderbook", Err: err}
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), resp.String())
	}

	own := parsed.Orderbook.Yes
	opposite := parsed.Orderbook.No
	if side == "no" {
		own, opposite = opposite, own
	}

	book := &types.OrderBook{
		TokenID:   tokenID,
		Bids:      normalizeLevels(own, false),
		Asks:      complementLevels(opposite),
		Timestamp: time.Now(),
	}

	if err := book.Validate(); err != nil {
		return nil, err
	}

	return book, nil
}

// normalizeLevels converts cent prices to probabilities, best-first.
func normalizeLevels(levels []wireLevel, complement bool) []types.Level {
	out := make([]types.Level, 0, len(levels))
	for _, lvl := range levels {
		price := lvl.Price / 100.0
		if complement {
			price = 1.0 - price
		}
		out = append(out, types.Level{Price: price, Size: lvl.Quantity})
	}
	return out
}

// complementLevels derives this side's asks from the other side's bids.
func complementLevels(levels []wireLevel) []types.Level {
	out := normalizeLevels(levels, true)
	// Other side's best bid maps to this side's best ask; order is
	// already best-first.
	return out
}

// balanceResponse is the Kalshi balance payload (cents).
type balanceResponse struct {
	Balance float64 `json:"balance"`
}

// GetBalance returns the account balance in USD.
func (c *Client) GetBalance(ctx context.Context, forceRefresh bool) (float64, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return 0, err
	}

	var parsed balanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&parsed).
		Get("/portfolio/balance")
	if err != nil {
		return 0, &types.TransientNetworkError{Op: "kalshi balance", Err: err}
	}
	if resp.IsError() {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}

	return parsed.Balance / 100.0, nil
}

// orderResult is the Kalshi order placement payload.
type orderResult struct {
	Order struct {
		OrderID  string  `json:"order_id"`
		Status   string  `json:"status"`
		YesPrice float64 `json:"yes_price"`
		Count    float64 `json:"count"`
	} `json:"order"`
}

// PostOrder places a limit order. Prices are converted back to cents.
func (c *Client) PostOrder(ctx context.Context, req venue.OrderRequest) (*venue.OrderResult, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	ticker, side, err := splitToken(req.TokenID)
	if err != nil {
		return nil, err
	}

	action := "buy"
	if req.Side == types.SideSell {
		action = "sell"
	}

	body := map[string]interface{}{
		"ticker":          ticker,
		"client_order_id": uuid.New().String(),
		"side":            side,
		"action":          action,
		"count":           int64(req.Size),
		"type":            "limit",
		side + "_price":   int64(req.LimitPrice * 100),
	}

	var parsed orderResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&parsed).
		Post("/portfolio/orders")
	if err != nil {
		return nil, &types.TransientNetworkError{Op: "kalshi post order", Err: err}
	}
	if resp.IsError() {
		return nil, &types.VenueRejection{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.String())}
	}

	filled := parsed.Order.Count
	if filled == 0 {
		filled = req.Size
	}

	price := parsed.Order.YesPrice / 100.0
	if side == "no" && parsed.Order.YesPrice > 0 {
		price = 1.0 - price
	}
	if price <= 0 {
		price = req.LimitPrice
	}

	return &venue.OrderResult{
		OrderID:      parsed.Order.OrderID,
		FilledSize:   filled,
		AvgFillPrice: price,
		Status:       parsed.Order.Status,
	}, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return false, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/portfolio/orders/" + orderID)
	if err != nil {
		return false, &types.TransientNetworkError{Op: "kalshi cancel order", Err: err}
	}

	return resp.IsSuccess(), nil
}

// Close releases network resources.
func (c *Client) Close() error {
	return nil
}

func splitToken(tokenID string) (ticker, side string, err error) {
	for i := len(tokenID) - 1; i >= 0; i-- {
		if tokenID[i] == ':' {
			ticker, side = tokenID[:i], tokenID[i+1:]
			break
		}
	}
	if side != "yes" && side != "no" {
		return "", "", types.NewDataIntegrityError("malformed kalshi token id " + tokenID)
	}
	return ticker, side, nil
}
