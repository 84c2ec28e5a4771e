// Package catalog fetches the tradable market universe from the Gamma API.
// Detectors re-fetch the catalog on every scan cycle; nothing here is cached
// across cycles so newly listed markets show up immediately.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/avivsh/polystrat/pkg/ratelimit"
	"github.com/avivsh/polystrat/pkg/types"
)

// MaxBatchSize is the largest page the Gamma API serves per request.
const MaxBatchSize = 100

// Client is an HTTP client for the Gamma markets API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.MultiTierLimiter
	logger     *zap.Logger
}

// Config holds catalog client configuration.
type Config struct {
	BaseURL     string
	HTTPTimeout time.Duration
	Limiter     *ratelimit.MultiTierLimiter
	Logger      *zap.Logger
}

// NewClient creates a Gamma API client.
func NewClient(cfg *Config) *Client {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: cfg.Limiter,
		logger:  cfg.Logger,
	}
}

// FetchActiveMarkets fetches active markets with automatic pagination.
// limit == 0 fetches everything available. orderBy is one of "volume24hr",
// "createdAt" or "endDate"; endDate sorts ascending so the soonest expiries
// come first, the others descending.
func (c *Client) FetchActiveMarkets(ctx context.Context, limit, offset int, orderBy string) (*types.MarketsResponse, error) {
	fetchAll := limit == 0
	if limit > MaxBatchSize || fetchAll {
		return c.fetchWithPagination(ctx, limit, offset, orderBy)
	}
	return c.fetchSinglePage(ctx, limit, offset, orderBy)
}

func (c *Client) fetchSinglePage(ctx context.Context, limit, offset int, orderBy string) (*types.MarketsResponse, error) {
	if limit == 0 {
		limit = MaxBatchSize
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Add("closed", "false")
	params.Add("active", "true")
	params.Add("limit", strconv.Itoa(limit))
	params.Add("offset", strconv.Itoa(offset))
	params.Add("order", orderBy)
	if orderBy == "endDate" {
		params.Add("ascending", "true")
	} else {
		params.Add("ascending", "false")
	}

	requestURL := fmt.Sprintf("%s/markets?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "polystrat/1.0")

	c.logger.Debug("fetching-markets",
		zap.Int("limit", limit),
		zap.Int("offset", offset),
		zap.String("order_by", orderBy))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &types.TransientNetworkError{Op: "fetch markets", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	// The Gamma API returns a bare array.
	var markets []types.Market
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("unmarshal markets: %w", err)
	}
	for i := range markets {
		markets[i].Venue = types.VenuePolymarket
	}

	MarketsFetchedTotal.Add(float64(len(markets)))

	return &types.MarketsResponse{
		Data:   markets,
		Count:  len(markets),
		Limit:  limit,
		Offset: offset,
	}, nil
}

func (c *Client) fetchWithPagination(ctx context.Context, limit, offset int, orderBy string) (*types.MarketsResponse, error) {
	var (
		allMarkets   []types.Market
		currentPage  int
		totalFetched int
		fetchAll     = limit == 0
	)

	for {
		pageBatchSize := MaxBatchSize
		if !fetchAll {
			remaining := limit - totalFetched
			if remaining <= 0 {
				break
			}
			if remaining < pageBatchSize {
				pageBatchSize = remaining
			}
		}

		pageOffset := offset + currentPage*MaxBatchSize

		resp, err := c.fetchSinglePage(ctx, pageBatchSize, pageOffset, orderBy)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", currentPage, err)
		}

		allMarkets = append(allMarkets, resp.Data...)
		totalFetched += len(resp.Data)

		if len(resp.Data) < pageBatchSize {
			break
		}
		if !fetchAll && totalFetched >= limit {
			break
		}
		currentPage++
	}

	c.logger.Debug("paginated-fetch-complete",
		zap.Int("pages", currentPage+1),
		zap.Int("total", totalFetched))

	return &types.MarketsResponse{
		Data:   allMarkets,
		Count:  len(allMarkets),
		Limit:  limit,
		Offset: offset,
	}, nil
}

// FetchEvents fetches open events with their nested markets. Events group
// related markets (for example a ladder of thresholds over one number),
// which is the unit the event-arbitrage detector scans.
func (c *Client) FetchEvents(ctx context.Context, limit int) ([]types.Event, error) {
	if limit == 0 || limit > MaxBatchSize {
		limit = MaxBatchSize
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Add("closed", "false")
	params.Add("active", "true")
	params.Add("limit", strconv.Itoa(limit))
	params.Add("order", "volume24hr")
	params.Add("ascending", "false")

	requestURL := fmt.Sprintf("%s/events?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "polystrat/1.0")

	c.logger.Debug("fetching-events", zap.Int("limit", limit))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &types.TransientNetworkError{Op: "fetch events", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var events []types.Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	for i := range events {
		for j := range events[i].Markets {
			events[i].Markets[j].Venue = types.VenuePolymarket
		}
	}

	return events, nil
}

// FetchMarketBySlug searches paginated results for a market with the given
// slug. The Gamma API has no slug endpoint, only numeric ids.
func (c *Client) FetchMarketBySlug(ctx context.Context, slug string) (*types.Market, error) {
	const maxPages = 10
	offset := 0

	for i := 0; i < maxPages; i++ {
		resp, err := c.FetchActiveMarkets(ctx, MaxBatchSize, offset, "volume24hr")
		if err != nil {
			return nil, fmt.Errorf("fetch markets: %w", err)
		}
		for i := range resp.Data {
			if resp.Data[i].Slug == slug {
				return &resp.Data[i], nil
			}
		}
		if len(resp.Data) < MaxBatchSize {
			break
		}
		offset += MaxBatchSize
	}

	return nil, fmt.Errorf("market not found: %s", slug)
}

// FilterBinaryOpen keeps only open binary markets with both outcome tokens
// present. Malformed records are dropped, not fatal.
func FilterBinaryOpen(markets []types.Market) []types.Market {
	out := make([]types.Market, 0, len(markets))
	for _, m := range markets {
		if m.Status() != types.MarketOpen {
			continue
		}
		if !m.IsBinary() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// FilterExpiringWithin keeps markets whose end date falls inside the window.
func FilterExpiringWithin(markets []types.Market, window time.Duration, now time.Time) []types.Market {
	cutoff := now.Add(window)
	out := make([]types.Market, 0, len(markets))
	for _, m := range markets {
		if m.EndDate.IsZero() {
			continue
		}
		if m.EndDate.After(now) && m.EndDate.Before(cutoff) {
			out = append(out, m)
		}
	}
	return out
}
