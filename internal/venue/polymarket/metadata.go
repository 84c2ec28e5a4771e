package polymarket

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

	"github.com/avivsh/polystrat/pkg/types"
)

// tickSizeTTL bounds how long a token's tick size is trusted. Tick sizes
// change when a market's price nears the boundaries, so the cache is short.
const tickSizeTTL = 10 * time.Minute

// tickSizeResponse is the CLOB tick-size payload.
type tickSizeResponse struct {
	MinimumTickSize json.Number `json:"minimum_tick_size"`
}

// TickSize returns the minimum price increment for a token. Results are
// cached when a metadata cache is configured.
func (c *Client) TickSize(ctx context.Context, tokenID string) (float64, error) {
	cacheKey := "tick:" + tokenID
	if c.metadata != nil {
		if cached, ok := c.metadata.Get(cacheKey); ok {
			if tick, ok := cached.(float64); ok {
				return tick, nil
			}
		}
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("%s/tick-size?token_id=%s", c.baseURL, url.QueryEscape(tokenID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &types.TransientNetworkError{Op: "get tick size", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed tickSizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, types.NewDataIntegrityError("decode tick size: " + err.Error())
	}

	tick, err := strconv.ParseFloat(parsed.MinimumTickSize.String(), 64)
	if err != nil || tick <= 0 || tick >= 1 {
		return 0, types.NewDataIntegrityError("bad tick size " + parsed.MinimumTickSize.String())
	}

	if c.metadata != nil {
		c.metadata.Set(cacheKey, tick, tickSizeTTL)
	}

	c.logger.Debug("tick-size-fetched",
		zap.String("token_id", tokenID),
		zap.Float64("tick", tick))

	return tick, nil
}
