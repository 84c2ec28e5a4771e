package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/avivsh/polystrat/internal/venue"
	"github.com/avivsh/polystrat/pkg/ratelimit"
	"github.com/avivsh/polystrat/pkg/types"
)

// Throwaway key, never funded.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// memCache is a map-backed cache.Cache for metadata tests.
type memCache struct {
	mu   sync.Mutex
	data map[string]interface{}
}

func newMemCache() *memCache { return &memCache{data: make(map[string]interface{})} }

func (m *memCache) Get(key string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memCache) Set(key string, value interface{}, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return true
}

func (m *memCache) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

func (m *memCache) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]interface{})
}

func (m *memCache) Close() {}

func newTestClient(t *testing.T, baseURL, rpcURL string, meta *memCache) *Client {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := &Config{
		BaseURL:        baseURL,
		RPCURL:         rpcURL,
		APIKey:         "api-key",
		Secret:         "c2VjcmV0",
		Passphrase:     "pass",
		PrivateKey:     testPrivateKey,
		HTTPTimeout:    2 * time.Second,
		BalanceTTL:     time.Minute,
		BalanceTimeout: 2 * time.Second,
		Limiter:        ratelimit.New("clob-test", []ratelimit.Tier{{MaxCalls: 10000, Window: time.Second}}, logger),
		Logger:         logger,
	}
	if meta != nil {
		cfg.MetadataCache = meta
	}

	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestNew_BadPrivateKey(t *testing.T) {
	t.Parallel()

	_, err := New(&Config{PrivateKey: "not-hex", Logger: zaptest.NewLogger(t)})
	require.Error(t, err)

	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "PRIVATE_KEY", cfgErr.Field)
}

func TestGetOrderBook(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "tok-a", r.URL.Query().Get("token_id"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"asset_id": "tok-a",
			"bids": [{"price": "0.40", "size": "10"}, {"price": "0.45", "size": "5"}],
			"asks": [{"price": "0.50", "size": "8"}]
		}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "", nil)
	book, err := c.GetOrderBook(context.Background(), "tok-a")
	require.NoError(t, err)

	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.InDelta(t, 0.45, bid.Price, 1e-9)
}

func TestTickSize_CachesResult(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tick-size", r.URL.Path)
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"minimum_tick_size": "0.01"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "", newMemCache())

	for i := 0; i < 3; i++ {
		tick, err := c.TickSize(context.Background(), "tok-a")
		require.NoError(t, err)
		assert.InDelta(t, 0.01, tick, 1e-9)
	}
	assert.Equal(t, int32(1), fetches.Load())
}

func TestTickSize_RejectsBogusValues(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"minimum_tick_size": "2.5"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "", nil)
	_, err := c.TickSize(context.Background(), "tok-a")
	require.Error(t, err)

	var integrity *types.DataIntegrityError
	assert.ErrorAs(t, err, &integrity)
}

func TestPostOrder_SnapsPriceToTick(t *testing.T) {
	t.Parallel()

	var orderBody struct {
		Order     signedOrderJSON `json:"order"`
		Owner     string          `json:"owner"`
		OrderType string          `json:"orderType"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/tick-size":
			fmt.Fprint(w, `{"minimum_tick_size": "0.01"}`)
		case "/order":
			assert.Equal(t, "api-key", r.Header.Get("POLY_API_KEY"))
			assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&orderBody))
			fmt.Fprint(w, `{"success": true, "orderID": "ord-1", "status": "matched", "price": "0.45", "size": "10"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "", newMemCache())

	result, err := c.PostOrder(context.Background(), venue.OrderRequest{
		TokenID:    "123456",
		Side:       types.SideBuy,
		Size:       10,
		LimitPrice: 0.456, // off-tick, must land on 0.45
		Type:       types.OrderFOK,
	})
	require.NoError(t, err)

	assert.Equal(t, "ord-1", result.OrderID)
	assert.Equal(t, "matched", result.Status)
	assert.InDelta(t, 0.45, result.AvgFillPrice, 1e-9)

	assert.Equal(t, "api-key", orderBody.Owner)
	assert.Equal(t, string(types.OrderFOK), orderBody.OrderType)
	assert.Equal(t, "123456", orderBody.Order.TokenID)
	assert.Equal(t, "BUY", orderBody.Order.Side)
	// 10 units at the snapped 0.45 costs $4.50 in raw USDC units.
	assert.Equal(t, "4500000", orderBody.Order.MakerAmount)
	assert.Equal(t, "10000000", orderBody.Order.TakerAmount)
	assert.NotEmpty(t, orderBody.Order.Signature)
}

func TestPostOrder_VenueRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/tick-size" {
			fmt.Fprint(w, `{"minimum_tick_size": "0.001"}`)
			return
		}
		fmt.Fprint(w, `{"success": false, "errorMsg": "not enough balance / allowance"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "", nil)
	_, err := c.PostOrder(context.Background(), venue.OrderRequest{
		TokenID:    "123456",
		Side:       types.SideBuy,
		Size:       10,
		LimitPrice: 0.45,
	})
	require.Error(t, err)

	var rejection *types.VenueRejection
	require.ErrorAs(t, err, &rejection)
	assert.Contains(t, rejection.Reason, "not enough balance")
}

func TestGetBalance_CLOBAndCacheTTL(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balance-allowance", r.URL.Path)
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"balance": "12500000"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "", nil)

	balance, err := c.GetBalance(context.Background(), false)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, balance, 1e-9)

	// Within the TTL the cached value is served.
	balance, err = c.GetBalance(context.Background(), false)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, balance, 1e-9)
	assert.Equal(t, int32(1), fetches.Load())

	_, err = c.GetBalance(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load(), "forceRefresh bypasses the TTL")
}

func TestGetBalance_FallsBackToChain(t *testing.T) {
	t.Parallel()

	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "auth required", http.StatusUnauthorized)
	}))
	defer clob.Close()

	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_call", req.Method)

		w.Header().Set("Content-Type", "application/json")
		// 40,000,000 raw units = $40 at 6 decimals.
		fmt.Fprint(w, `{"jsonrpc": "2.0", "result": "0x2625a00", "id": 1}`)
	}))
	defer rpc.Close()

	c := newTestClient(t, clob.URL, rpc.URL, nil)

	balance, err := c.GetBalance(context.Background(), true)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, balance, 1e-9)
}

func TestMakerAddress_ProxyMode(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "http://unused.invalid", "", nil)
	assert.Equal(t, c.address, c.makerAddress())

	c.proxyAddress = "0xProxyFunder"
	assert.Equal(t, "0xProxyFunder", c.makerAddress())
}
