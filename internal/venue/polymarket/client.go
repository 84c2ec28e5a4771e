// Package polymarket implements the primary CLOB venue client: order-book
// reads, balance with on-chain fallback, and signed order submission.
package polymarket

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/avivsh/polystrat/internal/venue"
	"github.com/avivsh/polystrat/pkg/cache"
	"github.com/avivsh/polystrat/pkg/pricemath"
	"github.com/avivsh/polystrat/pkg/ratelimit"
	"github.com/avivsh/polystrat/pkg/types"
)

const (
	usdcDecimals = 6
	polygonUSDC  = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
)

// Client is the CLOB venue client for Polymarket.
type Client struct {
	baseURL       string
	rpcURL        string
	apiKey        string
	secret        string
	passphrase    string
	privateKey    *ecdsa.PrivateKey
	address       string // EOA address (signer)
	proxyAddress  string // Funder address (maker) in proxy mode
	signatureType model.SignatureType
	orderBuilder  builder.ExchangeOrderBuilder
	httpClient    *http.Client
	limiter       *ratelimit.MultiTierLimiter
	metadata      cache.Cache
	logger        *zap.Logger

	balanceMu      sync.Mutex
	cachedBalance  float64
	balanceFetched time.Time
	balanceTTL     time.Duration
	balanceTimeout time.Duration
}

// Config holds Polymarket client configuration.
type Config struct {
	BaseURL        string
	RPCURL         string
	APIKey         string
	Secret         string
	Passphrase     string
	PrivateKey     string
	FunderAddress  string // Selects proxy-wallet signing mode when set
	ChainID        int64
	HTTPTimeout    time.Duration
	BalanceTTL     time.Duration
	BalanceTimeout time.Duration
	Limiter        *ratelimit.MultiTierLimiter
	MetadataCache  cache.Cache // optional, caches per-token tick sizes
	Logger         *zap.Logger
}

// New creates a Polymarket CLOB client. The signing mode follows the
// credential file: a funder address selects proxy signatures, otherwise
// the account signs as a raw EOA.
func New(cfg *Config) (*Client, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, &types.ConfigurationError{Field: "PRIVATE_KEY", Reason: err.Error()}
	}

	publicKey, _ := privateKey.Public().(*ecdsa.PublicKey)
	address := crypto.PubkeyToAddress(*publicKey).Hex()

	sigType := model.EOA
	if cfg.FunderAddress != "" {
		sigType = model.POLY_PROXY
	}

	chainID := cfg.ChainID
	if chainID == 0 {
		chainID = 137
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://clob.polymarket.com"
	}

	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		rpcURL:         cfg.RPCURL,
		apiKey:         cfg.APIKey,
		secret:         cfg.Secret,
		passphrase:     cfg.Passphrase,
		privateKey:     privateKey,
		address:        address,
		proxyAddress:   cfg.FunderAddress,
		signatureType:  sigType,
		orderBuilder:   builder.NewExchangeOrderBuilderImpl(big.NewInt(chainID), nil),
		httpClient:     &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:        cfg.Limiter,
		metadata:       cfg.MetadataCache,
		logger:         cfg.Logger,
		balanceTTL:     cfg.BalanceTTL,
		balanceTimeout: cfg.BalanceTimeout,
	}, nil
}

// Name identifies the venue.
func (c *Client) Name() types.Venue { return types.VenuePolymarket }

// GetAddress returns the signing address (EOA).
func (c *Client) GetAddress() string { return c.address }

// makerAddress is the funds-holding address: the proxy wallet in proxy
// mode, the EOA otherwise.
func (c *Client) makerAddress() string {
	if c.proxyAddress != "" {
		return c.proxyAddress
	}
	return c.address
}

// GetOrderBook fetches and normalizes the book for a token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBook, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/book?token_id=%s", c.baseURL, url.QueryEscape(tokenID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &types.TransientNetworkError{Op: "get order book", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.TransientNetworkError{Op: "read order book", Err: err}
	}

	book, err := types.ParseOrderBook(body)
	if err != nil {
		return nil, err
	}
	book.TokenID = tokenID

	return book, nil
}

// balanceResponse is the CLOB balance-allowance payload.
type balanceResponse struct {
	Balance string `json:"balance"`
}

// GetBalance returns the available USDC balance in USD. The primary CLOB
// endpoint is tried first; on failure the wallet's on-chain balance is read
// via the token contract and normalized to the token's decimals.
func (c *Client) GetBalance(ctx context.Context, forceRefresh bool) (float64, error) {
	c.balanceMu.Lock()
	defer c.balanceMu.Unlock()

	if !forceRefresh && time.Since(c.balanceFetched) < c.balanceTTL {
		return c.cachedBalance, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.balanceTimeout)
	defer cancel()

	balance, err := c.fetchCLOBBalance(ctx)
	if err != nil {
		c.logger.Warn("clob-balance-failed-falling-back-to-chain", zap.Error(err))
		balance, err = c.fetchOnChainBalance(ctx)
		if err != nil {
			return 0, err
		}
	}

	c.cachedBalance = balance
	c.balanceFetched = time.Now()
	BalanceUSD.Set(balance)

	return balance, nil
}

func (c *Client) fetchCLOBBalance(ctx context.Context) (float64, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("%s/balance-allowance?asset_type=COLLATERAL", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	c.signRequest(req, http.MethodGet, "/balance-allowance", "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &types.TransientNetworkError{Op: "get balance", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parsed balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, types.NewDataIntegrityError("decode balance: " + err.Error())
	}

	raw, err := decimal.NewFromString(parsed.Balance)
	if err != nil {
		return 0, types.NewDataIntegrityError("parse balance " + parsed.Balance)
	}

	usd, _ := raw.Shift(-usdcDecimals).Float64()
	return usd, nil
}

// rpcRequest is a minimal JSON-RPC eth_call envelope.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// fetchOnChainBalance reads balanceOf(maker) from the USDC contract over
// raw JSON-RPC.
func (c *Client) fetchOnChainBalance(ctx context.Context) (float64, error) {
	owner := common.HexToAddress(c.makerAddress())

	// balanceOf(address) selector + left-padded owner address.
	callData := "0x70a08231" + fmt.Sprintf("%064s", strings.TrimPrefix(owner.Hex(), "0x"))

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "eth_call",
		Params: []interface{}{
			map[string]string{"to": polygonUSDC, "data": strings.ToLower(callData)},
			"latest",
		},
		ID: 1,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, strings.NewReader(string(payload)))
	if err != nil {
		return 0, fmt.Errorf("create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &types.TransientNetworkError{Op: "rpc balanceOf", Err: err}
	}
	defer resp.Body.Close()

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, types.NewDataIntegrityError("decode rpc response: " + err.Error())
	}
	if parsed.Error != nil {
		return 0, fmt.Errorf("rpc error: %s", parsed.Error.Message)
	}

	raw, ok := new(big.Int).SetString(strings.TrimPrefix(parsed.Result, "0x"), 16)
	if !ok {
		return 0, types.NewDataIntegrityError("parse rpc result " + parsed.Result)
	}

	usd, _ := decimal.NewFromBigInt(raw, -usdcDecimals).Float64()

	c.logger.Info("on-chain-balance-read",
		zap.String("address", owner.Hex()),
		zap.Float64("usd", usd))

	return usd, nil
}

// signedOrderJSON is the CLOB wire format for a signed order.
type signedOrderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// orderResponse is the CLOB order placement response.
type orderResponse struct {
	Success  bool    `json:"success"`
	OrderID  string  `json:"orderID"`
	Status   string  `json:"status"`
	ErrorMsg string  `json:"errorMsg"`
	Price    float64 `json:"price,string"`
	Size     float64 `json:"size,string"`
}

// PostOrder signs and submits an order. Venue rejections carry the
// venue-reported reason and are not retried.
func (c *Client) PostOrder(ctx context.Context, req venue.OrderRequest) (*venue.OrderResult, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	// Snap the limit to the token's tick so the venue does not bounce the
	// order. A metadata failure keeps the caller's price.
	if tick, err := c.TickSize(ctx, req.TokenID); err == nil {
		req.LimitPrice = pricemath.RoundToTick(req.LimitPrice, tick)
	} else {
		c.logger.Debug("tick-size-unavailable", zap.Error(err))
	}

	signedOrder, err := c.buildSignedOrder(req)
	if err != nil {
		return nil, fmt.Errorf("build order: %w", err)
	}

	orderType := string(req.Type)
	if orderType == "" {
		orderType = string(types.OrderGTC)
	}

	sideStr := string(types.SideBuy)
	if signedOrder.Side.Uint64() == uint64(model.SELL) {
		sideStr = string(types.SideSell)
	}

	jsonOrder := signedOrderJSON{
		Salt:          signedOrder.Salt.Int64(),
		Maker:         signedOrder.Maker.Hex(),
		Signer:        signedOrder.Signer.Hex(),
		Taker:         signedOrder.Taker.Hex(),
		TokenID:       signedOrder.TokenId.String(),
		MakerAmount:   signedOrder.MakerAmount.String(),
		TakerAmount:   signedOrder.TakerAmount.String(),
		Side:          sideStr,
		Expiration:    signedOrder.Expiration.String(),
		Nonce:         signedOrder.Nonce.String(),
		FeeRateBps:    signedOrder.FeeRateBps.String(),
		SignatureType: int(signedOrder.SignatureType.Int64()),
		Signature:     "0x" + common.Bytes2Hex(signedOrder.Signature),
	}

	reqBody, err := json.Marshal(map[string]interface{}{
		"order":     jsonOrder,
		"owner":     c.apiKey,
		"orderType": orderType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/order", strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.signRequest(httpReq, http.MethodPost, "/order", string(reqBody))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &types.TransientNetworkError{Op: "post order", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.TransientNetworkError{Op: "read order response", Err: err}
	}

	var parsed orderResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, types.NewDataIntegrityError("decode order response: " + err.Error())
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated || !parsed.Success {
		reason := parsed.ErrorMsg
		if reason == "" {
			reason = fmt.Sprintf("status %d: %s", resp.StatusCode, string(body))
		}
		OrdersRejectedTotal.Inc()
		return nil, &types.VenueRejection{OrderID: parsed.OrderID, Reason: reason}
	}

	OrdersPostedTotal.WithLabelValues(string(req.Side)).Inc()

	filled := parsed.Size
	if filled == 0 {
		filled = req.Size
	}
	avgPrice := parsed.Price
	if avgPrice == 0 {
		avgPrice = req.LimitPrice
	}

	return &venue.OrderResult{
		OrderID:      parsed.OrderID,
		FilledSize:   filled,
		AvgFillPrice: avgPrice,
		Status:       parsed.Status,
	}, nil
}

// buildSignedOrder converts an OrderRequest into a signed CTF exchange order.
func (c *Client) buildSignedOrder(req venue.OrderRequest) (*model.SignedOrder, error) {
	usd := req.LimitPrice * req.Size

	var side model.Side
	var makerAmount, takerAmount string
	if req.Side == types.SideBuy {
		// Buying outcome tokens with USDC.
		side = model.BUY
		makerAmount = usdToRawAmount(usd)
		takerAmount = usdToRawAmount(req.Size)
	} else {
		// Selling outcome tokens for USDC.
		side = model.SELL
		makerAmount = usdToRawAmount(req.Size)
		takerAmount = usdToRawAmount(usd)
	}

	orderData := &model.OrderData{
		Maker:         c.makerAddress(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenId:       req.TokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Side:          side,
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        c.address,
		Expiration:    "0",
		SignatureType: c.signatureType,
	}

	return c.orderBuilder.BuildSignedOrder(c.privateKey, orderData, model.CTFExchange)
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return false, err
	}

	reqBody := fmt.Sprintf(`{"orderID":%q}`, orderID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/order", strings.NewReader(reqBody))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	c.signRequest(httpReq, http.MethodDelete, "/order", reqBody)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, &types.TransientNetworkError{Op: "cancel order", Err: err}
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// signRequest attaches L2 HMAC auth headers.
func (c *Client) signRequest(req *http.Request, method, path, body string) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	secretBytes, err := base64.URLEncoding.DecodeString(c.secret)
	if err != nil {
		// A malformed secret surfaces as a venue auth rejection.
		secretBytes = []byte(c.secret)
	}

	h := hmac.New(sha256.New, secretBytes)
	h.Write([]byte(timestamp + method + path + body))
	signature := base64.URLEncoding.EncodeToString(h.Sum(nil))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_SIGNATURE", signature)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)
	req.Header.Set("POLY_ADDRESS", c.address)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func usdToRawAmount(usd float64) string {
	return fmt.Sprintf("%d", int64(usd*1000000))
}
