package venue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avivsh/polystrat/pkg/types"
)

// DryRun wraps a real client, passing reads through and simulating writes.
// Posted orders are assumed filled at their limit price against a paper
// balance so the full strategy path can be exercised without spending funds.
type DryRun struct {
	inner  Client
	logger *zap.Logger

	mu       sync.Mutex
	balance  float64
	orderIDs map[string]bool
}

// NewDryRun wraps client with a simulated paper balance.
func NewDryRun(client Client, paperBalance float64, logger *zap.Logger) *DryRun {
	return &DryRun{
		inner:    client,
		logger:   logger,
		balance:  paperBalance,
		orderIDs: make(map[string]bool),
	}
}

func (d *DryRun) Name() types.Venue { return d.inner.Name() }

func (d *DryRun) GetAddress() string { return d.inner.GetAddress() }

func (d *DryRun) GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBook, error) {
	return d.inner.GetOrderBook(ctx, tokenID)
}

// GetBalance returns the paper balance, never the real one.
func (d *DryRun) GetBalance(ctx context.Context, forceRefresh bool) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.balance, nil
}

// PostOrder simulates an immediate full fill at the limit price.
func (d *DryRun) PostOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cost := req.Size * req.LimitPrice
	if req.Side == types.SideBuy {
		if cost > d.balance {
			return nil, types.ErrInsufficientBalance
		}
		d.balance -= cost
	} else {
		d.balance += cost
	}

	orderID := "dry-" + uuid.New().String()
	d.orderIDs[orderID] = true

	d.logger.Info("dry-run-order-filled",
		zap.String("order_id", orderID),
		zap.String("token_id", req.TokenID),
		zap.String("side", string(req.Side)),
		zap.Float64("price", req.LimitPrice),
		zap.Float64("size", req.Size),
		zap.Float64("paper_balance", d.balance))

	return &OrderResult{
		OrderID:      orderID,
		FilledSize:   req.Size,
		AvgFillPrice: req.LimitPrice,
		Status:       "matched",
	}, nil
}

// CancelOrder succeeds for any order this wrapper issued.
func (d *DryRun) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.orderIDs[orderID] {
		return false, fmt.Errorf("unknown dry-run order %s", orderID)
	}
	delete(d.orderIDs, orderID)
	return true, nil
}

func (d *DryRun) Close() error { return d.inner.Close() }

var _ Client = (*DryRun)(nil)
