// Package venue defines the uniform client contract the detectors and the
// executor operate against, regardless of which platform is on the other
// side.
package venue

import (
	"context"

	"github.com/avivsh/polystrat/pkg/types"
)

// OrderRequest is a single order to be signed and posted.
type OrderRequest struct {
	TokenID    string
	Side       types.Side
	Size       float64
	LimitPrice float64
	Type       types.OrderType
}

// OrderResult is the venue's confirmation of a posted order.
type OrderResult struct {
	OrderID      string
	FilledSize   float64
	AvgFillPrice float64
	Status       string
}

// Client is the capability set every venue must expose. Price units are
// normalized to probabilities in [0,1] regardless of how the venue quotes.
type Client interface {
	// Name identifies the venue for logging and position records.
	Name() types.Venue

	// GetOrderBook fetches the current book for a token.
	GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBook, error)

	// GetBalance returns the available USD balance. Cached; pass
	// forceRefresh to bypass the cache.
	GetBalance(ctx context.Context, forceRefresh bool) (float64, error)

	// PostOrder signs and submits an order.
	PostOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// CancelOrder cancels a resting order by venue order id.
	CancelOrder(ctx context.Context, orderID string) (bool, error)

	// GetAddress returns the account identifier (wallet address or API
	// key id) for this client.
	GetAddress() string

	// Close releases network resources.
	Close() error
}
