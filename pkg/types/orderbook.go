package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Level is a single (price, size) entry in an order book ladder.
type Level struct {
	Price float64
	Size  float64
}

// OrderBook holds both sides of a book: bids descending, asks ascending.
type OrderBook struct {
	TokenID   string
	Bids      []Level
	Asks      []Level
	Timestamp time.Time
}

// BestBid returns the highest buy price, or false if the bid side is empty.
func (b *OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest sell price, or false if the ask side is empty.
func (b *OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// BestBidPrice returns the highest buy price alone, for callers that do not
// care about depth.
func (b *OrderBook) BestBidPrice() (float64, bool) {
	bid, ok := b.BestBid()
	return bid.Price, ok
}

// BestAskPrice returns the lowest sell price alone.
func (b *OrderBook) BestAskPrice() (float64, bool) {
	ask, ok := b.BestAsk()
	return ask.Price, ok
}

// Spread returns ask-bid, or false when either side is empty.
func (b *OrderBook) Spread() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// Mid returns (ask+bid)/2, or false when either side is empty.
func (b *OrderBook) Mid() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (ask.Price + bid.Price) / 2, true
}

// Validate rejects books with out-of-range prices or non-positive sizes.
func (b *OrderBook) Validate() error {
	for _, side := range [][]Level{b.Bids, b.Asks} {
		for _, lvl := range side {
			if lvl.Price < 0 || lvl.Price > 1 {
				return NewDataIntegrityError(fmt.Sprintf("price %.4f outside [0,1]", lvl.Price))
			}
			if lvl.Size <= 0 {
				return NewDataIntegrityError(fmt.Sprintf("non-positive size %.4f", lvl.Size))
			}
		}
	}
	return nil
}

// wireLevel accepts price/size encoded as JSON strings or numbers.
type wireLevel struct {
	Price json.Number `json:"price"`
	Size  json.Number `json:"size"`
}

// wireBook is the venue order-book wire contract: empty sides are empty
// lists, never missing keys.
type wireBook struct {
	TokenID string      `json:"asset_id"`
	Bids    []wireLevel `json:"bids"`
	Asks    []wireLevel `json:"asks"`
}

// ParseOrderBook decodes the venue order-book wire format. Bad payloads
// return a DataIntegrityError rather than partially decoded state.
func ParseOrderBook(data []byte) (*OrderBook, error) {
	var wire wireBook
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, NewDataIntegrityError(fmt.Sprintf("decode order book: %v", err))
	}

	book := &OrderBook{
		TokenID:   wire.TokenID,
		Bids:      make([]Level, 0, len(wire.Bids)),
		Asks:      make([]Level, 0, len(wire.Asks)),
		Timestamp: time.Now(),
	}

	for _, w := range wire.Bids {
		lvl, err := parseLevel(w)
		if err != nil {
			return nil, err
		}
		book.Bids = append(book.Bids, lvl)
	}
	for _, w := range wire.Asks {
		lvl, err := parseLevel(w)
		if err != nil {
			return nil, err
		}
		book.Asks = append(book.Asks, lvl)
	}

	// Polymarket returns bids ascending; normalize to best-first on both sides.
	sortLevels(book.Bids, true)
	sortLevels(book.Asks, false)

	if err := book.Validate(); err != nil {
		return nil, err
	}

	return book, nil
}

func parseLevel(w wireLevel) (Level, error) {
	price, err := strconv.ParseFloat(w.Price.String(), 64)
	if err != nil {
		return Level{}, NewDataIntegrityError(fmt.Sprintf("parse price %q", w.Price.String()))
	}
	size, err := strconv.ParseFloat(w.Size.String(), 64)
	if err != nil {
		return Level{}, NewDataIntegrityError(fmt.Sprintf("parse size %q", w.Size.String()))
	}
	return Level{Price: price, Size: size}, nil
}

func sortLevels(levels []Level, descending bool) {
	sort.SliceStable(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
}

// PriceUpdate is a push-feed tick delivered by the market-data streamer.
type PriceUpdate struct {
	TokenID   string
	BestBid   float64
	BestAsk   float64
	Timestamp time.Time
}
