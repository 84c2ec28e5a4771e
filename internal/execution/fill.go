package execution

import (
	"github.com/avivsh/polystrat/pkg/pricemath"
	"github.com/avivsh/polystrat/pkg/types"
)

// ProbeDepth is how many book levels a liquidity probe inspects.
const ProbeDepth = 5

// FillEstimate is the result of walking a book ladder with a hypothetical
// order.
type FillEstimate struct {
	AvgPrice        float64
	FilledSize      float64
	FullyFilled     bool
	SlippageFromTop float64
}

// SimulateFill walks the ladder a taker order of the given size would sweep:
// asks for a buy, bids for a sell. Levels beyond ProbeDepth are ignored, so
// an order deeper than the probe reports a partial fill.
func SimulateFill(book *types.OrderBook, side types.Side, size float64) FillEstimate {
	ladder := book.Asks
	if side == types.SideSell {
		ladder = book.Bids
	}
	if len(ladder) > ProbeDepth {
		ladder = ladder[:ProbeDepth]
	}
	if len(ladder) == 0 || size <= 0 {
		return FillEstimate{}
	}

	top := ladder[0].Price
	remaining := size
	cost := 0.0
	filled := 0.0

	for _, lvl := range ladder {
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		cost += take * lvl.Price
		filled += take
		remaining -= take
		if remaining <= 0 {
			break
		}
	}

	if filled == 0 {
		return FillEstimate{}
	}

	avg := cost / filled
	slip := avg - top
	if side == types.SideSell {
		slip = top - avg
	}

	return FillEstimate{
		AvgPrice:        pricemath.RoundPrice(avg),
		FilledSize:      pricemath.RoundSize(filled),
		FullyFilled:     remaining <= 0,
		SlippageFromTop: pricemath.RoundPrice(slip),
	}
}

// HasDepthFor reports whether the book can absorb the order within the probe
// depth without exceeding the slippage tolerance.
func HasDepthFor(book *types.OrderBook, side types.Side, size, maxSlippage float64) bool {
	est := SimulateFill(book, side, size)
	return est.FullyFilled && est.SlippageFromTop <= maxSlippage
}
