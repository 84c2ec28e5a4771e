package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avivsh/polystrat/pkg/types"
)

func ladderBook() *types.OrderBook {
	return &types.OrderBook{
		TokenID: "tok",
		Bids: []types.Level{
			{Price: 0.48, Size: 10},
			{Price: 0.47, Size: 10},
		},
		Asks: []types.Level{
			{Price: 0.50, Size: 10},
			{Price: 0.52, Size: 10},
			{Price: 0.54, Size: 10},
			{Price: 0.56, Size: 10},
			{Price: 0.58, Size: 10},
			{Price: 0.90, Size: 1000},
		},
	}
}

func TestSimulateFill_SingleLevel(t *testing.T) {
	t.Parallel()

	est := SimulateFill(ladderBook(), types.SideBuy, 5)
	assert.True(t, est.FullyFilled)
	assert.InDelta(t, 0.50, est.AvgPrice, 1e-9)
	assert.InDelta(t, 5.0, est.FilledSize, 1e-9)
	assert.InDelta(t, 0, est.SlippageFromTop, 1e-9)
}

func TestSimulateFill_WalksLevels(t *testing.T) {
	t.Parallel()

	est := SimulateFill(ladderBook(), types.SideBuy, 25)
	assert.True(t, est.FullyFilled)
	assert.InDelta(t, 25.0, est.FilledSize, 1e-9)
	// 10@0.50 + 10@0.52 + 5@0.54 = 12.9 / 25 = 0.516
	assert.InDelta(t, 0.516, est.AvgPrice, 1e-9)
	assert.InDelta(t, 0.016, est.SlippageFromTop, 1e-9)
}

func TestSimulateFill_StopsAtProbeDepth(t *testing.T) {
	t.Parallel()

	// 60 units wanted; the first five levels only hold 50. The deep
	// sixth level must not count.
	est := SimulateFill(ladderBook(), types.SideBuy, 60)
	assert.False(t, est.FullyFilled)
	assert.InDelta(t, 50.0, est.FilledSize, 1e-9)
}

func TestSimulateFill_SellWalksBids(t *testing.T) {
	t.Parallel()

	est := SimulateFill(ladderBook(), types.SideSell, 15)
	assert.True(t, est.FullyFilled)
	// 10@0.48 + 5@0.47 = 7.15 / 15
	assert.InDelta(t, 0.477, est.AvgPrice, 1e-9)
	assert.InDelta(t, 0.003, est.SlippageFromTop, 1e-9)
}

func TestSimulateFill_Degenerate(t *testing.T) {
	t.Parallel()

	empty := &types.OrderBook{TokenID: "tok"}
	assert.Equal(t, FillEstimate{}, SimulateFill(empty, types.SideBuy, 10))
	assert.Equal(t, FillEstimate{}, SimulateFill(ladderBook(), types.SideBuy, 0))
}

func TestHasDepthFor(t *testing.T) {
	t.Parallel()

	book := ladderBook()
	assert.True(t, HasDepthFor(book, types.SideBuy, 10, 0.01))
	assert.False(t, HasDepthFor(book, types.SideBuy, 25, 0.01), "slippage over tolerance")
	assert.False(t, HasDepthFor(book, types.SideBuy, 60, 1.0), "not enough probed depth")
}
