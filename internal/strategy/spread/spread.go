// Package spread buys cheap tokens sitting under wide bid-ask spreads and
// resells them inside the spread. Entry undercuts nobody: the order rests
// one tick above the best bid, and the exit either takes the configured
// profit or walks down toward the ask as the position ages.
package spread

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avivsh/polystrat/internal/catalog"
	"github.com/avivsh/polystrat/internal/strategy"
	"github.com/avivsh/polystrat/pkg/pricemath"
	"github.com/avivsh/polystrat/pkg/types"
)

// Name is the registry name of this detector.
const Name = "spread_arbitrage"

// floorPrice is the lowest limit price a decayed timeout exit will post.
const floorPrice = 0.01

func init() {
	strategy.Register(Name, func(deps *strategy.Deps, args map[string]interface{}) (strategy.Strategy, error) {
		return New(deps, args), nil
	})
}

// Detector implements the wide-spread capture strategy.
type Detector struct {
	deps *strategy.Deps

	maxPrice     float64
	minSpread    float64
	targetProfit float64
	entryOffset  float64
	timeout      time.Duration
	timeoutStep  float64
	minVolume    float64
	orderSize    float64
	estimatedFee float64
	maxMarkets   int

	logger *zap.Logger
}

// New builds the detector from shared deps and optional overrides.
func New(deps *strategy.Deps, args map[string]interface{}) *Detector {
	cfg := deps.Config
	return &Detector{
		deps:         deps,
		maxPrice:     strategy.FloatArg(args, "max_price", cfg.SpreadMaxPrice),
		minSpread:    strategy.FloatArg(args, "min_spread", cfg.SpreadMinSpread),
		targetProfit: strategy.FloatArg(args, "target_profit", cfg.SpreadTargetProfit),
		entryOffset:  strategy.FloatArg(args, "entry_offset", cfg.SpreadEntryOffset),
		timeout:      cfg.SpreadTimeout,
		timeoutStep:  strategy.FloatArg(args, "timeout_price_step", cfg.SpreadTimeoutStep),
		minVolume:    strategy.FloatArg(args, "min_volume", cfg.SpreadMinVolume),
		orderSize:    strategy.FloatArg(args, "order_size", cfg.SpreadOrderSize),
		estimatedFee: strategy.FloatArg(args, "estimated_fee", cfg.EstimatedFee),
		maxMarkets:   strategy.IntArg(args, "max_markets", 500),
		logger:       deps.Logger.Named(Name),
	}
}

// Name implements strategy.Strategy.
func (d *Detector) Name() string { return Name }

// Scan walks the highest-volume open binary markets looking for tokens with
// a low best bid under a wide spread.
func (d *Detector) Scan(ctx context.Context) ([]*types.Opportunity, error) {
	resp, err := d.deps.Catalog.FetchActiveMarkets(ctx, d.maxMarkets, 0, "volume24hr")
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}

	markets := catalog.FilterBinaryOpen(resp.Data)
	d.logger.Debug("scanning-markets", zap.Int("count", len(markets)))

	var opps []*types.Opportunity
	for i := range markets {
		m := &markets[i]

		// Illiquid markets never trade back inside the spread.
		if m.VolumeUSD() < d.minVolume {
			continue
		}

		for _, token := range m.Tokens {
			if d.deps.Store.Has(token.TokenID) {
				continue
			}

			book, err := d.deps.Primary.GetOrderBook(ctx, token.TokenID)
			if err != nil {
				d.logger.Debug("orderbook-fetch-failed",
					zap.String("token_id", token.TokenID),
					zap.Error(err))
				continue
			}

			bid, hasBid := book.BestBidPrice()
			ask, hasAsk := book.BestAskPrice()
			if !hasBid || !hasAsk {
				continue
			}
			if bid <= 0 || bid >= d.maxPrice {
				continue
			}
			if ask-bid < d.minSpread {
				continue
			}

			entry := pricemath.RoundPrice(bid + d.entryOffset)
			opp := types.NewSingleLegOpportunity(types.KindSpreadCapture, m.Question, types.Leg{
				TokenID:    token.TokenID,
				Side:       types.SideBuy,
				LimitPrice: entry,
				Size:       d.orderSize,
				Venue:      d.deps.Primary.Name(),
			}, pricemath.RoundPrice(entry+d.targetProfit))
			opp.DaysUntilClose = pricemath.DaysUntil(m.EndDate)

			strategy.OpportunitiesTotal.WithLabelValues(Name).Inc()
			d.logger.Info("wide-spread-detected",
				zap.String("token_id", token.TokenID),
				zap.Float64("bid", bid),
				zap.Float64("ask", ask),
				zap.Float64("entry", entry),
				zap.Float64("target", opp.TargetPrice))

			opps = append(opps, opp)
		}
	}

	return opps, nil
}

// ShouldEnter re-checks that the spread is still wide and the account can
// cover the order.
func (d *Detector) ShouldEnter(ctx context.Context, opp *types.Opportunity) (bool, error) {
	leg := opp.Legs[0]

	book, err := d.deps.Primary.GetOrderBook(ctx, leg.TokenID)
	if err != nil {
		return false, err
	}
	bid, hasBid := book.BestBidPrice()
	ask, hasAsk := book.BestAskPrice()
	if !hasBid || !hasAsk {
		return false, nil
	}
	if bid >= d.maxPrice || ask-bid < d.minSpread {
		return false, nil
	}

	balance, err := d.deps.Primary.GetBalance(ctx, false)
	if err != nil {
		return false, err
	}
	if balance < leg.LimitPrice*leg.Size {
		d.logger.Warn("insufficient-balance-for-entry",
			zap.Float64("balance", balance),
			zap.Float64("required", leg.LimitPrice*leg.Size))
		return false, nil
	}

	return true, nil
}

// EnterPosition rests a buy one tick above the best bid and registers the
// position.
func (d *Detector) EnterPosition(ctx context.Context, opp *types.Opportunity) (*types.Position, error) {
	leg := opp.Legs[0]

	result, err := d.deps.Executor.ExecuteOrder(ctx, d.deps.Primary, leg, types.OrderGTC)
	if err != nil {
		return nil, err
	}

	pos := &types.Position{
		Strategy: Name,
		Question: opp.Question,
		Kind:     types.KindSpreadCapture,
		Legs: []types.PositionLeg{{
			TokenID:    leg.TokenID,
			Side:       leg.Side,
			EntryPrice: result.AvgFillPrice,
			Size:       result.FilledSize,
			Venue:      leg.Venue,
			OrderID:    result.OrderID,
		}},
		EntryTime:      time.Now(),
		TargetPrice:    opp.TargetPrice,
		TotalCost:      result.AvgFillPrice * result.FilledSize,
		EstimatedFee:   d.estimatedFee,
		Status:         types.PositionOpen,
		Fingerprint:    opp.Fingerprint,
		DaysUntilClose: opp.DaysUntilClose,
	}

	if err := d.deps.Store.Add(pos); err != nil {
		return nil, fmt.Errorf("record position: %w", err)
	}

	if d.deps.Streamer != nil {
		if err := d.deps.Streamer.Subscribe(ctx, []string{leg.TokenID}); err != nil {
			d.logger.Warn("subscribe-failed", zap.Error(err))
		}
	}

	strategy.EntriesTotal.WithLabelValues(Name).Inc()
	return pos, nil
}

// ShouldExit unwinds when someone bids past our entry, when the spread still
// pays the target, or when the position has rested past the timeout.
func (d *Detector) ShouldExit(ctx context.Context, pos *types.Position) (bool, string, error) {
	if pos.ForceExit {
		return true, "force_exit", nil
	}

	leg := pos.Legs[0]
	book, err := d.deps.Primary.GetOrderBook(ctx, leg.TokenID)
	if err != nil {
		return false, "", nil
	}

	if bid, ok := book.BestBidPrice(); ok && bid > leg.EntryPrice {
		return true, "penny_defense", nil
	}
	if ask, ok := book.BestAskPrice(); ok && ask-leg.EntryPrice >= d.targetProfit+d.estimatedFee {
		return true, "target_spread", nil
	}
	if time.Since(pos.EntryTime) > d.timeout {
		return true, "timeout", nil
	}

	return false, "", nil
}

// ExitPosition sells back inside the spread. Before the timeout the limit
// sits at entry plus target when the spread still pays it, one tick under
// the ask otherwise; past the timeout the price decays one step per minute
// overdue, floored at a penny.
func (d *Detector) ExitPosition(ctx context.Context, pos *types.Position) (float64, error) {
	leg := pos.Legs[0]

	if err := d.deps.Store.Update(pos.PrimaryToken(), func(p *types.Position) {
		p.Status = types.PositionExiting
	}); err != nil {
		return 0, err
	}

	limitPrices := map[string]float64{leg.TokenID: d.exitPrice(ctx, pos)}
	proceeds, remaining, err := d.deps.Executor.ExitPosition(ctx, d.deps.Clients, pos, limitPrices)
	if err != nil {
		strategy.RearmAfterFailedExit(d.deps.Store, d.logger, pos, remaining)
		return 0, fmt.Errorf("exit position: %w", err)
	}

	pnl := proceeds - pos.TotalCost
	d.logger.Info("position-exited",
		zap.String("token_id", leg.TokenID),
		zap.Float64("entry_cost", pos.TotalCost),
		zap.Float64("proceeds", proceeds),
		zap.Float64("pnl", pnl))

	if d.deps.Streamer != nil {
		if err := d.deps.Streamer.Unsubscribe(ctx, pos.TokenIDs()); err != nil {
			d.logger.Debug("unsubscribe-failed", zap.Error(err))
		}
	}

	return pnl, d.deps.Store.Remove(pos.PrimaryToken())
}

func (d *Detector) exitPrice(ctx context.Context, pos *types.Position) float64 {
	leg := pos.Legs[0]

	overdue := time.Since(pos.EntryTime) - d.timeout
	if overdue > 0 {
		decayed := leg.EntryPrice - overdue.Minutes()*d.timeoutStep
		return pricemath.RoundPrice(max(decayed, floorPrice))
	}

	target := pricemath.RoundPrice(leg.EntryPrice + d.targetProfit)
	book, err := d.deps.Primary.GetOrderBook(ctx, leg.TokenID)
	if err != nil {
		return target
	}
	ask, ok := book.BestAskPrice()
	if !ok {
		return target
	}
	if ask-leg.EntryPrice >= d.targetProfit+d.estimatedFee {
		return target
	}
	return pricemath.RoundPrice(max(ask-d.entryOffset, floorPrice))
}

var _ strategy.Strategy = (*Detector)(nil)
