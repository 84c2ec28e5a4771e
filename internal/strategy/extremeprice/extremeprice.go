// Package extremeprice buys tokens trading at near-zero prices and sells
// them back when the price multiplies. One leg per position; sizing is a
// fixed fraction of the account balance.
package extremeprice

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/avivsh/polystrat/internal/catalog"
	"github.com/avivsh/polystrat/internal/strategy"
	"github.com/avivsh/polystrat/pkg/pricemath"
	"github.com/avivsh/polystrat/pkg/types"
)

// Name is the registry name of this detector.
const Name = "extreme_price"

func init() {
	strategy.Register(Name, func(deps *strategy.Deps, args map[string]interface{}) (strategy.Strategy, error) {
		return New(deps, args), nil
	})
}

// Detector implements the extreme-price strategy.
type Detector struct {
	deps *strategy.Deps

	buyThreshold       float64
	sellMultiplier     float64
	portfolioPercent   float64
	minPositionSize    float64
	minHoursUntilClose float64
	maxMarkets         int

	logger *zap.Logger
}

// New builds the detector from shared deps and optional overrides.
func New(deps *strategy.Deps, args map[string]interface{}) *Detector {
	cfg := deps.Config
	return &Detector{
		deps:               deps,
		buyThreshold:       strategy.FloatArg(args, "buy_threshold", cfg.BuyThreshold),
		sellMultiplier:     strategy.FloatArg(args, "sell_multiplier", cfg.SellMultiplier),
		portfolioPercent:   strategy.FloatArg(args, "portfolio_percent", cfg.PortfolioPercent),
		minPositionSize:    strategy.FloatArg(args, "min_position_size", cfg.MinPositionSize),
		minHoursUntilClose: strategy.FloatArg(args, "min_hours_until_close", cfg.MinHoursUntilClose),
		maxMarkets:         strategy.IntArg(args, "max_markets", 500),
		logger:             deps.Logger.Named(Name),
	}
}

// Name implements strategy.Strategy.
func (d *Detector) Name() string { return Name }

// Scan walks the highest-volume open binary markets looking for tokens whose
// best ask sits at or below the buy threshold.
func (d *Detector) Scan(ctx context.Context) ([]*types.Opportunity, error) {
	resp, err := d.deps.Catalog.FetchActiveMarkets(ctx, d.maxMarkets, 0, "volume24hr")
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}

	markets := catalog.FilterBinaryOpen(resp.Data)
	d.logger.Debug("scanning-markets", zap.Int("count", len(markets)))

	balance, err := d.deps.Primary.GetBalance(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}

	var opps []*types.Opportunity
	for i := range markets {
		m := &markets[i]

		if pricemath.HoursUntil(m.EndDate) < d.minHoursUntilClose {
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

			ask, ok := book.BestAskPrice()
			if !ok || ask > d.buyThreshold || ask <= 0 {
				continue
			}

			size := pricemath.PositionSize(balance, d.portfolioPercent, ask, d.minPositionSize)
			opp := types.NewSingleLegOpportunity(types.KindExtremePrice, m.Question, types.Leg{
				TokenID:    token.TokenID,
				Side:       types.SideBuy,
				LimitPrice: ask,
				Size:       size,
				Venue:      d.deps.Primary.Name(),
			}, pricemath.RoundPrice(ask*d.sellMultiplier))
			opp.DaysUntilClose = pricemath.DaysUntil(m.EndDate)

			strategy.OpportunitiesTotal.WithLabelValues(Name).Inc()
			d.logger.Info("extreme-price-opportunity",
				zap.String("token_id", token.TokenID),
				zap.Float64("ask", ask),
				zap.Float64("target", opp.TargetPrice),
				zap.Float64("size", size))

			opps = append(opps, opp)
		}
	}

	return opps, nil
}

// ShouldEnter re-checks the ask right before execution; the book may have
// moved since the scan.
func (d *Detector) ShouldEnter(ctx context.Context, opp *types.Opportunity) (bool, error) {
	leg := opp.Legs[0]

	book, err := d.deps.Primary.GetOrderBook(ctx, leg.TokenID)
	if err != nil {
		return false, err
	}
	ask, ok := book.BestAskPrice()
	if !ok || ask > d.buyThreshold {
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

// EnterPosition buys the token and registers the position.
func (d *Detector) EnterPosition(ctx context.Context, opp *types.Opportunity) (*types.Position, error) {
	leg := opp.Legs[0]

	result, err := d.deps.Executor.ExecuteOrder(ctx, d.deps.Primary, leg, types.OrderGTC)
	if err != nil {
		return nil, err
	}

	pos := &types.Position{
		Strategy: Name,
		Question: opp.Question,
		Kind:     types.KindExtremePrice,
		Legs: []types.PositionLeg{{
			TokenID:    leg.TokenID,
			Side:       leg.Side,
			EntryPrice: result.AvgFillPrice,
			Size:       result.FilledSize,
			Venue:      leg.Venue,
			OrderID:    result.OrderID,
		}},
		EntryTime:      opp.DetectedAt,
		TargetPrice:    opp.TargetPrice,
		TotalCost:      result.AvgFillPrice * result.FilledSize,
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

// ShouldExit sells once the bid reaches entry times the multiplier, or when
// the streamer flagged the position for forced exit.
func (d *Detector) ShouldExit(ctx context.Context, pos *types.Position) (bool, string, error) {
	if pos.ForceExit {
		return true, "force_exit", nil
	}

	leg := pos.Legs[0]
	bid, ok := d.currentBid(ctx, leg.TokenID)
	if !ok {
		return false, "", nil
	}

	if bid >= leg.EntryPrice*d.sellMultiplier {
		return true, "target_reached", nil
	}
	return false, "", nil
}

// ExitPosition sells at the best bid, retires the position, and returns
// the realized P&L.
func (d *Detector) ExitPosition(ctx context.Context, pos *types.Position) (float64, error) {
	leg := pos.Legs[0]

	if err := d.deps.Store.Update(pos.PrimaryToken(), func(p *types.Position) {
		p.Status = types.PositionExiting
	}); err != nil {
		return 0, err
	}

	proceeds, remaining, err := d.deps.Executor.ExitPosition(ctx, d.deps.Clients, pos, nil)
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

// currentBid prefers the live feed and falls back to a REST book fetch.
func (d *Detector) currentBid(ctx context.Context, tokenID string) (float64, bool) {
	if d.deps.Streamer != nil {
		if quote, ok := d.deps.Streamer.BestQuote(tokenID); ok && quote.BestBid > 0 {
			return quote.BestBid, true
		}
	}
	book, err := d.deps.Primary.GetOrderBook(ctx, tokenID)
	if err != nil {
		return 0, false
	}
	return book.BestBidPrice()
}

var _ strategy.Strategy = (*Detector)(nil)
