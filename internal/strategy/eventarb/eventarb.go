// Package eventarb trades mispriced market pairs inside one event as it
// approaches resolution. When the YES bid on one market exceeds the YES ask
// on an adjacent market in the same event, buying the cheap side and
// selling the rich side locks the difference.
package eventarb

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avivsh/polystrat/internal/execution"
	"github.com/avivsh/polystrat/internal/strategy"
	"github.com/avivsh/polystrat/pkg/pricemath"
	"github.com/avivsh/polystrat/pkg/types"
)

// Name is the registry name of this detector.
const Name = "arbitrage"

func init() {
	strategy.Register(Name, func(deps *strategy.Deps, args map[string]interface{}) (strategy.Strategy, error) {
		return New(deps, args), nil
	})
}

// Detector implements the intra-event pair arbitrage strategy.
type Detector struct {
	deps *strategy.Deps

	minProfitPct       float64
	maxHoursUntilClose float64
	estimatedFee       float64
	pairSize           float64
	maxEvents          int

	logger *zap.Logger
}

// New builds the detector from shared deps and optional overrides.
func New(deps *strategy.Deps, args map[string]interface{}) *Detector {
	cfg := deps.Config
	return &Detector{
		deps:               deps,
		minProfitPct:       strategy.FloatArg(args, "min_profit_pct", cfg.ArbMinProfitPct),
		maxHoursUntilClose: strategy.FloatArg(args, "max_hours_until_close", cfg.ArbMaxHoursUntilClose),
		estimatedFee:       strategy.FloatArg(args, "estimated_fee", cfg.EstimatedFee),
		pairSize:           strategy.FloatArg(args, "pair_size", cfg.PairSize),
		maxEvents:          strategy.IntArg(args, "max_events", 100),
		logger:             deps.Logger.Named(Name),
	}
}

// Name implements strategy.Strategy.
func (d *Detector) Name() string { return Name }

// Scan walks events closing soon and prices adjacent market pairs in each.
func (d *Detector) Scan(ctx context.Context) ([]*types.Opportunity, error) {
	events, err := d.deps.Catalog.FetchEvents(ctx, d.maxEvents)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}

	now := time.Now()
	var opps []*types.Opportunity
	for i := range events {
		ev := &events[i]
		if len(ev.Markets) < 2 {
			continue
		}
		if ev.EndDate.IsZero() || !ev.EndDate.After(now) {
			continue
		}
		if pricemath.HoursUntil(ev.EndDate) > d.maxHoursUntilClose {
			continue
		}

		found, err := d.priceEvent(ctx, ev)
		if err != nil {
			d.logger.Debug("event-pricing-failed",
				zap.String("event_id", ev.ID),
				zap.Error(err))
			continue
		}
		for _, opp := range found {
			strategy.OpportunitiesTotal.WithLabelValues(Name).Inc()
			opps = append(opps, opp)
		}
	}

	return opps, nil
}

// priceEvent compares each adjacent market pair in the event: buy the YES
// whose ask is cheap, sell the YES whose bid is rich.
func (d *Detector) priceEvent(ctx context.Context, ev *types.Event) ([]*types.Opportunity, error) {
	markets := make([]*types.Market, 0, len(ev.Markets))
	for i := range ev.Markets {
		m := &ev.Markets[i]
		if m.Status() == types.MarketOpen && m.IsBinary() {
			markets = append(markets, m)
		}
	}

	days := pricemath.DaysUntil(ev.EndDate)
	var opps []*types.Opportunity
	for i := 0; i+1 < len(markets); i++ {
		buyTok := markets[i].YesToken()
		sellTok := markets[i+1].YesToken()
		if buyTok == nil || sellTok == nil {
			continue
		}
		if d.deps.Store.Has(buyTok.TokenID) || d.deps.Store.Has(sellTok.TokenID) {
			continue
		}

		buyBook, err := d.deps.Primary.GetOrderBook(ctx, buyTok.TokenID)
		if err != nil {
			return opps, err
		}
		sellBook, err := d.deps.Primary.GetOrderBook(ctx, sellTok.TokenID)
		if err != nil {
			return opps, err
		}

		ask, hasAsk := buyBook.BestAskPrice()
		bid, hasBid := sellBook.BestBidPrice()
		if !hasAsk || !hasBid || ask <= 0 {
			continue
		}

		profitPct := bid/ask - 1.0
		if profitPct < d.minProfitPct {
			continue
		}

		legA := types.Leg{
			TokenID:    buyTok.TokenID,
			Side:       types.SideBuy,
			LimitPrice: ask,
			Size:       d.pairSize,
			Venue:      d.deps.Primary.Name(),
		}
		legB := types.Leg{
			TokenID:    sellTok.TokenID,
			Side:       types.SideSell,
			LimitPrice: bid,
			Size:       d.pairSize,
			Venue:      d.deps.Primary.Name(),
		}

		fees := 2 * d.estimatedFee
		roi := pricemath.AnnualizedROI(bid-ask-fees, ask, days)
		opp := types.NewTwoLegOpportunity(types.KindEventPair, ev.Title, legA, legB, fees, roi, days)
		d.logger.Info("event-pair-detected",
			zap.String("group_id", opp.GroupID),
			zap.String("event", ev.Title),
			zap.Float64("buy_ask", ask),
			zap.Float64("sell_bid", bid),
			zap.Float64("profit_pct", profitPct))

		opps = append(opps, opp)
	}

	return opps, nil
}

// ShouldEnter requires twice the buy cost in free balance and full depth on
// both books at the planned sizes.
func (d *Detector) ShouldEnter(ctx context.Context, opp *types.Opportunity) (bool, error) {
	required := 0.0
	for _, leg := range opp.Legs {
		book, err := d.deps.Primary.GetOrderBook(ctx, leg.TokenID)
		if err != nil {
			return false, err
		}
		est := execution.SimulateFill(book, leg.Side, leg.Size)
		if !est.FullyFilled {
			d.logger.Debug("insufficient-depth-for-leg",
				zap.String("token_id", leg.TokenID),
				zap.Float64("fillable", est.FilledSize),
				zap.Float64("wanted", leg.Size))
			return false, nil
		}
		if leg.Side == types.SideBuy {
			required += est.AvgPrice * leg.Size
		}
	}

	balance, err := d.deps.Primary.GetBalance(ctx, false)
	if err != nil {
		return false, err
	}
	if balance < 2*required {
		d.logger.Warn("insufficient-balance-for-entry",
			zap.Float64("balance", balance),
			zap.Float64("required", 2*required))
		return false, nil
	}

	return true, nil
}

// EnterPosition executes both legs atomically.
func (d *Detector) EnterPosition(ctx context.Context, opp *types.Opportunity) (*types.Position, error) {
	pos, err := d.deps.Executor.EnterPair(ctx, d.deps.Clients, opp)
	if err != nil {
		// A rollback failure leaves one leg stranded on a venue; record
		// it so the monitor keeps it visible for manual intervention.
		if pos != nil && pos.Status == types.PositionFailed {
			pos.Strategy = Name
			if addErr := d.deps.Store.Add(pos); addErr != nil {
				d.logger.Error("stranded-position-record-failed", zap.Error(addErr))
			}
		}
		return nil, err
	}

	pos.Strategy = Name
	pos.EstimatedFee = 2 * d.estimatedFee
	if err := d.deps.Store.Add(pos); err != nil {
		return nil, fmt.Errorf("record position: %w", err)
	}

	if d.deps.Streamer != nil {
		if err := d.deps.Streamer.Subscribe(ctx, pos.TokenIDs()); err != nil {
			d.logger.Warn("subscribe-failed", zap.Error(err))
		}
	}

	strategy.EntriesTotal.WithLabelValues(Name).Inc()
	return pos, nil
}

// ShouldExit holds to resolution; the spread is realized when the event
// settles. Only a forced exit unwinds early.
func (d *Detector) ShouldExit(_ context.Context, pos *types.Position) (bool, string, error) {
	if pos.ForceExit {
		return true, "force_exit", nil
	}
	return false, "", nil
}

// ExitPosition unwinds both legs at the current books and returns the
// realized P&L.
func (d *Detector) ExitPosition(ctx context.Context, pos *types.Position) (float64, error) {
	if err := d.deps.Store.Update(pos.PrimaryToken(), func(p *types.Position) {
		p.Status = types.PositionExiting
	}); err != nil {
		return 0, err
	}

	proceeds, remaining, err := d.deps.Executor.ExitPosition(ctx, d.deps.Clients, pos, nil)
	if err != nil {
		strategy.RearmAfterFailedExit(d.deps.Store, d.logger, pos, remaining)
		return 0, fmt.Errorf("exit pair: %w", err)
	}

	pnl := proceeds - pos.TotalCost
	d.logger.Info("event-pair-exited",
		zap.String("group_id", pos.GroupID),
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

var _ strategy.Strategy = (*Detector)(nil)
