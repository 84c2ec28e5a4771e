// Package execution turns detected opportunities into signed orders, with
// an atomic two-leg path that rolls back the surviving leg when its partner
// fails.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avivsh/polystrat/internal/venue"
	"github.com/avivsh/polystrat/pkg/pricemath"
	"github.com/avivsh/polystrat/pkg/types"
)

// MinOrderSize is the venue minimum in shares; anything smaller is rejected
// before it reaches the wire.
const MinOrderSize = 5.0

// rollbackFloorPrice is the limit used to dump an orphaned leg when the book
// has no bid at all.
const rollbackFloorPrice = 0.01

// Executor posts orders through venue clients.
type Executor struct {
	logger *zap.Logger
}

// Config holds executor configuration.
type Config struct {
	Logger *zap.Logger
}

// NewExecutor creates an executor.
func NewExecutor(cfg *Config) *Executor {
	return &Executor{logger: cfg.Logger}
}

// legOutcome carries one leg's result across the pair-entry join.
type legOutcome struct {
	leg    types.Leg
	result *venue.OrderResult
	err    error
}

// ExecuteOrder rounds, validates and posts a single order.
func (e *Executor) ExecuteOrder(ctx context.Context, client venue.Client, leg types.Leg, orderType types.OrderType) (*venue.OrderResult, error) {
	price := pricemath.RoundPrice(leg.LimitPrice)
	size := pricemath.RoundSize(leg.Size)

	if size < MinOrderSize {
		return nil, fmt.Errorf("order size %.2f below minimum %.2f", size, MinOrderSize)
	}
	if price <= 0 || price >= 1 {
		return nil, types.NewDataIntegrityError(fmt.Sprintf("limit price %.3f out of range", price))
	}

	start := time.Now()
	result, err := client.PostOrder(ctx, venue.OrderRequest{
		TokenID:    leg.TokenID,
		Side:       leg.Side,
		Size:       size,
		LimitPrice: price,
		Type:       orderType,
	})
	OrderLatencySeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	e.logger.Info("order-executed",
		zap.String("venue", string(client.Name())),
		zap.String("token_id", leg.TokenID),
		zap.String("side", string(leg.Side)),
		zap.Float64("price", price),
		zap.Float64("size", size),
		zap.String("order_id", result.OrderID))

	return result, nil
}

// EnterPair submits both legs of a two-leg opportunity concurrently with
// fill-or-kill semantics. Both books are depth-checked first: a leg the ladder
// cannot absorb, or a slippage-adjusted total that erases the expected
// profit, aborts the entry before any order reaches the wire. If exactly
// one leg fills, the orphan is sold back immediately at the best bid (or
// the floor price on an empty book). The returned position is nil unless
// both legs filled; when the rollback itself fails the stranded fill is
// returned as a FAILED position alongside a critical PartialFillHazard so
// the caller can record the inventory for manual reconciliation.
func (e *Executor) EnterPair(ctx context.Context, clients map[types.Venue]venue.Client, opp *types.Opportunity) (*types.Position, error) {
	if len(opp.Legs) != 2 {
		return nil, types.NewDataIntegrityError(fmt.Sprintf("pair entry needs 2 legs, got %d", len(opp.Legs)))
	}

	if err := e.checkPairDepth(ctx, clients, opp); err != nil {
		PairEntriesTotal.WithLabelValues("aborted").Inc()
		return nil, err
	}

	outcomes := make([]legOutcome, 2)
	var wg sync.WaitGroup
	for i, leg := range opp.Legs {
		wg.Add(1)
		go func(i int, leg types.Leg) {
			defer wg.Done()
			client, ok := clients[leg.Venue]
			if !ok {
				outcomes[i] = legOutcome{leg: leg, err: fmt.Errorf("no client for venue %s", leg.Venue)}
				return
			}
			result, err := e.ExecuteOrder(ctx, client, leg, types.OrderFOK)
			outcomes[i] = legOutcome{leg: leg, result: result, err: err}
		}(i, leg)
	}
	wg.Wait()

	okA, okB := outcomes[0].err == nil, outcomes[1].err == nil

	switch {
	case okA && okB:
		PairEntriesTotal.WithLabelValues("filled").Inc()
		return e.buildPosition(opp, outcomes), nil

	case !okA && !okB:
		PairEntriesTotal.WithLabelValues("rejected").Inc()
		e.logger.Warn("pair-entry-both-legs-failed",
			zap.String("group_id", opp.GroupID),
			zap.NamedError("leg_a", outcomes[0].err),
			zap.NamedError("leg_b", outcomes[1].err))
		return nil, fmt.Errorf("both legs rejected: %v; %v", outcomes[0].err, outcomes[1].err)

	default:
		filled, failed := outcomes[0], outcomes[1]
		if okB {
			filled, failed = outcomes[1], outcomes[0]
		}
		PairEntriesTotal.WithLabelValues("partial").Inc()
		e.logger.Error("pair-entry-partial-fill",
			zap.String("group_id", opp.GroupID),
			zap.String("filled_token", filled.leg.TokenID),
			zap.String("failed_token", failed.leg.TokenID),
			zap.Error(failed.err))

		if rbErr := e.rollbackLeg(ctx, clients, filled); rbErr != nil {
			RollbacksTotal.WithLabelValues("failed").Inc()
			return e.strandedPosition(opp, filled), &types.PartialFillHazard{
				FilledToken: filled.leg.TokenID,
				FailedToken: failed.leg.TokenID,
				Err:         &types.CriticalHazard{Op: "orphan leg rollback", Err: rbErr},
			}
		}
		RollbacksTotal.WithLabelValues("ok").Inc()
		return nil, &types.PartialFillHazard{
			FilledToken: filled.leg.TokenID,
			FailedToken: failed.leg.TokenID,
			Err:         failed.err,
		}
	}
}

// checkPairDepth walks both ladders with the planned order sizes. A book
// that cannot be fetched is skipped; the FOK time-in-force still bounds the
// risk there. When both legs are buys the slippage-adjusted total must stay
// below the unit payout net of fees (a mixed-side pair has no such bound).
func (e *Executor) checkPairDepth(ctx context.Context, clients map[types.Venue]venue.Client, opp *types.Opportunity) error {
	adjustedTotal := 0.0
	checkedAll := true
	bothBuys := true

	for _, leg := range opp.Legs {
		if leg.Side != types.SideBuy {
			bothBuys = false
		}
		client, ok := clients[leg.Venue]
		if !ok {
			return fmt.Errorf("no client for venue %s", leg.Venue)
		}
		book, err := client.GetOrderBook(ctx, leg.TokenID)
		if err != nil {
			e.logger.Debug("depth-check-book-unavailable",
				zap.String("token_id", leg.TokenID),
				zap.Error(err))
			checkedAll = false
			continue
		}
		est := SimulateFill(book, leg.Side, leg.Size)
		if !est.FullyFilled {
			return fmt.Errorf("insufficient depth for %s: %.2f of %.2f fillable within %d levels",
				leg.TokenID, est.FilledSize, leg.Size, ProbeDepth)
		}
		adjustedTotal += est.AvgPrice
	}

	// ExpectedProfit is 1 - total_cost - fees, so cost plus profit marks
	// the break-even total after fees.
	if bothBuys && checkedAll && adjustedTotal >= opp.TotalCost+opp.ExpectedProfit {
		return fmt.Errorf("slippage-adjusted cost %.4f erases the edge (break-even %.4f)",
			adjustedTotal, opp.TotalCost+opp.ExpectedProfit)
	}
	return nil
}

// rollbackLeg dumps an orphaned fill at the best available bid.
func (e *Executor) rollbackLeg(ctx context.Context, clients map[types.Venue]venue.Client, filled legOutcome) error {
	client, ok := clients[filled.leg.Venue]
	if !ok {
		return fmt.Errorf("no client for venue %s", filled.leg.Venue)
	}

	price := rollbackFloorPrice
	if book, err := client.GetOrderBook(ctx, filled.leg.TokenID); err == nil {
		if bid, ok := book.BestBid(); ok {
			price = bid.Price
		}
	}

	e.logger.Warn("rolling-back-orphan-leg",
		zap.String("token_id", filled.leg.TokenID),
		zap.Float64("price", price),
		zap.Float64("size", filled.result.FilledSize))

	_, err := client.PostOrder(ctx, venue.OrderRequest{
		TokenID:    filled.leg.TokenID,
		Side:       types.SideSell,
		Size:       pricemath.RoundSize(filled.result.FilledSize),
		LimitPrice: pricemath.RoundPrice(price),
		Type:       types.OrderFOK,
	})
	return err
}

func (e *Executor) buildPosition(opp *types.Opportunity, outcomes []legOutcome) *types.Position {
	legs := make([]types.PositionLeg, 0, len(outcomes))
	totalCost := 0.0
	for _, out := range outcomes {
		legs = append(legs, types.PositionLeg{
			TokenID:    out.leg.TokenID,
			Side:       out.leg.Side,
			EntryPrice: out.result.AvgFillPrice,
			Size:       out.result.FilledSize,
			Venue:      out.leg.Venue,
			OrderID:    out.result.OrderID,
		})
		totalCost += out.result.AvgFillPrice * out.result.FilledSize
	}

	return &types.Position{
		Question:       opp.Question,
		Kind:           opp.Kind,
		Legs:           legs,
		EntryTime:      time.Now(),
		GroupID:        opp.GroupID,
		TargetPrice:    opp.TargetPrice,
		TotalCost:      totalCost,
		Status:         types.PositionOpen,
		Fingerprint:    opp.Fingerprint,
		DaysUntilClose: opp.DaysUntilClose,
	}
}

// strandedPosition wraps inventory left behind by a failed rollback as a
// FAILED position so the caller can persist it for manual reconciliation.
func (e *Executor) strandedPosition(opp *types.Opportunity, filled legOutcome) *types.Position {
	return &types.Position{
		Question: opp.Question,
		Kind:     opp.Kind,
		Legs: []types.PositionLeg{{
			TokenID:    filled.leg.TokenID,
			Side:       filled.leg.Side,
			EntryPrice: filled.result.AvgFillPrice,
			Size:       filled.result.FilledSize,
			Venue:      filled.leg.Venue,
			OrderID:    filled.result.OrderID,
		}},
		EntryTime:      time.Now(),
		GroupID:        opp.GroupID,
		TotalCost:      filled.result.AvgFillPrice * filled.result.FilledSize,
		Status:         types.PositionFailed,
		Fingerprint:    opp.Fingerprint,
		DaysUntilClose: opp.DaysUntilClose,
	}
}

// exitOutcome carries one leg's unwind result across the join.
type exitOutcome struct {
	leg    types.PositionLeg
	result *venue.OrderResult
	err    error
}

// ExitPosition unwinds every leg of a position concurrently at the given
// limit prices (keyed by token; missing entries fall back to the book's
// best bid, or the floor on an empty book). It returns the realized
// proceeds of the legs that sold and, on error, the legs still held so the
// caller can keep tracking the residual exposure and retry.
func (e *Executor) ExitPosition(ctx context.Context, clients map[types.Venue]venue.Client, pos *types.Position, limitPrices map[string]float64) (float64, []types.PositionLeg, error) {
	outcomes := make([]exitOutcome, len(pos.Legs))
	var wg sync.WaitGroup
	for i, leg := range pos.Legs {
		wg.Add(1)
		go func(i int, leg types.PositionLeg) {
			defer wg.Done()
			outcomes[i] = e.exitLeg(ctx, clients, leg, limitPrices)
		}(i, leg)
	}
	wg.Wait()

	proceeds := 0.0
	var remaining []types.PositionLeg
	var firstErr error
	for _, out := range outcomes {
		if out.err != nil {
			remaining = append(remaining, out.leg)
			if firstErr == nil {
				firstErr = out.err
			}
			continue
		}
		proceeds += out.result.AvgFillPrice * out.result.FilledSize
	}

	if firstErr != nil {
		if len(remaining) < len(pos.Legs) {
			e.logger.Error("exit-partial-fill",
				zap.String("group_id", pos.GroupID),
				zap.Int("unsold_legs", len(remaining)),
				zap.Float64("proceeds", proceeds),
				zap.Error(firstErr))
		}
		return proceeds, remaining, fmt.Errorf("exit incomplete, %d of %d legs unsold: %w",
			len(remaining), len(pos.Legs), firstErr)
	}
	return proceeds, nil, nil
}

func (e *Executor) exitLeg(ctx context.Context, clients map[types.Venue]venue.Client, leg types.PositionLeg, limitPrices map[string]float64) exitOutcome {
	client, ok := clients[leg.Venue]
	if !ok {
		return exitOutcome{leg: leg, err: fmt.Errorf("no client for venue %s", leg.Venue)}
	}

	price, ok := limitPrices[leg.TokenID]
	if !ok {
		price = rollbackFloorPrice
		if book, err := client.GetOrderBook(ctx, leg.TokenID); err == nil {
			if bid, has := book.BestBid(); has {
				price = bid.Price
			}
		}
	}

	exitSide := types.SideSell
	if leg.Side == types.SideSell {
		exitSide = types.SideBuy
	}

	result, err := e.ExecuteOrder(ctx, client, types.Leg{
		TokenID:    leg.TokenID,
		Side:       exitSide,
		LimitPrice: price,
		Size:       leg.Size,
		Venue:      leg.Venue,
	}, types.OrderFOK)
	return exitOutcome{leg: leg, result: result, err: err}
}
