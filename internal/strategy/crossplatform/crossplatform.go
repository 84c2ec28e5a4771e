// Package crossplatform trades the same event listed on two venues. When
// YES on one venue plus NO on the other costs less than a full payout, the
// pair locks in the spread regardless of the outcome.
package crossplatform

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/avivsh/polystrat/internal/catalog"
	"github.com/avivsh/polystrat/internal/execution"
	"github.com/avivsh/polystrat/internal/semantic"
	"github.com/avivsh/polystrat/internal/strategy"
	"github.com/avivsh/polystrat/pkg/pricemath"
	"github.com/avivsh/polystrat/pkg/types"
)

// Name is the registry name of this detector.
const Name = "cross_platform"

func init() {
	strategy.Register(Name, func(deps *strategy.Deps, args map[string]interface{}) (strategy.Strategy, error) {
		return New(deps, args)
	})
}

// Detector implements the cross-platform arbitrage strategy.
type Detector struct {
	deps *strategy.Deps

	minProfitThreshold  float64
	estimatedFee        float64
	minAnnualizedROI    float64
	earlyExitThreshold  float64
	maxLossTolerance    float64
	pairSize            float64
	maxMarkets          int
	maxLLMMatches       int
	similarityThreshold float64

	logger *zap.Logger
}

// New builds the detector. It requires a secondary venue with a market
// catalog.
func New(deps *strategy.Deps, args map[string]interface{}) (*Detector, error) {
	if deps.Secondary == nil || deps.SecondaryMarkets == nil {
		return nil, fmt.Errorf("cross-platform strategy requires a secondary venue client")
	}

	cfg := deps.Config
	return &Detector{
		deps:                deps,
		minProfitThreshold:  strategy.FloatArg(args, "min_profit_threshold", cfg.MinProfitThreshold),
		estimatedFee:        strategy.FloatArg(args, "estimated_fee", cfg.EstimatedFee),
		minAnnualizedROI:    strategy.FloatArg(args, "min_annualized_roi", cfg.MinAnnualizedROI),
		earlyExitThreshold:  strategy.FloatArg(args, "early_exit_threshold", cfg.EarlyExitThreshold),
		maxLossTolerance:    strategy.FloatArg(args, "max_loss_tolerance", cfg.MaxLossTolerance),
		pairSize:            strategy.FloatArg(args, "pair_size", cfg.PairSize),
		maxMarkets:          strategy.IntArg(args, "max_markets", cfg.MaxPairs),
		maxLLMMatches:       strategy.IntArg(args, "max_llm_matches", cfg.MaxLLMMatches),
		similarityThreshold: strategy.FloatArg(args, "similarity_threshold", cfg.SimilarityThreshold),
		logger:              deps.Logger.Named(Name),
	}, nil
}

// Name implements strategy.Strategy.
func (d *Detector) Name() string { return Name }

// matched is a cross-venue market pair describing the same event.
type matched struct {
	primary   *types.Market
	secondary *types.Market
}

// Scan matches the two venues' catalogs by question similarity and prices
// each matched pair in both directions.
func (d *Detector) Scan(ctx context.Context) ([]*types.Opportunity, error) {
	resp, err := d.deps.Catalog.FetchActiveMarkets(ctx, d.maxMarkets, 0, "volume24hr")
	if err != nil {
		return nil, fmt.Errorf("fetch primary markets: %w", err)
	}
	primaries := catalog.FilterBinaryOpen(resp.Data)

	secondaries, err := d.deps.SecondaryMarkets.GetMarkets(ctx, d.maxMarkets)
	if err != nil {
		return nil, fmt.Errorf("fetch secondary markets: %w", err)
	}
	secondaries = catalog.FilterBinaryOpen(secondaries)

	d.logger.Debug("scanning-cross-platform",
		zap.Int("primary_count", len(primaries)),
		zap.Int("secondary_count", len(secondaries)))

	matches := d.matchByKeywords(primaries, secondaries)
	if d.deps.Clusterer != nil && len(matches) > 0 {
		matches = d.confirmWithLLM(ctx, matches)
	}

	var opps []*types.Opportunity
	for _, m := range matches {
		found, err := d.priceMatch(ctx, m)
		if err != nil {
			d.logger.Debug("pricing-failed",
				zap.String("primary", m.primary.ID),
				zap.String("secondary", m.secondary.ID),
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

// matchByKeywords pairs each primary market with its best-scoring secondary
// above the similarity threshold.
func (d *Detector) matchByKeywords(primaries, secondaries []types.Market) []matched {
	var matches []matched
	used := make(map[int]bool)

	for i := range primaries {
		bestScore := d.similarityThreshold
		bestIdx := -1
		for j := range secondaries {
			if used[j] {
				continue
			}
			score := semantic.KeywordSimilarity(primaries[i].Question, secondaries[j].Question)
			if score >= bestScore {
				bestScore = score
				bestIdx = j
			}
		}
		if bestIdx >= 0 {
			used[bestIdx] = true
			matches = append(matches, matched{
				primary:   &primaries[i],
				secondary: &secondaries[bestIdx],
			})
		}
		if len(matches) >= d.maxLLMMatches {
			break
		}
	}
	return matches
}

// confirmWithLLM drops keyword matches the model judges to be different
// events. The model is asked whether each question pair describes the same
// event with the same deadline; unconfirmed matches are discarded, and an
// LLM failure keeps the keyword matches as-is.
func (d *Detector) confirmWithLLM(ctx context.Context, matches []matched) []matched {
	questions := make([]string, 0, len(matches)*2)
	for _, m := range matches {
		questions = append(questions, m.primary.Question, m.secondary.Question)
	}

	verdicts, err := d.deps.Clusterer.MatchQuestions(ctx, questions)
	if err != nil {
		d.logger.Warn("llm-confirmation-failed", zap.Error(err))
		return matches
	}

	confirmed := make(map[int]bool)
	for _, v := range verdicts {
		// Each match occupies consecutive index pairs (2k, 2k+1); a
		// verdict joining both halves confirms the match.
		if v.FirstIndex/2 == v.SecondIndex/2 {
			confirmed[v.FirstIndex/2] = true
		}
	}

	out := make([]matched, 0, len(matches))
	for i, m := range matches {
		if confirmed[i] {
			out = append(out, m)
		}
	}
	d.logger.Debug("llm-confirmed-matches",
		zap.Int("before", len(matches)),
		zap.Int("after", len(out)))
	return out
}

// priceMatch evaluates both spread directions for a matched pair:
// YES(primary)+NO(secondary) and NO(primary)+YES(secondary).
func (d *Detector) priceMatch(ctx context.Context, m matched) ([]*types.Opportunity, error) {
	pYes, pNo := m.primary.YesToken(), m.primary.NoToken()
	sYes, sNo := m.secondary.YesToken(), m.secondary.NoToken()
	if pYes == nil || pNo == nil || sYes == nil || sNo == nil {
		return nil, nil
	}

	days := pricemath.DaysUntil(m.primary.EndDate)
	fees := 2 * d.estimatedFee

	var opps []*types.Opportunity
	directions := []struct {
		primaryToken, secondaryToken string
	}{
		{pYes.TokenID, sNo.TokenID},
		{pNo.TokenID, sYes.TokenID},
	}

	for _, dir := range directions {
		if d.deps.Store.Has(dir.primaryToken) || d.deps.Store.Has(dir.secondaryToken) {
			continue
		}

		pBook, err := d.deps.Primary.GetOrderBook(ctx, dir.primaryToken)
		if err != nil {
			return opps, err
		}
		sBook, err := d.deps.Secondary.GetOrderBook(ctx, dir.secondaryToken)
		if err != nil {
			return opps, err
		}

		pAsk, okP := pBook.BestAskPrice()
		sAsk, okS := sBook.BestAskPrice()
		if !okP || !okS {
			continue
		}

		totalCost := pAsk + sAsk
		if totalCost >= 1.0-d.minProfitThreshold-fees {
			continue
		}

		profit := 1.0 - totalCost - fees
		roi := pricemath.AnnualizedROI(profit, totalCost, days)
		if roi < d.minAnnualizedROI {
			continue
		}

		legA := types.Leg{
			TokenID:    dir.primaryToken,
			Side:       types.SideBuy,
			LimitPrice: pAsk,
			Size:       d.pairSize,
			Venue:      d.deps.Primary.Name(),
		}
		legB := types.Leg{
			TokenID:    dir.secondaryToken,
			Side:       types.SideBuy,
			LimitPrice: sAsk,
			Size:       d.pairSize,
			Venue:      d.deps.Secondary.Name(),
		}

		opp := types.NewTwoLegOpportunity(types.KindCrossPlatformPair, m.primary.Question, legA, legB, fees, roi, days)
		d.logger.Info("cross-platform-pair-detected",
			zap.String("group_id", opp.GroupID),
			zap.String("primary_question", m.primary.Question),
			zap.String("secondary_question", m.secondary.Question),
			zap.Float64("total_cost", totalCost),
			zap.Float64("expected_profit", opp.ExpectedProfit))

		opps = append(opps, opp)
	}

	return opps, nil
}

// ShouldEnter re-prices both legs on their home venues, walking each book
// to the depth the order would actually consume.
func (d *Detector) ShouldEnter(ctx context.Context, opp *types.Opportunity) (bool, error) {
	total := 0.0
	for _, leg := range opp.Legs {
		client, ok := d.deps.Clients[leg.Venue]
		if !ok {
			return false, fmt.Errorf("no client for venue %s", leg.Venue)
		}
		book, err := client.GetOrderBook(ctx, leg.TokenID)
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
		total += est.AvgPrice
	}

	fees := 2 * d.estimatedFee
	return total < 1.0-d.minProfitThreshold-fees, nil
}

// EnterPosition executes both legs atomically across venues.
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

	// Only the primary venue has a streaming feed; the secondary leg is
	// monitored by REST polling in the monitor loop.
	if d.deps.Streamer != nil {
		for _, leg := range pos.Legs {
			if leg.Venue == d.deps.Primary.Name() {
				if err := d.deps.Streamer.Subscribe(ctx, []string{leg.TokenID}); err != nil {
					d.logger.Warn("subscribe-failed", zap.Error(err))
				}
			}
		}
	}

	strategy.EntriesTotal.WithLabelValues(Name).Inc()
	return pos, nil
}

// ShouldExit mirrors the calendar logic: capture value early or cut losses.
func (d *Detector) ShouldExit(ctx context.Context, pos *types.Position) (bool, string, error) {
	if pos.ForceExit {
		return true, "force_exit", nil
	}

	combined := 0.0
	for _, leg := range pos.Legs {
		client, ok := d.deps.Clients[leg.Venue]
		if !ok {
			return false, "", fmt.Errorf("no client for venue %s", leg.Venue)
		}
		book, err := client.GetOrderBook(ctx, leg.TokenID)
		if err != nil {
			return false, "", nil
		}
		bid, has := book.BestBidPrice()
		if !has {
			return false, "", nil
		}
		combined += bid
	}

	entryPerShare := 0.0
	for _, leg := range pos.Legs {
		entryPerShare += leg.EntryPrice
	}

	// Selling both legs back must clear entry cost, round-trip fees, and
	// the exit margin before giving up the guaranteed payout.
	if combined >= entryPerShare+pos.EstimatedFee+d.earlyExitThreshold {
		return true, "early_value_capture", nil
	}
	if combined < entryPerShare-d.maxLossTolerance {
		return true, "stop_loss", nil
	}

	return false, "", nil
}

// ExitPosition unwinds both legs on their home venues and returns the
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
	d.logger.Info("cross-platform-pair-exited",
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
