// Package calendar trades deadline pairs: two markets on the same event
// where one deadline strictly precedes the other. Buying NO on the early
// market and YES on the late market pays out at least one share regardless
// of when (or whether) the event happens, so any combined cost sufficiently
// below 1.0 locks in profit.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/avivsh/polystrat/internal/catalog"
	"github.com/avivsh/polystrat/internal/execution"
	"github.com/avivsh/polystrat/internal/semantic"
	"github.com/avivsh/polystrat/internal/strategy"
	"github.com/avivsh/polystrat/pkg/pricemath"
	"github.com/avivsh/polystrat/pkg/types"
)

// Name is the registry name of this detector.
const Name = "calendar_arbitrage"

func init() {
	strategy.Register(Name, func(deps *strategy.Deps, args map[string]interface{}) (strategy.Strategy, error) {
		return New(deps, args), nil
	})
}

// Detector implements the calendar-arbitrage strategy.
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

// New builds the detector from shared deps and optional overrides.
func New(deps *strategy.Deps, args map[string]interface{}) *Detector {
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
	}
}

// Name implements strategy.Strategy.
func (d *Detector) Name() string { return Name }

// candidatePair is an ordered (early, late) market pair awaiting pricing.
type candidatePair struct {
	early *types.Market
	late  *types.Market
}

// Scan fetches soon-expiring markets, pairs them by base event, and prices
// the survivors.
func (d *Detector) Scan(ctx context.Context) ([]*types.Opportunity, error) {
	resp, err := d.deps.Catalog.FetchActiveMarkets(ctx, d.maxMarkets, 0, "endDate")
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}

	markets := catalog.FilterBinaryOpen(resp.Data)
	d.logger.Debug("scanning-markets", zap.Int("count", len(markets)))

	pairs := d.pairByNormalizedQuestion(markets)
	if d.deps.Clusterer != nil {
		llmPairs, err := d.pairByLLM(ctx, markets, pairs)
		if err != nil {
			d.logger.Warn("llm-pairing-failed", zap.Error(err))
		} else {
			pairs = append(pairs, llmPairs...)
		}
	}

	var opps []*types.Opportunity
	for _, pair := range pairs {
		opp, err := d.priceCandidate(ctx, pair)
		if err != nil {
			d.logger.Debug("pricing-failed",
				zap.String("early", pair.early.ID),
				zap.String("late", pair.late.ID),
				zap.Error(err))
			continue
		}
		if opp != nil {
			strategy.OpportunitiesTotal.WithLabelValues(Name).Inc()
			opps = append(opps, opp)
		}
	}

	return opps, nil
}

// pairByNormalizedQuestion groups markets whose questions normalize to the
// same base event and pairs adjacent expiries within each group.
func (d *Detector) pairByNormalizedQuestion(markets []types.Market) []candidatePair {
	groups := make(map[string][]*types.Market)
	for i := range markets {
		key := semantic.NormalizeQuestion(markets[i].Question)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], &markets[i])
	}

	var pairs []candidatePair
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].EndDate.Before(group[j].EndDate)
		})
		for i := 0; i+1 < len(group); i++ {
			early, late := group[i], group[i+1]
			if !early.EndDate.Before(late.EndDate) {
				continue
			}
			pairs = append(pairs, candidatePair{early: early, late: late})
		}
	}
	return pairs
}

// pairByLLM sends keyword-similar questions that exact normalization missed
// to the clusterer for confirmation.
func (d *Detector) pairByLLM(ctx context.Context, markets []types.Market, existing []candidatePair) ([]candidatePair, error) {
	paired := make(map[string]bool)
	for _, p := range existing {
		paired[p.early.ID] = true
		paired[p.late.ID] = true
	}

	// Candidates: unpaired markets with at least one keyword-similar
	// unpaired sibling.
	var candidates []*types.Market
	for i := range markets {
		if paired[markets[i].ID] {
			continue
		}
		for j := range markets {
			if i == j || paired[markets[j].ID] {
				continue
			}
			sim := semantic.KeywordSimilarity(markets[i].Question, markets[j].Question)
			if sim >= d.similarityThreshold {
				candidates = append(candidates, &markets[i])
				break
			}
		}
		if len(candidates) >= d.maxLLMMatches {
			break
		}
	}
	if len(candidates) < 2 {
		return nil, nil
	}

	questions := make([]string, len(candidates))
	for i, m := range candidates {
		questions[i] = m.Question
	}

	clusters, err := d.deps.Clusterer.ClusterQuestions(ctx, questions)
	if err != nil {
		return nil, err
	}

	var pairs []candidatePair
	for _, cl := range clusters {
		early, late := candidates[cl.EarlyIndex], candidates[cl.LateIndex]
		if !early.EndDate.Before(late.EndDate) {
			// The model's ordering disagrees with the listed
			// expiries; trust the expiries.
			if !late.EndDate.Before(early.EndDate) {
				continue
			}
			early, late = late, early
		}
		pairs = append(pairs, candidatePair{early: early, late: late})
	}
	return pairs, nil
}

// priceCandidate prices NO(early) + YES(late) and keeps the pair when the
// combined cost clears the profit and ROI gates.
func (d *Detector) priceCandidate(ctx context.Context, pair candidatePair) (*types.Opportunity, error) {
	noToken := pair.early.NoToken()
	yesToken := pair.late.YesToken()
	if noToken == nil || yesToken == nil {
		return nil, nil
	}

	// A market that can resolve invalid voids the guaranteed payout the
	// pair depends on.
	if mentionsInvalidity(pair.early) || mentionsInvalidity(pair.late) {
		d.logger.Debug("pair-rejected-invalidity-risk",
			zap.String("early", pair.early.ID),
			zap.String("late", pair.late.ID))
		return nil, nil
	}

	if d.deps.Store.Has(noToken.TokenID) || d.deps.Store.Has(yesToken.TokenID) {
		return nil, nil
	}

	noBook, err := d.deps.Primary.GetOrderBook(ctx, noToken.TokenID)
	if err != nil {
		return nil, err
	}
	yesBook, err := d.deps.Primary.GetOrderBook(ctx, yesToken.TokenID)
	if err != nil {
		return nil, err
	}

	noAsk, okNo := noBook.BestAskPrice()
	yesAsk, okYes := yesBook.BestAskPrice()
	if !okNo || !okYes {
		return nil, nil
	}

	totalCost := noAsk + yesAsk
	fees := 2 * d.estimatedFee
	if totalCost >= 1.0-d.minProfitThreshold-fees {
		return nil, nil
	}

	profit := 1.0 - totalCost - fees
	days := pricemath.DaysUntil(pair.late.EndDate)
	roi := pricemath.AnnualizedROI(profit, totalCost, days)
	if roi < d.minAnnualizedROI {
		return nil, nil
	}

	legA := types.Leg{
		TokenID:    noToken.TokenID,
		Side:       types.SideBuy,
		LimitPrice: noAsk,
		Size:       d.pairSize,
		Venue:      d.deps.Primary.Name(),
	}
	legB := types.Leg{
		TokenID:    yesToken.TokenID,
		Side:       types.SideBuy,
		LimitPrice: yesAsk,
		Size:       d.pairSize,
		Venue:      d.deps.Primary.Name(),
	}

	opp := types.NewTwoLegOpportunity(types.KindCalendarPair, pair.early.Question, legA, legB, fees, roi, days)

	d.logger.Info("calendar-pair-detected",
		zap.String("group_id", opp.GroupID),
		zap.String("early_question", pair.early.Question),
		zap.String("late_question", pair.late.Question),
		zap.Float64("total_cost", totalCost),
		zap.Float64("expected_profit", opp.ExpectedProfit),
		zap.Float64("annualized_roi", roi))

	return opp, nil
}

// ShouldEnter re-prices both legs by walking the ask ladders with the
// planned sizes; both must fill inside the probe depth and the
// slippage-adjusted total must still clear the profit gate.
func (d *Detector) ShouldEnter(ctx context.Context, opp *types.Opportunity) (bool, error) {
	total := 0.0
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
		total += est.AvgPrice
	}

	fees := 2 * d.estimatedFee
	if total >= 1.0-d.minProfitThreshold-fees {
		d.logger.Debug("pair-moved-away",
			zap.String("group_id", opp.GroupID),
			zap.Float64("total_cost", total))
		return false, nil
	}

	balance, err := d.deps.Primary.GetBalance(ctx, false)
	if err != nil {
		return false, err
	}
	required := total * d.pairSize
	if balance < required {
		d.logger.Warn("insufficient-balance-for-pair",
			zap.Float64("balance", balance),
			zap.Float64("required", required))
		return false, nil
	}

	return true, nil
}

// EnterPosition executes both legs atomically and records the position. A
// failed rollback leaves stranded inventory; that fill is recorded as a
// FAILED position so an operator can reconcile it by hand.
func (d *Detector) EnterPosition(ctx context.Context, opp *types.Opportunity) (*types.Position, error) {
	pos, err := d.deps.Executor.EnterPair(ctx, d.deps.Clients, opp)
	if err != nil {
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

// ShouldExit unwinds early when the combined bid value clears the entry
// cost plus fees and the capture threshold, or cuts losses when the pair
// value decays past tolerance.
func (d *Detector) ShouldExit(ctx context.Context, pos *types.Position) (bool, string, error) {
	if pos.ForceExit {
		return true, "force_exit", nil
	}

	combined, ok := d.combinedBidValue(ctx, pos)
	if !ok {
		return false, "", nil
	}

	entryPerShare := 0.0
	for _, leg := range pos.Legs {
		entryPerShare += leg.EntryPrice
	}

	if combined >= entryPerShare+pos.EstimatedFee+d.earlyExitThreshold {
		return true, "early_value_capture", nil
	}
	if combined < entryPerShare-d.maxLossTolerance {
		return true, "stop_loss", nil
	}

	return false, "", nil
}

// ExitPosition sells both legs at their best bids and retires the position.
// A failed unwind re-arms the surviving legs for the next monitor pass.
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
	d.logger.Info("pair-exited",
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

// mentionsInvalidity reports whether the market text carries an invalid
// resolution clause.
func mentionsInvalidity(m *types.Market) bool {
	text := strings.ToLower(m.Question + " " + m.Description)
	return strings.Contains(text, "invalid")
}

// combinedBidValue sums best bids across legs, preferring the live feed.
func (d *Detector) combinedBidValue(ctx context.Context, pos *types.Position) (float64, bool) {
	total := 0.0
	for _, leg := range pos.Legs {
		bid, ok := d.bestBid(ctx, leg.TokenID, leg.Venue)
		if !ok {
			return 0, false
		}
		total += bid
	}
	return total, true
}

func (d *Detector) bestBid(ctx context.Context, tokenID string, v types.Venue) (float64, bool) {
	if d.deps.Streamer != nil {
		if quote, ok := d.deps.Streamer.BestQuote(tokenID); ok && quote.BestBid > 0 {
			return quote.BestBid, true
		}
	}
	client, ok := d.deps.Clients[v]
	if !ok {
		return 0, false
	}
	book, err := client.GetOrderBook(ctx, tokenID)
	if err != nil {
		return 0, false
	}
	return book.BestBidPrice()
}

var _ strategy.Strategy = (*Detector)(nil)
