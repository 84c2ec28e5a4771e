// Package runtime drives one strategy for one account: a scan loop that
// finds and enters opportunities, a monitor loop that decides exits, and a
// stats loop that reports counters.
package runtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avivsh/polystrat/internal/riskguard"
	"github.com/avivsh/polystrat/internal/storage"
	"github.com/avivsh/polystrat/internal/strategy"
	"github.com/avivsh/polystrat/pkg/types"
)

// seenTTL is how long a fingerprint blocks re-entry of the same opportunity.
const seenTTL = 24 * time.Hour

// Runtime runs one strategy's loops.
type Runtime struct {
	strat  strategy.Strategy
	deps   *strategy.Deps
	guard  *riskguard.Guard
	sink   storage.Storage
	logger *zap.Logger

	scanInterval    time.Duration
	monitorInterval time.Duration
	statsInterval   time.Duration
	errorBackoff    time.Duration

	mu   sync.Mutex
	seen map[string]time.Time

	stats struct {
		sync.Mutex
		scans         int64
		opportunities int64
		entries       int64
		exits         int64
		errors        int64
		pnlUSD        float64
	}

	wg sync.WaitGroup
}

// Config holds runtime configuration.
type Config struct {
	Strategy strategy.Strategy
	Deps     *strategy.Deps
	Guard    *riskguard.Guard // optional
	Sink     storage.Storage
	Logger   *zap.Logger
}

// New creates a runtime for one strategy.
func New(cfg *Config) *Runtime {
	appCfg := cfg.Deps.Config
	return &Runtime{
		strat:           cfg.Strategy,
		deps:            cfg.Deps,
		guard:           cfg.Guard,
		sink:            cfg.Sink,
		logger:          cfg.Logger.Named("runtime").With(zap.String("strategy", cfg.Strategy.Name())),
		scanInterval:    appCfg.ScanInterval,
		monitorInterval: appCfg.MonitorInterval,
		statsInterval:   appCfg.StatsInterval,
		errorBackoff:    appCfg.ErrorBackoff,
		seen:            make(map[string]time.Time),
	}
}

// Start launches the loops and the force-exit stream handler. It returns
// immediately; Wait blocks until the loops drain after ctx cancellation.
func (r *Runtime) Start(ctx context.Context) {
	r.logger.Info("strategy-runtime-starting",
		zap.Duration("scan_interval", r.scanInterval),
		zap.Duration("monitor_interval", r.monitorInterval),
		zap.Duration("stats_interval", r.statsInterval))

	if r.deps.Streamer != nil {
		r.deps.Streamer.RegisterHandler(r.onPriceUpdate)
	}

	r.wg.Add(3)
	go r.scanLoop(ctx)
	go r.monitorLoop(ctx)
	go r.statsLoop(ctx)
}

// Wait blocks until all loops exit.
func (r *Runtime) Wait() {
	r.wg.Wait()
	r.logger.Info("strategy-runtime-stopped")
}

// onPriceUpdate flags a held position for forced exit when the market bid
// rises past our entry: someone is pennying our level and the edge is gone.
func (r *Runtime) onPriceUpdate(update types.PriceUpdate) {
	pos, ok := r.deps.Store.Get(update.TokenID)
	if !ok || pos.Strategy != r.strat.Name() || pos.ForceExit {
		return
	}
	if pos.Status != types.PositionOpen {
		return
	}

	entry := pos.Legs[0].EntryPrice
	if update.BestBid > entry {
		r.logger.Info("price-defense-triggered",
			zap.String("token_id", update.TokenID),
			zap.Float64("entry_price", entry),
			zap.Float64("best_bid", update.BestBid))
		if err := r.deps.Store.Update(update.TokenID, func(p *types.Position) {
			p.ForceExit = true
		}); err != nil {
			r.logger.Error("force-exit-flag-failed", zap.Error(err))
		}
	}
}

func (r *Runtime) scanLoop(ctx context.Context) {
	defer r.wg.Done()

	// First scan runs immediately.
	r.runScan(ctx)

	ticker := time.NewTicker(r.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runScan(ctx)
		}
	}
}

func (r *Runtime) runScan(ctx context.Context) {
	r.stats.Lock()
	r.stats.scans++
	r.stats.Unlock()

	opps, err := r.strat.Scan(ctx)
	if err != nil {
		r.recordError()
		r.logger.Error("scan-failed", zap.Error(err))
		// Back off so a broken upstream is not hammered.
		select {
		case <-ctx.Done():
		case <-time.After(r.errorBackoff):
		}
		return
	}

	ScansTotal.WithLabelValues(r.strat.Name()).Inc()

	for _, opp := range opps {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.tryEnter(ctx, opp)
	}

	r.pruneSeen()
}

func (r *Runtime) tryEnter(ctx context.Context, opp *types.Opportunity) {
	r.stats.Lock()
	r.stats.opportunities++
	r.stats.Unlock()

	if r.alreadySeen(opp.Fingerprint) {
		r.logger.Debug("opportunity-already-seen",
			zap.String("fingerprint", opp.Fingerprint))
		return
	}

	for _, leg := range opp.Legs {
		if r.deps.Store.Has(leg.TokenID) {
			return
		}
	}

	if r.guard != nil && !r.guard.CanEnter() {
		r.logger.Warn("entry-blocked-by-risk-guard",
			zap.String("fingerprint", opp.Fingerprint))
		return
	}

	if r.sink != nil {
		if err := r.sink.RecordOpportunity(ctx, r.strat.Name(), opp); err != nil {
			r.logger.Warn("opportunity-record-failed", zap.Error(err))
		}
	}

	ok, err := r.strat.ShouldEnter(ctx, opp)
	if err != nil {
		r.recordError()
		r.logger.Warn("entry-validation-failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	r.markSeen(opp.Fingerprint)

	pos, err := r.strat.EnterPosition(ctx, opp)
	if err != nil {
		r.recordError()
		if types.IsCritical(err) {
			r.logger.Error("entry-left-stranded-inventory", zap.Error(err),
				zap.String("fingerprint", opp.Fingerprint))
		} else {
			r.logger.Warn("entry-failed", zap.Error(err))
		}
		return
	}
	if pos == nil {
		return
	}

	r.stats.Lock()
	r.stats.entries++
	r.stats.Unlock()

	if r.guard != nil {
		r.guard.RecordTrade(pos.TotalCost)
	}
	if r.sink != nil {
		if err := r.sink.RecordTrade(ctx, &storage.Trade{
			Strategy:  r.strat.Name(),
			GroupID:   pos.GroupID,
			Kind:      pos.Kind,
			Action:    "entry",
			TokenIDs:  pos.TokenIDs(),
			CostUSD:   pos.TotalCost,
			Timestamp: time.Now(),
		}); err != nil {
			r.logger.Warn("trade-record-failed", zap.Error(err))
		}
	}

	r.logger.Info("position-entered",
		zap.String("fingerprint", pos.Fingerprint),
		zap.Float64("cost_usd", pos.TotalCost),
		zap.Int("legs", len(pos.Legs)))
}

func (r *Runtime) monitorLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runMonitor(ctx)
		}
	}
}

func (r *Runtime) runMonitor(ctx context.Context) {
	for _, pos := range r.deps.Store.GetByStrategy(r.strat.Name()) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var exit bool
		var reason string
		switch pos.Status {
		case types.PositionOpen:
			var err error
			exit, reason, err = r.strat.ShouldExit(ctx, pos)
			if err != nil {
				r.recordError()
				r.logger.Warn("exit-check-failed",
					zap.String("token_id", pos.PrimaryToken()),
					zap.Error(err))
				continue
			}
		case types.PositionExiting:
			// An unwind that was interrupted mid-flight (crash, restart)
			// is retried rather than left in limbo.
			exit, reason = true, "exit_retry"
		default:
			continue
		}
		if !exit {
			continue
		}

		r.logger.Info("exit-triggered",
			zap.String("token_id", pos.PrimaryToken()),
			zap.String("reason", reason))

		pnl, err := r.strat.ExitPosition(ctx, pos)
		if err != nil {
			r.recordError()
			r.logger.Error("exit-failed",
				zap.String("token_id", pos.PrimaryToken()),
				zap.Error(err))
			continue
		}

		r.stats.Lock()
		r.stats.exits++
		r.stats.pnlUSD += pnl
		r.stats.Unlock()
		strategy.ExitsTotal.WithLabelValues(r.strat.Name(), reason).Inc()

		if r.sink != nil {
			if err := r.sink.RecordTrade(ctx, &storage.Trade{
				Strategy:  r.strat.Name(),
				GroupID:   pos.GroupID,
				Kind:      pos.Kind,
				Action:    "exit",
				Reason:    reason,
				TokenIDs:  pos.TokenIDs(),
				CostUSD:   pos.TotalCost,
				Proceeds:  pos.TotalCost + pnl,
				PnLUSD:    pnl,
				Timestamp: time.Now(),
			}); err != nil {
				r.logger.Warn("trade-record-failed", zap.Error(err))
			}
		}
	}
}

func (r *Runtime) statsLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logStats(ctx)
		}
	}
}

func (r *Runtime) logStats(ctx context.Context) {
	balance, err := r.deps.Primary.GetBalance(ctx, false)
	if err != nil {
		r.logger.Warn("stats-balance-fetch-failed", zap.Error(err))
	}

	r.stats.Lock()
	scans, opps, entries, exits, errCount := r.stats.scans, r.stats.opportunities, r.stats.entries, r.stats.exits, r.stats.errors
	pnlUSD := r.stats.pnlUSD
	r.stats.Unlock()

	r.logger.Info("strategy-stats",
		zap.Int64("scans", scans),
		zap.Int64("opportunities", opps),
		zap.Int64("entries", entries),
		zap.Int64("exits", exits),
		zap.Int64("errors", errCount),
		zap.Float64("total_pnl_usd", pnlUSD),
		zap.Int("open_positions", len(r.deps.Store.GetByStrategy(r.strat.Name()))),
		zap.Float64("balance_usd", balance),
		zap.Float64("committed_usd", r.deps.Store.CommittedCapital()))
}

func (r *Runtime) alreadySeen(fingerprint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	seenAt, ok := r.seen[fingerprint]
	return ok && time.Since(seenAt) < seenTTL
}

func (r *Runtime) markSeen(fingerprint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[fingerprint] = time.Now()
}

func (r *Runtime) pruneSeen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for fp, at := range r.seen {
		if time.Since(at) >= seenTTL {
			delete(r.seen, fp)
		}
	}
}

func (r *Runtime) recordError() {
	r.stats.Lock()
	r.stats.errors++
	r.stats.Unlock()
	ErrorsTotal.WithLabelValues(r.strat.Name()).Inc()
}
