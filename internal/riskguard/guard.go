// Package riskguard pauses new entries when the account balance falls below
// a dynamic floor derived from recent trade sizes. Hysteresis keeps the
// guard from flapping around the threshold.
package riskguard

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// tradeWindow is the rolling window of trade sizes used for thresholds.
const tradeWindow = 20

// BalanceFetcher fetches the account balance in USD. venue.Client satisfies
// this; tests use mocks.
type BalanceFetcher interface {
	GetBalance(ctx context.Context, forceRefresh bool) (float64, error)
}

// Guard monitors the balance and gates entries.
type Guard struct {
	enabled atomic.Bool

	checkInterval   time.Duration
	fetcher         BalanceFetcher
	logger          *zap.Logger
	tradeMultiplier float64
	minAbsolute     float64
	hysteresisRatio float64

	mu               sync.RWMutex
	lastBalance      float64
	lastCheck        time.Time
	recentTrades     []float64
	disableThreshold float64
	enableThreshold  float64
}

// Config holds risk guard configuration.
type Config struct {
	CheckInterval   time.Duration
	TradeMultiplier float64
	MinAbsolute     float64
	HysteresisRatio float64
	Fetcher         BalanceFetcher
	Logger          *zap.Logger
}

// Status is a point-in-time snapshot for HTTP surfaces and logs.
type Status struct {
	Enabled          bool      `json:"enabled"`
	LastBalance      float64   `json:"last_balance"`
	LastCheck        time.Time `json:"last_check"`
	DisableThreshold float64   `json:"disable_threshold"`
	EnableThreshold  float64   `json:"enable_threshold"`
	RecentTradeCount int       `json:"recent_trade_count"`
}

// New creates a guard. It starts enabled.
func New(cfg *Config) (*Guard, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("balance fetcher cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("check interval must be positive")
	}
	if cfg.TradeMultiplier <= 0 {
		return nil, fmt.Errorf("trade multiplier must be positive")
	}
	if cfg.MinAbsolute <= 0 {
		return nil, fmt.Errorf("min absolute must be positive")
	}
	if cfg.HysteresisRatio < 1.0 {
		return nil, fmt.Errorf("hysteresis ratio must be >= 1.0")
	}

	g := &Guard{
		checkInterval:    cfg.CheckInterval,
		fetcher:          cfg.Fetcher,
		logger:           cfg.Logger,
		tradeMultiplier:  cfg.TradeMultiplier,
		minAbsolute:      cfg.MinAbsolute,
		hysteresisRatio:  cfg.HysteresisRatio,
		recentTrades:     make([]float64, 0, tradeWindow),
		disableThreshold: cfg.MinAbsolute,
		enableThreshold:  cfg.MinAbsolute * cfg.HysteresisRatio,
	}
	g.enabled.Store(true)

	GuardEnabled.Set(1)
	DisableThreshold.Set(g.disableThreshold)
	EnableThreshold.Set(g.enableThreshold)

	return g, nil
}

// CanEnter reports whether new entries are allowed. Lock-free; safe on hot
// paths.
func (g *Guard) CanEnter() bool {
	return g.enabled.Load()
}

// RecordTrade feeds a completed trade size into the rolling window and
// recalculates thresholds.
func (g *Guard) RecordTrade(tradeSize float64) {
	if tradeSize <= 0 {
		g.logger.Warn("invalid-trade-size", zap.Float64("size", tradeSize))
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.recentTrades = append(g.recentTrades, tradeSize)
	if len(g.recentTrades) > tradeWindow {
		g.recentTrades = g.recentTrades[1:]
	}

	sum := 0.0
	for _, size := range g.recentTrades {
		sum += size
	}
	avg := sum / float64(len(g.recentTrades))

	g.disableThreshold = math.Max(avg*g.tradeMultiplier, g.minAbsolute)
	g.enableThreshold = g.disableThreshold * g.hysteresisRatio

	DisableThreshold.Set(g.disableThreshold)
	EnableThreshold.Set(g.enableThreshold)

	g.logger.Debug("risk-thresholds-updated",
		zap.Float64("avg_trade_size", avg),
		zap.Int("trade_count", len(g.recentTrades)),
		zap.Float64("disable_threshold", g.disableThreshold),
		zap.Float64("enable_threshold", g.enableThreshold))
}

// CheckBalance fetches the balance and applies the hysteresis transition.
func (g *Guard) CheckBalance(ctx context.Context) error {
	balance, err := g.fetcher.GetBalance(ctx, true)
	if err != nil {
		g.logger.Error("balance-check-failed", zap.Error(err))
		return fmt.Errorf("get balance: %w", err)
	}

	g.mu.Lock()
	g.lastBalance = balance
	g.lastCheck = time.Now()
	disableThreshold := g.disableThreshold
	enableThreshold := g.enableThreshold
	g.mu.Unlock()

	GuardBalance.Set(balance)

	currentlyEnabled := g.enabled.Load()
	switch {
	case currentlyEnabled && balance < disableThreshold:
		g.enabled.Store(false)
		GuardEnabled.Set(0)
		StateChangesTotal.Inc()
		g.logger.Warn("risk-guard-paused-entries",
			zap.Float64("balance", balance),
			zap.Float64("disable_threshold", disableThreshold))

	case !currentlyEnabled && balance >= enableThreshold:
		g.enabled.Store(true)
		GuardEnabled.Set(1)
		StateChangesTotal.Inc()
		g.logger.Info("risk-guard-resumed-entries",
			zap.Float64("balance", balance),
			zap.Float64("enable_threshold", enableThreshold))

	default:
		g.logger.Debug("balance-checked",
			zap.Float64("balance", balance),
			zap.Bool("enabled", currentlyEnabled))
	}

	return nil
}

// Start checks once immediately, then polls until ctx is cancelled.
func (g *Guard) Start(ctx context.Context) {
	g.logger.Info("risk-guard-starting",
		zap.Duration("check_interval", g.checkInterval),
		zap.Float64("trade_multiplier", g.tradeMultiplier),
		zap.Float64("min_absolute", g.minAbsolute))

	if err := g.CheckBalance(ctx); err != nil {
		g.logger.Error("initial-balance-check-failed", zap.Error(err))
	}

	go g.monitorLoop(ctx)
}

func (g *Guard) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(g.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("risk-guard-stopped")
			return
		case <-ticker.C:
			if err := g.CheckBalance(ctx); err != nil {
				g.logger.Error("balance-check-error", zap.Error(err))
			}
		}
	}
}

// GetStatus returns a snapshot for HTTP surfaces.
func (g *Guard) GetStatus() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Status{
		Enabled:          g.enabled.Load(),
		LastBalance:      g.lastBalance,
		LastCheck:        g.lastCheck,
		DisableThreshold: g.disableThreshold,
		EnableThreshold:  g.enableThreshold,
		RecentTradeCount: len(g.recentTrades),
	}
}
