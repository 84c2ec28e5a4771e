// Package ratelimit provides the multi-tier sliding-window limiter that all
// venue calls flow through.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tier is one layer of the limiter: at most MaxCalls admissions within any
// interval of length Window.
type Tier struct {
	MaxCalls int
	Window   time.Duration
}

// DefaultTiers are the venue defaults: 5/s, 50/min, 500/hr.
func DefaultTiers() []Tier {
	return []Tier{
		{MaxCalls: 5, Window: time.Second},
		{MaxCalls: 50, Window: time.Minute},
		{MaxCalls: 500, Window: time.Hour},
	}
}

// slidingWindow is a single-tier limiter backed by a ring of admission
// timestamps.
type slidingWindow struct {
	maxCalls int
	window   time.Duration
	calls    []time.Time
	mu       sync.Mutex
}

func newSlidingWindow(tier Tier) *slidingWindow {
	return &slidingWindow{
		maxCalls: tier.MaxCalls,
		window:   tier.Window,
		calls:    make([]time.Time, 0, tier.MaxCalls),
	}
}

// waitTime returns how long the caller must sleep before this tier admits,
// and records the admission when the answer is zero.
func (w *slidingWindow) reserve(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)

	if len(w.calls) < w.maxCalls {
		w.calls = append(w.calls, now)
		return 0
	}

	oldest := w.calls[0]
	return w.window - now.Sub(oldest)
}

func (w *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for idx < len(w.calls) && !w.calls[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.calls = append(w.calls[:0], w.calls[idx:]...)
	}
}

// MultiTierLimiter layers single-tier sliding windows. Acquire passes
// through all tiers in order, sleeping until the most constrained tier
// admits.
type MultiTierLimiter struct {
	name   string
	tiers  []*slidingWindow
	logger *zap.Logger
}

// New creates a multi-tier limiter. A nil or empty tiers slice uses the
// venue defaults.
func New(name string, tiers []Tier, logger *zap.Logger) *MultiTierLimiter {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}

	windows := make([]*slidingWindow, 0, len(tiers))
	for _, tier := range tiers {
		windows = append(windows, newSlidingWindow(tier))
	}

	return &MultiTierLimiter{
		name:   name,
		tiers:  windows,
		logger: logger,
	}
}

// Acquire blocks until every tier admits the call or ctx is cancelled.
func (m *MultiTierLimiter) Acquire(ctx context.Context) error {
	for i, tier := range m.tiers {
		for {
			wait := tier.reserve(time.Now())
			if wait <= 0 {
				break
			}

			LimiterWaitsTotal.WithLabelValues(m.name).Inc()
			LimiterWaitSeconds.WithLabelValues(m.name).Observe(wait.Seconds())
			m.logger.Debug("rate-limit-waiting",
				zap.String("limiter", m.name),
				zap.Int("tier", i),
				zap.Duration("wait", wait))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	AcquiresTotal.WithLabelValues(m.name).Inc()
	return nil
}
