package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/avivsh/polystrat/pkg/types"
)

// ConsoleStorage writes analytics records to the structured log. It is the
// default sink when no database is configured.
type ConsoleStorage struct {
	logger *zap.Logger
}

// NewConsoleStorage creates a log-backed sink.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	return &ConsoleStorage{logger: logger}
}

// RecordOpportunity logs the opportunity.
func (s *ConsoleStorage) RecordOpportunity(ctx context.Context, strategy string, opp *types.Opportunity) error {
	s.logger.Info("opportunity-recorded",
		zap.String("strategy", strategy),
		zap.String("kind", string(opp.Kind)),
		zap.String("group_id", opp.GroupID),
		zap.String("fingerprint", opp.Fingerprint),
		zap.Float64("total_cost", opp.TotalCost),
		zap.Float64("expected_profit", opp.ExpectedProfit),
		zap.Float64("annualized_roi", opp.AnnualizedROI))
	return nil
}

// RecordTrade logs the trade.
func (s *ConsoleStorage) RecordTrade(ctx context.Context, trade *Trade) error {
	s.logger.Info("trade-recorded",
		zap.String("strategy", trade.Strategy),
		zap.String("action", trade.Action),
		zap.String("reason", trade.Reason),
		zap.String("group_id", trade.GroupID),
		zap.Float64("cost_usd", trade.CostUSD),
		zap.Float64("proceeds", trade.Proceeds),
		zap.Float64("pnl_usd", trade.PnLUSD))
	return nil
}

// Close is a no-op.
func (s *ConsoleStorage) Close() error { return nil }

var _ Storage = (*ConsoleStorage)(nil)
