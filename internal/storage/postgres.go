package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/avivsh/polystrat/pkg/types"
)

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresStorage connects to PostgreSQL and verifies the connection.
func NewPostgresStorage(cfg *PostgresConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresStorage{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// newPostgresWithDB wraps an existing handle; used by tests.
func newPostgresWithDB(db *sql.DB, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{db: db, logger: logger}
}

// RecordOpportunity inserts a detected opportunity.
func (p *PostgresStorage) RecordOpportunity(ctx context.Context, strategy string, opp *types.Opportunity) error {
	query := `
		INSERT INTO opportunities (
			id, strategy, kind, question, group_id, fingerprint,
			total_cost, expected_profit, annualized_roi, days_until_close,
			detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := p.db.ExecContext(ctx, query,
		opp.ID,
		strategy,
		string(opp.Kind),
		opp.Question,
		opp.GroupID,
		opp.Fingerprint,
		opp.TotalCost,
		opp.ExpectedProfit,
		opp.AnnualizedROI,
		opp.DaysUntilClose,
		opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("insert opportunity: %w", err)
	}

	p.logger.Debug("opportunity-stored",
		zap.String("opportunity_id", opp.ID),
		zap.String("strategy", strategy))
	return nil
}

// RecordTrade inserts an executed entry or exit.
func (p *PostgresStorage) RecordTrade(ctx context.Context, trade *Trade) error {
	query := `
		INSERT INTO trades (
			strategy, kind, action, reason, group_id, token_ids,
			cost_usd, proceeds_usd, pnl_usd, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := p.db.ExecContext(ctx, query,
		trade.Strategy,
		string(trade.Kind),
		trade.Action,
		trade.Reason,
		trade.GroupID,
		strings.Join(trade.TokenIDs, ","),
		trade.CostUSD,
		trade.Proceeds,
		trade.PnLUSD,
		trade.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	p.logger.Debug("trade-stored",
		zap.String("strategy", trade.Strategy),
		zap.String("action", trade.Action))
	return nil
}

// Close closes the database connection.
func (p *PostgresStorage) Close() error {
	p.logger.Info("closing-postgres-storage")
	return p.db.Close()
}

var _ Storage = (*PostgresStorage)(nil)
