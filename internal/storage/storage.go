// Package storage records detected opportunities and executed trades for
// offline analysis. The console sink logs them; the postgres sink persists
// them.
package storage

import (
	"context"
	"time"

	"github.com/avivsh/polystrat/pkg/types"
)

// Trade is one completed round trip (or entry) written to the sink.
type Trade struct {
	Strategy  string
	GroupID   string
	Kind      types.OpportunityKind
	Action    string // "entry" or "exit"
	Reason    string // exit reason, empty on entry
	TokenIDs  []string
	CostUSD   float64
	Proceeds  float64
	PnLUSD    float64
	Timestamp time.Time
}

// Storage is the analytics sink contract.
type Storage interface {
	// RecordOpportunity persists a detected opportunity.
	RecordOpportunity(ctx context.Context, strategy string, opp *types.Opportunity) error

	// RecordTrade persists an executed entry or exit.
	RecordTrade(ctx context.Context, trade *Trade) error

	// Close flushes and releases the sink.
	Close() error
}
