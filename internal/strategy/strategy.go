// Package strategy defines the detector contract and the registry the
// launcher resolves strategy names through.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/avivsh/polystrat/internal/catalog"
	"github.com/avivsh/polystrat/internal/execution"
	"github.com/avivsh/polystrat/internal/positions"
	"github.com/avivsh/polystrat/internal/semantic"
	"github.com/avivsh/polystrat/internal/stream"
	"github.com/avivsh/polystrat/internal/venue"
	"github.com/avivsh/polystrat/pkg/config"
	"github.com/avivsh/polystrat/pkg/types"
)

// MarketLister serves a market universe from a secondary venue whose
// catalog lives behind its trading API.
type MarketLister interface {
	GetMarkets(ctx context.Context, limit int) ([]types.Market, error)
}

// Deps bundles the shared infrastructure every strategy runs against.
type Deps struct {
	Catalog          *catalog.Client
	Clients          map[types.Venue]venue.Client
	Primary          venue.Client
	Secondary        venue.Client
	SecondaryMarkets MarketLister
	Executor         *execution.Executor
	Store            *positions.Store
	Streamer         *stream.Streamer
	Clusterer        *semantic.Clusterer
	Config           *config.Config
	Logger           *zap.Logger
}

// Strategy is one detector: it scans for opportunities, gates entries, and
// decides when held positions should unwind.
type Strategy interface {
	// Name is the registry name; it is stamped onto positions.
	Name() string

	// Scan fetches the market universe and returns entry candidates.
	Scan(ctx context.Context) ([]*types.Opportunity, error)

	// ShouldEnter re-validates a candidate right before execution.
	ShouldEnter(ctx context.Context, opp *types.Opportunity) (bool, error)

	// EnterPosition executes the opportunity and returns the resulting
	// position, or nil when entry was abandoned.
	EnterPosition(ctx context.Context, opp *types.Opportunity) (*types.Position, error)

	// ShouldExit decides whether a held position should unwind now. The
	// string is the exit reason for logging.
	ShouldExit(ctx context.Context, pos *types.Position) (bool, string, error)

	// ExitPosition unwinds the position and returns the realized P&L in
	// USD. On error the position must remain tracked for a retry.
	ExitPosition(ctx context.Context, pos *types.Position) (float64, error)
}

// RearmAfterFailedExit returns a position to the monitor's work set after a
// failed unwind. Legs that did sell are dropped so a retry only sells what
// is still held; the store entry is re-keyed when the primary leg was among
// the sold ones.
func RearmAfterFailedExit(store *positions.Store, logger *zap.Logger, pos *types.Position, remaining []types.PositionLeg) {
	if len(remaining) == 0 || len(remaining) == len(pos.Legs) {
		if err := store.Update(pos.PrimaryToken(), func(p *types.Position) {
			p.Status = types.PositionOpen
		}); err != nil {
			logger.Error("exit-rearm-failed", zap.Error(err))
		}
		return
	}

	residualCost := 0.0
	for _, leg := range remaining {
		residualCost += leg.EntryPrice * leg.Size
	}
	residual := *pos
	residual.Legs = remaining
	residual.TotalCost = residualCost
	residual.Status = types.PositionOpen

	if err := store.Remove(pos.PrimaryToken()); err != nil {
		logger.Error("exit-rearm-failed", zap.Error(err))
		return
	}
	if err := store.Add(&residual); err != nil {
		logger.Error("exit-rearm-failed", zap.Error(err))
	}
}

// Constructor builds a strategy from shared deps and per-run overrides.
type Constructor func(deps *Deps, args map[string]interface{}) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register adds a strategy constructor under a name. Called from package
// init functions.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("strategy registered twice: " + name)
	}
	registry[name] = ctor
}

// New resolves a registered strategy by name.
func New(name string, deps *Deps, args map[string]interface{}) (Strategy, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %v)", name, Names())
	}
	return ctor(deps, args)
}

// Names lists registered strategy names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FloatArg reads a float override from a strategy-args map, falling back to
// def when absent or mistyped.
func FloatArg(args map[string]interface{}, key string, def float64) float64 {
	if args == nil {
		return def
	}
	if v, ok := args[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

// IntArg reads an integer override from a strategy-args map. JSON numbers
// decode as float64, so both forms are accepted.
func IntArg(args map[string]interface{}, key string, def int) int {
	if args == nil {
		return def
	}
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
