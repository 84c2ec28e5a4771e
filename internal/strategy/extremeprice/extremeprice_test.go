package extremeprice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/avivsh/polystrat/internal/catalog"
	"github.com/avivsh/polystrat/internal/execution"
	"github.com/avivsh/polystrat/internal/positions"
	"github.com/avivsh/polystrat/internal/strategy"
	"github.com/avivsh/polystrat/internal/venue"
	"github.com/avivsh/polystrat/pkg/config"
	"github.com/avivsh/polystrat/pkg/ratelimit"
	"github.com/avivsh/polystrat/pkg/types"
)

type mockVenue struct {
	books   map[string]*types.OrderBook
	fail    map[string]error
	balance float64
}

func newMockVenue() *mockVenue {
	return &mockVenue{
		books:   make(map[string]*types.OrderBook),
		fail:    make(map[string]error),
		balance: 1000,
	}
}

func (m *mockVenue) Name() types.Venue { return types.VenuePolymarket }

func (m *mockVenue) GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBook, error) {
	book, ok := m.books[tokenID]
	if !ok {
		return nil, errors.New("no book")
	}
	return book, nil
}

func (m *mockVenue) GetBalance(ctx context.Context, forceRefresh bool) (float64, error) {
	return m.balance, nil
}

func (m *mockVenue) PostOrder(ctx context.Context, req venue.OrderRequest) (*venue.OrderResult, error) {
	if err, ok := m.fail[req.TokenID]; ok {
		return nil, err
	}
	return &venue.OrderResult{
		OrderID:      "ord-" + req.TokenID,
		FilledSize:   req.Size,
		AvgFillPrice: req.LimitPrice,
		Status:       "matched",
	}, nil
}

func (m *mockVenue) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return true, nil
}

func (m *mockVenue) GetAddress() string { return "0xtest" }
func (m *mockVenue) Close() error       { return nil }

func (m *mockVenue) setBook(tokenID string, bid, ask float64) {
	book := &types.OrderBook{TokenID: tokenID}
	if bid > 0 {
		book.Bids = []types.Level{{Price: bid, Size: 100000}}
	}
	if ask > 0 {
		book.Asks = []types.Level{{Price: ask, Size: 100000}}
	}
	m.books[tokenID] = book
}

var _ venue.Client = (*mockVenue)(nil)

func marketJSON(id, question string, end time.Time, yesTok, noTok string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"question": %q,
		"slug": %q,
		"active": true,
		"closed": false,
		"endDate": %q,
		"outcomes": "[\"Yes\", \"No\"]",
		"clobTokenIds": "[\"%s\", \"%s\"]"
	}`, id, question, id, end.Format(time.RFC3339), yesTok, noTok)
}

func newTestDetector(t *testing.T, catalogURL string, client *mockVenue) *Detector {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store, err := positions.NewStore(&positions.Config{
		DataDir: t.TempDir(),
		Address: "0xtest",
		Logger:  logger,
	})
	require.NoError(t, err)

	deps := &strategy.Deps{
		Catalog: catalog.NewClient(&catalog.Config{
			BaseURL: catalogURL,
			Limiter: ratelimit.New("test", []ratelimit.Tier{{MaxCalls: 1000, Window: time.Second}}, logger),
			Logger:  logger,
		}),
		Clients:  map[types.Venue]venue.Client{types.VenuePolymarket: client},
		Primary:  client,
		Executor: execution.NewExecutor(&execution.Config{Logger: logger}),
		Store:    store,
		Config: &config.Config{
			BuyThreshold:       0.004,
			SellMultiplier:     2.0,
			PortfolioPercent:   0.005,
			MinPositionSize:    5.0,
			MinHoursUntilClose: 1.0,
		},
		Logger: logger,
	}
	return New(deps, nil)
}

func TestScan_DetectsExtremePrice(t *testing.T) {
	t.Parallel()

	end := time.Now().Add(72 * time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s]", marketJSON("m-1", "Will a longshot happen?", end, "tok-yes", "tok-no"))
	}))
	defer srv.Close()

	client := newMockVenue()
	client.setBook("tok-yes", 0.003, 0.004)
	client.setBook("tok-no", 0.95, 0.97)

	d := newTestDetector(t, srv.URL, client)
	opps, err := d.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, types.KindExtremePrice, opp.Kind)
	require.Len(t, opp.Legs, 1)
	assert.Equal(t, "tok-yes", opp.Legs[0].TokenID)
	assert.Equal(t, types.SideBuy, opp.Legs[0].Side)
	assert.InDelta(t, 0.004, opp.Legs[0].LimitPrice, 1e-9)
	// $1000 * 0.5% at 0.004 buys 1250 units.
	assert.InDelta(t, 1250, opp.Legs[0].Size, 1e-9)
	// Exit target doubles the entry.
	assert.InDelta(t, 0.008, opp.TargetPrice, 1e-9)
}

func TestScan_SizingFloorsAtMinimum(t *testing.T) {
	t.Parallel()

	end := time.Now().Add(72 * time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s]", marketJSON("m-1", "Will a longshot happen?", end, "tok-yes", "tok-no"))
	}))
	defer srv.Close()

	client := newMockVenue()
	client.balance = 2 // 2 * 0.005 / 0.004 = 2.5, below the 5-unit floor
	client.setBook("tok-yes", 0.003, 0.004)
	client.setBook("tok-no", 0.95, 0.97)

	d := newTestDetector(t, srv.URL, client)
	opps, err := d.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.InDelta(t, 5.0, opps[0].Legs[0].Size, 1e-9)
}

func TestScan_Filters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		end      time.Time
		bid, ask float64
		held     bool
	}{
		{
			name: "ask-above-threshold",
			end:  time.Now().Add(72 * time.Hour),
			bid:  0.004, ask: 0.005,
		},
		{
			name: "market-closing-too-soon",
			end:  time.Now().Add(30 * time.Minute),
			bid:  0.003, ask: 0.004,
		},
		{
			name: "token-already-held",
			end:  time.Now().Add(72 * time.Hour),
			bid:  0.003, ask: 0.004,
			held: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprintf(w, "[%s]", marketJSON("m-1", "Will a longshot happen?", tt.end, "tok-yes", "tok-no"))
			}))
			defer srv.Close()

			client := newMockVenue()
			client.setBook("tok-yes", tt.bid, tt.ask)
			client.setBook("tok-no", 0.95, 0.97)

			d := newTestDetector(t, srv.URL, client)
			if tt.held {
				require.NoError(t, d.deps.Store.Add(&types.Position{
					Strategy: Name,
					Legs:     []types.PositionLeg{{TokenID: "tok-yes", EntryPrice: 0.004, Size: 1250}},
					Status:   types.PositionOpen,
				}))
			}

			opps, err := d.Scan(context.Background())
			require.NoError(t, err)
			assert.Empty(t, opps)
		})
	}
}

func TestEnterPosition(t *testing.T) {
	t.Parallel()

	client := newMockVenue()
	client.setBook("tok-yes", 0.003, 0.004)

	d := newTestDetector(t, "http://unused.invalid", client)

	opp := types.NewSingleLegOpportunity(types.KindExtremePrice, "Will a longshot happen?",
		types.Leg{TokenID: "tok-yes", Side: types.SideBuy, LimitPrice: 0.004, Size: 1250, Venue: types.VenuePolymarket},
		0.008)

	pos, err := d.EnterPosition(context.Background(), opp)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, Name, pos.Strategy)
	assert.Equal(t, types.PositionOpen, pos.Status)
	assert.InDelta(t, 5.0, pos.TotalCost, 1e-9) // 1250 * 0.004
	assert.True(t, d.deps.Store.Has("tok-yes"))
}

func TestShouldExit(t *testing.T) {
	t.Parallel()

	pos := &types.Position{
		Strategy:    Name,
		Kind:        types.KindExtremePrice,
		Legs:        []types.PositionLeg{{TokenID: "tok-yes", Side: types.SideBuy, EntryPrice: 0.004, Size: 1250, Venue: types.VenuePolymarket}},
		TargetPrice: 0.008,
		Status:      types.PositionOpen,
	}

	tests := []struct {
		name       string
		bid        float64
		forceExit  bool
		wantExit   bool
		wantReason string
	}{
		{name: "holding", bid: 0.005, wantExit: false},
		{name: "target-reached", bid: 0.008, wantExit: true, wantReason: "target_reached"},
		{name: "beyond-target", bid: 0.012, wantExit: true, wantReason: "target_reached"},
		{name: "force-exit", bid: 0.005, forceExit: true, wantExit: true, wantReason: "force_exit"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := newMockVenue()
			client.setBook("tok-yes", tt.bid, tt.bid+0.001)
			d := newTestDetector(t, "http://unused.invalid", client)

			p := *pos
			p.ForceExit = tt.forceExit

			exit, reason, err := d.ShouldExit(context.Background(), &p)
			require.NoError(t, err)
			assert.Equal(t, tt.wantExit, exit)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestExitPosition(t *testing.T) {
	t.Parallel()

	client := newMockVenue()
	client.setBook("tok-yes", 0.008, 0.009)

	d := newTestDetector(t, "http://unused.invalid", client)

	pos := &types.Position{
		Strategy:  Name,
		Kind:      types.KindExtremePrice,
		Legs:      []types.PositionLeg{{TokenID: "tok-yes", Side: types.SideBuy, EntryPrice: 0.004, Size: 1250, Venue: types.VenuePolymarket}},
		TotalCost: 5.0,
		Status:    types.PositionOpen,
	}
	require.NoError(t, d.deps.Store.Add(pos))

	// Sold at the 0.008 bid: 10.0 proceeds against a 5.0 entry.
	pnl, err := d.ExitPosition(context.Background(), pos)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, pnl, 1e-9)
	assert.False(t, d.deps.Store.Has("tok-yes"))
}

func TestStrategyIsRegistered(t *testing.T) {
	t.Parallel()
	assert.True(t, strings.Contains(strings.Join(strategy.Names(), ","), Name))
}
