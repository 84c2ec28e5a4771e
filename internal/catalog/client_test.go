package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/avivsh/polystrat/pkg/ratelimit"
	"github.com/avivsh/polystrat/pkg/types"
)

func marketJSON(id string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"question": "Will market %s resolve yes?",
		"slug": "market-%s",
		"active": true,
		"closed": false,
		"endDate": "2027-06-30T12:00:00Z",
		"outcomes": "[\"Yes\", \"No\"]",
		"clobTokenIds": "[\"%s-yes\", \"%s-no\"]"
	}`, id, id, id, id, id)
}

// universeServer serves a fixed universe of markets, honoring limit/offset.
func universeServer(t *testing.T, total int) (*httptest.Server, *[]http.Request) {
	t.Helper()

	var mu sync.Mutex
	var requests []http.Request

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, *r)
		mu.Unlock()

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		var page []string
		for i := offset; i < offset+limit && i < total; i++ {
			page = append(page, marketJSON(fmt.Sprintf("m%04d", i)))
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s]", strings.Join(page, ","))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return NewClient(&Config{
		BaseURL: baseURL,
		Limiter: ratelimit.New("catalog-test", []ratelimit.Tier{{MaxCalls: 10000, Window: time.Second}}, logger),
		Logger:  logger,
	})
}

func TestFetchActiveMarkets_SinglePage(t *testing.T) {
	t.Parallel()

	srv, requests := universeServer(t, 500)
	c := newTestClient(t, srv.URL)

	resp, err := c.FetchActiveMarkets(context.Background(), 50, 0, "volume24hr")
	require.NoError(t, err)
	assert.Equal(t, 50, resp.Count)
	assert.Equal(t, types.VenuePolymarket, resp.Data[0].Venue)

	require.Len(t, *requests, 1)
	q := (*requests)[0].URL.Query()
	assert.Equal(t, "false", q.Get("closed"))
	assert.Equal(t, "true", q.Get("active"))
	assert.Equal(t, "volume24hr", q.Get("order"))
	assert.Equal(t, "false", q.Get("ascending"))
}

func TestFetchActiveMarkets_EndDateSortsAscending(t *testing.T) {
	t.Parallel()

	srv, requests := universeServer(t, 10)
	c := newTestClient(t, srv.URL)

	_, err := c.FetchActiveMarkets(context.Background(), 10, 0, "endDate")
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	assert.Equal(t, "true", (*requests)[0].URL.Query().Get("ascending"))
}

func TestFetchActiveMarkets_Paginates(t *testing.T) {
	t.Parallel()

	srv, requests := universeServer(t, 500)
	c := newTestClient(t, srv.URL)

	resp, err := c.FetchActiveMarkets(context.Background(), 250, 0, "volume24hr")
	require.NoError(t, err)
	assert.Equal(t, 250, resp.Count)

	// 100 + 100 + 50, offsets advancing a full batch each page.
	require.Len(t, *requests, 3)
	assert.Equal(t, "0", (*requests)[0].URL.Query().Get("offset"))
	assert.Equal(t, "100", (*requests)[1].URL.Query().Get("offset"))
	assert.Equal(t, "200", (*requests)[2].URL.Query().Get("offset"))
	assert.Equal(t, "50", (*requests)[2].URL.Query().Get("limit"))

	// No duplicates across page boundaries.
	seen := make(map[string]bool, resp.Count)
	for _, m := range resp.Data {
		assert.False(t, seen[m.ID], m.ID)
		seen[m.ID] = true
	}
}

func TestFetchActiveMarkets_FetchAllStopsAtShortPage(t *testing.T) {
	t.Parallel()

	srv, requests := universeServer(t, 230)
	c := newTestClient(t, srv.URL)

	resp, err := c.FetchActiveMarkets(context.Background(), 0, 0, "volume24hr")
	require.NoError(t, err)
	assert.Equal(t, 230, resp.Count)
	assert.Len(t, *requests, 3, "a short page ends the walk")
}

func TestFetchActiveMarkets_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream sad", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchActiveMarkets(context.Background(), 10, 0, "volume24hr")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFetchEvents(t *testing.T) {
	t.Parallel()

	var requests []http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, *r)
		require.Equal(t, "/events", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[{
			"id": "ev-1",
			"title": "How many rate cuts in 2027?",
			"endDate": "2027-12-31T12:00:00Z",
			"markets": [%s, %s]
		}]`, marketJSON("m1"), marketJSON("m2"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	events, err := c.FetchEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "ev-1", ev.ID)
	assert.Equal(t, "How many rate cuts in 2027?", ev.Title)
	require.Len(t, ev.Markets, 2)
	assert.Equal(t, types.VenuePolymarket, ev.Markets[0].Venue)
	assert.True(t, ev.Markets[0].IsBinary())

	require.Len(t, requests, 1)
	q := requests[0].URL.Query()
	assert.Equal(t, "false", q.Get("closed"))
	assert.Equal(t, "true", q.Get("active"))
	assert.Equal(t, "10", q.Get("limit"))
}

func TestFetchMarketBySlug(t *testing.T) {
	t.Parallel()

	srv, _ := universeServer(t, 150)
	c := newTestClient(t, srv.URL)

	m, err := c.FetchMarketBySlug(context.Background(), "market-m0123")
	require.NoError(t, err)
	assert.Equal(t, "m0123", m.ID)

	_, err = c.FetchMarketBySlug(context.Background(), "market-that-does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestFilterBinaryOpen(t *testing.T) {
	t.Parallel()

	end := time.Now().Add(24 * time.Hour)
	markets := []types.Market{
		{
			ID: "open-binary", Active: true, EndDate: end,
			Tokens: []types.OutcomeToken{{TokenID: "a", Outcome: "Yes"}, {TokenID: "b", Outcome: "No"}},
		},
		{
			ID: "closed", Active: true, Closed: true, EndDate: end,
			Tokens: []types.OutcomeToken{{TokenID: "c", Outcome: "Yes"}, {TokenID: "d", Outcome: "No"}},
		},
		{
			ID: "missing-tokens", Active: true, EndDate: end,
		},
	}

	out := FilterBinaryOpen(markets)
	require.Len(t, out, 1)
	assert.Equal(t, "open-binary", out[0].ID)
}

func TestFilterExpiringWithin(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	markets := []types.Market{
		{ID: "soon", EndDate: now.Add(12 * time.Hour)},
		{ID: "later", EndDate: now.Add(90 * 24 * time.Hour)},
		{ID: "past", EndDate: now.Add(-time.Hour)},
		{ID: "no-date"},
	}

	out := FilterExpiringWithin(markets, 48*time.Hour, now)
	require.Len(t, out, 1)
	assert.Equal(t, "soon", out[0].ID)
}
