package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarket_UnmarshalJSON_ParsesTokens(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"id": "mkt-1",
		"question": "Will it rain tomorrow?",
		"slug": "will-it-rain",
		"active": true,
		"closed": false,
		"outcomes": "[\"Yes\", \"No\"]",
		"clobTokenIds": "[\"tok-yes\", \"tok-no\"]"
	}`)

	var market Market
	require.NoError(t, json.Unmarshal(payload, &market))

	require.True(t, market.IsBinary())
	assert.Equal(t, "tok-yes", market.YesToken().TokenID)
	assert.Equal(t, "Yes", market.YesToken().Outcome)
	assert.Equal(t, "tok-no", market.NoToken().TokenID)
	assert.Equal(t, MarketOpen, market.Status())
}

func TestMarket_UnmarshalJSON_MissingTokens(t *testing.T) {
	t.Parallel()

	var market Market
	require.NoError(t, json.Unmarshal([]byte(`{"id":"mkt-2","question":"q"}`), &market))

	assert.False(t, market.IsBinary())
	assert.Nil(t, market.YesToken())
	assert.Nil(t, market.NoToken())
}

func TestMarket_VolumeUSD(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    float64
	}{
		{name: "quoted", payload: `{"id":"m","volume24hr":"123.45"}`, want: 123.45},
		{name: "bare", payload: `{"id":"m","volume24hr":123.45}`, want: 123.45},
		{name: "absent", payload: `{"id":"m"}`, want: 0},
		{name: "garbage", payload: `{"id":"m","volume24hr":"lots"}`, want: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var market Market
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &market))
			assert.InDelta(t, tt.want, market.VolumeUSD(), 1e-9)
		})
	}
}

func TestEvent_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"id": "ev-1",
		"title": "Fed rate decisions 2027",
		"endDate": "2027-12-31T12:00:00Z",
		"markets": [{
			"id": "mkt-1",
			"question": "Cut in March?",
			"active": true,
			"outcomes": "[\"Yes\", \"No\"]",
			"clobTokenIds": "[\"tok-yes\", \"tok-no\"]"
		}]
	}`)

	var ev Event
	require.NoError(t, json.Unmarshal(payload, &ev))

	assert.Equal(t, "ev-1", ev.ID)
	assert.Equal(t, "Fed rate decisions 2027", ev.Title)
	assert.Equal(t, 2027, ev.EndDate.Year())
	require.Len(t, ev.Markets, 1)
	assert.Equal(t, "tok-yes", ev.Markets[0].YesToken().TokenID)
}

func TestMarket_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		market Market
		want   MarketStatus
	}{
		{name: "open", market: Market{Active: true}, want: MarketOpen},
		{name: "closed-flag", market: Market{Active: true, Closed: true}, want: MarketClosed},
		{name: "inactive", market: Market{Active: false}, want: MarketClosed},
		{name: "resolved-wins", market: Market{Active: true, Closed: true, Resolved: true}, want: MarketResolved},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.market.Status())
		})
	}
}

func TestPosition_Accessors(t *testing.T) {
	t.Parallel()

	pos := &Position{
		Strategy: "calendar_arbitrage",
		Legs: []PositionLeg{
			{TokenID: "tok-a", EntryPrice: 0.45, Size: 10},
			{TokenID: "tok-b", EntryPrice: 0.50, Size: 10},
		},
	}

	assert.Equal(t, "tok-a", pos.PrimaryToken())
	assert.Equal(t, []string{"tok-a", "tok-b"}, pos.TokenIDs())
	assert.InDelta(t, 9.5, pos.CommittedCapital(), 1e-9)

	empty := &Position{}
	assert.Equal(t, "", empty.PrimaryToken())
	assert.InDelta(t, 0, empty.CommittedCapital(), 1e-9)
}
