package types

import (
	"encoding/json"
	"time"
)

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketOpen     MarketStatus = "OPEN"
	MarketClosed   MarketStatus = "CLOSED"
	MarketResolved MarketStatus = "RESOLVED"
)

// Venue identifies which platform a market or token lives on.
type Venue string

const (
	VenuePolymarket Venue = "polymarket"
	VenueKalshi     Venue = "kalshi"
)

// Market represents a binary prediction market from a catalog endpoint.
type Market struct {
	ID          string         `json:"id"`
	Question    string         `json:"question"`
	Slug        string         `json:"slug"`
	Category    string         `json:"category"`
	Venue       Venue          `json:"-"`
	Closed      bool           `json:"closed"`
	Active      bool           `json:"active"`
	Resolved    bool           `json:"resolved"`
	Tokens      []OutcomeToken `json:"-"` // Populated from outcomes + clobTokenIds
	EndDate     time.Time      `json:"endDate"`
	Description string         `json:"description"`
	Outcomes    string         `json:"outcomes"`     // JSON string: "[\"Yes\", \"No\"]"
	ClobTokens  string         `json:"clobTokenIds"` // JSON string: "[\"token1\", \"token2\"]"
	Volume      json.Number    `json:"volume24hr"`   // The API serves this both quoted and bare
}

// VolumeUSD returns the 24-hour traded volume, or zero when absent or
// malformed.
func (m *Market) VolumeUSD() float64 {
	v, err := m.Volume.Float64()
	if err != nil {
		return 0
	}
	return v
}

// UnmarshalJSON custom unmarshaler to parse outcomes and clobTokenIds into Tokens.
func (m *Market) UnmarshalJSON(data []byte) error {
	type Alias Market
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(m),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if m.Outcomes != "" && m.ClobTokens != "" {
		var outcomes []string
		var tokenIDs []string

		if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err == nil {
			if err := json.Unmarshal([]byte(m.ClobTokens), &tokenIDs); err == nil {
				m.Tokens = make([]OutcomeToken, 0, len(outcomes))
				for i, outcome := range outcomes {
					if i < len(tokenIDs) {
						m.Tokens = append(m.Tokens, OutcomeToken{
							TokenID: tokenIDs[i],
							Outcome: outcome,
						})
					}
				}
			}
		}
	}

	return nil
}

// Status derives the lifecycle state. Trading is valid only in MarketOpen.
func (m *Market) Status() MarketStatus {
	switch {
	case m.Resolved:
		return MarketResolved
	case m.Closed || !m.Active:
		return MarketClosed
	default:
		return MarketOpen
	}
}

// YesToken returns the YES outcome token (index 0 by venue convention).
func (m *Market) YesToken() *OutcomeToken {
	if len(m.Tokens) > 0 {
		return &m.Tokens[0]
	}
	return nil
}

// NoToken returns the NO outcome token (index 1 by venue convention).
func (m *Market) NoToken() *OutcomeToken {
	if len(m.Tokens) > 1 {
		return &m.Tokens[1]
	}
	return nil
}

// IsBinary reports whether the market has exactly two outcomes.
func (m *Market) IsBinary() bool {
	return len(m.Tokens) == 2
}

// OutcomeToken represents one side of a binary market.
type OutcomeToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price,omitempty"`
}

// Event groups related markets under one umbrella question, such as a
// series of thresholds over the same underlying number.
type Event struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	EndDate time.Time `json:"endDate"`
	Markets []Market  `json:"markets"`
}

// MarketsResponse wraps a page of markets from the catalog endpoint.
type MarketsResponse struct {
	Data   []Market `json:"data"`
	Count  int      `json:"count"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}
