package types

import "time"

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionExiting PositionStatus = "EXITING"
	PositionClosed  PositionStatus = "CLOSED"
	PositionFailed  PositionStatus = "FAILED"
)

// PositionLeg is one filled order of a position.
type PositionLeg struct {
	TokenID    string  `json:"token_id"`
	Side       Side    `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	Size       float64 `json:"size"`
	Venue      Venue   `json:"venue"`
	OrderID    string  `json:"order_id,omitempty"`
}

// Position is created by the executor on confirmed entry. It is mutated only
// by the monitor loop (status) and the streamer (ForceExit flag).
type Position struct {
	Strategy       string          `json:"strategy"`
	Question       string          `json:"question,omitempty"`
	Kind           OpportunityKind `json:"kind"`
	Legs           []PositionLeg   `json:"legs"`
	EntryTime      time.Time       `json:"entry_time"`
	GroupID        string          `json:"group_id,omitempty"`
	TargetPrice    float64         `json:"target_price,omitempty"`
	TotalCost      float64         `json:"total_cost,omitempty"`
	EstimatedFee   float64         `json:"estimated_fee,omitempty"`
	Status         PositionStatus  `json:"status"`
	ForceExit      bool            `json:"force_exit,omitempty"`
	Fingerprint    string          `json:"fingerprint"`
	DaysUntilClose float64         `json:"days_until_close,omitempty"`
}

// PrimaryToken returns the first leg's token, the store key for
// single-leg positions.
func (p *Position) PrimaryToken() string {
	if len(p.Legs) == 0 {
		return ""
	}
	return p.Legs[0].TokenID
}

// TokenIDs lists all tokens participating in the position.
func (p *Position) TokenIDs() []string {
	ids := make([]string, 0, len(p.Legs))
	for _, leg := range p.Legs {
		ids = append(ids, leg.TokenID)
	}
	return ids
}

// CommittedCapital is the USD locked in this position.
func (p *Position) CommittedCapital() float64 {
	var total float64
	for _, leg := range p.Legs {
		total += leg.EntryPrice * leg.Size
	}
	return total
}
