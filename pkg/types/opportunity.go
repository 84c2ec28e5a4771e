package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OpportunityKind distinguishes the detector families.
type OpportunityKind string

const (
	KindExtremePrice      OpportunityKind = "EXTREME_PRICE"
	KindCalendarPair      OpportunityKind = "CALENDAR_PAIR"
	KindCrossPlatformPair OpportunityKind = "CROSS_PLATFORM_PAIR"
	KindSpreadCapture     OpportunityKind = "SPREAD_CAPTURE"
	KindEventPair         OpportunityKind = "EVENT_PAIR"
)

// Side is an order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the venue time-in-force.
type OrderType string

const (
	OrderGTC OrderType = "GTC"
	OrderFOK OrderType = "FOK"
	OrderIOC OrderType = "IOC"
)

// Leg is one order of a (possibly multi-leg) opportunity.
type Leg struct {
	TokenID    string  `json:"token_id"`
	Side       Side    `json:"side"`
	LimitPrice float64 `json:"limit_price"`
	Size       float64 `json:"size"`
	Venue      Venue   `json:"venue"`
}

// Opportunity is an immutable record proposed by a detector and consumed
// within the same scan pass.
type Opportunity struct {
	ID             string
	Kind           OpportunityKind
	Question       string
	Legs           []Leg
	TargetPrice    float64 // single-leg: derived exit target
	TotalCost      float64 // two-leg: sum of leg limit prices
	ExpectedProfit float64 // two-leg: 1 - total_cost - fees
	AnnualizedROI  float64
	DaysUntilClose float64
	GroupID        string
	Fingerprint    string
	DetectedAt     time.Time
}

// NewSingleLegOpportunity builds a one-leg mean-reversion opportunity with a
// derived exit target.
func NewSingleLegOpportunity(kind OpportunityKind, question string, leg Leg, targetPrice float64) *Opportunity {
	return &Opportunity{
		ID:          uuid.New().String(),
		Kind:        kind,
		Question:    question,
		Legs:        []Leg{leg},
		TargetPrice: targetPrice,
		Fingerprint: Fingerprint(leg.TokenID),
		DetectedAt:  time.Now(),
	}
}

// NewTwoLegOpportunity builds a paired opportunity with profit accounting.
// fees is the total fee budget across both legs.
func NewTwoLegOpportunity(
	kind OpportunityKind,
	question string,
	legA, legB Leg,
	fees float64,
	annualizedROI float64,
	daysUntilClose float64,
) *Opportunity {
	totalCost := legA.LimitPrice + legB.LimitPrice
	return &Opportunity{
		ID:             uuid.New().String(),
		Kind:           kind,
		Question:       question,
		Legs:           []Leg{legA, legB},
		TotalCost:      totalCost,
		ExpectedProfit: 1.0 - totalCost - fees,
		AnnualizedROI:  annualizedROI,
		DaysUntilClose: daysUntilClose,
		GroupID:        pairGroupID(kind, legA.TokenID, legB.TokenID),
		Fingerprint:    Fingerprint(legA.TokenID, legB.TokenID),
		DetectedAt:     time.Now(),
	}
}

// Fingerprint is a stable hash of the participating tokens, used to
// deduplicate opportunities across scans. Token order does not matter.
func Fingerprint(tokenIDs ...string) string {
	sorted := make([]string, len(tokenIDs))
	copy(sorted, tokenIDs)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:8])
}

func pairGroupID(kind OpportunityKind, tokenA, tokenB string) string {
	prefix := "CAL"
	switch kind {
	case KindCrossPlatformPair:
		prefix = "XP"
	case KindEventPair:
		prefix = "EV"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, shortToken(tokenA), shortToken(tokenB))
}

func shortToken(tokenID string) string {
	if len(tokenID) > 6 {
		return tokenID[:6]
	}
	return tokenID
}

// String returns a log-friendly one-liner.
func (o *Opportunity) String() string {
	if len(o.Legs) == 1 {
		return fmt.Sprintf("Opportunity[%s] %s token=%s price=%.4f target=%.4f",
			o.ID[:8], o.Kind, shortToken(o.Legs[0].TokenID), o.Legs[0].LimitPrice, o.TargetPrice)
	}
	return fmt.Sprintf("Opportunity[%s] %s cost=%.4f profit=%.4f roi=%.1f%%",
		o.ID[:8], o.Kind, o.TotalCost, o.ExpectedProfit, o.AnnualizedROI*100)
}
