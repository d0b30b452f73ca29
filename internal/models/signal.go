package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Strategy classifies the pattern behind an alpha bias.
type Strategy string

const (
	StrategyInstitutionalGap Strategy = "Institutional Gap"
	StrategyMarketMaker      Strategy = "Market Maker"
	StrategyRetailLag        Strategy = "Retail Lag"
)

// AlphaSignal is the deviation of venue prices from a fair value.
// Edge is in percentage points; Confidence is a bounded heuristic score,
// not a statistical interval.
type AlphaSignal struct {
	FairPrice  float64  `json:"fair_price"`
	Edge       float64  `json:"edge"`
	Strategy   Strategy `json:"strategy"`
	Confidence float64  `json:"confidence"`
	Anchored   bool     `json:"anchored"`
}

// Opportunity is one entry of the ranked alpha list.
type Opportunity struct {
	EventID    string    `json:"event_id"`
	Title      string    `json:"title"`
	Outcome    string    `json:"outcome"`
	Category   string    `json:"category"`
	ResolvesAt time.Time `json:"resolves_at"`
	AlphaSignal
}

// ArbOpportunity is one entry of the ranked arbitrage list.
type ArbOpportunity struct {
	EventID      string    `json:"event_id"`
	Title        string    `json:"title"`
	Outcome      string    `json:"outcome"`
	Category     string    `json:"category"`
	BestYes      BestPrice `json:"best_yes"`
	BestNo       BestPrice `json:"best_no"`
	ArbPercent   float64   `json:"arb_percent"`
	APY          float64   `json:"apy"`
	DaysToExpiry int       `json:"days_to_expiry"`
}

// StakeSplit is the equal-payout allocation of a bankroll over an
// arbitrage pair. Venue fees and slippage are not accounted for.
type StakeSplit struct {
	Bankroll   float64 `json:"bankroll"`
	StakeOnYes float64 `json:"stake_on_yes"`
	StakeOnNo  float64 `json:"stake_on_no"`
	Payout     float64 `json:"payout"`
	NetProfit  float64 `json:"net_profit"`
	ROIPercent float64 `json:"roi_percent"`
}

// Digest is the set of opportunities reported after a refresh cycle.
type Digest struct {
	Category   string           `json:"category"`
	Arbitrage  []ArbOpportunity `json:"arbitrage"`
	Alpha      []Opportunity    `json:"alpha"`
	DetectedAt time.Time        `json:"detected_at"`
}

// Empty reports whether the digest has nothing to send.
func (d Digest) Empty() bool {
	return len(d.Arbitrage) == 0 && len(d.Alpha) == 0
}

func cents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Rounded returns the split with every amount rounded to cents for display.
func (s StakeSplit) Rounded() StakeSplit {
	return StakeSplit{
		Bankroll:   cents(s.Bankroll),
		StakeOnYes: cents(s.StakeOnYes),
		StakeOnNo:  cents(s.StakeOnNo),
		Payout:     cents(s.Payout),
		NetProfit:  cents(s.NetProfit),
		ROIPercent: cents(s.ROIPercent),
	}
}

// OpportunityKind distinguishes the persisted opportunity types.
type OpportunityKind string

const (
	KindArbitrage OpportunityKind = "arbitrage"
	KindAlpha     OpportunityKind = "alpha"
)

// OpportunityRecord is a detected opportunity as logged to storage.
// Edge is the arbitrage percentage or the alpha edge in points.
type OpportunityRecord struct {
	ID         string          `json:"id"`
	EventID    string          `json:"event_id"`
	Kind       OpportunityKind `json:"kind"`
	Edge       float64         `json:"edge"`
	Strategy   Strategy        `json:"strategy,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	APY        float64         `json:"apy,omitempty"`
	DetectedAt time.Time       `json:"detected_at"`
	Notified   bool            `json:"notified"`
}

// Key identifies the opportunity independently of when it was detected.
func (r OpportunityRecord) Key() string {
	return string(r.Kind) + ":" + r.EventID
}

// Records converts the digest into storable opportunity records.
func (d Digest) Records() []OpportunityRecord {
	out := make([]OpportunityRecord, 0, len(d.Arbitrage)+len(d.Alpha))
	for _, a := range d.Arbitrage {
		out = append(out, OpportunityRecord{
			EventID:    a.EventID,
			Kind:       KindArbitrage,
			Edge:       a.ArbPercent,
			APY:        a.APY,
			DetectedAt: d.DetectedAt,
		})
	}
	for _, a := range d.Alpha {
		out = append(out, OpportunityRecord{
			EventID:    a.EventID,
			Kind:       KindAlpha,
			Edge:       a.Edge,
			Strategy:   a.Strategy,
			Confidence: a.Confidence,
			DetectedAt: d.DetectedAt,
		})
	}
	return out
}
