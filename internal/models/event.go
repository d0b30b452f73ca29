package models

import (
	"errors"
	"time"
)

const (
	// MinPrice and MaxPrice bound every canonical line price.
	MinPrice = 0.01
	MaxPrice = 0.99
)

// Price is a probability-scale price with the time it was observed.
type Price struct {
	Value      float64   `json:"price"`
	ObservedAt time.Time `json:"timestamp"`
}

// Line is the canonical per-venue quote for one market outcome.
// Yes + No is deliberately not constrained to 1.0.
type Line struct {
	Venue     string  `json:"venue"`
	Yes       Price   `json:"yes"`
	No        Price   `json:"no"`
	Liquidity float64 `json:"liquidity"`
	URL       string  `json:"url"`
	ImpliedNo bool    `json:"implied_no,omitempty"`
	// ImpliedYes is set when the supplier quoted only NO and marked YES as
	// derivable from it.
	ImpliedYes bool `json:"implied_yes,omitempty"`
}

// Validate checks line field constraints.
func (l *Line) Validate() error {
	if l.Venue == "" {
		return errors.New("line venue must not be empty")
	}
	if l.Yes.Value < MinPrice || l.Yes.Value > MaxPrice {
		return errors.New("yes price must be between 0.01 and 0.99")
	}
	if l.No.Value < MinPrice || l.No.Value > MaxPrice {
		return errors.New("no price must be between 0.01 and 0.99")
	}
	if l.Liquidity < 0 {
		return errors.New("liquidity must not be negative")
	}
	if l.URL == "" {
		return errors.New("line url must not be empty")
	}
	return nil
}

// BestPrice is the cheapest price for one side and the venue quoting it.
type BestPrice struct {
	Price float64 `json:"price"`
	Venue string  `json:"venue"`
}

// BestPair holds the independently selected cheapest YES and NO.
type BestPair struct {
	Yes BestPrice `json:"best_yes"`
	No  BestPrice `json:"best_no"`
}

// Source tells consumers where a snapshot's quotes came from.
type Source string

const (
	SourceLive     Source = "live"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

// MarketEvent is an immutable snapshot of one market outcome across venues.
// Optional derived fields are nil when not computable.
type MarketEvent struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Outcome      string       `json:"outcome"`
	Category     string       `json:"category"`
	ResolvesAt   time.Time    `json:"resolves_at"`
	Lines        []Line       `json:"lines"`
	BestYes      *BestPrice   `json:"best_yes,omitempty"`
	BestNo       *BestPrice   `json:"best_no,omitempty"`
	ArbPercent   *float64     `json:"arb_percent,omitempty"`
	APY          *float64     `json:"apy,omitempty"`
	DaysToExpiry *int         `json:"days_to_expiry,omitempty"`
	Alpha        *AlphaSignal `json:"alpha,omitempty"`
	ObservedAt   time.Time    `json:"observed_at"`
	Source       Source       `json:"source"`
}

// Ref returns the resync reference for this event.
func (e *MarketEvent) Ref() EventRef {
	return EventRef{ID: e.ID, Title: e.Title, Outcome: e.Outcome, Category: e.Category}
}

// BestPair returns the best-execution pair, or false when the event has none.
func (e *MarketEvent) BestPair() (BestPair, bool) {
	if e.BestYes == nil || e.BestNo == nil {
		return BestPair{}, false
	}
	return BestPair{Yes: *e.BestYes, No: *e.BestNo}, true
}

// Clone returns a copy that shares no mutable state with e.
func (e MarketEvent) Clone() MarketEvent {
	out := e
	if e.Lines != nil {
		out.Lines = append([]Line(nil), e.Lines...)
	}
	if e.BestYes != nil {
		v := *e.BestYes
		out.BestYes = &v
	}
	if e.BestNo != nil {
		v := *e.BestNo
		out.BestNo = &v
	}
	if e.ArbPercent != nil {
		v := *e.ArbPercent
		out.ArbPercent = &v
	}
	if e.APY != nil {
		v := *e.APY
		out.APY = &v
	}
	if e.DaysToExpiry != nil {
		v := *e.DaysToExpiry
		out.DaysToExpiry = &v
	}
	if e.Alpha != nil {
		v := *e.Alpha
		out.Alpha = &v
	}
	return out
}

// Validate checks event field constraints, including that the best prices
// point at lines actually present in the event.
func (e *MarketEvent) Validate() error {
	if e.ID == "" {
		return errors.New("event ID must not be empty")
	}
	if e.Title == "" {
		return errors.New("event title must not be empty")
	}
	for i := range e.Lines {
		if err := e.Lines[i].Validate(); err != nil {
			return err
		}
	}
	if (e.BestYes == nil) != (e.BestNo == nil) {
		return errors.New("best yes and best no must be set together")
	}
	if e.BestYes != nil && !e.hasLine(e.BestYes.Venue, e.BestYes.Price, SideYes) {
		return errors.New("best yes does not match any line")
	}
	if e.BestNo != nil && !e.hasLine(e.BestNo.Venue, e.BestNo.Price, SideNo) {
		return errors.New("best no does not match any line")
	}
	if e.ArbPercent != nil && e.BestYes == nil {
		return errors.New("arb percent requires a best-execution pair")
	}
	return nil
}

func (e *MarketEvent) hasLine(venue string, price float64, side Side) bool {
	for _, l := range e.Lines {
		if l.Venue != venue {
			continue
		}
		if side == SideYes && l.Yes.Value == price {
			return true
		}
		if side == SideNo && l.No.Value == price {
			return true
		}
	}
	return false
}
