// Package models defines the core domain entities: venue quotes, canonical
// lines, market events and the signals derived from them.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"regexp"
	"strings"
	"time"
)

// Side identifies which leg of a binary market a quote prices.
type Side string

const (
	SideUnknown Side = ""
	SideYes     Side = "yes"
	SideNo      Side = "no"
)

// ParseSide maps a side indicator or outcome name onto a Side.
func ParseSide(s string) Side {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "long":
		return SideYes
	case "no", "n", "false", "short":
		return SideNo
	default:
		return SideUnknown
	}
}

// PriceUnit is the venue-native unit a quote price is expressed in.
type PriceUnit string

const (
	UnitUnspecified PriceUnit = ""
	UnitProbability PriceUnit = "probability" // 0.0 - 1.0
	UnitCents       PriceUnit = "cents"       // 0 - 100
	UnitAmerican    PriceUnit = "american"    // +150 / -200
	UnitDecimal     PriceUnit = "decimal"     // 2.50
)

// Valid reports whether u is a known unit. The empty unit is valid and means
// "use the venue default".
func (u PriceUnit) Valid() bool {
	switch u {
	case UnitUnspecified, UnitProbability, UnitCents, UnitAmerican, UnitDecimal:
		return true
	}
	return false
}

// Quote is a single raw price observation handed over by the quote supplier.
type Quote struct {
	Venue      string    `json:"venue"`
	Side       Side      `json:"side"`
	Outcome    string    `json:"outcome,omitempty"`
	Price      float64   `json:"price"`
	Unit       PriceUnit `json:"unit,omitempty"`
	Liquidity  *float64  `json:"liquidity,omitempty"`
	URL        string    `json:"url,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	// Implied marks a side the supplier derived rather than quoted directly.
	Implied bool `json:"implied,omitempty"`
}

// ResolvedSide returns the explicit side, falling back to the outcome name.
func (q Quote) ResolvedSide() Side {
	if q.Side == SideYes || q.Side == SideNo {
		return q.Side
	}
	return ParseSide(q.Outcome)
}

// Validate checks the structural constraints of a quote. Price range is not
// checked here: out-of-range prices are clamped by the normalizer.
func (q *Quote) Validate() error {
	if strings.TrimSpace(q.Venue) == "" {
		return errors.New("quote venue must not be empty")
	}
	if q.ResolvedSide() == SideUnknown {
		return errors.New("quote side must be yes or no")
	}
	if !q.Unit.Valid() {
		return errors.New("quote unit must be one of: probability, cents, american, decimal")
	}
	if math.IsNaN(q.Price) || math.IsInf(q.Price, 0) {
		return errors.New("quote price must be a finite number")
	}
	return nil
}

// RawMarket groups the quotes for one market outcome as supplied upstream.
type RawMarket struct {
	Title      string    `json:"title"`
	Outcome    string    `json:"outcome"`
	Category   string    `json:"category"`
	ResolvesAt time.Time `json:"resolves_at"`
	Quotes     []Quote   `json:"quotes"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// ID returns the market identity shared by every refresh of the same outcome.
func (m RawMarket) ID() string {
	return EventID(m.Title, m.Outcome)
}

// Ref returns the reference used to resync this market on its own.
func (m RawMarket) Ref() EventRef {
	return EventRef{ID: m.ID(), Title: m.Title, Outcome: m.Outcome, Category: m.Category}
}

// EventRef identifies a single market for a resync request.
type EventRef struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Outcome  string `json:"outcome"`
	Category string `json:"category"`
}

var nonAlphaNum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeTitle lower-cases s and collapses punctuation and whitespace runs
// into single spaces.
func NormalizeTitle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlphaNum.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// EventID derives the deterministic market identity from title and outcome.
func EventID(title, outcome string) string {
	data := NormalizeTitle(title) + "|" + NormalizeTitle(outcome)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])[:32]
}

// MergeMarkets folds markets with the same identity into one, concatenating
// their quotes. The first occurrence keeps its position and metadata; a later
// one fills in a missing resolution date and the latest fetch time wins.
func MergeMarkets(markets []RawMarket) []RawMarket {
	index := make(map[string]int, len(markets))
	var out []RawMarket
	for _, m := range markets {
		id := m.ID()
		i, exists := index[id]
		if !exists {
			index[id] = len(out)
			m.Quotes = stampQuotes(nil, m.Quotes, m.FetchedAt)
			out = append(out, m)
			continue
		}
		dst := &out[i]
		dst.Quotes = stampQuotes(dst.Quotes, m.Quotes, m.FetchedAt)
		if dst.ResolvesAt.IsZero() {
			dst.ResolvesAt = m.ResolvesAt
		}
		if dst.Category == "" {
			dst.Category = m.Category
		}
		if m.FetchedAt.After(dst.FetchedAt) {
			dst.FetchedAt = m.FetchedAt
		}
	}
	return out
}

func stampQuotes(dst, quotes []Quote, fetchedAt time.Time) []Quote {
	for _, q := range quotes {
		if q.ObservedAt.IsZero() {
			q.ObservedAt = fetchedAt
		}
		dst = append(dst, q)
	}
	return dst
}
