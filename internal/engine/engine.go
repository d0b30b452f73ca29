// Package engine turns raw venue quotes into canonical lines and derives the
// arbitrage, yield and alpha signals from them. Every calculator is pure: the
// only inputs are its arguments and the injected configuration.
package engine

import (
	"errors"
	"sort"
	"time"

	"github.com/rewired-gh/polyedge/internal/models"
)

var (
	ErrDegenerateQuote = errors.New("degenerate quote: combined price must be positive")
	ErrInvalidBankroll = errors.New("invalid bankroll: must be positive")
)

// Venue is one entry of the venue directory.
type Venue struct {
	ID          string
	DisplayName string
	// SearchURL is used when a quote carries no usable deep link.
	// {query} is replaced by the url-escaped query, {slug} by its slug.
	SearchURL   string
	DefaultUnit models.PriceUnit
}

type Config struct {
	ReferenceVenue    string
	InstitutionalGap  float64
	MarketMakerSpread float64
	OpportunityFloor  float64
	MinLines          int
	ConfidenceBase    float64
	ConfidenceSlope   float64
	ConfidenceCap     float64
	FallbackSearchURL string
	VenueOrder        []string
	Venues            []Venue
}

func DefaultConfig() Config {
	return Config{
		ReferenceVenue:    "polymarket",
		InstitutionalGap:  0.08,
		MarketMakerSpread: 0.15,
		OpportunityFloor:  1.5,
		MinLines:          2,
		ConfidenceBase:    40,
		ConfidenceSlope:   300,
		ConfidenceCap:     95,
		FallbackSearchURL: "https://www.google.com/search?q={query}+{venue}",
		VenueOrder: []string{
			"polymarket", "kalshi", "draftkings", "gemini",
			"robinhood", "limitless", "coinbase", "predictit",
		},
		Venues: []Venue{
			{ID: "polymarket", DisplayName: "Polymarket", SearchURL: "https://polymarket.com/market/{slug}", DefaultUnit: models.UnitProbability},
			{ID: "kalshi", DisplayName: "Kalshi", SearchURL: "https://kalshi.com/search?query={query}", DefaultUnit: models.UnitCents},
			{ID: "draftkings", DisplayName: "DraftKings", SearchURL: "https://predictions.draftkings.com/en/", DefaultUnit: models.UnitAmerican},
			{ID: "gemini", DisplayName: "Gemini", SearchURL: "https://exchange.gemini.com/predictions", DefaultUnit: models.UnitProbability},
			{ID: "robinhood", DisplayName: "Robinhood", SearchURL: "https://robinhood.com/us/en/prediction-markets/", DefaultUnit: models.UnitProbability},
			{ID: "limitless", DisplayName: "Limitless", SearchURL: "https://limitless.exchange/markets", DefaultUnit: models.UnitProbability},
			{ID: "coinbase", DisplayName: "Coinbase", SearchURL: "https://www.coinbase.com/predictions", DefaultUnit: models.UnitProbability},
			{ID: "predictit", DisplayName: "PredictIt", SearchURL: "https://www.predictit.org/search?query={query}", DefaultUnit: models.UnitProbability},
		},
	}
}

// Engine holds the venue directory and thresholds. It is safe for concurrent
// use: nothing is mutated after New.
type Engine struct {
	config Config
	venues map[string]Venue
	rank   map[string]int
}

func New(config Config) *Engine {
	e := &Engine{
		config: config,
		venues: make(map[string]Venue, len(config.Venues)),
		rank:   make(map[string]int, len(config.VenueOrder)),
	}
	for _, v := range config.Venues {
		e.venues[v.ID] = v
	}
	for i, id := range config.VenueOrder {
		if _, exists := e.rank[id]; !exists {
			e.rank[id] = i
		}
	}
	return e
}

func (e *Engine) Config() Config {
	return e.config
}

// Venue looks up a venue in the directory.
func (e *Engine) Venue(id string) (Venue, bool) {
	v, ok := e.venues[id]
	return v, ok
}

// sortLines orders lines by the canonical venue order, unknown venues last
// by id.
func (e *Engine) sortLines(lines []models.Line) {
	sort.SliceStable(lines, func(i, j int) bool {
		ri, iKnown := e.rank[lines[i].Venue]
		rj, jKnown := e.rank[lines[j].Venue]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown != jKnown:
			return iKnown
		default:
			return lines[i].Venue < lines[j].Venue
		}
	})
}

// BuildEvent runs the automatic pipeline for one market and returns a fresh
// snapshot. now is only used for days-to-expiry.
func (e *Engine) BuildEvent(raw models.RawMarket, source models.Source, now time.Time) models.MarketEvent {
	event := models.MarketEvent{
		ID:         raw.ID(),
		Title:      raw.Title,
		Outcome:    raw.Outcome,
		Category:   raw.Category,
		ResolvesAt: raw.ResolvesAt,
		Lines:      e.Normalize(raw),
		ObservedAt: raw.FetchedAt,
		Source:     source,
	}
	if event.ObservedAt.IsZero() {
		event.ObservedAt = latest(event.Lines)
	}

	if !raw.ResolvesAt.IsZero() {
		days := DaysToExpiry(raw.ResolvesAt, now)
		event.DaysToExpiry = &days
	}

	if pair, ok := BestExecution(event.Lines); ok {
		event.BestYes = &pair.Yes
		event.BestNo = &pair.No

		if arb, ok := Arbitrage(pair.Yes.Price, pair.No.Price); ok {
			event.ArbPercent = &arb
			if event.DaysToExpiry != nil {
				apy := AnnualizedYield(arb, *event.DaysToExpiry)
				event.APY = &apy
			}
		}
	}

	if signal, ok := e.DetectAlpha(event.Lines); ok {
		event.Alpha = &signal
	}

	return event
}

// BuildEvents builds one snapshot per market. Markets sharing an identity are
// merged so each event appears once; untitled markets are skipped.
func (e *Engine) BuildEvents(markets []models.RawMarket, source models.Source, now time.Time) []models.MarketEvent {
	merged := models.MergeMarkets(markets)
	events := make([]models.MarketEvent, 0, len(merged))
	for _, raw := range merged {
		if models.NormalizeTitle(raw.Title) == "" {
			continue
		}
		events = append(events, e.BuildEvent(raw, source, now))
	}
	return events
}
