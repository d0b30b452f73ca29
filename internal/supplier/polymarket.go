package supplier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/polyedge/internal/models"
)

const polymarketVenue = "polymarket"

// Polymarket reads open events from the Gamma API and turns each market into
// polymarket quotes.
type Polymarket struct {
	gammaAPIURL  string
	eventBaseURL string
	limit        int
	minVolume    float64
	http         httpClient
	now          func() time.Time
}

// PolymarketEvent represents an event from the Gamma API
type PolymarketEvent struct {
	ID         string             `json:"id"`
	Slug       string             `json:"slug"`
	Title      string             `json:"title"`
	Category   string             `json:"category"`
	EndDate    string             `json:"endDate"`
	Active     bool               `json:"active"`
	Closed     bool               `json:"closed"`
	Volume24hr float64            `json:"volume24hr"`
	Liquidity  float64            `json:"liquidity"`
	Markets    []PolymarketMarket `json:"markets"`
}

// PolymarketMarket represents a market from the Gamma API
type PolymarketMarket struct {
	ID             string  `json:"id"`
	Question       string  `json:"question"`
	GroupItemTitle string  `json:"groupItemTitle"`
	Slug           string  `json:"slug"`
	EndDate        string  `json:"endDate"`
	Active         bool    `json:"active"`
	Closed         bool    `json:"closed"`
	LiquidityNum   float64 `json:"liquidityNum"`
	Outcomes       string  `json:"outcomes"`      // JSON string: "[\"Yes\", \"No\"]"
	OutcomePrices  string  `json:"outcomePrices"` // JSON string: "[\"0.75\", \"0.25\"]"
}

func NewPolymarket(gammaAPIURL, eventBaseURL string, limit int, minVolume float64, timeout time.Duration, maxRetries int, retryDelay time.Duration) *Polymarket {
	return &Polymarket{
		gammaAPIURL:  strings.TrimRight(gammaAPIURL, "/"),
		eventBaseURL: strings.TrimRight(eventBaseURL, "/"),
		limit:        limit,
		minVolume:    minVolume,
		http:         newHTTPClient(polymarketVenue, timeout, maxRetries, retryDelay),
		now:          time.Now,
	}
}

func (c *Polymarket) Name() string {
	return polymarketVenue
}

// FetchCategory retrieves active events tagged with category, highest 24h
// volume first.
func (c *Polymarket) FetchCategory(ctx context.Context, category string) (Batch, error) {
	u, err := url.Parse(c.gammaAPIURL + "/events")
	if err != nil {
		return Batch{}, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("limit", strconv.Itoa(c.limit))
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	if category != "" {
		q.Set("tag_slug", category)
	}
	u.RawQuery = q.Encode()

	// Response is array directly, not wrapped
	var pmEvents []PolymarketEvent
	if err := c.http.getJSON(ctx, u.String(), &pmEvents); err != nil {
		return Batch{}, err
	}

	fetchedAt := c.now()
	var markets []models.RawMarket
	for _, pe := range pmEvents {
		if !pe.Active || pe.Closed || pe.Volume24hr < c.minVolume {
			continue
		}
		for _, pm := range pe.Markets {
			m, ok := c.toRawMarket(pe, pm, category, fetchedAt)
			if !ok {
				continue
			}
			markets = append(markets, m)
		}
	}

	return Batch{Markets: markets, FetchedAt: fetchedAt, Source: models.SourceLive}, nil
}

// FetchEvent refetches the event's category and keeps the matching market.
func (c *Polymarket) FetchEvent(ctx context.Context, ref models.EventRef) (Batch, error) {
	batch, err := c.FetchCategory(ctx, ref.Category)
	if err != nil {
		return Batch{}, err
	}
	batch.Markets = filterMarkets(batch.Markets, ref)
	return batch, nil
}

func (c *Polymarket) toRawMarket(pe PolymarketEvent, pm PolymarketMarket, category string, fetchedAt time.Time) (models.RawMarket, bool) {
	if pm.Closed {
		return models.RawMarket{}, false
	}
	yes, no, err := parseMarketPrices(pm)
	if err != nil {
		return models.RawMarket{}, false
	}

	title, outcome := pe.Title, "Yes"
	if len(pe.Markets) > 1 {
		outcome = pm.GroupItemTitle
		if outcome == "" {
			title, outcome = pm.Question, "Yes"
		}
	}

	resolves := parseTime(pm.EndDate)
	if resolves.IsZero() {
		resolves = parseTime(pe.EndDate)
	}

	liquidity := pm.LiquidityNum
	if liquidity == 0 {
		liquidity = pe.Liquidity
	}
	var link string
	if pe.Slug != "" && c.eventBaseURL != "" {
		link = c.eventBaseURL + "/" + pe.Slug
	}

	quote := func(side models.Side, price float64) models.Quote {
		return models.Quote{
			Venue:      polymarketVenue,
			Side:       side,
			Price:      price,
			Unit:       models.UnitProbability,
			Liquidity:  &liquidity,
			URL:        link,
			ObservedAt: fetchedAt,
		}
	}

	return models.RawMarket{
		Title:      title,
		Outcome:    outcome,
		Category:   category,
		ResolvesAt: resolves,
		FetchedAt:  fetchedAt,
		Quotes:     []models.Quote{quote(models.SideYes, yes), quote(models.SideNo, no)},
	}, true
}

// parseMarketPrices extracts Yes/No prices from a market
func parseMarketPrices(market PolymarketMarket) (float64, float64, error) {
	var outcomes []string
	if err := json.Unmarshal([]byte(market.Outcomes), &outcomes); err != nil {
		return 0, 0, fmt.Errorf("failed to parse outcomes: %w", err)
	}

	var outcomePrices []string
	if err := json.Unmarshal([]byte(market.OutcomePrices), &outcomePrices); err != nil {
		return 0, 0, fmt.Errorf("failed to parse outcome prices: %w", err)
	}

	var yes, no float64
	var haveYes, haveNo bool
	for i, outcome := range outcomes {
		if i >= len(outcomePrices) {
			break
		}
		price, err := strconv.ParseFloat(outcomePrices[i], 64)
		if err != nil {
			continue
		}
		switch models.ParseSide(outcome) {
		case models.SideYes:
			yes, haveYes = price, true
		case models.SideNo:
			no, haveNo = price, true
		}
	}

	if !haveYes || !haveNo {
		return 0, 0, fmt.Errorf("market %s is not a yes/no market", market.ID)
	}
	return yes, no, nil
}

var _ Supplier = (*Polymarket)(nil)
