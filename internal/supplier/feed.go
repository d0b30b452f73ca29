package supplier

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rewired-gh/polyedge/internal/models"
)

// Feed reads an aggregated multi-venue quote feed over HTTP.
type Feed struct {
	baseURL string
	http    httpClient
	now     func() time.Time
}

type feedResponse struct {
	FetchedAt *time.Time   `json:"fetched_at"`
	Markets   []feedMarket `json:"markets"`
}

type feedMarket struct {
	Title      string         `json:"title"`
	Outcome    string         `json:"outcome"`
	Category   string         `json:"category"`
	ExpiryDate string         `json:"expiry_date"`
	Platforms  []feedPlatform `json:"platforms"`
	Quotes     []models.Quote `json:"quotes"`
}

// feedPlatform is the per-venue pair the feed reports in cents.
type feedPlatform struct {
	Name          string     `json:"name"`
	YesPriceCents *float64   `json:"yes_price_cents"`
	NoPriceCents  *float64   `json:"no_price_cents"`
	VolumeUSD     *float64   `json:"volume_usd"`
	DirectURL     string     `json:"direct_url"`
	ObservedAt    *time.Time `json:"observed_at"`
}

func NewFeed(baseURL string, timeout time.Duration, maxRetries int, retryDelay time.Duration) *Feed {
	return &Feed{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClient("feed", timeout, maxRetries, retryDelay),
		now:     time.Now,
	}
}

func (f *Feed) Name() string {
	return "feed"
}

func (f *Feed) FetchCategory(ctx context.Context, category string) (Batch, error) {
	q := url.Values{}
	q.Set("category", category)
	return f.fetch(ctx, f.baseURL+"/quotes?"+q.Encode(), category)
}

func (f *Feed) FetchEvent(ctx context.Context, ref models.EventRef) (Batch, error) {
	q := url.Values{}
	q.Set("title", ref.Title)
	q.Set("outcome", ref.Outcome)
	batch, err := f.fetch(ctx, f.baseURL+"/quotes/event?"+q.Encode(), ref.Category)
	if err != nil {
		return Batch{}, err
	}
	batch.Markets = filterMarkets(batch.Markets, ref)
	return batch, nil
}

func (f *Feed) fetch(ctx context.Context, urlStr, category string) (Batch, error) {
	var resp feedResponse
	if err := f.http.getJSON(ctx, urlStr, &resp); err != nil {
		return Batch{}, err
	}

	fetchedAt := f.now()
	if resp.FetchedAt != nil && !resp.FetchedAt.IsZero() {
		fetchedAt = *resp.FetchedAt
	}

	markets := make([]models.RawMarket, 0, len(resp.Markets))
	for _, fm := range resp.Markets {
		if strings.TrimSpace(fm.Title) == "" {
			continue
		}
		m := models.RawMarket{
			Title:      fm.Title,
			Outcome:    fm.Outcome,
			Category:   fm.Category,
			ResolvesAt: parseTime(fm.ExpiryDate),
			FetchedAt:  fetchedAt,
			Quotes:     append([]models.Quote(nil), fm.Quotes...),
		}
		if m.Category == "" {
			m.Category = category
		}
		for _, p := range fm.Platforms {
			m.Quotes = append(m.Quotes, p.quotes()...)
		}
		markets = append(markets, m)
	}

	return Batch{Markets: markets, FetchedAt: fetchedAt, Source: models.SourceLive}, nil
}

func (p feedPlatform) quotes() []models.Quote {
	venue := strings.ToLower(strings.TrimSpace(p.Name))
	var observedAt time.Time
	if p.ObservedAt != nil {
		observedAt = *p.ObservedAt
	}

	var out []models.Quote
	if p.YesPriceCents != nil {
		out = append(out, models.Quote{
			Venue: venue, Side: models.SideYes, Price: *p.YesPriceCents, Unit: models.UnitCents,
			Liquidity: p.VolumeUSD, URL: p.DirectURL, ObservedAt: observedAt,
		})
	}
	if p.NoPriceCents != nil {
		out = append(out, models.Quote{
			Venue: venue, Side: models.SideNo, Price: *p.NoPriceCents, Unit: models.UnitCents,
			Liquidity: p.VolumeUSD, URL: p.DirectURL, ObservedAt: observedAt,
		})
	}
	return out
}

// parseTime accepts RFC 3339 timestamps and bare dates.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

var _ Supplier = (*Feed)(nil)
