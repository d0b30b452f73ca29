package supplier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewired-gh/polyedge/internal/engine"
	"github.com/rewired-gh/polyedge/internal/models"
)

const feedBody = `{
  "fetched_at": "2026-01-01T12:00:00Z",
  "markets": [
    {
      "title": "Fed cuts rates in March?",
      "outcome": "Yes",
      "expiry_date": "2026-03-20",
      "platforms": [
        {"name": "Kalshi", "yes_price_cents": 42, "no_price_cents": 58, "volume_usd": 15000, "direct_url": "https://kalshi.com/markets/fed"},
        {"name": "PredictIt", "yes_price_cents": 45}
      ]
    },
    {"title": "", "outcome": "Yes"}
  ]
}`

func newFeedServer(t *testing.T, handler http.HandlerFunc) *Feed {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFeed(srv.URL, 2*time.Second, 3, time.Millisecond)
}

func TestFeed_FetchCategory(t *testing.T) {
	var gotCategory string
	f := newFeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quotes" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotCategory = r.URL.Query().Get("category")
		_, _ = w.Write([]byte(feedBody))
	})

	batch, err := f.FetchCategory(context.Background(), "economics")
	if err != nil {
		t.Fatalf("FetchCategory: %v", err)
	}
	if gotCategory != "economics" {
		t.Errorf("category query = %q", gotCategory)
	}
	if batch.Source != models.SourceLive {
		t.Errorf("source = %s", batch.Source)
	}
	want := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if !batch.FetchedAt.Equal(want) {
		t.Errorf("fetched at %v, want %v", batch.FetchedAt, want)
	}
	if len(batch.Markets) != 1 {
		t.Fatalf("got %d markets, want 1", len(batch.Markets))
	}

	m := batch.Markets[0]
	if m.Category != "economics" {
		t.Errorf("category = %q", m.Category)
	}
	if !m.ResolvesAt.Equal(time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("resolves at %v", m.ResolvesAt)
	}
	if len(m.Quotes) != 3 {
		t.Fatalf("got %d quotes, want 3", len(m.Quotes))
	}
	q := m.Quotes[0]
	if q.Venue != "kalshi" || q.Side != models.SideYes || q.Price != 42 || q.Unit != models.UnitCents {
		t.Errorf("unexpected quote %+v", q)
	}
	if q.Liquidity == nil || *q.Liquidity != 15000 {
		t.Errorf("liquidity = %v", q.Liquidity)
	}
}

func TestFeed_FetchEventFilters(t *testing.T) {
	f := newFeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quotes/event" || r.URL.Query().Get("title") == "" {
			t.Errorf("unexpected request %s", r.URL)
		}
		_, _ = w.Write([]byte(feedBody))
	})

	ref := models.EventRef{Title: "Fed cuts rates in March?", Outcome: "Yes", Category: "economics"}
	batch, err := f.FetchEvent(context.Background(), ref)
	if err != nil {
		t.Fatalf("FetchEvent: %v", err)
	}
	if len(batch.Markets) != 1 {
		t.Errorf("got %d markets, want 1", len(batch.Markets))
	}

	batch, err = f.FetchEvent(context.Background(), models.EventRef{Title: "Other", Outcome: "Yes"})
	if err != nil {
		t.Fatalf("FetchEvent: %v", err)
	}
	if len(batch.Markets) != 0 {
		t.Errorf("expected no markets for unmatched ref, got %d", len(batch.Markets))
	}
}

func TestFeed_FailureReasons(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		want     error
		reason   Reason
		attempts int32
	}{
		{
			name:     "quota status",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			want:     ErrQuotaExhausted,
			reason:   ReasonQuotaExhausted,
			attempts: 1,
		},
		{
			name: "quota body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"RESOURCE_EXHAUSTED"}`))
			},
			want:     ErrQuotaExhausted,
			reason:   ReasonQuotaExhausted,
			attempts: 1,
		},
		{
			name:     "server error retried",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			want:     ErrNetwork,
			reason:   ReasonNetwork,
			attempts: 3,
		},
		{
			name:     "bad body",
			handler:  func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("{")) },
			want:     ErrNetwork,
			reason:   ReasonNetwork,
			attempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			f := newFeedServer(t, func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				tt.handler(w, r)
			})

			_, err := f.FetchCategory(context.Background(), "politics")
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if got := ReasonOf(err); got != tt.reason {
				t.Errorf("reason = %s, want %s", got, tt.reason)
			}
			if got := attempts.Load(); got != tt.attempts {
				t.Errorf("attempts = %d, want %d", got, tt.attempts)
			}
		})
	}
}

func TestFeed_Timeout(t *testing.T) {
	release := make(chan struct{})
	f := newFeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.FetchCategory(ctx, "politics")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

const gammaBody = `[
  {
    "id": "1", "slug": "fed-march", "title": "Fed decision in March", "endDate": "2026-03-20T18:00:00Z",
    "active": true, "closed": false, "volume24hr": 50000, "liquidity": 1000,
    "markets": [
      {"id": "11", "question": "Fed cuts 25bps?", "groupItemTitle": "25 bps cut", "active": true,
       "liquidityNum": 800, "outcomes": "[\"Yes\", \"No\"]", "outcomePrices": "[\"0.41\", \"0.60\"]"},
      {"id": "12", "question": "Fed holds?", "groupItemTitle": "No change", "active": true, "closed": true,
       "outcomes": "[\"Yes\", \"No\"]", "outcomePrices": "[\"0.5\", \"0.5\"]"},
      {"id": "13", "question": "Broken", "groupItemTitle": "Broken", "outcomes": "nope", "outcomePrices": "[]"}
    ]
  },
  {"id": "2", "title": "Thin market", "active": true, "volume24hr": 10,
   "markets": [{"id": "21", "outcomes": "[\"Yes\", \"No\"]", "outcomePrices": "[\"0.5\", \"0.5\"]"}]}
]`

func TestPolymarket_FetchCategory(t *testing.T) {
	var gotTag string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTag = r.URL.Query().Get("tag_slug")
		_, _ = w.Write([]byte(gammaBody))
	}))
	t.Cleanup(srv.Close)

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPolymarket(srv.URL, "https://polymarket.com/event", 50, 1000, time.Second, 1, 0)
	p.now = func() time.Time { return fixed }

	batch, err := p.FetchCategory(context.Background(), "economics")
	if err != nil {
		t.Fatalf("FetchCategory: %v", err)
	}
	if gotTag != "economics" {
		t.Errorf("tag_slug = %q", gotTag)
	}
	if len(batch.Markets) != 1 {
		t.Fatalf("got %d markets, want 1", len(batch.Markets))
	}

	m := batch.Markets[0]
	if m.Title != "Fed decision in March" || m.Outcome != "25 bps cut" {
		t.Errorf("unexpected identity %q / %q", m.Title, m.Outcome)
	}
	if len(m.Quotes) != 2 || m.Quotes[0].Price != 0.41 || m.Quotes[1].Price != 0.60 {
		t.Errorf("unexpected quotes %+v", m.Quotes)
	}
	if m.Quotes[0].URL != "https://polymarket.com/event/fed-march" {
		t.Errorf("url = %q", m.Quotes[0].URL)
	}
	if *m.Quotes[0].Liquidity != 800 {
		t.Errorf("liquidity = %v", *m.Quotes[0].Liquidity)
	}
	if !m.Quotes[0].ObservedAt.Equal(fixed) {
		t.Errorf("observed at %v", m.Quotes[0].ObservedAt)
	}
}

type stubSupplier struct {
	name  string
	batch Batch
	err   error
}

func (s stubSupplier) Name() string { return s.name }

func (s stubSupplier) FetchCategory(ctx context.Context, category string) (Batch, error) {
	return s.batch, s.err
}

func (s stubSupplier) FetchEvent(ctx context.Context, ref models.EventRef) (Batch, error) {
	return s.batch, s.err
}

func TestMulti_MergesAndSkipsFailures(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := stubSupplier{name: "a", batch: Batch{
		FetchedAt: t0,
		Source:    models.SourceLive,
		Markets: []models.RawMarket{{Title: "Fed cuts", Outcome: "Yes", FetchedAt: t0,
			Quotes: []models.Quote{{Venue: "kalshi", Side: models.SideYes, Price: 40}}}},
	}}
	b := stubSupplier{name: "b", batch: Batch{
		FetchedAt: t0.Add(time.Second),
		Source:    models.SourceLive,
		Markets: []models.RawMarket{{Title: "fed cuts", Outcome: "yes", FetchedAt: t0.Add(time.Second),
			Quotes: []models.Quote{{Venue: "polymarket", Side: models.SideYes, Price: 0.41}}}},
	}}
	bad := stubSupplier{name: "bad", err: &Error{Supplier: "bad", Reason: ReasonTimeout, Err: context.DeadlineExceeded}}

	batch, err := NewMulti(a, bad, b).FetchCategory(context.Background(), "economics")
	if err != nil {
		t.Fatalf("FetchCategory: %v", err)
	}
	if len(batch.Markets) != 1 || len(batch.Markets[0].Quotes) != 2 {
		t.Fatalf("markets not merged: %+v", batch.Markets)
	}
	if !batch.FetchedAt.Equal(t0.Add(time.Second)) {
		t.Errorf("fetched at %v", batch.FetchedAt)
	}
}

func TestMulti_AllFail(t *testing.T) {
	bad := stubSupplier{name: "bad", err: &Error{Supplier: "bad", Reason: ReasonQuotaExhausted, Err: errors.New("429")}}
	_, err := NewMulti(bad, bad).FetchCategory(context.Background(), "economics")
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Errorf("err = %v, want quota exhausted", err)
	}
}

func TestMulti_MatchesCrossVenueTitles(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	market := func(title string, q models.Quote) models.RawMarket {
		return models.RawMarket{Title: title, Outcome: "Yes", Category: "politics", FetchedAt: t0, Quotes: []models.Quote{q}}
	}
	poly := stubSupplier{name: "polymarket", batch: Batch{FetchedAt: t0, Source: models.SourceLive, Markets: []models.RawMarket{
		market("Will Claudia López win the 2026 Colombian presidential election?", models.Quote{Venue: "polymarket", Side: models.SideYes, Price: 0.41}),
		market("Will Alex Rivera win the 2026 Colombian presidential election?", models.Quote{Venue: "polymarket", Side: models.SideYes, Price: 0.2}),
	}}}
	predictit := stubSupplier{name: "predictit", batch: Batch{FetchedAt: t0, Source: models.SourceLive, Markets: []models.RawMarket{
		market("Who will win the 2026 Colombian presidential election?", models.Quote{Venue: "predictit", Side: models.SideYes, Price: 0.44}),
	}}}

	tests := []struct {
		name    string
		multi   *Multi
		markets int
	}{
		{"exact titles only", NewMulti(poly, predictit), 3},
		{"fuzzy matcher", NewMulti(poly, predictit).WithMatcher(engine.NewMatcher(engine.DefaultMatchConfig())), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := tt.multi.FetchCategory(context.Background(), "politics")
			if err != nil {
				t.Fatalf("FetchCategory: %v", err)
			}
			if len(batch.Markets) != tt.markets {
				t.Fatalf("got %d markets, want %d: %+v", len(batch.Markets), tt.markets, batch.Markets)
			}
		})
	}

	batch, _ := tests[1].multi.FetchCategory(context.Background(), "politics")
	lopez := batch.Markets[0]
	if lopez.Title != "Will Claudia López win the 2026 Colombian presidential election?" {
		t.Errorf("canonical title = %q", lopez.Title)
	}
	if len(lopez.Quotes) != 2 || lopez.Quotes[1].Venue != "predictit" {
		t.Errorf("cross-venue quotes not merged: %+v", lopez.Quotes)
	}
}

type memCache struct {
	batches map[string]Batch
}

func (m *memCache) GetBatch(ctx context.Context, key string) (Batch, bool, error) {
	b, ok := m.batches[key]
	return b, ok, nil
}

func (m *memCache) SetBatch(ctx context.Context, key string, batch Batch) error {
	m.batches[key] = batch
	return nil
}

func TestCached_FallsBackOnFailure(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := &memCache{batches: make(map[string]Batch)}
	good := Batch{FetchedAt: t0, Source: models.SourceLive, Markets: []models.RawMarket{{Title: "X", Outcome: "Yes"}}}

	if _, err := NewCached(stubSupplier{name: "s", batch: good}, cache).FetchCategory(context.Background(), "politics"); err != nil {
		t.Fatalf("live fetch: %v", err)
	}

	failing := stubSupplier{name: "s", err: &Error{Supplier: "s", Reason: ReasonTimeout, Err: context.DeadlineExceeded}}
	batch, err := NewCached(failing, cache).FetchCategory(context.Background(), "politics")
	if err != nil {
		t.Fatalf("expected cached batch, got %v", err)
	}
	if batch.Source != models.SourceCache || len(batch.Markets) != 1 {
		t.Errorf("unexpected batch %+v", batch)
	}
	if batch.Failure == nil || batch.Failure.Reason != ReasonTimeout {
		t.Errorf("failure not reported: %+v", batch.Failure)
	}
	if !batch.FetchedAt.Equal(t0) {
		t.Errorf("cached batch lost its response time: %v", batch.FetchedAt)
	}

	if _, err := NewCached(failing, cache).FetchCategory(context.Background(), "sports"); !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want timeout with empty cache", err)
	}
}
