package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rewired-gh/polyedge/internal/engine"
	"github.com/rewired-gh/polyedge/internal/models"
	"github.com/rewired-gh/polyedge/internal/monitor"
	"github.com/rewired-gh/polyedge/internal/snapshot"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubRefresher struct {
	event      models.MarketEvent
	err        error
	categories []string
}

func (r *stubRefresher) RefreshCategory(_ context.Context, category string) (models.Digest, error) {
	r.categories = append(r.categories, category)
	return models.Digest{Category: category}, r.err
}

func (r *stubRefresher) ResyncEvent(_ context.Context, id string) (models.MarketEvent, error) {
	if id != r.event.ID {
		return models.MarketEvent{}, fmt.Errorf("event %s: %w", id, monitor.ErrUnknownEvent)
	}
	return r.event, r.err
}

type stubHistory struct {
	records []models.OpportunityRecord
	kinds   []models.OpportunityKind
}

func (h *stubHistory) GetTopOpportunities(kind models.OpportunityKind, k int) ([]models.OpportunityRecord, error) {
	h.kinds = append(h.kinds, kind)
	if k < len(h.records) {
		return h.records[:k], nil
	}
	return h.records, nil
}

func buildEvent(t *testing.T, eng *engine.Engine, title string, quotes ...models.Quote) models.MarketEvent {
	t.Helper()
	ev := eng.BuildEvent(models.RawMarket{
		Title:      title,
		Outcome:    "Yes",
		Category:   "politics",
		ResolvesAt: testNow.Add(30 * 24 * time.Hour),
		FetchedAt:  testNow,
		Quotes:     quotes,
	}, models.SourceLive, testNow)
	if err := ev.Validate(); err != nil {
		t.Fatalf("built invalid event: %v", err)
	}
	return ev
}

func arbEvent(t *testing.T, eng *engine.Engine) models.MarketEvent {
	return buildEvent(t, eng, "Fed cuts rates?",
		models.Quote{Venue: "kalshi", Side: models.SideYes, Price: 42, Unit: models.UnitCents},
		models.Quote{Venue: "kalshi", Side: models.SideNo, Price: 60, Unit: models.UnitCents},
		models.Quote{Venue: "predictit", Side: models.SideYes, Price: 0.48, Unit: models.UnitProbability},
		models.Quote{Venue: "predictit", Side: models.SideNo, Price: 0.55, Unit: models.UnitProbability},
	)
}

func unquotedEvent(t *testing.T, eng *engine.Engine) models.MarketEvent {
	return buildEvent(t, eng, "Unquoted market")
}

type fixture struct {
	srv       *Server
	store     *snapshot.Store
	refresher *stubRefresher
	history   *stubHistory
	arb       models.MarketEvent
	lonely    models.MarketEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eng := engine.New(engine.DefaultConfig())
	store := snapshot.New()
	arb := arbEvent(t, eng)
	lonely := unquotedEvent(t, eng)
	store.ReplaceCategory("politics", []models.MarketEvent{arb, lonely}, testNow)

	f := &fixture{
		store:     store,
		refresher: &stubRefresher{event: arb},
		history: &stubHistory{records: []models.OpportunityRecord{
			{ID: "r1", EventID: arb.ID, Kind: models.KindArbitrage, Edge: 3},
			{ID: "r2", EventID: arb.ID, Kind: models.KindAlpha, Edge: 6},
		}},
		arb:    arb,
		lonely: lonely,
	}
	f.srv = New(Config{Mode: gin.TestMode}, store, eng, f.refresher, f.history)
	return f
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Status     string            `json:"status"`
		Categories []snapshot.Status `json:"categories"`
	}
	decode(t, w, &resp)
	if resp.Status != "ok" || len(resp.Categories) != 1 || resp.Categories[0].EventCount != 2 {
		t.Errorf("unexpected health response: %+v", resp)
	}
}

func TestListAndGetEvents(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/events?category=politics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list struct {
		Events []models.MarketEvent `json:"events"`
		Status *snapshot.Status     `json:"status"`
	}
	decode(t, w, &list)
	if len(list.Events) != 2 || list.Status == nil {
		t.Errorf("unexpected list response: %s", w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/events?category=sports")
	decode(t, w, &list)
	if len(list.Events) != 0 {
		t.Errorf("expected no sports events, got %d", len(list.Events))
	}

	w = f.do(t, http.MethodGet, "/api/events/"+f.arb.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var ev models.MarketEvent
	decode(t, w, &ev)
	if ev.ID != f.arb.ID || ev.BestYes == nil || ev.BestYes.Venue != "kalshi" {
		t.Errorf("unexpected event: %+v", ev)
	}

	if w := f.do(t, http.MethodGet, "/api/events/missing"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown event, got %d", w.Code)
	}
}

func TestOpportunityLists(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/opportunities/arbitrage?category=politics")
	var arb struct {
		Opportunities []models.ArbOpportunity `json:"opportunities"`
	}
	decode(t, w, &arb)
	if len(arb.Opportunities) != 1 || arb.Opportunities[0].EventID != f.arb.ID {
		t.Fatalf("unexpected arbitrage list: %s", w.Body.String())
	}
	if got := arb.Opportunities[0].ArbPercent; math.Abs(got-3) > 1e-9 {
		t.Errorf("expected arb 3%%, got %v", got)
	}

	w = f.do(t, http.MethodGet, "/api/opportunities/alpha")
	var alpha struct {
		Opportunities []models.Opportunity `json:"opportunities"`
	}
	decode(t, w, &alpha)
	if len(alpha.Opportunities) != 1 || alpha.Opportunities[0].EventID != f.arb.ID {
		t.Errorf("unexpected alpha list: %s", w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/opportunities/alpha?category=sports")
	if !strings.Contains(w.Body.String(), `"opportunities":[]`) {
		t.Errorf("expected empty list, got %s", w.Body.String())
	}
}

func TestOpportunityHistory(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/opportunities/history?kind=alpha&limit=1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Opportunities []models.OpportunityRecord `json:"opportunities"`
	}
	decode(t, w, &resp)
	if len(resp.Opportunities) != 1 {
		t.Errorf("expected limit to apply, got %d", len(resp.Opportunities))
	}
	if len(f.history.kinds) != 1 || f.history.kinds[0] != models.KindAlpha {
		t.Errorf("unexpected history kinds: %v", f.history.kinds)
	}

	for _, path := range []string{
		"/api/opportunities/history?kind=bogus",
		"/api/opportunities/history?limit=0",
		"/api/opportunities/history?limit=abc",
	} {
		if w := f.do(t, http.MethodGet, path); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestStake(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/events/"+f.arb.ID+"/stake?bankroll=1000")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp stakeResponse
	decode(t, w, &resp)
	if resp.Display.StakeOnYes != 432.99 || resp.Display.StakeOnNo != 567.01 {
		t.Errorf("unexpected rounded stakes: %+v", resp.Display)
	}
	if resp.Display.Payout != 1030.93 || resp.Display.NetProfit != 30.93 || resp.Display.ROIPercent != 3.09 {
		t.Errorf("unexpected rounded payout: %+v", resp.Display)
	}
	if math.Abs(resp.Split.StakeOnYes+resp.Split.StakeOnNo-1000) > 1e-6 {
		t.Errorf("raw stakes do not sum to bankroll: %+v", resp.Split)
	}
	if resp.BestYes.Venue != "kalshi" || resp.BestNo.Venue != "predictit" {
		t.Errorf("unexpected venues: %+v %+v", resp.BestYes, resp.BestNo)
	}

	tests := []struct {
		name string
		path string
		code int
	}{
		{"unknown event", "/api/events/missing/stake?bankroll=1000", http.StatusNotFound},
		{"no best pair", "/api/events/" + f.lonely.ID + "/stake?bankroll=1000", http.StatusNotFound},
		{"zero bankroll", "/api/events/" + f.arb.ID + "/stake?bankroll=0", http.StatusUnprocessableEntity},
		{"negative bankroll", "/api/events/" + f.arb.ID + "/stake?bankroll=-5", http.StatusUnprocessableEntity},
		{"missing bankroll", "/api/events/" + f.arb.ID + "/stake", http.StatusUnprocessableEntity},
		{"nan bankroll", "/api/events/" + f.arb.ID + "/stake?bankroll=NaN", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(t, http.MethodGet, tt.path); w.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestResyncEvent(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/api/events/"+f.arb.ID+"/resync"); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/events/missing/resync"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	f.refresher.err = errors.New("supplier down")
	w := f.do(t, http.MethodPost, "/api/events/"+f.arb.ID+"/resync")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), f.arb.ID) {
		t.Errorf("expected held event in failure response: %s", w.Body.String())
	}
}

func TestRefreshCategory(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/categories/politics/refresh")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(f.refresher.categories) != 1 || f.refresher.categories[0] != "politics" {
		t.Errorf("unexpected refresh calls: %v", f.refresher.categories)
	}

	f.refresher.err = errors.New("stub: TIMEOUT")
	w = f.do(t, http.MethodPost, "/api/categories/politics/refresh")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	var resp struct {
		Events []models.MarketEvent `json:"events"`
		Error  string               `json:"error"`
	}
	decode(t, w, &resp)
	if len(resp.Events) != 2 || resp.Error == "" {
		t.Errorf("expected retained events and error, got %s", w.Body.String())
	}
}

func TestCORSHeaders(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard CORS origin, got %q", got)
	}
}

func TestWebsocketSnapshotPush(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.srv.Hub().Run(ctx)

	ts := httptest.NewServer(f.srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	read := func() Message {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		return msg
	}

	if hello := read(); hello.Type != "status" {
		t.Fatalf("expected status greeting, got %q", hello.Type)
	}

	f.srv.Hub().Publish("politics", f.store.Category("politics"))
	msg := read()
	if msg.Type != "snapshot" || msg.Category != "politics" || len(msg.Events) != 2 {
		t.Errorf("unexpected snapshot message: %+v", msg)
	}
}
