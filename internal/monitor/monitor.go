package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/polyedge/internal/engine"
	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/models"
	"github.com/rewired-gh/polyedge/internal/snapshot"
	"github.com/rewired-gh/polyedge/internal/storage"
	"github.com/rewired-gh/polyedge/internal/supplier"
)

// ErrUnknownEvent is returned when a resync targets an event that is neither
// held in the snapshot nor persisted.
var ErrUnknownEvent = errors.New("unknown event")

type Config struct {
	TopK               int
	CooldownMultiplier int
	RefreshInterval    time.Duration
	RefreshTimeout     time.Duration
	MinArbPercent      float64
	MinAlphaEdge       float64
	EdgeWidening       float64
}

func DefaultConfig() Config {
	return Config{
		TopK:               10,
		CooldownMultiplier: 5,
		RefreshInterval:    5 * time.Minute,
		RefreshTimeout:     150 * time.Second,
		EdgeWidening:       1.0,
	}
}

// Publisher receives the category snapshot after every applied refresh.
type Publisher interface {
	Publish(category string, events []models.MarketEvent)
}

type Monitor struct {
	storage  *storage.Storage
	supplier supplier.Supplier
	engine   *engine.Engine
	store    *snapshot.Store
	config   Config
	now      func() time.Time

	mu        sync.Mutex
	notified  map[string]storage.NotifiedRecord
	pending   map[string]string
	publisher Publisher
}

func New(s *storage.Storage, sup supplier.Supplier, eng *engine.Engine, store *snapshot.Store, config Config) *Monitor {
	m := &Monitor{
		storage:  s,
		supplier: sup,
		engine:   eng,
		store:    store,
		config:   config,
		now:      time.Now,
		notified: make(map[string]storage.NotifiedRecord),
		pending:  make(map[string]string),
	}

	persisted, err := s.LoadEvents()
	if err != nil {
		logger.Warn("Failed to load persisted events: %v", err)
	} else {
		for _, ev := range persisted {
			ev.Source = models.SourceCache
			store.Upsert(ev)
		}
		logger.Info("Loaded %d persisted events", len(persisted))
	}

	notified, err := s.LoadNotified(m.now().Add(-m.cooldown()))
	if err != nil {
		logger.Warn("Failed to load notification history: %v", err)
	} else {
		m.notified = notified
	}

	return m
}

// SetPublisher installs the snapshot push target.
func (m *Monitor) SetPublisher(p Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = p
}

func (m *Monitor) Store() *snapshot.Store {
	return m.store
}

func (m *Monitor) Engine() *engine.Engine {
	return m.engine
}

func (m *Monitor) cooldown() time.Duration {
	return time.Duration(m.config.CooldownMultiplier) * m.config.RefreshInterval
}

// RefreshCategory fetches one category, replaces its snapshot, persists it
// and returns the opportunities that are due for notification. A fetch that
// fell back to a cached batch applies the batch and still returns the
// failure.
func (m *Monitor) RefreshCategory(ctx context.Context, category string) (models.Digest, error) {
	log := logger.WithFields(logger.Fields{"category": category})
	start := m.now()

	if m.config.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.RefreshTimeout)
		defer cancel()
	}

	batch, err := m.supplier.FetchCategory(ctx, category)
	if err != nil {
		m.store.RecordFailure(category, string(supplier.ReasonOf(err)), m.now())
		return models.Digest{Category: category}, fmt.Errorf("failed to fetch %s: %w", category, err)
	}

	events := m.engine.BuildEvents(batch.Markets, batch.Source, m.now())
	for i := range events {
		events[i].Category = category
	}

	observedAt := batch.FetchedAt
	if observedAt.IsZero() {
		observedAt = start
	}
	applied := m.store.ReplaceCategory(category, events, observedAt)

	var failure error
	if batch.Failure != nil {
		failure = fmt.Errorf("failed to fetch %s: %w", category, batch.Failure)
		m.store.RecordFailure(category, string(batch.Failure.Reason), m.now())
		log.Warn("Serving %s snapshot after failure: %v", batch.Source, batch.Failure)
	}

	if applied == nil {
		log.Debug("Discarded out-of-order response observed at %s", observedAt.Format(time.RFC3339))
		return models.Digest{Category: category}, failure
	}

	if len(applied) > 0 {
		if err := m.storage.SaveEvents(applied); err != nil {
			log.Warn("Failed to persist events: %v", err)
		}
	}

	current := m.store.Category(category)
	m.publish(category, current)

	digest := models.Digest{
		Category:   category,
		Arbitrage:  engine.RankArbitrage(current),
		Alpha:      m.engine.RankAlpha(current),
		DetectedAt: m.now(),
	}
	log.Info("Refreshed %d events: %d arbitrage, %d alpha", len(current), len(digest.Arbitrage), len(digest.Alpha))

	if failure == nil {
		m.logOpportunities(digest)
	}

	return m.PostProcess(digest), failure
}

// ResyncEvent refreshes a single event out of band. On failure the held
// event is returned together with the error.
func (m *Monitor) ResyncEvent(ctx context.Context, id string) (models.MarketEvent, error) {
	held, ok := m.store.Event(id)
	if !ok {
		stored, err := m.storage.GetEvent(id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return models.MarketEvent{}, fmt.Errorf("event %s: %w", id, ErrUnknownEvent)
			}
			return models.MarketEvent{}, err
		}
		held = *stored
	}

	if m.config.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.RefreshTimeout)
		defer cancel()
	}

	batch, err := m.supplier.FetchEvent(ctx, held.Ref())
	if err != nil {
		m.store.RecordFailure(held.Category, string(supplier.ReasonOf(err)), m.now())
		return held, fmt.Errorf("failed to resync %s: %w", id, err)
	}

	var fresh *models.MarketEvent
	for _, ev := range m.engine.BuildEvents(batch.Markets, batch.Source, m.now()) {
		if ev.ID == id {
			ev.Category = held.Category
			fresh = &ev
			break
		}
	}
	if fresh == nil {
		return held, fmt.Errorf("event %s missing from %s response", id, m.supplier.Name())
	}
	if batch.Failure != nil {
		m.store.RecordFailure(held.Category, string(batch.Failure.Reason), m.now())
	}

	if !m.store.Upsert(*fresh) {
		current, _ := m.store.Event(id)
		return current, nil
	}
	if err := m.storage.SaveEvents([]models.MarketEvent{*fresh}); err != nil {
		logger.WithFields(logger.Fields{"event": id}).Warn("Failed to persist event: %v", err)
	}
	m.publish(held.Category, m.store.Category(held.Category))

	if batch.Failure != nil {
		return *fresh, fmt.Errorf("failed to resync %s: %w", id, batch.Failure)
	}
	return *fresh, nil
}

func (m *Monitor) publish(category string, events []models.MarketEvent) {
	m.mu.Lock()
	p := m.publisher
	m.mu.Unlock()
	if p != nil {
		p.Publish(category, events)
	}
}

func (m *Monitor) logOpportunities(d models.Digest) {
	for _, rec := range d.Records() {
		if err := m.storage.AddOpportunity(&rec); err != nil {
			logger.Warn("Failed to log opportunity for %s: %v", rec.EventID, err)
			continue
		}
		m.mu.Lock()
		m.pending[rec.Key()] = rec.ID
		m.mu.Unlock()
	}
}

// PostProcess applies the quality bar and top-K cut, then drops
// opportunities notified within the cooldown window.
func (m *Monitor) PostProcess(d models.Digest) models.Digest {
	out := models.Digest{Category: d.Category, DetectedAt: d.DetectedAt}

	for _, a := range d.Arbitrage {
		if a.ArbPercent >= m.config.MinArbPercent {
			out.Arbitrage = append(out.Arbitrage, a)
		}
	}
	for _, a := range d.Alpha {
		if a.Edge >= m.config.MinAlphaEdge {
			out.Alpha = append(out.Alpha, a)
		}
	}

	if m.config.TopK > 0 {
		if len(out.Arbitrage) > m.config.TopK {
			out.Arbitrage = out.Arbitrage[:m.config.TopK]
		}
		if len(out.Alpha) > m.config.TopK {
			out.Alpha = out.Alpha[:m.config.TopK]
		}
	}

	return m.FilterRecentlySent(out, m.cooldown())
}

// FilterRecentlySent drops opportunities sent within cooldown unless the edge
// widened by at least EdgeWidening points or the strategy changed.
func (m *Monitor) FilterRecentlySent(d models.Digest, cooldown time.Duration) models.Digest {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	due := func(kind models.OpportunityKind, eventID string, edge float64, strategy models.Strategy) bool {
		rec, exists := m.notified[string(kind)+":"+eventID]
		if !exists || now.Sub(rec.SentAt) >= cooldown {
			return true
		}
		if edge-rec.Edge >= m.config.EdgeWidening {
			return true
		}
		return strategy != rec.Strategy
	}

	out := models.Digest{Category: d.Category, DetectedAt: d.DetectedAt}
	for _, a := range d.Arbitrage {
		if due(models.KindArbitrage, a.EventID, a.ArbPercent, "") {
			out.Arbitrage = append(out.Arbitrage, a)
		}
	}
	for _, a := range d.Alpha {
		if due(models.KindAlpha, a.EventID, a.Edge, a.Strategy) {
			out.Alpha = append(out.Alpha, a)
		}
	}
	return out
}

// RecordNotified remembers a sent digest and flags its logged opportunities.
func (m *Monitor) RecordNotified(d models.Digest) {
	now := m.now()
	var ids []string

	m.mu.Lock()
	for _, rec := range d.Records() {
		n := storage.NotifiedRecord{
			Key:      rec.Key(),
			Edge:     rec.Edge,
			Strategy: rec.Strategy,
			SentAt:   now,
		}
		m.notified[n.Key] = n
		if id, ok := m.pending[n.Key]; ok {
			ids = append(ids, id)
			delete(m.pending, n.Key)
		}
		if err := m.storage.SaveNotified(n); err != nil {
			logger.Warn("Failed to persist notification for %s: %v", n.Key, err)
		}
	}
	m.mu.Unlock()

	if err := m.storage.MarkNotified(ids); err != nil {
		logger.Warn("Failed to flag notified opportunities: %v", err)
	}
}

// StatusText summarizes per-category snapshot health.
func (m *Monitor) StatusText() string {
	statuses := m.store.Statuses()
	if len(statuses) == 0 {
		return "No categories refreshed yet"
	}

	var b strings.Builder
	for _, st := range statuses {
		fmt.Fprintf(&b, "%s: %d events", st.Category, st.EventCount)
		if !st.UpdatedAt.IsZero() {
			fmt.Fprintf(&b, ", updated %s", st.UpdatedAt.Format(time.RFC3339))
		}
		if st.LastError != "" {
			fmt.Fprintf(&b, ", %s x%d", st.LastError, st.FailureCount)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Shutdown persists the held snapshot.
func (m *Monitor) Shutdown() {
	events := m.store.All()
	logger.Info("Persisting %d events before shutdown", len(events))
	if err := m.storage.SaveEvents(events); err != nil {
		logger.Warn("Failed to persist events: %v", err)
	}
}
