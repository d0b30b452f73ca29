// Package snapshot keeps the latest MarketEvent per identity for readers.
package snapshot

import (
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/polyedge/internal/models"
)

// Status describes the freshness of a category.
type Status struct {
	Category     string        `json:"category"`
	Source       models.Source `json:"source"`
	UpdatedAt    time.Time     `json:"updated_at"`
	EventCount   int           `json:"event_count"`
	LastError    string        `json:"last_error,omitempty"`
	LastErrorAt  time.Time     `json:"last_error_at,omitempty"`
	FailureCount int           `json:"failure_count"`
}

// Store is last-writer-wins by response time: an update only replaces an
// event when it was observed later than what is already held. Readers always
// receive copies.
type Store struct {
	mu         sync.RWMutex
	events     map[string]models.MarketEvent
	categories map[string][]string
	status     map[string]*Status
}

func New() *Store {
	return &Store{
		events:     make(map[string]models.MarketEvent),
		categories: make(map[string][]string),
		status:     make(map[string]*Status),
	}
}

// ReplaceCategory swaps in a fresh category snapshot. Events that are stale
// relative to the held copy are kept at their held version, and held events
// observed after observedAt survive even when the response omits them. It
// returns the events that were actually applied.
func (s *Store) ReplaceCategory(category string, events []models.MarketEvent, observedAt time.Time) []models.MarketEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.statusLocked(category)
	if observedAt.Before(st.UpdatedAt) {
		return nil
	}

	ids := make([]string, 0, len(events))
	applied := make([]models.MarketEvent, 0, len(events))
	for _, ev := range events {
		ev.Category = category
		ids = append(ids, ev.ID)
		if s.putLocked(ev) {
			applied = append(applied, ev.Clone())
		}
	}

	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	for _, id := range s.categories[category] {
		if keep[id] {
			continue
		}
		// Written by a newer single-event resync; this reload cannot retire it.
		if held, exists := s.events[id]; exists && held.ObservedAt.After(observedAt) {
			ids = append(ids, id)
			keep[id] = true
			continue
		}
		delete(s.events, id)
	}
	s.categories[category] = ids

	st.UpdatedAt = observedAt
	st.EventCount = len(ids)
	if len(events) > 0 {
		st.Source = events[0].Source
	}
	st.LastError = ""
	st.FailureCount = 0
	return applied
}

// Upsert stores a single event if it is newer than the held copy.
func (s *Store) Upsert(ev models.MarketEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.putLocked(ev) {
		return false
	}
	found := false
	for _, id := range s.categories[ev.Category] {
		if id == ev.ID {
			found = true
			break
		}
	}
	if !found {
		s.categories[ev.Category] = append(s.categories[ev.Category], ev.ID)
		s.statusLocked(ev.Category).EventCount++
	}
	return true
}

func (s *Store) putLocked(ev models.MarketEvent) bool {
	if held, exists := s.events[ev.ID]; exists && ev.ObservedAt.Before(held.ObservedAt) {
		return false
	}
	s.events[ev.ID] = ev.Clone()
	return true
}

// RecordFailure notes a failed refresh. Held events are left untouched.
func (s *Store) RecordFailure(category string, reason string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.statusLocked(category)
	st.LastError = reason
	st.LastErrorAt = at
	st.FailureCount++
}

func (s *Store) statusLocked(category string) *Status {
	st, exists := s.status[category]
	if !exists {
		st = &Status{Category: category}
		s.status[category] = st
	}
	return st
}

// Category returns the events of one category in the order last supplied.
func (s *Store) Category(category string) []models.MarketEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.categories[category]
	out := make([]models.MarketEvent, 0, len(ids))
	for _, id := range ids {
		if ev, exists := s.events[id]; exists {
			out = append(out, ev.Clone())
		}
	}
	return out
}

// Event returns a single event by ID.
func (s *Store) Event(id string) (models.MarketEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, exists := s.events[id]
	if !exists {
		return models.MarketEvent{}, false
	}
	return ev.Clone(), true
}

// All returns every held event, grouped by category name.
func (s *Store) All() []models.MarketEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.categories))
	for name := range s.categories {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []models.MarketEvent
	for _, name := range names {
		for _, id := range s.categories[name] {
			if ev, exists := s.events[id]; exists {
				out = append(out, ev.Clone())
			}
		}
	}
	return out
}

// Status returns the freshness of a category.
func (s *Store) Status(category string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.status[category]
	if !exists {
		return Status{}, false
	}
	return *st, true
}

// Statuses returns every known category status sorted by name.
func (s *Store) Statuses() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}
