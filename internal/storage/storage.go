// Package storage provides SQLite-backed persistence for event snapshots,
// detected opportunities and notification history.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/polyedge/internal/models"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db        *sql.DB
	maxEvents int
}

// NotifiedRecord is the last notification sent for an opportunity key.
type NotifiedRecord struct {
	Key      string
	Edge     float64
	Strategy models.Strategy
	SentAt   time.Time
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/polyedge/data.db.
func New(maxEvents int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "polyedge", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxEvents: maxEvents}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id              TEXT PRIMARY KEY,
			title           TEXT NOT NULL,
			outcome         TEXT NOT NULL,
			category        TEXT NOT NULL,
			resolves_at     INTEGER NOT NULL DEFAULT 0,
			observed_at     INTEGER NOT NULL,
			source          TEXT NOT NULL,
			payload         TEXT NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_category ON events(category)`,
		`CREATE TABLE IF NOT EXISTS opportunities (
			id              TEXT PRIMARY KEY,
			event_id        TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			kind            TEXT NOT NULL,
			edge            REAL NOT NULL,
			strategy        TEXT,
			confidence      REAL NOT NULL DEFAULT 0,
			apy             REAL NOT NULL DEFAULT 0,
			detected_at     INTEGER NOT NULL,
			notified        INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_detected_at ON opportunities(detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_edge ON opportunities(kind, edge DESC)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			key             TEXT PRIMARY KEY,
			edge            REAL NOT NULL,
			strategy        TEXT,
			sent_at         INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvents upserts event snapshots. A row is only replaced by a snapshot
// observed at the same time or later. The event cap is enforced afterwards.
func (s *Storage) SaveEvents(events []models.MarketEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return fmt.Errorf("invalid event %s: %w", events[i].ID, err)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO events
			(id, title, outcome, category, resolves_at, observed_at, source, payload, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, outcome=excluded.outcome, category=excluded.category,
			resolves_at=excluded.resolves_at, observed_at=excluded.observed_at,
			source=excluded.source, payload=excluded.payload, updated_at=excluded.updated_at
		WHERE excluded.observed_at >= events.observed_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare event upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", e.ID, err)
		}
		if _, err := stmt.Exec(
			e.ID, e.Title, e.Outcome, e.Category,
			unixNano(e.ResolvesAt), e.ObservedAt.UnixNano(), string(e.Source),
			string(payload), now,
		); err != nil {
			return fmt.Errorf("failed to upsert event %s: %w", e.ID, err)
		}
	}

	if err := s.rotate(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Storage) GetEvent(id string) (*models.MarketEvent, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM events WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return decodeEvent(payload)
}

// LoadEvents returns every stored event, grouped by category.
func (s *Storage) LoadEvents() ([]models.MarketEvent, error) {
	rows, err := s.db.Query(`SELECT payload FROM events ORDER BY category, updated_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []models.MarketEvent{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e, err := decodeEvent(payload)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func decodeEvent(payload string) (*models.MarketEvent, error) {
	var e models.MarketEvent
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &e, nil
}

// AddOpportunity logs a detected opportunity. An empty ID is filled with a
// new UUID.
func (s *Storage) AddOpportunity(o *models.OpportunityRecord) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO opportunities
			(id, event_id, kind, edge, strategy, confidence, apy, detected_at, notified)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		o.ID, o.EventID, string(o.Kind), o.Edge, string(o.Strategy), o.Confidence, o.APY,
		o.DetectedAt.UnixNano(), boolToInt(o.Notified),
	)
	if err != nil {
		return fmt.Errorf("failed to insert opportunity: %w", err)
	}
	return nil
}

// GetTopOpportunities returns the k widest opportunities of a kind. An empty
// kind matches all kinds.
func (s *Storage) GetTopOpportunities(kind models.OpportunityKind, k int) ([]models.OpportunityRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, event_id, kind, edge, strategy, confidence, apy, detected_at, notified
		FROM opportunities
		WHERE ? = '' OR kind = ?
		ORDER BY edge DESC LIMIT ?`, string(kind), string(kind), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query opportunities: %w", err)
	}
	defer rows.Close()

	var out []models.OpportunityRecord
	for rows.Next() {
		var o models.OpportunityRecord
		var kindStr string
		var strategy sql.NullString
		var detectedAtNano int64
		var notified int

		if err := rows.Scan(
			&o.ID, &o.EventID, &kindStr, &o.Edge, &strategy, &o.Confidence, &o.APY,
			&detectedAtNano, &notified,
		); err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}

		o.Kind = models.OpportunityKind(kindStr)
		o.Strategy = models.Strategy(strategy.String)
		o.DetectedAt = time.Unix(0, detectedAtNano)
		o.Notified = notified != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

// MarkNotified flags logged opportunities as sent.
func (s *Storage) MarkNotified(ids []string) error {
	for _, id := range ids {
		if _, err := s.db.Exec(`UPDATE opportunities SET notified = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to mark opportunity %s notified: %w", id, err)
		}
	}
	return nil
}

func (s *Storage) ClearOpportunities() error {
	if _, err := s.db.Exec(`DELETE FROM opportunities`); err != nil {
		return fmt.Errorf("failed to clear opportunities: %w", err)
	}
	return nil
}

func (s *Storage) SaveNotified(rec NotifiedRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO notifications (key, edge, strategy, sent_at)
		VALUES (?,?,?,?)`,
		rec.Key, rec.Edge, string(rec.Strategy), rec.SentAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

// LoadNotified returns notification records sent at or after since.
func (s *Storage) LoadNotified(since time.Time) (map[string]NotifiedRecord, error) {
	rows, err := s.db.Query(`
		SELECT key, edge, strategy, sent_at FROM notifications WHERE sent_at >= ?`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	out := make(map[string]NotifiedRecord)
	for rows.Next() {
		var rec NotifiedRecord
		var strategy sql.NullString
		var sentAtNano int64
		if err := rows.Scan(&rec.Key, &rec.Edge, &strategy, &sentAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		rec.Strategy = models.Strategy(strategy.String)
		rec.SentAt = time.Unix(0, sentAtNano)
		out[rec.Key] = rec
	}
	return out, rows.Err()
}

// RotateEvents keeps at most maxEvents most recently observed events.
// Cascading deletes remove their logged opportunities.
func (s *Storage) RotateEvents() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.rotate(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Storage) rotate(tx *sql.Tx) error {
	if s.maxEvents <= 0 {
		return nil
	}
	if _, err := tx.Exec(`
		DELETE FROM events WHERE id NOT IN (
			SELECT id FROM events ORDER BY observed_at DESC, updated_at DESC LIMIT ?
		)`, s.maxEvents); err != nil {
		return fmt.Errorf("failed to rotate events: %w", err)
	}
	return nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
