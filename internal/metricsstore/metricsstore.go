// Package metricsstore persists operator diagnostic history when
// ENABLE_METRICS is set, grounded on internal/store's
// modernc.org/sqlite connection setup (store.go) and schema-creation
// style (migrate.go), trimmed from a full migrations directory to one
// fixed table since metricsstore has exactly one shape of row to persist.
// It is diagnostics only -- never read back to reconstruct session,
// player, or registry state (§6: "Persisted state: None").
package metricsstore

import (
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite"

	"clspiov/internal/eventbus"
	"clspiov/internal/models"
)

// Store is a sqlite-backed append log of MetricEvent rows.
type Store struct {
	db *sql.DB
}

// New opens (creating if absent) the sqlite database at dbPath and
// ensures its schema, matching store.New's pragma set.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("metricsstore: open: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("metricsstore: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		stream_name TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("metricsstore: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record persists one diagnostic event.
func (s *Store) Record(ev models.MetricEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO metrics (session_id, kind, stream_name, detail) VALUES (?, ?, ?, ?)`,
		uint64(ev.SessionID), string(ev.Kind), ev.StreamName, ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("metricsstore: record: %w", err)
	}
	return nil
}

// Recent returns the most recent diagnostic events, newest first,
// capped at limit.
func (s *Store) Recent(limit int) ([]models.MetricEvent, error) {
	rows, err := s.db.Query(
		`SELECT session_id, kind, stream_name, detail FROM metrics ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("metricsstore: recent: %w", err)
	}
	defer rows.Close()

	var out []models.MetricEvent
	for rows.Next() {
		var sid uint64
		var ev models.MetricEvent
		if err := rows.Scan(&sid, &ev.Kind, &ev.StreamName, &ev.Detail); err != nil {
			return nil, fmt.Errorf("metricsstore: recent: scan: %w", err)
		}
		ev.SessionID = models.SessionId(sid)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Listener returns an eventbus.Handler that persists every METRIC event
// delivered to it; cmd/clspiovd wires it onto the registry's bus only
// when ENABLE_METRICS is set (§6). Per-session METRIC events are
// recorded there by a separate handler that calls Record directly.
func (s *Store) Listener() eventbus.Handler {
	return func(ev eventbus.Event) {
		payload, ok := ev.Payload.(models.MetricEvent)
		if !ok {
			return
		}
		if err := s.Record(payload); err != nil {
			log.Printf("metricsstore: recording metric: %v", err)
		}
	}
}
