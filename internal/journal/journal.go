// Package journal persists emitted events to a local SQLite database.
//
// The journal is an append-only record of what the bridge has published:
// automations that missed a WebSocket frame can re-read recent history over
// the HTTP API. Snapshot state itself is never persisted; the journal holds
// events only, so a restart still starts from a clean first poll.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/marco308/ticktick-bridge/internal/snapshot"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    type        TEXT NOT NULL,
    task_id     TEXT NOT NULL,
    project_id  TEXT NOT NULL,
    title       TEXT NOT NULL,
    payload     TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_recorded_at ON events(recorded_at);
CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);
`

// Entry is one journaled event.
type Entry struct {
	ID         int64          `json:"id"`
	Type       string         `json:"type"`
	TaskID     string         `json:"task_id"`
	ProjectID  string         `json:"project_id"`
	Title      string         `json:"title"`
	Event      snapshot.Event `json:"event"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Journal is a sqlite-backed event log. It implements the bus Sink
// interface so it can sit next to the broadcaster on the fan-out path.
type Journal struct {
	db     *sql.DB
	logger *log.Logger
}

// Open creates or opens the journal database at path and ensures the
// schema exists. The caller must Close it.
func Open(path string, logger *log.Logger) (*Journal, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[journal] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	// WAL keeps reads cheap while the poll loop appends.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	return &Journal{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Publish implements the event sink: the event is appended to the log.
// Append failures are logged, never propagated — journaling must not break
// the poll cycle.
func (j *Journal) Publish(ev snapshot.Event) {
	if err := j.Append(ev); err != nil {
		j.logger.Printf("Failed to journal event: %v", err)
	}
}

// Append writes one event to the journal.
func (j *Journal) Append(ev snapshot.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	_, err = j.db.Exec(
		`INSERT INTO events (type, task_id, project_id, title, payload, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(ev.Type), ev.TaskID, ev.ProjectID, ev.Title, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.Query(
		`SELECT id, type, task_id, project_id, title, payload, recorded_at
		 FROM events ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var payload string
		if err := rows.Scan(&e.ID, &e.Type, &e.TaskID, &e.ProjectID, &e.Title, &payload, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Event); err != nil {
			j.logger.Printf("Warning: skipping undecodable event %d: %v", e.ID, err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the retention window. Returns the number
// of rows removed.
func (j *Journal) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := j.db.Exec(`DELETE FROM events WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return res.RowsAffected()
}
