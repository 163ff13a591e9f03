// Package audit keeps a local append-only trail of integrity checks and
// gate decisions in SQLite, independent of the primary database so a
// Postgres outage cannot swallow the evidence.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// Entry is one audit event.
type Entry struct {
	Event         string         `json:"event"`
	Valid         bool           `json:"valid"`
	ViolationType string         `json:"violation_type,omitempty"`
	SubjectID     string         `json:"subject_id,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Evidence      map[string]any `json:"evidence,omitempty"`
	Timestamp     string         `json:"timestamp"`
}

type Store struct{ db *sql.DB }

// Open opens or creates the audit database and applies the durability
// PRAGMAs and schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS audit_log (
  id             INTEGER PRIMARY KEY AUTOINCREMENT,
  event          TEXT NOT NULL,
  valid          INTEGER NOT NULL,
  violation_type TEXT,
  subject_id     TEXT,
  reason         TEXT,
  evidence       TEXT,
  ts             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_log_subject ON audit_log(subject_id);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append stores one entry. The trail is insert-only; there is no update
// or delete path.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	var evidence []byte
	if e.Evidence != nil {
		b, err := json.Marshal(e.Evidence)
		if err != nil {
			return fmt.Errorf("encode evidence: %w", err)
		}
		evidence = b
	}
	valid := 0
	if e.Valid {
		valid = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO audit_log(event, valid, violation_type, subject_id, reason, evidence, ts)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		e.Event, valid, e.ViolationType, e.SubjectID, e.Reason, string(evidence), e.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Export streams the whole trail as JSONL, oldest first.
func (s *Store) Export(ctx context.Context, w io.Writer) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT event, valid, violation_type, subject_id, reason, evidence, ts FROM audit_log ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("export audit trail: %w", err)
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	count := 0
	for rows.Next() {
		var e Entry
		var valid int
		var evidence sql.NullString
		if err := rows.Scan(&e.Event, &valid, &e.ViolationType, &e.SubjectID, &e.Reason, &evidence, &e.Timestamp); err != nil {
			return count, err
		}
		e.Valid = valid == 1
		if evidence.Valid && evidence.String != "" {
			_ = json.Unmarshal([]byte(evidence.String), &e.Evidence)
		}
		if err := enc.Encode(e); err != nil {
			return count, err
		}
		count++
	}
	return count, rows.Err()
}

// Count returns the number of entries in the trail.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM audit_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error { return s.db.Close() }
