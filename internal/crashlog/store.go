// Package crashlog persists crash reports from command, function and
// event handlers so repeated failures can be inspected after restart.
package crashlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS crash_reports (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_crash_reports_kind_name ON crash_reports(kind, name);
`

// Report is one recorded handler crash.
type Report struct {
	ID        int64
	Kind      string
	Name      string
	Message   string
	CreatedAt time.Time
}

// Store is a sqlite-backed crash report log.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the crash report database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open crash log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate crash log: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record appends a crash report.
func (s *Store) Record(ctx context.Context, kind, name, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crash_reports (kind, name, message) VALUES (?, ?, ?)`,
		kind, name, message)
	if err != nil {
		return fmt.Errorf("record crash: %w", err)
	}
	return nil
}

// Count returns the number of reports recorded for (kind, name).
func (s *Store) Count(ctx context.Context, kind, name string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM crash_reports WHERE kind = ? AND name = ?`,
		kind, name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count crashes: %w", err)
	}
	return n, nil
}

// Recent returns the latest reports, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, name, message, created_at
		 FROM crash_reports ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list crashes: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.Kind, &r.Name, &r.Message, &r.CreatedAt); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
