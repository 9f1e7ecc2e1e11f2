// Package journal keeps a history of transfer attempts in SQLite so failed
// and verified downloads can be inspected after the fact.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/releasekit/relfetch/internal/domain"
)

// Entry is one recorded transfer attempt.
type Entry struct {
	ID          int64
	Version     string
	URL         string
	Destination string
	Status      string
	Bytes       int64
	Digest      string
	Algorithm   string
	LastError   string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Transfer statuses
const (
	StatusStarted  = "started"
	StatusVerified = "verified"
	StatusFailed   = "failed"
)

// Store records transfer attempts in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens a connection to the SQLite database at dbPath
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version TEXT NOT NULL,
		url TEXT NOT NULL,
		destination TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'started',
		bytes INTEGER NOT NULL DEFAULT 0,
		digest TEXT NOT NULL DEFAULT '',
		algorithm TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP
	)`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_transfers_version ON transfers(version)`)
	return err
}

// Begin records the start of a transfer attempt and returns its id.
func (s *Store) Begin(version, url, destination string) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO transfers (version, url, destination, status) VALUES (?, ?, ?, ?)`,
		version, url, destination, StatusStarted)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// Complete marks a transfer as drained and verified.
func (s *Store) Complete(id int64, result *domain.TransferResult) error {
	_, err := s.db.Exec(
		`UPDATE transfers
		 SET status = ?, bytes = ?, digest = ?, algorithm = ?, completed_at = datetime('now')
		 WHERE id = ?`,
		StatusVerified, result.ByteCount, result.Digest, string(result.Algorithm), id)
	return err
}

// Fail marks a transfer as failed with its error message.
func (s *Store) Fail(id int64, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE transfers
		 SET status = ?, last_error = ?, completed_at = datetime('now')
		 WHERE id = ?`,
		StatusFailed, errMsg, id)
	return err
}

// Recent returns the most recent transfer attempts, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, version, url, destination, status, bytes, digest, algorithm,
		        last_error, started_at, completed_at
		 FROM transfers
		 ORDER BY id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var completedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.Version, &e.URL, &e.Destination, &e.Status,
			&e.Bytes, &e.Digest, &e.Algorithm, &e.LastError, &e.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			t := completedAt.Time
			e.CompletedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
