package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps slots in a single SQLite table. Safe for concurrent
// use (SQLite serializes writes), though the node only ever touches it
// from one context.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens a slot store at the given database path, creating
// the schema on first use. WAL keeps writers from blocking readers.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an already-open database handle, creating the
// schema if needed. Tests use this to inject a CGO-free driver.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS slots (
		name       TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Read returns the bytes stored in slot, or ok == false when the slot
// has never been written.
func (s *SQLiteStore) Read(slot string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM slots WHERE name = ?`, slot).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read slot %s: %w", slot, err)
	}
	return data, true, nil
}

// Write upserts a slot record and refreshes its updated_at timestamp.
func (s *SQLiteStore) Write(slot string, data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO slots (name, data, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE
		 SET data = excluded.data, updated_at = excluded.updated_at`,
		slot, data, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("write slot %s: %w", slot, err)
	}
	return nil
}
