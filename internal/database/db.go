// Package database keeps imported maps and the apply audit trail in a
// local sqlite file.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store represents the database connection
type Store struct {
	conn *sql.DB
}

// New opens (creating if needed) the database at dbPath
func New(dbPath string) (*Store, error) {
	// Create database directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// foreign keys are per connection, so they go in the DSN
	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.InitSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// InitSchema creates the database tables if they don't exist
func (s *Store) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS maps (
		id TEXT PRIMARY KEY,
		printer_url TEXT NOT NULL,
		schema_version TEXT NOT NULL,
		generated_at TIMESTAMP,
		content_hash TEXT NOT NULL,
		imported_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS pages (
		map_id TEXT NOT NULL,
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		title TEXT,
		url TEXT,
		parent_id TEXT,
		doc TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		PRIMARY KEY (map_id, id),
		FOREIGN KEY (map_id) REFERENCES maps(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS fields (
		map_id TEXT NOT NULL,
		id TEXT NOT NULL,
		page_id TEXT NOT NULL,
		source_id TEXT,
		label TEXT,
		control_type TEXT NOT NULL,
		doc TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		PRIMARY KEY (map_id, id),
		FOREIGN KEY (map_id) REFERENCES maps(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS apply_runs (
		id TEXT PRIMARY KEY,
		map_path TEXT,
		schema_version TEXT NOT NULL,
		account_number TEXT,
		variation TEXT,
		status TEXT NOT NULL,
		applied INTEGER DEFAULT 0,
		unchanged INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		saved_pages TEXT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS apply_run_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		setting_id TEXT NOT NULL,
		page_id TEXT,
		attempt INTEGER NOT NULL,
		status TEXT NOT NULL,
		outcome TEXT,
		class TEXT,
		message TEXT,
		value TEXT,
		at TIMESTAMP NOT NULL,
		FOREIGN KEY (run_id) REFERENCES apply_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_fields_page ON fields(map_id, page_id);
	CREATE INDEX IF NOT EXISTS idx_fields_source ON fields(map_id, source_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON apply_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_items_run_id ON apply_run_items(run_id);
	`

	_, err := s.conn.Exec(schema)
	return err
}
