package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for the capwire index.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
-- Extraction tables

CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  dir             TEXT NOT NULL,
  package         TEXT NOT NULL,
  import_path     TEXT,
  hash            TEXT,
  last_indexed    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS imports (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  path            TEXT NOT NULL,
  alias           TEXT
);

CREATE TABLE IF NOT EXISTS declarations (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  name            TEXT NOT NULL,
  kind            TEXT NOT NULL,
  type_params     TEXT,
  fields          TEXT,
  shape           TEXT,
  line            INTEGER,
  col             INTEGER
);

CREATE TABLE IF NOT EXISTS directives (
  id              INTEGER PRIMARY KEY,
  decl_id         INTEGER NOT NULL REFERENCES declarations(id),
  text            TEXT NOT NULL,
  line            INTEGER
);

CREATE TABLE IF NOT EXISTS methods (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  receiver        TEXT NOT NULL,
  pointer_receiver BOOLEAN DEFAULT FALSE,
  name            TEXT NOT NULL,
  params          TEXT,
  results         TEXT,
  line            INTEGER
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT
);

-- Resolution tables

CREATE TABLE IF NOT EXISTS delegation_entries (
  id              INTEGER PRIMARY KEY,
  package         TEXT NOT NULL,
  context         TEXT NOT NULL,
  capability_key  TEXT NOT NULL,
  provider        TEXT NOT NULL,
  source          TEXT NOT NULL,
  instantiation   TEXT
);

CREATE TABLE IF NOT EXISTS getter_bindings (
  id              INTEGER PRIMARY KEY,
  package         TEXT NOT NULL,
  context         TEXT NOT NULL,
  value_name      TEXT NOT NULL,
  type_expr       TEXT,
  accessor        TEXT,
  kind            TEXT
);

CREATE TABLE IF NOT EXISTS slot_bindings (
  id              INTEGER PRIMARY KEY,
  package         TEXT NOT NULL,
  context         TEXT NOT NULL,
  slot            TEXT NOT NULL,
  type_expr       TEXT NOT NULL,
  origin          TEXT
);

CREATE TABLE IF NOT EXISTS diagnostics (
  id              INTEGER PRIMARY KEY,
  code            TEXT NOT NULL,
  context         TEXT,
  subject         TEXT,
  message         TEXT NOT NULL,
  candidates      TEXT,
  hints           TEXT,
  file            TEXT,
  line            INTEGER,
  col             INTEGER
);

-- Indexes

CREATE INDEX IF NOT EXISTS idx_files_dir ON files(dir);
CREATE INDEX IF NOT EXISTS idx_imports_file ON imports(file_id);
CREATE INDEX IF NOT EXISTS idx_declarations_file ON declarations(file_id);
CREATE INDEX IF NOT EXISTS idx_declarations_name ON declarations(name);
CREATE INDEX IF NOT EXISTS idx_directives_decl ON directives(decl_id);
CREATE INDEX IF NOT EXISTS idx_methods_file ON methods(file_id);
CREATE INDEX IF NOT EXISTS idx_methods_receiver ON methods(receiver);
CREATE INDEX IF NOT EXISTS idx_entries_context ON delegation_entries(context);
CREATE INDEX IF NOT EXISTS idx_entries_key ON delegation_entries(capability_key);
CREATE INDEX IF NOT EXISTS idx_getters_context ON getter_bindings(context);
CREATE INDEX IF NOT EXISTS idx_slots_context ON slot_bindings(context);
CREATE INDEX IF NOT EXISTS idx_diagnostics_context ON diagnostics(context);
`

// DeleteFileData transactionally removes a file and everything extracted
// from it. Deletes in reverse-dependency order to respect FK constraints.
func (s *Store) DeleteFileData(fileID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM directives WHERE decl_id IN (SELECT id FROM declarations WHERE file_id = ?)",
		"DELETE FROM declarations WHERE file_id = ?",
		"DELETE FROM methods WHERE file_id = ?",
		"DELETE FROM imports WHERE file_id = ?",
		"DELETE FROM files WHERE id = ?",
	} {
		if _, err := tx.Exec(q, fileID); err != nil {
			return fmt.Errorf("delete file data: %w", err)
		}
	}
	return tx.Commit()
}

// GetMetadata returns the value stored under key, or "" when absent.
func (s *Store) GetMetadata(key string) (string, error) {
	var v sql.NullString
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return v.String, nil
}

// SetMetadata upserts a metadata value.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}
