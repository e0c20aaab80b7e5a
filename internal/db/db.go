package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/glean/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// Init initializes the SQLite database at baseDir/glean.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.glean.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	// Create exports subdirectory
	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Pragmas in the connection string apply to every pooled connection
	dbPath := filepath.Join(baseDir, "glean.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: sessions, transcripts, projects, staged items
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS sessions (
		  id              TEXT PRIMARY KEY,
		  project_slug    TEXT,
		  status          TEXT NOT NULL,
		  summary         TEXT,
		  created_at      INTEGER NOT NULL,
		  updated_at      INTEGER NOT NULL,
		  extracted_at    INTEGER,
		  extraction_json TEXT,
		  failure_json    TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_status_created
		ON sessions(status, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_sessions_created
		ON sessions(created_at DESC);

		CREATE TABLE IF NOT EXISTS transcripts (
		  session_id  TEXT PRIMARY KEY,
		  content     TEXT NOT NULL,
		  files_json  TEXT,
		  created_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS projects (
		  id          TEXT PRIMARY KEY,
		  slug        TEXT NOT NULL,
		  name        TEXT,
		  created_at  INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_slug
		ON projects(slug);

		CREATE TABLE IF NOT EXISTS staged_items (
		  id             TEXT PRIMARY KEY,
		  bucket         TEXT NOT NULL,
		  category       TEXT NOT NULL,
		  content        TEXT NOT NULL,
		  title          TEXT NOT NULL,
		  priority       TEXT NOT NULL,
		  status         TEXT NOT NULL,
		  session_id     TEXT NOT NULL,
		  project_id     TEXT NOT NULL CHECK (project_id <> ''),
		  fingerprint    TEXT NOT NULL,
		  metadata_json  TEXT,
		  created_at     INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_staged_items_fingerprint
		ON staged_items(fingerprint);

		CREATE INDEX IF NOT EXISTS idx_staged_items_status_created
		ON staged_items(status, created_at);

		CREATE INDEX IF NOT EXISTS idx_staged_items_session
		ON staged_items(session_id);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Migration 1 -> 2: run history for status reporting
	if version < 2 {
		schema := `
		CREATE TABLE IF NOT EXISTS runs (
		  id                  TEXT PRIMARY KEY,
		  started_at          INTEGER NOT NULL,
		  finished_at         INTEGER NOT NULL,
		  duration_ms         INTEGER NOT NULL,
		  sessions_scanned    INTEGER NOT NULL,
		  sessions_processed  INTEGER NOT NULL,
		  items_inserted      INTEGER NOT NULL,
		  duplicates          INTEGER NOT NULL,
		  rejected            INTEGER NOT NULL,
		  errors              INTEGER NOT NULL,
		  stats_json          TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started
		ON runs(started_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := SetUserVersion(db, 2); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

// Store is the SQLite record store used by the extraction pipeline.
type Store struct {
	db *sql.DB
}

// NewStore wraps an initialized database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
