package memory

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// CurrentSchemaVersion is incremented whenever the schema changes. Opening a
// database with an older version applies the missing migrations in order.
const CurrentSchemaVersion = 2

// OpenDB opens (or creates) the SQLite database used by the knowledge store
// and document store. WAL mode with a single connection keeps writers from
// tripping over SQLITE_BUSY under concurrent agent writes.
func OpenDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// OpenMemoryDB opens a fresh in-memory database, used by tests.
func OpenMemoryDB() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		version = 0
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("seed schema_version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for v := version + 1; v <= CurrentSchemaVersion; v++ {
		if err := applyMigration(db, v); err != nil {
			return fmt.Errorf("apply migration %d: %w", v, err)
		}
		if _, err := db.Exec(`UPDATE schema_version SET version = ?`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
	}

	return nil
}

func applyMigration(db *sql.DB, version int) error {
	var stmts []string

	switch version {
	case 1:
		stmts = []string{
			`CREATE TABLE knowledge_records (
				id         TEXT PRIMARY KEY,
				tier       TEXT NOT NULL,
				content    TEXT NOT NULL,
				metadata   TEXT NOT NULL DEFAULT '{}',
				embedding  BLOB NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX idx_knowledge_tier ON knowledge_records(tier)`,
		}
	case 2:
		stmts = []string{
			`CREATE TABLE documents (
				id         TEXT PRIMARY KEY,
				client_id  TEXT NOT NULL,
				title      TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE document_versions (
				id          TEXT PRIMARY KEY,
				document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
				version     INTEGER NOT NULL,
				content     TEXT NOT NULL,
				created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(document_id, version)
			)`,
			`CREATE INDEX idx_versions_document ON document_versions(document_id)`,
		}
	default:
		return fmt.Errorf("unknown schema version %d", version)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
