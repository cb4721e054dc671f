// Package store persists structured observations, text embeddings, and
// interpersonal-relationship rows in a single SQLite database.
//
// The structured side carries the wide observation table with an FTS5 index
// over node_content. The vector side stores embeddings as little-endian
// float32 blobs and ranks candidates in Go; with the sqlite_vec build tag the
// sqlite-vec extension is registered for accelerated search.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// Store is the shared persistence facade. Safe for concurrent use; writes
// are single-row inserts serialized by SQLite itself.
type Store struct {
	db     *sql.DB
	dbPath string
	logger *zap.Logger
}

// Open initializes the SQLite database at the given path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	observationsTable := `
	CREATE TABLE IF NOT EXISTS observations (
		id TEXT PRIMARY KEY,
		memory_type TEXT NOT NULL,
		node_content TEXT NOT NULL,
		edge_type TEXT,
		source_entity_id TEXT,
		source_entity_type TEXT,
		target_entity_id TEXT,
		target_entity_type TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		importance REAL NOT NULL DEFAULT 1.0,
		recurrence INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_obs_memory_type ON observations(memory_type);
	CREATE INDEX IF NOT EXISTS idx_obs_source ON observations(source_entity_id);
	CREATE INDEX IF NOT EXISTS idx_obs_target ON observations(target_entity_id);
	`

	// External-content FTS5 index over node_content, kept in sync by
	// triggers so callers never touch it directly.
	ftsTable := `
	CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
		node_content,
		content='observations',
		content_rowid='rowid'
	);
	CREATE TRIGGER IF NOT EXISTS observations_ai AFTER INSERT ON observations BEGIN
		INSERT INTO observations_fts(rowid, node_content) VALUES (new.rowid, new.node_content);
	END;
	CREATE TRIGGER IF NOT EXISTS observations_ad AFTER DELETE ON observations BEGIN
		INSERT INTO observations_fts(observations_fts, rowid, node_content) VALUES ('delete', old.rowid, old.node_content);
	END;
	CREATE TRIGGER IF NOT EXISTS observations_au AFTER UPDATE ON observations BEGIN
		INSERT INTO observations_fts(observations_fts, rowid, node_content) VALUES ('delete', old.rowid, old.node_content);
		INSERT INTO observations_fts(rowid, node_content) VALUES (new.rowid, new.node_content);
	END;
	`

	embeddingsTable := `
	CREATE TABLE IF NOT EXISTS text_embedding_logs (
		id TEXT PRIMARY KEY,
		observation_text TEXT NOT NULL,
		embedding_vector BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		observation_id TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_embedding_observation ON text_embedding_logs(observation_id);
	`

	peopleTable := `
	CREATE TABLE IF NOT EXISTS interpersonal_relationships (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT,
		full_name TEXT NOT NULL,
		platform TEXT,
		platform_handle TEXT,
		relationship_description TEXT NOT NULL,
		relationship_vector BLOB,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		last_interacted_at DATETIME,
		interaction_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_people_full_name ON interpersonal_relationships(full_name);
	`

	for _, stmt := range []string{observationsTable, ftsTable, embeddingsTable, peopleTable} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
