package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto() // registers the vec0 virtual table with go-sqlite3
}

// DB wraps the SQLite connection with initialization logic. It owns the
// unit, entity, mention and link tables plus the FTS5 and vec0 indexes.
type DB struct {
	*sql.DB
	dim          int
	vecAvailable bool
	logger       *slog.Logger
}

// Open creates or opens the database at the given path, runs schema
// initialization, and configures WAL mode for concurrent reads. Use
// ":memory:" for an in-memory database. dim is the fixed embedding
// dimension; it is immutable for the lifetime of the database.
func Open(dbPath string, dim int, logger *slog.Logger) (*DB, error) {
	if dim < 1 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	d := &DB{DB: db, dim: dim, logger: logger}

	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	// sqlite-vec is optional: without it, vector kNN falls back to a
	// brute-force scan over the agent's stored embeddings.
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		logger.Warn("sqlite-vec not available, vector search falls back to full scan", "error", err)
	} else {
		logger.Info("sqlite-vec loaded", "version", vecVersion)
		d.vecAvailable = true
		if err := d.initVecTable(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init vec table: %w", err)
		}
	}

	return d, nil
}

// Dimension returns the fixed embedding dimension.
func (d *DB) Dimension() int { return d.dim }

func (d *DB) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS memory_units (
  id TEXT PRIMARY KEY,
  agent_id TEXT NOT NULL,
  fact_type TEXT NOT NULL,
  text TEXT NOT NULL,
  context TEXT,
  document_id TEXT,
  event_date INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  access_count INTEGER NOT NULL DEFAULT 0,
  text_hash TEXT NOT NULL,
  embedding BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_units_agent_type_date ON memory_units(agent_id, fact_type, event_date);
CREATE INDEX IF NOT EXISTS idx_units_agent_date ON memory_units(agent_id, event_date);
CREATE INDEX IF NOT EXISTS idx_units_agent_document ON memory_units(agent_id, document_id);
CREATE INDEX IF NOT EXISTS idx_units_agent_hash ON memory_units(agent_id, text_hash);

CREATE TABLE IF NOT EXISTS entities (
  id TEXT PRIMARY KEY,
  agent_id TEXT NOT NULL,
  type TEXT NOT NULL,
  canonical_name TEXT NOT NULL,
  aliases TEXT NOT NULL,
  first_seen INTEGER NOT NULL,
  last_seen INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_agent_type ON entities(agent_id, type);

CREATE TABLE IF NOT EXISTS entity_mentions (
  unit_id TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  PRIMARY KEY (unit_id, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_mentions_entity ON entity_mentions(entity_id);

CREATE TABLE IF NOT EXISTS links (
  from_id TEXT NOT NULL,
  to_id TEXT NOT NULL,
  link_type TEXT NOT NULL,
  weight REAL NOT NULL,
  metadata TEXT,
  PRIMARY KEY (from_id, to_id, link_type)
);

CREATE INDEX IF NOT EXISTS idx_links_from ON links(from_id);
CREATE INDEX IF NOT EXISTS idx_links_to ON links(to_id);
`
	if _, err := d.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	// FTS5 virtual table and triggers are created separately since
	// IF NOT EXISTS isn't always supported for virtual tables in older SQLite.
	fts := `
CREATE VIRTUAL TABLE IF NOT EXISTS units_fts USING fts5(
  text,
  content='memory_units', content_rowid='rowid',
  tokenize='porter unicode61'
);
`
	if _, err := d.Exec(fts); err != nil {
		return fmt.Errorf("create fts table: %w", err)
	}

	// Unit text is immutable, so only insert and delete triggers are needed.
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS units_ai AFTER INSERT ON memory_units BEGIN
  INSERT INTO units_fts(rowid, text) VALUES (NEW.rowid, NEW.text);
END;`,
		`CREATE TRIGGER IF NOT EXISTS units_ad AFTER DELETE ON memory_units BEGIN
  INSERT INTO units_fts(units_fts, rowid, text) VALUES ('delete', OLD.rowid, OLD.text);
END;`,
	}
	for _, t := range triggers {
		if _, err := d.Exec(t); err != nil {
			return fmt.Errorf("create trigger: %w", err)
		}
	}

	return nil
}

// initVecTable creates the vec0 ANN index. It uses the integer rowid from
// memory_units; embeddings are stored unit-normalized so L2 distance is
// interchangeable with cosine distance.
func (d *DB) initVecTable() error {
	_, err := d.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS unit_vec USING vec0(
			embedding float[%d]
		)
	`, d.dim))
	if err != nil {
		return fmt.Errorf("create unit_vec(float[%d]): %w", d.dim, err)
	}
	return nil
}

// Stats returns row counts per table.
func (d *DB) Stats() (map[string]int, error) {
	stats := make(map[string]int)
	for _, table := range []string{"memory_units", "entities", "entity_mentions", "links"} {
		var count int
		if err := d.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}
