package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mattn/go-sqlite3"

	"github.com/iammorganparry/hindsight/internal/embedding"
	"github.com/iammorganparry/hindsight/internal/models"
)

// UnitStore handles memory_units persistence, including the vec0 ANN index.
type UnitStore struct {
	db *DB
}

func NewUnitStore(db *DB) *UnitStore {
	return &UnitStore{db: db}
}

// Insert persists a unit and indexes its embedding. Fails with
// models.ErrConflict on a duplicate id and models.ErrInvalidInput on an
// embedding dimension mismatch. Dedupe is the ingestor's job, not ours.
func (s *UnitStore) Insert(u *models.MemoryUnit) error {
	if len(u.Embedding) != s.db.dim {
		return fmt.Errorf("%w: embedding dimension %d, want %d", models.ErrInvalidInput, len(u.Embedding), s.db.dim)
	}
	if u.TextHash == "" {
		u.TextHash = embedding.ContentHash(u.Text)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert unit: %w", err)
	}
	defer tx.Rollback()

	normalized := embedding.Normalize(u.Embedding)
	res, err := tx.Exec(`
		INSERT INTO memory_units (id, agent_id, fact_type, text, context, document_id,
			event_date, created_at, access_count, text_hash, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, u.ID, u.AgentID, string(u.FactType), u.Text, nullable(u.Context), nullable(u.DocumentID),
		u.EventDate.Unix(), u.CreatedAt.Unix(), u.TextHash, embedding.Float32ToBytes(normalized))
	if err != nil {
		if sqliteErr, ok := err.(sqlite3.Error); ok && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: unit %s", models.ErrConflict, u.ID)
		}
		return fmt.Errorf("insert unit: %w", err)
	}

	if s.db.vecAvailable {
		rowid, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("unit rowid: %w", err)
		}
		serialized, err := sqlite_vec.SerializeFloat32(normalized)
		if err != nil {
			return fmt.Errorf("serialize embedding: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO unit_vec(rowid, embedding) VALUES (?, ?)`, rowid, serialized); err != nil {
			return fmt.Errorf("index embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert unit: %w", err)
	}
	return nil
}

// Get retrieves a unit by id, including its embedding.
func (s *UnitStore) Get(id string) (*models.MemoryUnit, error) {
	row := s.db.QueryRow(`
		SELECT id, agent_id, fact_type, text, context, document_id,
			event_date, created_at, access_count, text_hash, embedding
		FROM memory_units WHERE id = ?
	`, id)
	u, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: unit %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get unit: %w", err)
	}
	return u, nil
}

// Delete removes a unit, cascading its mentions, links (both directions)
// and vector index entry.
func (s *UnitStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete unit: %w", err)
	}
	defer tx.Rollback()

	if err := deleteUnitsTx(tx, s.db.vecAvailable, []string{id}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete unit: %w", err)
	}
	return nil
}

// DeleteAgent removes all state owned by an agent: units, entities,
// mentions and links.
func (s *UnitStore) DeleteAgent(agentID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete agent: %w", err)
	}
	defer tx.Rollback()

	ids, err := unitIDsTx(tx, `SELECT id FROM memory_units WHERE agent_id = ?`, agentID)
	if err != nil {
		return err
	}
	if err := deleteUnitsTx(tx, s.db.vecAvailable, ids); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM entities WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("delete agent entities: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete agent: %w", err)
	}
	return nil
}

// DeleteDocument removes all units of a document, cascading links and
// mentions. Returns the number of units removed.
func (s *UnitStore) DeleteDocument(agentID, documentID string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin delete document: %w", err)
	}
	defer tx.Rollback()

	ids, err := unitIDsTx(tx, `SELECT id FROM memory_units WHERE agent_id = ? AND document_id = ?`, agentID, documentID)
	if err != nil {
		return 0, err
	}
	if err := deleteUnitsTx(tx, s.db.vecAvailable, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete document: %w", err)
	}
	return len(ids), nil
}

// FindByTextHash returns the id of an existing unit with the same exact
// text hash, or empty string.
func (s *UnitStore) FindByTextHash(agentID, hash string) (string, error) {
	var id string
	err := s.db.QueryRow(`
		SELECT id FROM memory_units WHERE agent_id = ? AND text_hash = ? ORDER BY id LIMIT 1
	`, agentID, hash).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find by hash: %w", err)
	}
	return id, nil
}

// UnitsInRange returns units of an agent whose event_date falls inside
// [start, end], via the (agent_id, event_date) index. factType narrows the
// scan when non-empty.
func (s *UnitStore) UnitsInRange(agentID string, factType models.FactType, start, end time.Time) ([]*models.MemoryUnit, error) {
	q := `
		SELECT id, agent_id, fact_type, text, context, document_id,
			event_date, created_at, access_count, text_hash, embedding
		FROM memory_units
		WHERE agent_id = ? AND event_date BETWEEN ? AND ?`
	args := []any{agentID, start.Unix(), end.Unix()}
	if factType != "" {
		q += ` AND fact_type = ?`
		args = append(args, string(factType))
	}
	q += ` ORDER BY event_date, id`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("units in range: %w", err)
	}
	defer rows.Close()

	var units []*models.MemoryUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// UnlinkedUnits returns ids of units with no outgoing links, candidates for
// the background link repair pass.
func (s *UnitStore) UnlinkedUnits(agentID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT u.id FROM memory_units u
		LEFT JOIN links l ON l.from_id = u.id
		WHERE u.agent_id = ? AND l.from_id IS NULL
		ORDER BY u.created_at
		LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("unlinked units: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IncrementAccess bumps access_count for the given units. Increments are
// non-essential; callers fire this best-effort.
func (s *UnitStore) IncrementAccess(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.db.Exec(fmt.Sprintf(
		`UPDATE memory_units SET access_count = access_count + 1 WHERE id IN (%s)`,
		strings.Join(placeholders, ",")), args...)
	if err != nil {
		return fmt.Errorf("increment access: %w", err)
	}
	return nil
}

// FactTypeOf returns the fact type of a unit. Graph traversal uses it to
// honor the fact_type filter without loading full rows.
func (s *UnitStore) FactTypeOf(id string) (models.FactType, error) {
	var ft string
	err := s.db.QueryRow(`SELECT fact_type FROM memory_units WHERE id = ?`, id).Scan(&ft)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: unit %s", models.ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("fact type of %s: %w", id, err)
	}
	return models.FactType(ft), nil
}

// scanner abstracts sql.Row and sql.Rows for scanUnit.
type scanner interface {
	Scan(dest ...any) error
}

func scanUnit(row scanner) (*models.MemoryUnit, error) {
	var u models.MemoryUnit
	var factType string
	var context, documentID sql.NullString
	var eventDate, createdAt int64
	var emb []byte

	if err := row.Scan(&u.ID, &u.AgentID, &factType, &u.Text, &context, &documentID,
		&eventDate, &createdAt, &u.AccessCount, &u.TextHash, &emb); err != nil {
		return nil, err
	}

	u.FactType = models.FactType(factType)
	u.Context = context.String
	u.DocumentID = documentID.String
	u.EventDate = time.Unix(eventDate, 0).UTC()
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.Embedding = embedding.BytesToFloat32(emb)
	return &u, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func unitIDsTx(tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select unit ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unit id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// deleteUnitsTx removes units and cascades mentions, links (both
// directions) and vec index rows inside the caller's transaction.
func deleteUnitsTx(tx *sql.Tx, vecAvailable bool, ids []string) error {
	for _, id := range ids {
		if vecAvailable {
			var rowid int64
			err := tx.QueryRow(`SELECT rowid FROM memory_units WHERE id = ?`, id).Scan(&rowid)
			if err == nil {
				if _, err := tx.Exec(`DELETE FROM unit_vec WHERE rowid = ?`, rowid); err != nil {
					return fmt.Errorf("delete vec row: %w", err)
				}
			} else if err != sql.ErrNoRows {
				return fmt.Errorf("lookup rowid: %w", err)
			}
		}
		if _, err := tx.Exec(`DELETE FROM entity_mentions WHERE unit_id = ?`, id); err != nil {
			return fmt.Errorf("delete mentions: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM links WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
			return fmt.Errorf("delete links: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM memory_units WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete unit: %w", err)
		}
	}
	return nil
}
