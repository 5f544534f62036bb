package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iammorganparry/hindsight/internal/models"
)

// EntityStore handles entities and entity_mentions.
type EntityStore struct {
	db *DB
}

func NewEntityStore(db *DB) *EntityStore {
	return &EntityStore{db: db}
}

// Insert creates a new entity.
func (s *EntityStore) Insert(e *models.Entity) error {
	aliases, err := json.Marshal(e.Aliases)
	if err != nil {
		return fmt.Errorf("encode aliases: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO entities (id, agent_id, type, canonical_name, aliases, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.AgentID, string(e.Type), e.CanonicalName, string(aliases),
		e.FirstSeen.Unix(), e.LastSeen.Unix())
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

// Get retrieves an entity by id.
func (s *EntityStore) Get(id string) (*models.Entity, error) {
	row := s.db.QueryRow(`
		SELECT id, agent_id, type, canonical_name, aliases, first_seen, last_seen
		FROM entities WHERE id = ?
	`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: entity %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

// Touch records a fresh sighting of an entity: merges any new alias into the
// alias list and advances last_seen if seenAt is later.
func (s *EntityStore) Touch(id, alias string, seenAt time.Time) error {
	e, err := s.Get(id)
	if err != nil {
		return err
	}

	if alias != "" && alias != e.CanonicalName {
		known := false
		for _, a := range e.Aliases {
			if a == alias {
				known = true
				break
			}
		}
		if !known {
			e.Aliases = append(e.Aliases, alias)
		}
	}
	if seenAt.After(e.LastSeen) {
		e.LastSeen = seenAt
	}

	aliases, err := json.Marshal(e.Aliases)
	if err != nil {
		return fmt.Errorf("encode aliases: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE entities SET aliases = ?, last_seen = ? WHERE id = ?
	`, string(aliases), e.LastSeen.Unix(), id)
	if err != nil {
		return fmt.Errorf("touch entity: %w", err)
	}
	return nil
}

// Candidates returns all entities of an agent, the resolver's comparison
// pool. entityType narrows the scan when non-empty.
func (s *EntityStore) Candidates(agentID string, entityType models.EntityType) ([]*models.Entity, error) {
	q := `
		SELECT id, agent_id, type, canonical_name, aliases, first_seen, last_seen
		FROM entities WHERE agent_id = ?`
	args := []any{agentID}
	if entityType != "" {
		q += ` AND type = ?`
		args = append(args, string(entityType))
	}
	q += ` ORDER BY first_seen, id`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("entity candidates: %w", err)
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// AddMention links a unit to an entity. Duplicate mentions are ignored.
func (s *EntityStore) AddMention(unitID, entityID string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO entity_mentions (unit_id, entity_id) VALUES (?, ?)
	`, unitID, entityID)
	if err != nil {
		return fmt.Errorf("add mention: %w", err)
	}
	return nil
}

// MentionedEntities returns the entity ids mentioned by a unit.
func (s *EntityStore) MentionedEntities(unitID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT entity_id FROM entity_mentions WHERE unit_id = ? ORDER BY entity_id
	`, unitID)
	if err != nil {
		return nil, fmt.Errorf("mentioned entities: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// UnitsForEntity returns the ids of all units mentioning an entity.
func (s *EntityStore) UnitsForEntity(entityID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT unit_id FROM entity_mentions WHERE entity_id = ? ORDER BY unit_id
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("units for entity: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// CooccurrenceCount returns how many units mention both entities.
func (s *EntityStore) CooccurrenceCount(entityA, entityB string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM entity_mentions a
		JOIN entity_mentions b ON a.unit_id = b.unit_id
		WHERE a.entity_id = ? AND b.entity_id = ?
	`, entityA, entityB).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cooccurrence count: %w", err)
	}
	return n, nil
}

func scanEntity(row scanner) (*models.Entity, error) {
	var e models.Entity
	var entityType, aliases string
	var firstSeen, lastSeen int64

	if err := row.Scan(&e.ID, &e.AgentID, &entityType, &e.CanonicalName,
		&aliases, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}

	e.Type = models.EntityType(entityType)
	if err := json.Unmarshal([]byte(aliases), &e.Aliases); err != nil {
		return nil, fmt.Errorf("decode aliases: %w", err)
	}
	e.FirstSeen = time.Unix(firstSeen, 0).UTC()
	e.LastSeen = time.Unix(lastSeen, 0).UTC()
	return &e, nil
}

func scanIDs(rows *sql.Rows) ([]string, error) {
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
