package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/iammorganparry/hindsight/internal/models"
)

// LinkStore handles the links table. Links are undirected and stored in
// both directions so neighbor queries only need the from_id index.
type LinkStore struct {
	db *DB
}

func NewLinkStore(db *DB) *LinkStore {
	return &LinkStore{db: db}
}

// Upsert writes a link in both directions. On conflict the stronger weight
// wins and the metadata is refreshed.
func (s *LinkStore) Upsert(l models.Link) error {
	if l.FromID == l.ToID {
		return fmt.Errorf("%w: self link %s", models.ErrInvalidInput, l.FromID)
	}
	meta, err := marshalLinkMeta(l.Meta)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert link: %w", err)
	}
	defer tx.Rollback()

	if err := upsertLinkTx(tx, l.FromID, l.ToID, l.Type, l.Weight, meta); err != nil {
		return err
	}
	if err := upsertLinkTx(tx, l.ToID, l.FromID, l.Type, l.Weight, meta); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert link: %w", err)
	}
	return nil
}

// UpsertBatch writes a set of links in one transaction, each in both
// directions.
func (s *LinkStore) UpsertBatch(links []models.Link) error {
	if len(links) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert links: %w", err)
	}
	defer tx.Rollback()

	for _, l := range links {
		if l.FromID == l.ToID {
			return fmt.Errorf("%w: self link %s", models.ErrInvalidInput, l.FromID)
		}
		meta, err := marshalLinkMeta(l.Meta)
		if err != nil {
			return err
		}
		if err := upsertLinkTx(tx, l.FromID, l.ToID, l.Type, l.Weight, meta); err != nil {
			return err
		}
		if err := upsertLinkTx(tx, l.ToID, l.FromID, l.Type, l.Weight, meta); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert links: %w", err)
	}
	return nil
}

func upsertLinkTx(tx *sql.Tx, from, to string, lt models.LinkType, weight float64, meta any) error {
	_, err := tx.Exec(`
		INSERT INTO links (from_id, to_id, link_type, weight, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(from_id, to_id, link_type) DO UPDATE SET
			weight = MAX(weight, excluded.weight),
			metadata = excluded.metadata
	`, from, to, string(lt), weight, meta)
	if err != nil {
		return fmt.Errorf("upsert link %s -> %s: %w", from, to, err)
	}
	return nil
}

// Neighbors returns outgoing links of a unit with weight >= minWeight,
// strongest first. linkType narrows to one type when non-empty.
func (s *LinkStore) Neighbors(unitID string, linkType models.LinkType, minWeight float64) ([]models.Link, error) {
	q := `
		SELECT from_id, to_id, link_type, weight, metadata
		FROM links WHERE from_id = ? AND weight >= ?`
	args := []any{unitID, minWeight}
	if linkType != "" {
		q += ` AND link_type = ?`
		args = append(args, string(linkType))
	}
	q += ` ORDER BY weight DESC, to_id`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("neighbors of %s: %w", unitID, err)
	}
	defer rows.Close()

	var links []models.Link
	for rows.Next() {
		var l models.Link
		var lt string
		var meta sql.NullString
		if err := rows.Scan(&l.FromID, &l.ToID, &lt, &l.Weight, &meta); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		l.Type = models.LinkType(lt)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &l.Meta); err != nil {
				return nil, fmt.Errorf("decode link metadata: %w", err)
			}
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// OutDegree returns the number of outgoing links of a unit, optionally
// narrowed to one link type. The temporal link builder caps fan-out with it.
func (s *LinkStore) OutDegree(unitID string, linkType models.LinkType) (int, error) {
	q := `SELECT COUNT(*) FROM links WHERE from_id = ?`
	args := []any{unitID}
	if linkType != "" {
		q += ` AND link_type = ?`
		args = append(args, string(linkType))
	}
	var n int
	if err := s.db.QueryRow(q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("out degree of %s: %w", unitID, err)
	}
	return n, nil
}

func marshalLinkMeta(m models.LinkMeta) (any, error) {
	if m == (models.LinkMeta{}) {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode link metadata: %w", err)
	}
	return string(b), nil
}
