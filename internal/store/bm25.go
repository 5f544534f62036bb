package store

import (
	"fmt"

	"github.com/iammorganparry/hindsight/internal/models"
)

// KeywordSearch runs an FTS5 MATCH over unit text and returns up to k units
// ranked by BM25. matchExpr must already be a valid FTS5 expression; the
// keyword retriever builds it from sanitized query terms. Scores are negated
// bm25() values so that higher means better, consistent with the other
// retrieval paths.
func (s *UnitStore) KeywordSearch(agentID string, factType models.FactType, matchExpr string, k int) ([]ScoredID, error) {
	if matchExpr == "" || k <= 0 {
		return nil, nil
	}

	q := `
		SELECT u.id, bm25(units_fts) AS score
		FROM units_fts f
		JOIN memory_units u ON u.rowid = f.rowid
		WHERE units_fts MATCH ? AND u.agent_id = ?`
	args := []any{matchExpr, agentID, k}
	if factType != "" {
		q += ` AND u.fact_type = ?`
		args = []any{matchExpr, agentID, string(factType), k}
	}
	// bm25() is negative, more negative = better match.
	q += ` ORDER BY score, u.id LIMIT ?`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var results []ScoredID
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan keyword row: %w", err)
		}
		results = append(results, ScoredID{ID: id, Score: -score})
	}
	return results, rows.Err()
}
