package store

import (
	"fmt"
	"sort"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/iammorganparry/hindsight/internal/embedding"
	"github.com/iammorganparry/hindsight/internal/models"
)

// ScoredID pairs a unit id with a retrieval score.
type ScoredID struct {
	ID    string
	Score float64
}

// knnOverfetch compensates for agent/fact_type filtering happening after
// the ANN scan: vec0 returns the k nearest across all agents, so we ask for
// more and filter down.
const knnOverfetch = 8

// VectorKNN returns up to k units of the agent ranked by cosine similarity
// to queryVec, thresholded at minSim. Similarity is 1 - cosine_distance.
// Ties break by id ascending.
func (s *UnitStore) VectorKNN(agentID string, factType models.FactType, queryVec []float32, k int, minSim float64) ([]ScoredID, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(queryVec) != s.db.dim {
		return nil, fmt.Errorf("%w: query dimension %d, want %d", models.ErrInvalidInput, len(queryVec), s.db.dim)
	}

	if s.db.vecAvailable {
		return s.knnVec(agentID, factType, queryVec, k, minSim)
	}
	return s.knnScan(agentID, factType, queryVec, k, minSim)
}

// knnVec runs the ANN query against the vec0 index. Embeddings are stored
// unit-normalized, so the reported L2 distance converts directly to cosine
// similarity.
func (s *UnitStore) knnVec(agentID string, factType models.FactType, queryVec []float32, k int, minSim float64) ([]ScoredID, error) {
	serialized, err := sqlite_vec.SerializeFloat32(embedding.Normalize(queryVec))
	if err != nil {
		return nil, fmt.Errorf("serialize query: %w", err)
	}

	fetch := k * knnOverfetch
	if fetch > 4096 {
		fetch = 4096
	}

	q := `
		SELECT u.id, v.distance
		FROM unit_vec v
		JOIN memory_units u ON u.rowid = v.rowid
		WHERE v.embedding MATCH ? AND v.k = ? AND u.agent_id = ?`
	args := []any{serialized, fetch, agentID}
	if factType != "" {
		q += ` AND u.fact_type = ?`
		args = append(args, string(factType))
	}
	q += ` ORDER BY v.distance`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("vector knn: %w", err)
	}
	defer rows.Close()

	var results []ScoredID
	for rows.Next() {
		var id string
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			return nil, fmt.Errorf("scan knn row: %w", err)
		}
		sim := embedding.L2ToCosineSim(dist)
		if sim >= minSim {
			results = append(results, ScoredID{ID: id, Score: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortScored(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// knnScan is the brute-force fallback when the sqlite-vec extension is not
// compiled in: cosine over every stored embedding of the agent.
func (s *UnitStore) knnScan(agentID string, factType models.FactType, queryVec []float32, k int, minSim float64) ([]ScoredID, error) {
	q := `SELECT id, embedding FROM memory_units WHERE agent_id = ?`
	args := []any{agentID}
	if factType != "" {
		q += ` AND fact_type = ?`
		args = append(args, string(factType))
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("vector scan: %w", err)
	}
	defer rows.Close()

	var results []ScoredID
	for rows.Next() {
		var id string
		var emb []byte
		if err := rows.Scan(&id, &emb); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		sim := embedding.CosineSimilarity(queryVec, embedding.BytesToFloat32(emb))
		if sim >= minSim {
			results = append(results, ScoredID{ID: id, Score: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortScored(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// sortScored orders by score descending, id ascending.
func sortScored(s []ScoredID) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].ID < s[j].ID
	})
}
