package retrieval

import (
	"context"

	"github.com/iammorganparry/hindsight/internal/models"
	"github.com/iammorganparry/hindsight/internal/store"
)

// semanticMinSim is the relevance floor for the direct vector path. Lower
// than the link-building threshold: retrieval casts a wider net than graph
// construction.
const semanticMinSim = 0.3

// SemanticRetriever is the direct vector kNN path.
type SemanticRetriever struct {
	units *store.UnitStore
}

func NewSemanticRetriever(units *store.UnitStore) *SemanticRetriever {
	return &SemanticRetriever{units: units}
}

// Query returns up to budget units ranked by cosine similarity.
func (r *SemanticRetriever) Query(ctx context.Context, agentID string, factType models.FactType, queryVec []float32, budget int) ([]store.ScoredID, error) {
	if budget <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.units.VectorKNN(agentID, factType, queryVec, budget, semanticMinSim)
}
