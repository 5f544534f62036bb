package retrieval

import (
	"container/heap"
	"context"
	"sort"

	"github.com/iammorganparry/hindsight/internal/models"
	"github.com/iammorganparry/hindsight/internal/store"
)

const (
	graphEntryK      = 5
	graphEntryMinSim = 0.5

	// propagationDecay attenuates activation per hop; combined with the
	// activation floor it bounds traversal to roughly 4-5 hops.
	propagationDecay = 0.8
	activationFloor  = 0.1
	linkWeightFloor  = 0.1
)

// GraphRetriever walks the link graph by spreading activation from semantic
// entry points. Activation decays along each hop, so results stay anchored
// to the query while still reaching units no direct search would find.
type GraphRetriever struct {
	units *store.UnitStore
	links *store.LinkStore
}

func NewGraphRetriever(units *store.UnitStore, links *store.LinkStore) *GraphRetriever {
	return &GraphRetriever{units: units, links: links}
}

// frontierNode is a queue entry: a candidate node with its proposed
// activation and provenance for the trace.
type frontierNode struct {
	id         string
	activation float64
	parentID   string
	linkType   models.LinkType
	linkWeight float64
}

// activationQueue is a max-heap on activation, id ascending on ties.
type activationQueue []frontierNode

func (q activationQueue) Len() int { return len(q) }
func (q activationQueue) Less(i, j int) bool {
	if q[i].activation != q[j].activation {
		return q[i].activation > q[j].activation
	}
	return q[i].id < q[j].id
}
func (q activationQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *activationQueue) Push(x any)        { *q = append(*q, x.(frontierNode)) }
func (q *activationQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Query spreads activation from the top semantic matches. trace may be nil.
// When the deadline expires mid-traversal the partial ranking accumulated so
// far is returned alongside the context error.
func (r *GraphRetriever) Query(ctx context.Context, agentID string, factType models.FactType, queryVec []float32, budget int, trace *models.PathTrace) ([]store.ScoredID, error) {
	if budget <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := r.units.VectorKNN(agentID, factType, queryVec, graphEntryK, graphEntryMinSim)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	queue := &activationQueue{}
	heap.Init(queue)
	for _, e := range entries {
		heap.Push(queue, frontierNode{id: e.ID, activation: e.Score})
		if trace != nil {
			trace.EntryPoints = append(trace.EntryPoints, models.EntryPoint{UnitID: e.ID, Similarity: e.Score})
		}
	}

	visited := make(map[string]bool)
	result := make(map[string]float64)
	// Fact types are resolved lazily; the filter applies to recorded results,
	// not to traversal.
	factTypes := make(map[string]models.FactType)
	step := 0

	for queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return rankActivations(result), err
		}
		if len(visited) >= budget {
			if trace != nil {
				n := heap.Pop(queue).(frontierNode)
				trace.Prunes = append(trace.Prunes, models.PruneRecord{NodeID: n.id, Reason: models.PruneBudget})
			}
			break
		}

		n := heap.Pop(queue).(frontierNode)
		if visited[n.id] {
			if trace != nil {
				trace.Prunes = append(trace.Prunes, models.PruneRecord{NodeID: n.id, Reason: models.PruneVisited})
			}
			continue
		}

		visited[n.id] = true
		step++

		record := true
		if factType != "" {
			ft, ok := factTypes[n.id]
			if !ok {
				ft, err = r.units.FactTypeOf(n.id)
				if err != nil {
					return nil, err
				}
				factTypes[n.id] = ft
			}
			record = ft == factType
		}
		if record {
			if existing, ok := result[n.id]; !ok || n.activation > existing {
				result[n.id] = n.activation
			}
		}

		if trace != nil {
			trace.Visits = append(trace.Visits, models.NodeVisit{
				NodeID:     n.id,
				Step:       step,
				ParentID:   n.parentID,
				LinkType:   n.linkType,
				LinkWeight: n.linkWeight,
				Activation: n.activation,
			})
		}

		// Tracing fetches unfiltered neighbors so weak links show up as
		// prune records instead of silently vanishing in SQL.
		minWeight := linkWeightFloor
		if trace != nil {
			minWeight = 0
		}
		neighbors, err := r.links.Neighbors(n.id, "", minWeight)
		if err != nil {
			return nil, err
		}
		for _, link := range neighbors {
			if link.Weight < linkWeightFloor {
				if trace != nil {
					trace.Prunes = append(trace.Prunes, models.PruneRecord{NodeID: link.ToID, Reason: models.PruneLinkWeight})
				}
				continue
			}
			next := n.activation * link.Weight * propagationDecay
			if next <= activationFloor {
				if trace != nil {
					trace.Prunes = append(trace.Prunes, models.PruneRecord{NodeID: link.ToID, Reason: models.PruneActivationFloor})
				}
				continue
			}
			if visited[link.ToID] && next <= result[link.ToID] {
				continue
			}
			heap.Push(queue, frontierNode{
				id:         link.ToID,
				activation: next,
				parentID:   n.id,
				linkType:   link.Type,
				linkWeight: link.Weight,
			})
		}
	}

	return rankActivations(result), nil
}

// rankActivations orders accumulated activations score descending, id
// ascending on ties.
func rankActivations(result map[string]float64) []store.ScoredID {
	ranked := make([]store.ScoredID, 0, len(result))
	for id, activation := range result {
		ranked = append(ranked, store.ScoredID{ID: id, Score: activation})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked
}
