package retrieval

import (
	"container/heap"
	"context"

	"github.com/iammorganparry/hindsight/internal/embedding"
	"github.com/iammorganparry/hindsight/internal/models"
	"github.com/iammorganparry/hindsight/internal/store"
	"github.com/iammorganparry/hindsight/internal/temporal"
)

const (
	// temporalMinSim is mandatory semantic co-filtering: time-only matching
	// leaks across subjects.
	temporalMinSim = 0.4
	temporalDecay  = 0.7
	// temporalSemanticBonus scales similarity into the entry activation.
	temporalSemanticBonus = 0.5
)

// TemporalGraphRetriever runs spreading activation restricted to a parsed
// date range, following only temporal links. It activates only when the
// query carries a temporal constraint.
type TemporalGraphRetriever struct {
	units *store.UnitStore
	links *store.LinkStore
}

func NewTemporalGraphRetriever(units *store.UnitStore, links *store.LinkStore) *TemporalGraphRetriever {
	return &TemporalGraphRetriever{units: units, links: links}
}

// Query walks temporal links inside the range. trace may be nil. Expiry
// mid-traversal returns the partial ranking with the context error.
func (r *TemporalGraphRetriever) Query(ctx context.Context, agentID string, factType models.FactType, queryVec []float32, rng temporal.Range, budget int, trace *models.PathTrace) ([]store.ScoredID, error) {
	if budget <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inRange, err := r.units.UnitsInRange(agentID, factType, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	if len(inRange) == 0 {
		return nil, nil
	}

	midpoint := rng.Midpoint()
	radius := rng.Radius()

	// Every admissible node lives in this map; anything absent is either
	// outside the range or below the similarity floor.
	type nodeInfo struct {
		sim       float64
		proximity float64
	}
	admissible := make(map[string]nodeInfo, len(inRange))
	inRangeIDs := make(map[string]bool, len(inRange))
	queue := &activationQueue{}
	heap.Init(queue)

	for _, u := range inRange {
		inRangeIDs[u.ID] = true
		sim := embedding.CosineSimilarity(queryVec, u.Embedding)
		if sim < temporalMinSim {
			continue
		}
		delta := u.EventDate.Sub(midpoint)
		if delta < 0 {
			delta = -delta
		}
		proximity := 1.0
		if radius > 0 {
			proximity = 1 - float64(delta)/float64(radius)
		}
		if proximity < 0 {
			proximity = 0
		}
		admissible[u.ID] = nodeInfo{sim: sim, proximity: proximity}

		activation := proximity + temporalSemanticBonus*sim
		heap.Push(queue, frontierNode{id: u.ID, activation: activation})
		if trace != nil {
			trace.EntryPoints = append(trace.EntryPoints, models.EntryPoint{UnitID: u.ID, Similarity: sim})
		}
	}

	visited := make(map[string]bool)
	result := make(map[string]float64)
	step := 0

	for queue.Len() > 0 && len(visited) < budget {
		if err := ctx.Err(); err != nil {
			return rankActivations(result), err
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

		if existing, ok := result[n.id]; !ok || n.activation > existing {
			result[n.id] = n.activation
		}
		if trace != nil {
			info := admissible[n.id]
			trace.Visits = append(trace.Visits, models.NodeVisit{
				NodeID:      n.id,
				Step:        step,
				ParentID:    n.parentID,
				LinkType:    n.linkType,
				LinkWeight:  n.linkWeight,
				Activation:  n.activation,
				SemanticSim: info.sim,
			})
		}

		minWeight := linkWeightFloor
		if trace != nil {
			minWeight = 0
		}
		neighbors, err := r.links.Neighbors(n.id, models.LinkTemporal, minWeight)
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
			if _, ok := admissible[link.ToID]; !ok {
				if trace != nil {
					reason := models.PruneOutOfRange
					if inRangeIDs[link.ToID] {
						reason = models.PruneLowSimilarity
					}
					trace.Prunes = append(trace.Prunes, models.PruneRecord{NodeID: link.ToID, Reason: reason})
				}
				continue
			}
			next := n.activation * link.Weight * temporalDecay
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
