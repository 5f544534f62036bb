package retrieval

import (
	"sort"

	"github.com/iammorganparry/hindsight/internal/store"
)

// rrfK dampens the rank contribution so head positions do not dominate.
const rrfK = 60

// FuseRRF merges N ranked lists with reciprocal rank fusion: each unit
// scores the sum of 1/(60 + rank) over the lists containing it, ranks
// 1-indexed. Ties break by list-membership count, then id ascending.
func FuseRRF(lists ...[]store.ScoredID) []store.ScoredID {
	type fused struct {
		score float64
		lists int
	}
	scores := make(map[string]*fused)

	for _, list := range lists {
		for rank, item := range list {
			f, ok := scores[item.ID]
			if !ok {
				f = &fused{}
				scores[item.ID] = f
			}
			f.score += 1.0 / float64(rrfK+rank+1)
			f.lists++
		}
	}

	out := make([]store.ScoredID, 0, len(scores))
	for id, f := range scores {
		out = append(out, store.ScoredID{ID: id, Score: f.score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		ci, cj := scores[out[i].ID].lists, scores[out[j].ID].lists
		if ci != cj {
			return ci > cj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
