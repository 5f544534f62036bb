package retrieval

import (
	"context"
	"strings"
	"unicode"

	"github.com/orsinium-labs/stopwords"

	"github.com/iammorganparry/hindsight/internal/models"
	"github.com/iammorganparry/hindsight/internal/store"
)

// KeywordRetriever is the BM25 full-text path. Query terms are lowercased,
// stripped of punctuation and stop words, then matched with OR semantics;
// FTS5's porter tokenizer handles stemming on both sides.
type KeywordRetriever struct {
	units     *store.UnitStore
	stopwords *stopwords.Stopwords
}

func NewKeywordRetriever(units *store.UnitStore) *KeywordRetriever {
	return &KeywordRetriever{
		units:     units,
		stopwords: stopwords.MustGet("en"),
	}
}

// Query runs BM25 over unit text. Returns empty when no terms survive
// stop-word removal.
func (r *KeywordRetriever) Query(ctx context.Context, agentID string, factType models.FactType, queryText string, budget int) ([]store.ScoredID, error) {
	if budget <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	expr := r.buildMatchExpr(queryText)
	if expr == "" {
		return nil, nil
	}
	return r.units.KeywordSearch(agentID, factType, expr, budget)
}

// buildMatchExpr turns free text into a safe FTS5 OR expression. Terms are
// double-quoted so query punctuation cannot alter match syntax.
func (r *KeywordRetriever) buildMatchExpr(queryText string) string {
	terms := strings.FieldsFunc(strings.ToLower(queryText), func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c)
	})

	var quoted []string
	seen := make(map[string]bool)
	for _, t := range terms {
		if len(t) < 2 || seen[t] || r.stopwords.Contains(t) {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}
